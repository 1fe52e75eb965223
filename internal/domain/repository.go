package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если ID занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListAll возвращает все заказы, новые первыми; limit<=0 снимает ограничение.
	ListAll(ctx context.Context, limit int) ([]Order, error)
	// ListByOwner возвращает заказы владельца, новые первыми.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Order, error)
	// MarkPaid условно выставляет is_paid. changed=false, если заказ уже был оплачен.
	MarkPaid(ctx context.Context, id string, at time.Time) (order Order, changed bool, err error)
	// MarkDelivered условно выставляет is_delivered по тем же правилам.
	MarkDelivered(ctx context.Context, id string, at time.Time) (order Order, changed bool, err error)
	// Delete удаляет заказ или возвращает ErrOrderNotFound.
	Delete(ctx context.Context, id string) error
}

// CartRepository хранит корзины, по одной на владельца.
type CartRepository interface {
	// Get возвращает корзину; отсутствующая корзина возвращается пустой, без ошибки.
	Get(ctx context.Context, ownerID string) (Cart, error)
	// AddLine атомарно прибавляет quantity к строке productID или создаёт её.
	// Сумма сверх MaxLineQuantity отклоняется с ErrInvalidInput.
	AddLine(ctx context.Context, ownerID, productID string, quantity int32) error
	// RemoveLines вычитает lines из корзины, как Cart.Take. Строки, добавленные
	// после чтения lines, не теряются.
	RemoveLines(ctx context.Context, ownerID string, lines []CartLine) error
	// Delete удаляет корзину целиком; повторный вызов не ошибка.
	Delete(ctx context.Context, ownerID string) error
}

// CartSweeper удаляет корзины, не менявшиеся с момента before.
type CartSweeper interface {
	DeleteIdleBefore(ctx context.Context, before time.Time) (int, error)
}

// CheckoutStore атомарно фиксирует оформление заказа: сохраняет заказ,
// вычитает его позиции из корзины владельца и ставит событие в outbox одной транзакцией.
type CheckoutStore interface {
	PlaceOrder(ctx context.Context, order Order, event OutboxMessage) error
}
