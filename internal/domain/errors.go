package domain

import "errors"

// Таксономия ошибок ядра. Внешние слои (HTTP, Kafka) сопоставляют их через errors.Is.
var (
	// ErrUnauthorized — запрос без аутентифицированного principal.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden — principal аутентифицирован, но прав на операцию нет.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput — некорректное количество, адрес, способ оплаты и т.п.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyCart — попытка оформить заказ из пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrProductNotFound — товар из корзины отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrGateway — временная ошибка платёжного шлюза, запрос можно повторить.
	ErrGateway = errors.New("payment gateway error")
	// ErrStorage — временная ошибка хранилища, запрос можно повторить.
	ErrStorage = errors.New("storage error")
	// ErrInvalidSignature — подпись callback'а шлюза не прошла проверку.
	ErrInvalidSignature = errors.New("invalid gateway signature")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageSettled — сообщение не найдено или уже не в статусе pending.
	ErrOutboxMessageSettled = errors.New("outbox message is not pending")
	// ErrCacheMiss — в кэше корзин нет записи для владельца.
	ErrCacheMiss = errors.New("cache miss")
)

// Ошибки idempotency-слоя.
var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// Ошибки инвариантов заказа (см. Order.ValidateInvariants).
var (
	ErrOwnerRequired       = errors.New("owner_id is required")
	ErrItemsRequired       = errors.New("order must contain at least one item")
	ErrItemQtyInvalid      = errors.New("item quantity must be greater than zero")
	ErrItemPriceInvalid    = errors.New("item price must be non-negative")
	ErrTotalMismatch       = errors.New("order total does not match items sum")
	ErrPaidAtMismatch      = errors.New("paid_at must be set if and only if order is paid")
	ErrDeliveredAtMismatch = errors.New("delivered_at must be set if and only if order is delivered")
)

// IsRetryable сообщает, можно ли безопасно повторить операцию, завершившуюся err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGateway) || errors.Is(err, ErrStorage)
}
