package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type checkoutStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewCheckoutStore возвращает CheckoutStore, который требует, чтобы корзины,
// заказы и outbox жили в одной базе.
func NewCheckoutStore(store *Store) domain.CheckoutStore {
	return &checkoutStore{db: store.DB(), now: time.Now}
}

// PlaceOrder сохраняет заказ, вычитает его позиции из корзины владельца и ставит событие
// в outbox в одной транзакции: либо видно всё, либо ничего. Строки, добавленные в корзину
// после её чтения оформлением, остаются.
func (s *checkoutStore) PlaceOrder(ctx context.Context, order domain.Order, event domain.OutboxMessage) (err error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storageError("begin place order", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertOrder(ctx, tx, order); err != nil {
		return err
	}
	if err = removeCartLines(ctx, tx, order.OwnerID, order.CartLines(), s.now().UTC()); err != nil {
		return err
	}
	if _, err = insertOutbox(ctx, tx, event); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return storageError("commit place order", err)
	}
	return nil
}

var _ domain.CheckoutStore = (*checkoutStore)(nil)
