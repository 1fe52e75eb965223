package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartRepository хранит корзины построчно в cart_lines.
type CartRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) *CartRepository {
	return &CartRepository{db: store.DB(), now: time.Now}
}

func (r *CartRepository) Get(ctx context.Context, ownerID string) (domain.Cart, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, updated_at
		FROM cart_lines
		WHERE owner_id = $1
		ORDER BY created_at ASC, product_id ASC
	`, ownerID)
	if err != nil {
		return domain.Cart{}, storageError("select cart lines", err)
	}
	defer rows.Close()

	cart := domain.EmptyCart(ownerID)
	for rows.Next() {
		var (
			line      domain.CartLine
			updatedAt time.Time
		)
		if err := rows.Scan(&line.ProductID, &line.Quantity, &updatedAt); err != nil {
			return domain.Cart{}, storageError("scan cart line", err)
		}
		cart.Lines = append(cart.Lines, line)
		if updatedAt.After(cart.UpdatedAt) {
			cart.UpdatedAt = updatedAt.UTC()
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, storageError("iterate cart lines", err)
	}
	return cart, nil
}

// AddLine прибавляет количество одним INSERT ... ON CONFLICT, гонки разрешает сама БД.
// Сумма сверх MaxLineQuantity не проходит условие WHERE, и строка не меняется.
func (r *CartRepository) AddLine(ctx context.Context, ownerID, productID string, quantity int32) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_lines (owner_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (owner_id, product_id)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity,
		              updated_at = EXCLUDED.updated_at
		WHERE cart_lines.quantity::BIGINT + EXCLUDED.quantity <= $5
	`, ownerID, productID, quantity, now, int64(domain.MaxLineQuantity))
	if err != nil {
		return storageError("upsert cart line", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("upsert cart line rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: quantity of %s would exceed %d", domain.ErrInvalidInput, productID, domain.MaxLineQuantity)
	}
	return nil
}

// RemoveLines вычитает lines в отдельной транзакции.
func (r *CartRepository) RemoveLines(ctx context.Context, ownerID string, lines []domain.CartLine) (err error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storageError("begin remove cart lines", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = removeCartLines(ctx, tx, ownerID, lines, r.now().UTC()); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return storageError("commit remove cart lines", err)
	}
	return nil
}

func (r *CartRepository) Delete(ctx context.Context, ownerID string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE owner_id = $1`, ownerID); err != nil {
		return storageError("delete cart", err)
	}
	return nil
}

// DeleteIdleBefore удаляет корзины, последняя строка которых менялась раньше before.
// Возвращает число удалённых корзин, а не строк.
func (r *CartRepository) DeleteIdleBefore(ctx context.Context, before time.Time) (int, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var removed int
	err := r.db.QueryRowContext(ctx, `
		WITH idle AS (
			SELECT owner_id
			FROM cart_lines
			GROUP BY owner_id
			HAVING MAX(updated_at) < $1
		), deleted AS (
			DELETE FROM cart_lines
			WHERE owner_id IN (SELECT owner_id FROM idle)
			RETURNING owner_id
		)
		SELECT COUNT(DISTINCT owner_id) FROM deleted
	`, before.UTC()).Scan(&removed)
	if err != nil {
		return 0, storageError("sweep idle carts", err)
	}
	return removed, nil
}

// removeCartLines блокирует строки владельца FOR UPDATE и вычитает из них lines.
// Параллельный AddLine ждёт конца транзакции, поэтому его прибавка не теряется.
func removeCartLines(ctx context.Context, tx *sql.Tx, ownerID string, lines []domain.CartLine, now time.Time) error {
	locked, err := lockCartLines(ctx, tx, ownerID)
	if err != nil {
		return err
	}

	cart := domain.EmptyCart(ownerID)
	for productID, quantity := range locked {
		cart.Lines = append(cart.Lines, domain.CartLine{ProductID: productID, Quantity: quantity})
	}
	cart.Take(lines)
	left := make(map[string]int32, len(cart.Lines))
	for _, l := range cart.Lines {
		left[l.ProductID] = l.Quantity
	}

	for productID, before := range locked {
		after, kept := left[productID]
		switch {
		case !kept:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cart_lines WHERE owner_id = $1 AND product_id = $2`,
				ownerID, productID); err != nil {
				return storageError("delete ordered cart line", err)
			}
		case after != before:
			if _, err := tx.ExecContext(ctx,
				`UPDATE cart_lines SET quantity = $3, updated_at = $4 WHERE owner_id = $1 AND product_id = $2`,
				ownerID, productID, after, now); err != nil {
				return storageError("decrement ordered cart line", err)
			}
		}
	}
	return nil
}

func lockCartLines(ctx context.Context, tx *sql.Tx, ownerID string) (map[string]int32, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM cart_lines
		WHERE owner_id = $1
		FOR UPDATE
	`, ownerID)
	if err != nil {
		return nil, storageError("lock cart lines", err)
	}
	defer rows.Close()

	locked := make(map[string]int32)
	for rows.Next() {
		var (
			productID string
			quantity  int32
		)
		if err := rows.Scan(&productID, &quantity); err != nil {
			return nil, storageError("scan locked cart line", err)
		}
		locked[productID] = quantity
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate locked cart lines", err)
	}
	return locked, nil
}

var (
	_ domain.CartRepository = (*CartRepository)(nil)
	_ domain.CartSweeper    = (*CartRepository)(nil)
)
