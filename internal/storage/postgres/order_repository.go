package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `
	id, owner_id, owner_name, address, city, postal_code, country, payment_method,
	total_minor, is_paid, paid_at, is_delivered, delivered_at, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("begin create order", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertOrder(ctx, tx, order); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return storageError("commit create order", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, storageError("select order", err)
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListAll(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`, limit)
}

func (r *orderRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, limit, ownerID)
}

// MarkPaid выставляет флаг условным UPDATE: из двух конкурентных вызовов строку меняет только один.
func (r *orderRepository) MarkPaid(ctx context.Context, id string, at time.Time) (domain.Order, bool, error) {
	return r.transition(ctx, "mark order paid", `
		UPDATE orders
		SET is_paid = TRUE, paid_at = $2, updated_at = $2
		WHERE id = $1 AND is_paid = FALSE
	`, id, at)
}

func (r *orderRepository) MarkDelivered(ctx context.Context, id string, at time.Time) (domain.Order, bool, error) {
	return r.transition(ctx, "mark order delivered", `
		UPDATE orders
		SET is_delivered = TRUE, delivered_at = $2, updated_at = $2
		WHERE id = $1 AND is_delivered = FALSE
	`, id, at)
}

func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return storageError("delete order", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("delete order rows affected", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) transition(ctx context.Context, op, query, id string, at time.Time) (domain.Order, bool, error) {
	execCtx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(execCtx, query, id, at.UTC())
	if err != nil {
		return domain.Order{}, false, storageError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, false, storageError(op, err)
	}

	order, err := r.Get(ctx, id)
	if err != nil {
		return domain.Order{}, false, err
	}
	return order, affected > 0, nil
}

func (r *orderRepository) list(ctx context.Context, query string, limit int, args ...any) ([]domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, storageError("scan order row", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate order rows", err)
	}
	rows.Close()

	for i := range orders {
		if orders[i].Items, err = r.loadItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, image, quantity, unit_price_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, storageError("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Image, &item.Quantity, &item.UnitPriceMinor); err != nil {
			return nil, storageError("scan order item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate order items", err)
	}
	return items, nil
}

// insertOrder пишет заказ и его позиции через переданный execer (обычно *sql.Tx).
func insertOrder(ctx context.Context, ex execer, order domain.Order) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		order.ID, order.OwnerID, order.OwnerName,
		order.ShippingAddress.Address, order.ShippingAddress.City,
		order.ShippingAddress.PostalCode, order.ShippingAddress.Country,
		string(order.PaymentMethod), order.TotalMinor,
		order.IsPaid, order.PaidAt, order.IsDelivered, order.DeliveredAt,
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return storageError("insert order", err)
	}

	for position, item := range order.Items {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, name, image, quantity, unit_price_minor
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			order.ID, position, item.ProductID, item.Name, item.Image, item.Quantity, item.UnitPriceMinor,
		); err != nil {
			return storageError("insert order item", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		method      string
		paidAt      sql.NullTime
		deliveredAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.OwnerID, &order.OwnerName,
		&order.ShippingAddress.Address, &order.ShippingAddress.City,
		&order.ShippingAddress.PostalCode, &order.ShippingAddress.Country,
		&method, &order.TotalMinor,
		&order.IsPaid, &paidAt, &order.IsDelivered, &deliveredAt,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.PaymentMethod = domain.PaymentMethod(method)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.PaidAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time.UTC()
		order.DeliveredAt = &t
	}
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
