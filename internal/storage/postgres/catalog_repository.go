package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Catalog читает товары из таблицы products.
type Catalog struct {
	db *sql.DB
}

// NewCatalog создаёт каталог поверх PostgreSQL.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{db: store.DB()}
}

// GetProduct возвращает активный товар; снятый с продажи считается отсутствующим.
func (c *Catalog) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var p domain.Product
	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, image, price_minor
		FROM products
		WHERE id = $1 AND active
	`, id).Scan(&p.ID, &p.Name, &p.Image, &p.PriceMinor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, storageError("select product", err)
	}
	return p, nil
}

// Upsert добавляет товар или обновляет его цену и описание.
func (c *Catalog) Upsert(ctx context.Context, p domain.Product) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO products (id, name, image, price_minor, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name,
		              image = EXCLUDED.image,
		              price_minor = EXCLUDED.price_minor,
		              active = TRUE,
		              updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Image, p.PriceMinor, now)
	if err != nil {
		return storageError("upsert product", err)
	}
	return nil
}

// Deactivate снимает товар с продажи, не удаляя историю заказов.
func (c *Catalog) Deactivate(ctx context.Context, id string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `UPDATE products SET active = FALSE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return storageError("deactivate product", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("deactivate product rows affected", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

var _ domain.Catalog = (*Catalog)(nil)
