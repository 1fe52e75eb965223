package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Catalog — in-memory каталог товаров для локального запуска и тестов.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewCatalog создаёт каталог, заполненный переданными товарами.
func NewCatalog(products ...domain.Product) *Catalog {
	c := &Catalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *Catalog) GetProduct(_ context.Context, id string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// Upsert добавляет или заменяет товар (меняет цену для следующих заказов).
func (c *Catalog) Upsert(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// Remove убирает товар из каталога.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

// DemoProducts — витрина по умолчанию для in-memory режима.
func DemoProducts() []domain.Product {
	return []domain.Product{
		{ID: "prod-keyboard", Name: "Mechanical Keyboard", Image: "/images/keyboard.jpg", PriceMinor: 8999},
		{ID: "prod-mouse", Name: "Wireless Mouse", Image: "/images/mouse.jpg", PriceMinor: 2999},
		{ID: "prod-monitor", Name: "27\" Monitor", Image: "/images/monitor.jpg", PriceMinor: 24999},
	}
}

var _ domain.Catalog = (*Catalog)(nil)
