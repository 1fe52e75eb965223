package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartRepository хранит корзины в памяти; AddLine выполняется под одной блокировкой,
// поэтому параллельные добавления не теряются.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
	now   func() time.Time
}

// NewCartRepository создаёт in-memory хранилище корзин.
func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts: make(map[string]domain.Cart),
		now:   time.Now,
	}
}

func (r *CartRepository) Get(_ context.Context, ownerID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[ownerID]
	if !ok {
		return domain.EmptyCart(ownerID), nil
	}
	return cart.Clone(), nil
}

func (r *CartRepository) AddLine(_ context.Context, ownerID, productID string, quantity int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[ownerID]
	if !ok {
		cart = domain.EmptyCart(ownerID)
	}
	if err := cart.Add(productID, quantity); err != nil {
		return err
	}
	cart.UpdatedAt = r.now().UTC()
	r.carts[ownerID] = cart
	return nil
}

func (r *CartRepository) RemoveLines(_ context.Context, ownerID string, lines []domain.CartLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[ownerID]
	if !ok {
		return nil
	}
	cart.Take(lines)
	if cart.IsEmpty() {
		delete(r.carts, ownerID)
		return nil
	}
	cart.UpdatedAt = r.now().UTC()
	r.carts[ownerID] = cart
	return nil
}

func (r *CartRepository) Delete(_ context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.carts, ownerID)
	return nil
}

// DeleteIdleBefore удаляет корзины, не менявшиеся с момента before.
func (r *CartRepository) DeleteIdleBefore(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for ownerID, cart := range r.carts {
		if cart.UpdatedAt.Before(before) {
			delete(r.carts, ownerID)
			removed++
		}
	}
	return removed, nil
}

var (
	_ domain.CartRepository = (*CartRepository)(nil)
	_ domain.CartSweeper    = (*CartRepository)(nil)
)
