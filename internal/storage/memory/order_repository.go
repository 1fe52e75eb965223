package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderRepository хранит заказы в памяти с индексом по покупателю,
// чтобы "мои заказы" не просматривали чужие.
type OrderRepository struct {
	mu      sync.RWMutex
	orders  map[string]domain.Order
	byOwner map[string]map[string]struct{}
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:  make(map[string]domain.Order),
		byOwner: make(map[string]map[string]struct{}),
	}
}

func (r *OrderRepository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrOrderAlreadyExists
	}
	r.orders[order.ID] = order.Clone()

	ids, ok := r.byOwner[order.OwnerID]
	if !ok {
		ids = make(map[string]struct{})
		r.byOwner[order.OwnerID] = ids
	}
	ids[order.ID] = struct{}{}
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) ListAll(_ context.Context, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		out = append(out, order.Clone())
	}
	return newestFirst(out, limit), nil
}

func (r *OrderRepository) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOwner[ownerID]
	out := make([]domain.Order, 0, len(ids))
	for id := range ids {
		out = append(out, r.orders[id].Clone())
	}
	return newestFirst(out, limit), nil
}

// MarkPaid и MarkDelivered меняют заказ под общей блокировкой, поэтому
// из двух одновременных подтверждений changed=true получит только одно.
func (r *OrderRepository) MarkPaid(_ context.Context, id string, at time.Time) (domain.Order, bool, error) {
	return r.update(id, func(o *domain.Order) bool { return o.MarkPaid(at) })
}

func (r *OrderRepository) MarkDelivered(_ context.Context, id string, at time.Time) (domain.Order, bool, error) {
	return r.update(id, func(o *domain.Order) bool { return o.MarkDelivered(at) })
}

func (r *OrderRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.orders, id)
	if ids := r.byOwner[order.OwnerID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byOwner, order.OwnerID)
		}
	}
	return nil
}

func (r *OrderRepository) update(id string, apply func(o *domain.Order) bool) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, false, domain.ErrOrderNotFound
	}
	if !apply(&order) {
		return order.Clone(), false, nil
	}
	r.orders[id] = order
	return order.Clone(), true, nil
}

// newestFirst сортирует по CreatedAt по убыванию, при равенстве по ID.
func newestFirst(orders []domain.Order, limit int) []domain.Order {
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
