package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestCartRepository_PostgresAddAccumulates(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCartRepository(store)
	ctx := context.Background()

	empty, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
	assert.NotNil(t, empty.Lines)

	require.NoError(t, repo.AddLine(ctx, "user-1", "prod-a", 2))
	require.NoError(t, repo.AddLine(ctx, "user-1", "prod-b", 1))
	require.NoError(t, repo.AddLine(ctx, "user-1", "prod-a", 3))

	cart, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.CartLine{
		{ProductID: "prod-a", Quantity: 5},
		{ProductID: "prod-b", Quantity: 1},
	}, cart.Lines)

	require.NoError(t, repo.Delete(ctx, "user-1"))
	require.NoError(t, repo.Delete(ctx, "user-1"))
	cart, err = repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestCartRepository_PostgresConcurrentAddsAreNotLost(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCartRepository(store)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.AddLine(ctx, "user-race", "prod-a", 1))
		}()
	}
	wg.Wait()

	cart, err := repo.Get(ctx, "user-race")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int32(workers), cart.Lines[0].Quantity)
}

func TestCartRepository_PostgresDeleteIdleBefore(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCartRepository(store)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	repo.now = func() time.Time { return old }
	require.NoError(t, repo.AddLine(ctx, "user-idle", "prod-a", 1))
	require.NoError(t, repo.AddLine(ctx, "user-idle", "prod-b", 1))
	require.NoError(t, repo.AddLine(ctx, "user-mixed", "prod-a", 1))

	repo.now = time.Now
	require.NoError(t, repo.AddLine(ctx, "user-mixed", "prod-b", 1))
	require.NoError(t, repo.AddLine(ctx, "user-fresh", "prod-a", 1))

	removed, err := repo.DeleteIdleBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	mixed, err := repo.Get(ctx, "user-mixed")
	require.NoError(t, err)
	assert.Len(t, mixed.Lines, 2)
}

func TestCheckoutStore_PostgresPlaceOrderIsAtomic(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	carts := NewCartRepository(store)
	orders := NewOrderRepository(store)
	outbox := NewOutboxRepository(store)
	checkout := NewCheckoutStore(store)
	ctx := context.Background()

	require.NoError(t, carts.AddLine(ctx, "user-1", "prod-keyboard", 2))

	order := sampleOrder("order-atomic", "user-1", time.Now())
	event, err := domain.NewOrderEvent(domain.EventOrderCreated, order, "checkout", time.Now())
	require.NoError(t, err)

	require.NoError(t, checkout.PlaceOrder(ctx, order, event))

	stored, err := orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalMinor, stored.TotalMinor)

	cart, err := carts.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	var payload domain.OrderEventPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, order.ID, payload.OrderID)

	// Повторная вставка того же заказа откатывает всю транзакцию: корзина остаётся.
	require.NoError(t, carts.AddLine(ctx, "user-1", "prod-mouse", 1))
	err = checkout.PlaceOrder(ctx, order, event)
	require.ErrorIs(t, err, domain.ErrOrderAlreadyExists)

	cart, err = carts.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
}

func TestCatalog_PostgresUpsertAndDeactivate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	catalog := NewCatalog(store)
	ctx := context.Background()

	_, err := catalog.GetProduct(ctx, "prod-x")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	require.NoError(t, catalog.Upsert(ctx, domain.Product{ID: "prod-x", Name: "X", PriceMinor: 1000}))
	require.NoError(t, catalog.Upsert(ctx, domain.Product{ID: "prod-x", Name: "X v2", PriceMinor: 1200}))

	p, err := catalog.GetProduct(ctx, "prod-x")
	require.NoError(t, err)
	assert.Equal(t, "X v2", p.Name)
	assert.Equal(t, int64(1200), p.PriceMinor)

	require.NoError(t, catalog.Deactivate(ctx, "prod-x"))
	_, err = catalog.GetProduct(ctx, "prod-x")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.ErrorIs(t, catalog.Deactivate(ctx, "prod-missing"), domain.ErrProductNotFound)
}

func TestCartRepository_PostgresRejectsQuantityOverflow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCartRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.AddLine(ctx, "user-1", "prod-a", domain.MaxLineQuantity))

	err := repo.AddLine(ctx, "user-1", "prod-a", 1)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.False(t, domain.IsRetryable(err))

	cart, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int32(domain.MaxLineQuantity), cart.Lines[0].Quantity)
}

func TestCartRepository_PostgresRemoveLinesKeepsLaterAdditions(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCartRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.AddLine(ctx, "user-1", "prod-a", 2))
	require.NoError(t, repo.AddLine(ctx, "user-1", "prod-b", 1))
	snapshot, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, repo.AddLine(ctx, "user-1", "prod-a", 3))
	require.NoError(t, repo.AddLine(ctx, "user-1", "prod-c", 4))
	require.NoError(t, repo.RemoveLines(ctx, "user-1", snapshot.Lines))

	cart, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.CartLine{
		{ProductID: "prod-a", Quantity: 3},
		{ProductID: "prod-c", Quantity: 4},
	}, cart.Lines)
}

func TestCheckoutStore_PostgresPlaceOrderKeepsLinesAddedAfterSnapshot(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	carts := NewCartRepository(store)
	checkout := NewCheckoutStore(store)
	ctx := context.Background()

	require.NoError(t, carts.AddLine(ctx, "user-1", "prod-keyboard", 2))
	require.NoError(t, carts.AddLine(ctx, "user-1", "prod-mouse", 1))

	order := sampleOrder("order-snapshot", "user-1", time.Now())
	event, err := domain.NewOrderEvent(domain.EventOrderCreated, order, "checkout", time.Now())
	require.NoError(t, err)

	// Покупатель успел добавить товары между чтением корзины и фиксацией заказа.
	require.NoError(t, carts.AddLine(ctx, "user-1", "prod-keyboard", 1))
	require.NoError(t, carts.AddLine(ctx, "user-1", "prod-late", 5))

	require.NoError(t, checkout.PlaceOrder(ctx, order, event))

	cart, err := carts.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.CartLine{
		{ProductID: "prod-keyboard", Quantity: 1},
		{ProductID: "prod-late", Quantity: 5},
	}, cart.Lines)
}
