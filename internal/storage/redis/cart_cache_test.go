package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func setupCartCache(t *testing.T) (*CartCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCartCache(client, 10*time.Minute), mr
}

func TestCartCache_SetGetRoundTrip(t *testing.T) {
	cache, _ := setupCartCache(t)
	ctx := context.Background()

	cart := domain.EmptyCart("user-1")
	require.NoError(t, cart.Add("prod-a", 2))
	require.NoError(t, cart.Add("prod-b", 1))
	cart.UpdatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	stored, err := cache.Set(ctx, cart, 0)
	require.NoError(t, err)
	require.True(t, stored)

	got, err := cache.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, cart.Lines, got.Lines)
	assert.True(t, cart.UpdatedAt.Equal(got.UpdatedAt))
}

func TestCartCache_MissAndDelete(t *testing.T) {
	cache, mr := setupCartCache(t)
	ctx := context.Background()

	_, err := cache.Get(ctx, "nobody")
	require.ErrorIs(t, err, domain.ErrCacheMiss)

	_, err = cache.Set(ctx, domain.EmptyCart("user-2"), 0)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cacheKey("user-2")))

	require.NoError(t, cache.Delete(ctx, "user-2"))
	assert.False(t, mr.Exists(cacheKey("user-2")))
	require.NoError(t, cache.Delete(ctx, "user-2"))
}

func TestCartCache_TTLIncludesJitter(t *testing.T) {
	cache, mr := setupCartCache(t)
	cache.jitter = func() time.Duration { return 2 * time.Minute }

	_, err := cache.Set(context.Background(), domain.EmptyCart("user-3"), 0)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Minute, mr.TTL(cacheKey("user-3")))

	mr.FastForward(13 * time.Minute)
	_, err = cache.Get(context.Background(), "user-3")
	require.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestCartCache_CorruptEntry(t *testing.T) {
	cache, mr := setupCartCache(t)
	require.NoError(t, mr.Set(cacheKey("user-4"), `{"owner_id":`))

	_, err := cache.Get(context.Background(), "user-4")
	require.ErrorContains(t, err, "unmarshal cached cart")
	assert.NotErrorIs(t, err, domain.ErrCacheMiss)
}

func TestCartCache_PingFailsWhenServerDown(t *testing.T) {
	cache, mr := setupCartCache(t)
	require.NoError(t, cache.Ping(context.Background()))

	mr.Close()
	require.Error(t, cache.Ping(context.Background()))
}

func TestCartCache_SetSkipsAfterConcurrentDelete(t *testing.T) {
	cache, mr := setupCartCache(t)
	ctx := context.Background()

	gen, err := cache.Generation(ctx, "user-5")
	require.NoError(t, err)
	assert.Zero(t, gen)

	stale := domain.EmptyCart("user-5")
	require.NoError(t, stale.Add("prod-a", 1))

	// Корзину очистили, пока читатель шёл в репозиторий.
	require.NoError(t, cache.Delete(ctx, "user-5"))

	stored, err := cache.Set(ctx, stale, gen)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists(cacheKey("user-5")))

	gen, err = cache.Generation(ctx, "user-5")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Positive(t, mr.TTL(generationKey("user-5")))

	stored, err = cache.Set(ctx, domain.EmptyCart("user-5"), gen)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists(cacheKey("user-5")))
}
