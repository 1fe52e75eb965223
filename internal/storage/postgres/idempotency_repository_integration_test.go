package postgres

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestIdempotencyRepository_PostgresReplayableResponse(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()

	key := "user-1:checkout-1"
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, key, "req-hash-1", ttl)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	require.NoError(t, repo.MarkDone(ctx, key, []byte(`{"sessionId":"sess-1"}`), http.StatusCreated))

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, got.Status)
	assert.Equal(t, http.StatusCreated, got.HTTPStatus)
	assert.JSONEq(t, `{"sessionId":"sess-1"}`, string(got.ResponseBody))
	assert.True(t, got.TTLAt.Equal(ttl), "ttl mismatch: expected %s, got %s", ttl, got.TTLAt)
	assert.True(t, got.Replayable())

	_, err = repo.CreateProcessing(ctx, key, "req-hash-1", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	_, err = repo.CreateProcessing(ctx, key, "req-hash-2", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.ErrorIs(t, repo.MarkFailed(ctx, "user-1:missing", nil, http.StatusInternalServerError), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_PostgresReclaim(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "user-1:order", "hash-a", ttl)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "user-1:order", []byte(`{"code":"storage_error"}`), http.StatusServiceUnavailable))

	_, err = repo.CreateProcessing(ctx, "user-1:order", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	retried, err := repo.CreateProcessing(ctx, "user-1:order", "hash-a", ttl)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, retried.Status)

	got, err := repo.Get(ctx, "user-1:order")
	require.NoError(t, err)
	assert.Nil(t, got.ResponseBody)
	assert.Zero(t, got.HTTPStatus)

	_, err = repo.CreateProcessing(ctx, "user-1:stale", "hash-a", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	fresh, err := repo.CreateProcessing(ctx, "user-1:stale", "hash-z", ttl)
	require.NoError(t, err)
	assert.Equal(t, "hash-z", fresh.RequestHash)
}

func TestIdempotencyRepository_PostgresSingleClaimUnderRace(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "user-1:race", "hash-a", ttl)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "user-1:race", nil, http.StatusBadGateway))

	const callers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.CreateProcessing(ctx, "user-1:race", "hash-a", ttl); err == nil {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()

	now := time.Now().UTC()
	keys := map[string]time.Duration{
		"user-1:a": -5 * time.Minute,
		"user-1:b": -4 * time.Minute,
		"user-1:c": -3 * time.Minute,
		"user-1:d": time.Hour,
	}
	for key, offset := range keys {
		_, err := repo.CreateProcessing(ctx, key, "h", now.Add(offset))
		require.NoError(t, err)
	}

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = repo.Get(ctx, "user-1:c")
	require.NoError(t, err, "the youngest expired key survives the first batch")

	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "user-1:d")
	require.NoError(t, err)
}
