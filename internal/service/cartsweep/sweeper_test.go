package cartsweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type countingSweeper struct {
	calls  atomic.Int32
	err    error
	cutoff atomic.Value
}

func (c *countingSweeper) DeleteIdleBefore(_ context.Context, before time.Time) (int, error) {
	c.calls.Add(1)
	c.cutoff.Store(before)
	if c.err != nil {
		return 0, c.err
	}
	return 2, nil
}

func TestSweeper_SweepOnceUsesRetentionCutoff(t *testing.T) {
	carts := &countingSweeper{}
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	s := New(carts, WithRetention(48*time.Hour))
	s.now = func() time.Time { return now }

	assert.Equal(t, 2, s.SweepOnce(context.Background()))
	assert.Equal(t, now.Add(-48*time.Hour), carts.cutoff.Load())
}

func TestSweeper_RemovesIdleCartsFromMemoryStore(t *testing.T) {
	repo := memory.NewCartRepository()
	ctx := context.Background()
	require.NoError(t, repo.AddLine(ctx, "user-1", "p1", 1))

	s := New(repo, WithRetention(time.Hour))
	assert.Zero(t, s.SweepOnce(ctx))

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, s.SweepOnce(ctx))

	cart, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestSweeper_FailureIsReportedAsZero(t *testing.T) {
	s := New(&countingSweeper{err: errors.New("db down")})
	assert.Zero(t, s.SweepOnce(context.Background()))
}

func TestSweeper_RunRejectsInvalidSchedule(t *testing.T) {
	s := New(&countingSweeper{}, WithSchedule("every tuesday"))
	require.Error(t, s.Run(context.Background()))
}

func TestSweeper_RunFiresOnSchedule(t *testing.T) {
	carts := &countingSweeper{}
	s := New(carts, WithSchedule("@every 1s"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return carts.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
