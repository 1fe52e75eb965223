package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_RejectsInvalidConfig(t *testing.T) {
	err := Run(context.Background(), DefaultConfig())
	require.ErrorContains(t, err, "invalid config")
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, testConfig()) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_FailsOnInvalidAddress(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = "256.0.0.1:80"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "listen api")
}
