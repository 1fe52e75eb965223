package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "gateway", err: ErrGateway, want: true},
		{name: "wrapped storage", err: fmt.Errorf("%w: insert order: %w", ErrStorage, errors.New("conn reset")), want: true},
		{name: "joined gateway", err: errors.Join(ErrGateway, errors.New("timeout")), want: true},
		{name: "forbidden", err: ErrForbidden, want: false},
		{name: "order not found", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdempotencyErrors_AreDistinct(t *testing.T) {
	if errors.Is(ErrIdempotencyKeyAlreadyExists, ErrIdempotencyHashMismatch) {
		t.Fatal("already-exists must not match hash mismatch")
	}
	if !errors.Is(errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")), ErrIdempotencyHashMismatch) {
		t.Fatal("joined error must match hash mismatch")
	}
}
