package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultCallTimeout      = 10 * time.Second
	defaultMaxFailures      = 5
	defaultOpenStateTimeout = 30 * time.Second
)

// BreakerSettings задаёт таймаут вызова и пороги размыкания.
type BreakerSettings struct {
	Name string
	// CallTimeout ограничивает один вызов шлюза.
	CallTimeout time.Duration
	// MaxFailures — число подряд неудачных вызовов, после которого цепь размыкается.
	MaxFailures uint32
	// OpenTimeout — сколько цепь остаётся разомкнутой до пробного запроса.
	OpenTimeout time.Duration
	Logger      *log.Entry
}

// Breaker оборачивает PaymentGateway таймаутом и circuit breaker'ом.
// Повторов нет: отказ сразу возвращается вызывающему как ErrGateway.
type Breaker struct {
	next    domain.PaymentGateway
	cb      *gobreaker.CircuitBreaker[domain.CheckoutSession]
	timeout time.Duration
}

// NewBreaker создаёт декоратор над next.
func NewBreaker(next domain.PaymentGateway, settings BreakerSettings) *Breaker {
	if settings.Name == "" {
		settings.Name = "payment-gateway"
	}
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = defaultCallTimeout
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = defaultMaxFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaultOpenStateTimeout
	}
	logger := settings.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-breaker")
	}

	maxFailures := settings.MaxFailures
	cb := gobreaker.NewCircuitBreaker[domain.CheckoutSession](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Отклонённый шлюзом некорректный запрос не говорит о недоступности шлюза.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrInvalidInput)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("payment gateway circuit breaker state changed")
		},
	})

	return &Breaker{next: next, cb: cb, timeout: settings.CallTimeout}
}

func (b *Breaker) CreateSession(ctx context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	session, err := b.cb.Execute(func() (domain.CheckoutSession, error) {
		return b.call(callCtx, req)
	})
	if err == nil {
		return session, nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return domain.CheckoutSession{}, fmt.Errorf("%w: circuit %s: %w", domain.ErrGateway, b.cb.Name(), err)
	case errors.Is(err, domain.ErrGateway), errors.Is(err, domain.ErrInvalidInput):
		return domain.CheckoutSession{}, err
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return domain.CheckoutSession{}, fmt.Errorf("%w: timed out after %s: %w", domain.ErrGateway, b.timeout, err)
	default:
		return domain.CheckoutSession{}, fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}
}

// call не даёт зависшему шлюзу пережить дедлайн, даже если тот игнорирует ctx.
func (b *Breaker) call(ctx context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	type result struct {
		session domain.CheckoutSession
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := b.next.CreateSession(ctx, req)
		done <- result{session: s, err: err}
	}()

	select {
	case r := <-done:
		return r.session, r.err
	case <-ctx.Done():
		return domain.CheckoutSession{}, ctx.Err()
	}
}

// ParseConfirmation не ходит в сеть и цепь не проходит.
func (b *Breaker) ParseConfirmation(payload []byte, signature string) (domain.PaymentConfirmation, error) {
	return b.next.ParseConfirmation(payload, signature)
}

// Unwrap возвращает обёрнутый шлюз.
func (b *Breaker) Unwrap() domain.PaymentGateway {
	return b.next
}

// State возвращает текущее состояние цепи.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

var _ domain.PaymentGateway = (*Breaker)(nil)
