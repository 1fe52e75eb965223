package domain

import (
	"context"
	"time"
)

// Catalog отдаёт текущие данные товара по идентификатору.
type Catalog interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
}

// PaymentGateway описывает взаимодействие с внешним платёжным шлюзом.
type PaymentGateway interface {
	// CreateSession создаёт hosted checkout-сессию; ошибки оборачивают ErrGateway.
	CreateSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	// ParseConfirmation проверяет подпись callback'а и разбирает его.
	ParseConfirmation(payload []byte, signature string) (PaymentConfirmation, error)
}

// CartCache — необязательный кэш корзин поверх CartRepository.
//
// Каждый Delete увеличивает поколение записи. Читатель берёт Generation до чтения
// репозитория и передаёт его в Set: если между ними запись сбросили, Set ничего
// не пишет и возвращает false, и устаревшая корзина в кэш не попадает.
type CartCache interface {
	Get(ctx context.Context, ownerID string) (Cart, error)
	Generation(ctx context.Context, ownerID string) (int64, error)
	Set(ctx context.Context, cart Cart, generation int64) (bool, error)
	Delete(ctx context.Context, ownerID string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит ключи идемпотентности. CreateProcessing занимает
// свободный или Reclaimable ключ; занятый возвращается вместе с
// ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage — событие заказа, ожидающее публикации в брокер.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// EnqueuedAt заполняет репозиторий при постановке в очередь.
	EnqueuedAt time.Time
}

// OutboxStatus — состояние сообщения в outbox. Из pending сообщение
// переходит ровно один раз: в sent или в failed.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
