package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultOutboxBatch = 100

type outboxEntry struct {
	msg    domain.OutboxMessage
	status domain.OutboxStatus
}

// OutboxRepository держит события в порядке постановки. Сообщения не удаляются,
// поэтому тесты могут проверить, что и в каком статусе было опубликовано.
type OutboxRepository struct {
	mu    sync.RWMutex
	queue []*outboxEntry
	byID  map[string]*outboxEntry
	now   func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		byID: make(map[string]*outboxEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, dup := r.byID[msg.ID]; dup {
		return domain.OutboxMessage{}, fmt.Errorf("%w: outbox message %s already enqueued", domain.ErrStorage, msg.ID)
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	msg.EnqueuedAt = r.now()

	entry := &outboxEntry{msg: msg, status: domain.OutboxStatusPending}
	r.queue = append(r.queue, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

// PullPending возвращает до limit самых старых pending-сообщений, не меняя их статус.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	return r.pending(limit), nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.queue {
		if e.status != domain.OutboxStatusPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = e.msg.EnqueuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusFailed)
}

// AllPending возвращает все неопубликованные сообщения по порядку.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.pending(0)
}

// Status возвращает статус сообщения; ok=false, если такого id не было.
func (r *OutboxRepository) Status(id string) (status domain.OutboxStatus, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return e.status, true
}

func (r *OutboxRepository) settle(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok || e.status != domain.OutboxStatusPending {
		return fmt.Errorf("%w: %s", domain.ErrOutboxMessageSettled, id)
	}
	e.status = status
	return nil
}

// pending копирует pending-сообщения; limit<=0 снимает ограничение.
func (r *OutboxRepository) pending(limit int) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.OutboxMessage, 0)
	for _, e := range r.queue {
		if e.status != domain.OutboxStatusPending {
			continue
		}
		msg := e.msg
		msg.Payload = append([]byte(nil), e.msg.Payload...)
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
