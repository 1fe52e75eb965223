// Package idempotency хранит результаты запросов с Idempotency-Key
// и периодически удаляет просроченные ключи.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultKeyTTL = 24 * time.Hour

// ErrInProgress — запрос с тем же ключом ещё обрабатывается.
var ErrInProgress = errors.New("request with the same idempotency key is in progress")

// Keeper выдаёт ключу право на обработку или сохранённый ответ для повтора.
type Keeper struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// KeeperOption настраивает Keeper.
type KeeperOption func(*Keeper)

// WithKeyTTL задаёт срок хранения ключа.
func WithKeyTTL(ttl time.Duration) KeeperOption {
	return func(k *Keeper) {
		if ttl > 0 {
			k.ttl = ttl
		}
	}
}

// WithKeeperLogger задаёт logger Keeper'а.
func WithKeeperLogger(logger *log.Entry) KeeperOption {
	return func(k *Keeper) {
		k.logger = logger
	}
}

// NewKeeper создаёт Keeper поверх репозитория ключей.
func NewKeeper(repo domain.IdempotencyRepository, options ...KeeperOption) *Keeper {
	k := &Keeper{repo: repo, ttl: defaultKeyTTL, now: time.Now}
	for _, option := range options {
		option(k)
	}
	if k.logger == nil {
		k.logger = log.WithField("component", "idempotency")
	}
	return k
}

// Begin занимает ключ. replay=true означает, что запрос уже выполнен и нужно
// вернуть сохранённый ответ из record. Ошибки: ErrIdempotencyHashMismatch,
// ErrInProgress или ошибка хранилища.
//
// Ключ, упавший с 5xx, репозиторий отдаёт заново одному из повторов,
// остальные получают ErrInProgress.
func (k *Keeper) Begin(ctx context.Context, key, requestHash string) (record domain.IdempotencyRecord, replay bool, err error) {
	record, err = k.repo.CreateProcessing(ctx, key, requestHash, k.now().UTC().Add(k.ttl))
	switch {
	case err == nil:
		return record, false, nil
	case !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return domain.IdempotencyRecord{}, false, err
	case record.Replayable():
		return record, true, nil
	default:
		return domain.IdempotencyRecord{}, false, ErrInProgress
	}
}

// Finish сохраняет ответ. Ошибка сохранения только логируется: ответ клиенту уже сформирован.
func (k *Keeper) Finish(ctx context.Context, key string, status int, body []byte) {
	var err error
	if status < http.StatusBadRequest {
		err = k.repo.MarkDone(ctx, key, body, status)
	} else {
		err = k.repo.MarkFailed(ctx, key, body, status)
	}
	if err != nil {
		k.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}

// RequestHash связывает ключ с конкретным запросом: методом, путём, владельцем и телом.
func RequestHash(method, path, ownerID string, body []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(method), []byte(path), []byte(ownerID), body} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
