package domain

import (
	"net/http"
	"time"
)

// IdempotencyStatus — состояние ключа идемпотентности.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — ответ 2xx/3xx сохранён и воспроизводится при повторе.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — сохранён ответ с ошибкой; 4xx воспроизводится, 5xx нет.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord — результат запроса, выполненного под Idempotency-Key.
// Key уже включает владельца, так что разные покупатели не видят ключи друг друга.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	}
	return false
}

// Terminal сообщает, что обработка закончена.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// Expired сообщает, что срок хранения ключа истёк к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Replayable сообщает, что сохранённый ответ нужно вернуть клиенту вместо повторного выполнения.
func (r IdempotencyRecord) Replayable() bool {
	switch r.Status {
	case IdempotencyStatusDone:
		return true
	case IdempotencyStatusFailed:
		return r.HTTPStatus < http.StatusInternalServerError
	}
	return false
}

// Reclaimable сообщает, можно ли занять ключ заново запросом с хэшем requestHash:
// истёкший ключ свободен для любого запроса, а упавший с 5xx только для того же самого.
func (r IdempotencyRecord) Reclaimable(requestHash string, now time.Time) bool {
	if r.Expired(now) {
		return true
	}
	return r.RequestHash == requestHash &&
		r.Status == IdempotencyStatusFailed &&
		r.HTTPStatus >= http.StatusInternalServerError
}
