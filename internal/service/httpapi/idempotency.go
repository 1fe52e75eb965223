package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	// IdempotencyKeyHeader — заголовок с клиентским ключом идемпотентности.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется на ответах, взятых из хранилища.
	IdempotentReplayHeader = "Idempotent-Replay"
	maxIdempotencyKeyLen   = 128
)

// idempotent воспроизводит сохранённый ответ для повторного запроса с тем же ключом.
// Ключ изолирован по владельцу: одинаковые ключи разных пользователей не пересекаются.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		principal := PrincipalFrom(r.Context())
		if key == "" || s.deps.Keeper == nil || principal == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			respondError(w, http.StatusBadRequest, "invalid_input",
				fmt.Sprintf("idempotency key must be at most %d characters", maxIdempotencyKeyLen))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_input", "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		scopedKey := principal.ID + ":" + key
		hash := idempotency.RequestHash(r.Method, r.URL.Path, principal.ID, body)
		record, replay, err := s.deps.Keeper.Begin(r.Context(), scopedKey, hash)
		if err != nil {
			s.respondDomainError(w, r, wrapIdempotencyError(err))
			return
		}
		if replay {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(IdempotentReplayHeader, "true")
			w.WriteHeader(record.HTTPStatus)
			_, _ = w.Write(record.ResponseBody)
			return
		}

		rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// Запрос мог быть прерван таймаутом, поэтому ответ сохраняется вне его контекста.
		s.deps.Keeper.Finish(withoutCancel(r), scopedKey, rec.status, rec.body.Bytes())
	})
}

func wrapIdempotencyError(err error) error {
	switch {
	case errorsIsAny(err, domain.ErrIdempotencyHashMismatch, idempotency.ErrInProgress):
		return err
	default:
		return fmt.Errorf("%w: idempotency store: %w", domain.ErrStorage, err)
	}
}

type capturingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *capturingWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.wroteHeader = true
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
