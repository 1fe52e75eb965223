package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Порядок важен: первая подходящая по errors.Is запись определяет ответ.
var errorMappings = []errorMapping{
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
	{domain.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{domain.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{domain.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{domain.ErrIdempotencyHashMismatch, http.StatusConflict, "idempotency_key_reused"},
	{idempotency.ErrInProgress, http.StatusConflict, "idempotency_key_in_progress"},
	{domain.ErrIdempotencyKeyRequired, http.StatusBadRequest, "invalid_input"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrGateway, http.StatusBadGateway, "gateway_error"},
	{domain.ErrStorage, http.StatusServiceUnavailable, "storage_error"},
}

// statusFor возвращает HTTP-статус и код ошибки для err.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondDomainError скрывает детали внутренних и временных ошибок от клиента.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(log.Fields{
			"path":   r.URL.Path,
			"method": r.Method,
		}).Error("request failed")
		message = http.StatusText(status)
	}
	respondError(w, status, code, message)
}
