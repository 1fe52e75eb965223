package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
)

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := s.deps.Carts.GetCart(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	if !s.authenticated(w, r) {
		return
	}
	var req addItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	principal := PrincipalFrom(r.Context())
	if err := s.deps.Carts.AddItem(r.Context(), principal, req.ProductID, req.Quantity); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	cart, err := s.deps.Carts.GetCart(r.Context(), principal)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Carts.ClearCart(r.Context(), PrincipalFrom(r.Context())); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	if !s.authenticated(w, r) {
		return
	}
	var req createOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	method, err := parsePaymentMethod(req.PaymentMethod)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	order, err := s.deps.Checkout.CreateOrder(r.Context(), PrincipalFrom(r.Context()), checkout.CreateOrderInput{
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   method,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderResponse(order, s.deps.Currency))
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.deps.Orders.ListAll(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponses(orders, s.deps.Currency))
}

func (s *Server) listMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.deps.Orders.ListMine(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponses(orders, s.deps.Currency))
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Orders.Get(r.Context(), PrincipalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(order, s.deps.Currency))
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Orders.Delete(r.Context(), PrincipalFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "Order removed"})
}

func (s *Server) markPaid(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Reconcile.MarkPaid(r.Context(), PrincipalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(order, s.deps.Currency))
}

func (s *Server) markDelivered(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Reconcile.MarkDelivered(r.Context(), PrincipalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(order, s.deps.Currency))
}

func (s *Server) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if !s.authenticated(w, r) {
		return
	}
	var req checkoutSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	session, err := s.deps.Checkout.InitiatePayment(r.Context(), PrincipalFrom(r.Context()), req.OrderID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, checkoutSessionResponse{SessionID: session.ID, RedirectURL: session.RedirectURL})
}

// gatewayWebhook принимает callback шлюза. Ответ 2xx подтверждает доставку,
// поэтому не-временные ошибки (неизвестный заказ, пустой order id) тоже отвечают 200.
func (s *Server) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		respondError(w, http.StatusNotFound, "not_found", "payment gateway is not configured")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", "failed to read request body")
		return
	}

	confirmation, err := s.deps.Gateway.ParseConfirmation(payload, r.Header.Get(s.deps.SignatureHeader))
	if err != nil {
		s.logger.WithError(err).Warn("rejected gateway webhook")
		s.respondDomainError(w, r, err)
		return
	}

	logger := s.logger.WithFields(log.Fields{
		"event_id":   confirmation.EventID,
		"session_id": confirmation.SessionID,
		"order_id":   confirmation.OrderID,
	})
	_, err = s.deps.Reconcile.ConfirmGatewayPayment(r.Context(), confirmation, reconcile.SourceWebhook)
	switch {
	case err == nil:
	case domain.IsRetryable(err):
		s.respondDomainError(w, r, err)
		return
	case errorsIsAny(err, domain.ErrOrderNotFound, domain.ErrInvalidInput):
		logger.WithError(err).Warn("gateway confirmation ignored")
	default:
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// authenticated отвечает 401 до разбора тела, чтобы аноним не получал ошибок валидации.
func (s *Server) authenticated(w http.ResponseWriter, r *http.Request) bool {
	if err := auth.RequirePrincipal(PrincipalFrom(r.Context())); err != nil {
		s.respondDomainError(w, r, err)
		return false
	}
	return true
}

// decode читает JSON-тело. Неизвестные поля игнорируются.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		s.respondDomainError(w, r, fmt.Errorf("%w: invalid request body: %w", domain.ErrInvalidInput, err))
		return false
	}
	return true
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func withoutCancel(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
