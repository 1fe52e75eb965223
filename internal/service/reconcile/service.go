// Package reconcile переводит заказы в оплаченные и доставленные.
// Переход выполняется условным обновлением в хранилище, поэтому повторные
// подтверждения не меняют заказ и не порождают повторных событий.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Источники подтверждения оплаты, попадают в события и метрики.
const (
	SourceManual  = "manual"
	SourceWebhook = "webhook"
	SourceBroker  = "broker"
)

// Service применяет подтверждения оплаты и отметки о доставке.
type Service struct {
	orders  domain.OrderRepository
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.CommerceMetrics
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox задаёт outbox для событий order.paid и order.delivered.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics задаёт бизнес-метрики.
func WithMetrics(m *metrics.CommerceMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт сервис сверки платежей.
func NewService(orders domain.OrderRepository, options ...Option) *Service {
	s := &Service{orders: orders, now: time.Now}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "payment-reconciliation")
	}
	return s
}

// MarkPaid — ручное подтверждение оплаты владельцем заказа или администратором.
// Повторный вызов для оплаченного заказа успешен и возвращает заказ без изменений.
func (s *Service) MarkPaid(ctx context.Context, principal *domain.Principal, orderID string) (domain.Order, error) {
	order, err := s.authorized(ctx, principal, orderID, auth.OpPay)
	if err != nil {
		return domain.Order{}, err
	}
	if order.IsPaid {
		s.duplicatePayment(order, SourceManual)
		return order, nil
	}
	return s.applyPaid(ctx, order.ID, SourceManual)
}

// MarkDelivered отмечает доставку; доступно только администратору.
func (s *Service) MarkDelivered(ctx context.Context, principal *domain.Principal, orderID string) (domain.Order, error) {
	order, err := s.authorized(ctx, principal, orderID, auth.OpDeliver)
	if err != nil {
		return domain.Order{}, err
	}
	if order.IsDelivered {
		return order, nil
	}

	updated, changed, err := s.orders.MarkDelivered(ctx, order.ID, s.now())
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		return updated, nil
	}

	s.enqueue(ctx, domain.EventOrderDelivered, updated, SourceManual)
	s.metrics.RecordOrderDelivered()
	s.logger.WithField("order_id", updated.ID).Info("order marked delivered")
	return updated, nil
}

// ConfirmGatewayPayment применяет подтверждение от шлюза. Principal'а нет:
// подлинность уже проверена подписью, заказ находится по metadata сессии.
// Подтверждения с Paid=false игнорируются.
func (s *Service) ConfirmGatewayPayment(ctx context.Context, confirmation domain.PaymentConfirmation, source string) (domain.Order, error) {
	logger := s.logger.WithFields(log.Fields{
		"event_id":   confirmation.EventID,
		"session_id": confirmation.SessionID,
		"source":     source,
	})
	if !confirmation.Paid {
		logger.Debug("ignoring gateway event without completed payment")
		return domain.Order{}, nil
	}
	if strings.TrimSpace(confirmation.OrderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: confirmation carries no order id", domain.ErrInvalidInput)
	}
	return s.applyPaid(ctx, confirmation.OrderID, source)
}

func (s *Service) applyPaid(ctx context.Context, orderID, source string) (domain.Order, error) {
	updated, changed, err := s.orders.MarkPaid(ctx, orderID, s.now())
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		s.duplicatePayment(updated, source)
		return updated, nil
	}

	s.enqueue(ctx, domain.EventOrderPaid, updated, source)
	s.metrics.RecordPaymentConfirmed(source)
	s.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"source":   source,
	}).Info("order marked paid")
	return updated, nil
}

func (s *Service) authorized(ctx context.Context, principal *domain.Principal, orderID string, op auth.Operation) (domain.Order, error) {
	if err := auth.RequirePrincipal(principal); err != nil {
		return domain.Order{}, err
	}
	// Для deliver право не зависит от заказа: не-админ получает Forbidden, даже если заказа нет.
	if op == auth.OpDeliver {
		if err := auth.AuthorizeAdmin(principal, op); err != nil {
			return domain.Order{}, err
		}
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := auth.Authorize(principal, order, op); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *Service) duplicatePayment(order domain.Order, source string) {
	s.metrics.RecordPaymentDuplicate(source)
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"source":   source,
	}).Info("order already paid, confirmation ignored")
}

// enqueue ставит событие в outbox. Переход уже зафиксирован, поэтому ошибка только логируется.
func (s *Service) enqueue(ctx context.Context, eventType string, order domain.Order, source string) {
	if s.outbox == nil {
		return
	}
	logger := s.logger.WithFields(log.Fields{"order_id": order.ID, "event_type": eventType})

	msg, err := domain.NewOrderEvent(eventType, order, source, order.UpdatedAt)
	if err != nil {
		logger.WithError(err).Error("failed to build order event")
		return
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		logger.WithError(err).Error("failed to enqueue order event")
	}
}
