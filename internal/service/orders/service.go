// Package orders отдаёт заказы с учётом прав principal'а и удаляет их по запросу администратора.
package orders

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultListLimit = 200
	eventSource      = "admin"
)

// Service — чтение и удаление заказов.
type Service struct {
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	logger    *log.Entry
	listLimit int
	now       func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox задаёт outbox для события order.deleted.
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

// WithListLimit ограничивает размер списков; limit<=0 снимает ограничение.
func WithListLimit(limit int) Option {
	return func(s *Service) {
		s.listLimit = limit
	}
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, options ...Option) *Service {
	s := &Service{orders: orders, listLimit: defaultListLimit, now: time.Now}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "orders-service")
	}
	return s
}

// Get возвращает заказ владельцу или администратору.
func (s *Service) Get(ctx context.Context, principal *domain.Principal, id string) (domain.Order, error) {
	if err := auth.RequirePrincipal(principal); err != nil {
		return domain.Order{}, err
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := auth.Authorize(principal, order, auth.OpRead); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListAll — все заказы магазина, только для администратора.
func (s *Service) ListAll(ctx context.Context, principal *domain.Principal) ([]domain.Order, error) {
	if err := auth.AuthorizeAdmin(principal, auth.OpListAll); err != nil {
		return nil, err
	}
	return s.orders.ListAll(ctx, s.listLimit)
}

// ListMine — заказы самого principal'а.
func (s *Service) ListMine(ctx context.Context, principal *domain.Principal) ([]domain.Order, error) {
	if err := auth.RequirePrincipal(principal); err != nil {
		return nil, err
	}
	return s.orders.ListByOwner(ctx, principal.ID, s.listLimit)
}

// Delete удаляет заказ; доступно только администратору.
func (s *Service) Delete(ctx context.Context, principal *domain.Principal, id string) error {
	if err := auth.AuthorizeAdmin(principal, auth.OpDelete); err != nil {
		return err
	}

	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}

	logger := s.logger.WithFields(log.Fields{"order_id": id, "admin_id": principal.ID})
	if s.outbox != nil {
		msg, err := domain.NewOrderEvent(domain.EventOrderDeleted, order, eventSource, s.now())
		if err == nil {
			_, err = s.outbox.Enqueue(ctx, msg)
		}
		if err != nil {
			logger.WithError(err).Error("failed to enqueue order.deleted event")
		}
	}
	logger.Info("order removed")
	return nil
}
