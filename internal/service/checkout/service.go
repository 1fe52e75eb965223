// Package checkout превращает корзину в заказ и открывает сессию оплаты в шлюзе.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCurrency = "usd"
	eventSource     = "checkout"
)

// Carts — то, что оформлению нужно от корзины.
type Carts interface {
	// Snapshot читает корзину мимо кэша.
	Snapshot(ctx context.Context, principal *domain.Principal) (domain.Cart, error)
	// RemoveLines убирает из корзины оформленные строки, не трогая добавленные позже.
	RemoveLines(ctx context.Context, principal *domain.Principal, lines []domain.CartLine) error
	// Evict сбрасывает кэш после того, как корзину удалила транзакция оформления.
	Evict(ctx context.Context, ownerID string)
}

// Config задаёт валюту магазина и адрес фронтенда для redirect'ов шлюза.
type Config struct {
	Currency    string
	FrontendURL string
}

// CreateOrderInput — данные, которые покупатель передаёт при оформлении.
// Позиции и сумма клиентом не передаются: они вычисляются из корзины и каталога.
type CreateOrderInput struct {
	ShippingAddress domain.ShippingAddress
	PaymentMethod   domain.PaymentMethod
}

// Service оркестрирует оформление заказа.
type Service struct {
	orders  domain.OrderRepository
	catalog domain.Catalog
	carts   Carts
	gateway domain.PaymentGateway
	outbox  domain.OutboxRepository
	store   domain.CheckoutStore
	cfg     Config
	logger  *log.Entry
	metrics *metrics.CommerceMetrics
	now     func() time.Time
	newID   func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithCheckoutStore включает атомарное оформление (заказ, очистка корзины и outbox одной транзакцией).
func WithCheckoutStore(store domain.CheckoutStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithOutbox задаёт outbox для события order.created в неатомарном режиме.
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

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService создаёт оркестратор оформления.
func NewService(
	orders domain.OrderRepository,
	catalog domain.Catalog,
	carts Carts,
	gateway domain.PaymentGateway,
	cfg Config,
	options ...Option,
) *Service {
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")

	s := &Service{
		orders:  orders,
		catalog: catalog,
		carts:   carts,
		gateway: gateway,
		cfg:     cfg,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "checkout-service")
	}
	return s
}

// CreateOrder оформляет заказ из корзины principal'а по текущим ценам каталога.
func (s *Service) CreateOrder(ctx context.Context, principal *domain.Principal, input CreateOrderInput) (domain.Order, error) {
	started := s.now()

	order, err := s.buildOrder(ctx, principal, input)
	if err != nil {
		s.metrics.RecordCheckoutFailure(failureReason(err))
		return domain.Order{}, err
	}

	event, err := domain.NewOrderEvent(domain.EventOrderCreated, order, eventSource, order.CreatedAt)
	if err != nil {
		s.metrics.RecordCheckoutFailure("internal")
		return domain.Order{}, err
	}

	if s.store != nil {
		if err := s.store.PlaceOrder(ctx, order, event); err != nil {
			s.metrics.RecordCheckoutFailure(failureReason(err))
			return domain.Order{}, err
		}
		s.carts.Evict(ctx, principal.ID)
	} else if err := s.persistSequentially(ctx, principal, order, event); err != nil {
		s.metrics.RecordCheckoutFailure(failureReason(err))
		return domain.Order{}, err
	}

	s.metrics.RecordOrderCreated(string(order.PaymentMethod), s.now().Sub(started))
	s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"owner_id":       order.OwnerID,
		"payment_method": order.PaymentMethod,
		"total_minor":    order.TotalMinor,
		"items":          len(order.Items),
	}).Info("order created")
	return order, nil
}

func (s *Service) buildOrder(ctx context.Context, principal *domain.Principal, input CreateOrderInput) (domain.Order, error) {
	if err := auth.RequirePrincipal(principal); err != nil {
		return domain.Order{}, err
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return domain.Order{}, fmt.Errorf("%w: shipping address is incomplete", err)
	}
	if !input.PaymentMethod.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidInput, input.PaymentMethod)
	}

	cart, err := s.carts.Snapshot(ctx, principal)
	if err != nil {
		return domain.Order{}, err
	}
	if cart.IsEmpty() {
		return domain.Order{}, domain.ErrEmptyCart
	}

	items := make([]domain.OrderItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, line.ProductID)
			}
			return domain.Order{}, err
		}
		items = append(items, domain.OrderItem{
			ProductID:      product.ID,
			Name:           product.Name,
			Image:          product.Image,
			Quantity:       line.Quantity,
			UnitPriceMinor: product.PriceMinor,
		})
	}

	now := s.now().UTC()
	order := domain.Order{
		ID:              s.newID(),
		OwnerID:         principal.ID,
		OwnerName:       principal.Name,
		Items:           items,
		ShippingAddress: input.ShippingAddress,
		PaymentMethod:   input.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.TotalMinor = order.ItemsTotalMinor()

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return order, nil
}

// persistSequentially используется, когда хранилище не умеет оформлять заказ одной транзакцией.
// Заказ важнее корзины: ошибки outbox и очистки корзины только логируются.
// Из корзины вычитаются только позиции заказа.
func (s *Service) persistSequentially(ctx context.Context, principal *domain.Principal, order domain.Order, event domain.OutboxMessage) error {
	if err := s.orders.Create(ctx, order); err != nil {
		return err
	}

	logger := s.logger.WithField("order_id", order.ID)
	if s.outbox != nil {
		if _, err := s.outbox.Enqueue(ctx, event); err != nil {
			logger.WithError(err).Error("failed to enqueue order.created event")
		}
	}
	if err := s.carts.RemoveLines(ctx, principal, order.CartLines()); err != nil {
		logger.WithError(err).WithField("owner_id", order.OwnerID).Error("failed to clear cart after order creation")
	}
	return nil
}

// InitiatePayment открывает checkout-сессию шлюза для уже созданного заказа.
// Повторный вызов для того же заказа создаёт новую сессию, но не новый заказ.
func (s *Service) InitiatePayment(ctx context.Context, principal *domain.Principal, orderID string) (domain.CheckoutSession, error) {
	if err := auth.RequirePrincipal(principal); err != nil {
		return domain.CheckoutSession{}, err
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.CheckoutSession{}, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := auth.Authorize(principal, order, auth.OpPay); err != nil {
		return domain.CheckoutSession{}, err
	}
	if !order.PaymentMethod.GatewayRouted() {
		return domain.CheckoutSession{}, fmt.Errorf("%w: payment method %s is not paid through the gateway", domain.ErrInvalidInput, order.PaymentMethod)
	}
	if order.IsPaid {
		return domain.CheckoutSession{}, fmt.Errorf("%w: order %s is already paid", domain.ErrInvalidInput, order.ID)
	}

	started := s.now()
	session, err := s.gateway.CreateSession(ctx, s.sessionRequest(order))
	elapsed := s.now().Sub(started)
	logger := s.logger.WithField("order_id", order.ID)
	if err != nil {
		s.metrics.RecordGatewayRequest("error", elapsed)
		logger.WithError(err).Warn("payment session creation failed")
		if !errors.Is(err, domain.ErrGateway) && !errors.Is(err, domain.ErrInvalidInput) {
			err = fmt.Errorf("%w: %w", domain.ErrGateway, err)
		}
		return domain.CheckoutSession{}, err
	}

	s.metrics.RecordGatewayRequest("ok", elapsed)
	logger.WithField("session_id", session.ID).Info("payment session created")
	return session, nil
}

// sessionRequest строит позиции сессии из замороженных позиций заказа, каталог не читается.
func (s *Service) sessionRequest(order domain.Order) domain.CheckoutSessionRequest {
	lineItems := make([]domain.SessionLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		lineItems = append(lineItems, domain.SessionLineItem{
			Name:           item.Name,
			Image:          item.Image,
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       int64(item.Quantity),
		})
	}

	orderURL := s.cfg.FrontendURL + "/orders/" + order.ID
	return domain.CheckoutSessionRequest{
		OrderID:    order.ID,
		Currency:   s.cfg.Currency,
		LineItems:  lineItems,
		SuccessURL: orderURL + "?success=true",
		CancelURL:  orderURL,
		Metadata:   map[string]string{domain.MetadataOrderID: order.ID},
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
