package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var testAddress = domain.ShippingAddress{
	Address:    "1 Main St",
	City:       "Springfield",
	PostalCode: "12345",
	Country:    "US",
}

type failingCarts struct {
	Carts
	clearErr error
}

func (c failingCarts) RemoveLines(context.Context, *domain.Principal, []domain.CartLine) error {
	return c.clearErr
}

// addingCatalog добавляет товар в корзину покупателя, пока оформление читает каталог,
// как параллельный запрос AddItem.
type addingCatalog struct {
	domain.Catalog
	add func()
}

func (c *addingCatalog) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if c.add != nil {
		c.add()
		c.add = nil
	}
	return c.Catalog.GetProduct(ctx, id)
}

type recordingStore struct {
	orders domain.OrderRepository
	carts  domain.CartRepository
	events []domain.OutboxMessage
	err    error
}

func (s *recordingStore) PlaceOrder(ctx context.Context, order domain.Order, event domain.OutboxMessage) error {
	if s.err != nil {
		return s.err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return err
	}
	s.events = append(s.events, event)
	return s.carts.RemoveLines(ctx, order.OwnerID, order.CartLines())
}

type CheckoutSuite struct {
	suite.Suite

	ctx      context.Context
	orders   domain.OrderRepository
	cartRepo *memory.CartRepository
	carts    *cart.Service
	catalog  *memory.Catalog
	outbox   *memory.OutboxRepository
	gateway  *payment.MockGateway
	registry *prometheus.Registry
	metrics  *metrics.CommerceMetrics
	svc      *Service
	buyer    *domain.Principal
	seq      int
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) SetupTest() {
	s.ctx = context.Background()
	s.orders = memory.NewOrderRepository()
	s.cartRepo = memory.NewCartRepository()
	s.carts = cart.NewService(s.cartRepo)
	s.catalog = memory.NewCatalog(
		domain.Product{ID: "p1", Name: "Widget", Image: "/w.png", PriceMinor: 10},
		domain.Product{ID: "p2", Name: "Gadget", PriceMinor: 250},
	)
	s.outbox = memory.NewOutboxRepository()
	s.gateway = payment.NewMockGateway("secret", "http://gateway.local")
	s.registry = prometheus.NewRegistry()
	s.metrics = metrics.NewCommerceMetricsWithRegisterer(s.registry)
	s.buyer = &domain.Principal{ID: "buyer-1", Role: domain.RoleUser, Name: "Buyer"}
	s.seq = 0
	s.svc = s.newService()
}

func (s *CheckoutSuite) newService(options ...Option) *Service {
	base := []Option{
		WithOutbox(s.outbox),
		WithMetrics(s.metrics),
		WithIDGenerator(func() string {
			s.seq++
			return fmt.Sprintf("order-%d", s.seq)
		}),
	}
	return NewService(s.orders, s.catalog, s.carts, s.gateway, Config{FrontendURL: "http://shop.local/"}, append(base, options...)...)
}

func (s *CheckoutSuite) counter(name, label, value string) float64 {
	families, err := s.registry.Gather()
	s.Require().NoError(err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if hasLabel(metric, label, value) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name && pair.GetValue() == value {
			return true
		}
	}
	return false
}

func (s *CheckoutSuite) placeOrder(method domain.PaymentMethod) domain.Order {
	s.Require().NoError(s.carts.AddItem(s.ctx, s.buyer, "p1", 2))
	order, err := s.svc.CreateOrder(s.ctx, s.buyer, CreateOrderInput{ShippingAddress: testAddress, PaymentMethod: method})
	s.Require().NoError(err)
	return order
}

func (s *CheckoutSuite) TestCreateOrderSnapshotsPrices() {
	order := s.placeOrder(domain.PaymentMethodCardGateway)

	s.Equal(int64(20), order.TotalMinor)
	s.Require().Len(order.Items, 1)
	s.Equal(int64(10), order.Items[0].UnitPriceMinor)
	s.Equal("Widget", order.Items[0].Name)
	s.Equal("Buyer", order.OwnerName)
	s.False(order.IsPaid)
	s.False(order.IsDelivered)
	s.Empty(order.ValidateInvariants())

	s.catalog.Upsert(domain.Product{ID: "p1", Name: "Widget", PriceMinor: 99})

	stored, err := s.orders.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(int64(10), stored.Items[0].UnitPriceMinor)
	s.Equal(int64(20), stored.TotalMinor)
}

func (s *CheckoutSuite) TestCreateOrderClearsCartAndEnqueuesEvent() {
	order := s.placeOrder(domain.PaymentMethodCashOnDelivery)

	c, err := s.carts.GetCart(s.ctx, s.buyer)
	s.Require().NoError(err)
	s.True(c.IsEmpty())

	pending := s.outbox.AllPending()
	s.Require().Len(pending, 1)
	s.Equal(domain.EventOrderCreated, pending[0].EventType)
	s.Equal(order.ID, pending[0].AggregateID)

	s.Equal(1.0, s.counter("storefront_orders_created_total", "payment_method", string(domain.PaymentMethodCashOnDelivery)))
}

func (s *CheckoutSuite) TestCreateOrderOnEmptyCart() {
	_, err := s.svc.CreateOrder(s.ctx, s.buyer, CreateOrderInput{ShippingAddress: testAddress, PaymentMethod: domain.PaymentMethodCashOnDelivery})
	s.Require().ErrorIs(err, domain.ErrEmptyCart)

	all, err := s.orders.ListAll(s.ctx, 0)
	s.Require().NoError(err)
	s.Empty(all)
	s.Empty(s.outbox.AllPending())
}

func (s *CheckoutSuite) TestCreateOrderValidatesBeforeMutation() {
	s.Require().NoError(s.carts.AddItem(s.ctx, s.buyer, "p1", 1))

	tests := []struct {
		name    string
		who     *domain.Principal
		input   CreateOrderInput
		wantErr error
	}{
		{name: "anonymous", who: nil, input: CreateOrderInput{ShippingAddress: testAddress, PaymentMethod: domain.PaymentMethodCashOnDelivery}, wantErr: domain.ErrUnauthorized},
		{name: "missing city", who: s.buyer, input: CreateOrderInput{ShippingAddress: domain.ShippingAddress{Address: "x", PostalCode: "1", Country: "US"}, PaymentMethod: domain.PaymentMethodCashOnDelivery}, wantErr: domain.ErrInvalidInput},
		{name: "unknown method", who: s.buyer, input: CreateOrderInput{ShippingAddress: testAddress, PaymentMethod: "barter"}, wantErr: domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		tt := tt
		s.Run(tt.name, func() {
			_, err := s.svc.CreateOrder(s.ctx, tt.who, tt.input)
			s.Require().ErrorIs(err, tt.wantErr)
		})
	}

	c, err := s.carts.GetCart(s.ctx, s.buyer)
	s.Require().NoError(err)
	s.Len(c.Lines, 1)
}

func (s *CheckoutSuite) TestCreateOrderUnknownProduct() {
	s.Require().NoError(s.carts.AddItem(s.ctx, s.buyer, "ghost", 1))

	_, err := s.svc.CreateOrder(s.ctx, s.buyer, CreateOrderInput{ShippingAddress: testAddress, PaymentMethod: domain.PaymentMethodCashOnDelivery})
	s.Require().ErrorIs(err, domain.ErrProductNotFound)
	s.ErrorContains(err, "ghost")

	c, err := s.carts.GetCart(s.ctx, s.buyer)
	s.Require().NoError(err)
	s.Len(c.Lines, 1)
}

func (s *CheckoutSuite) TestCartClearFailureKeepsOrder() {
	svc := NewService(s.orders, s.catalog, failingCarts{Carts: s.carts, clearErr: errors.New("cart store down")}, s.gateway, Config{})
	s.Require().NoError(s.carts.AddItem(s.ctx, s.buyer, "p2", 1))

	order, err := svc.CreateOrder(s.ctx, s.buyer, CreateOrderInput{ShippingAddress: testAddress, PaymentMethod: domain.PaymentMethodCashOnDelivery})
	s.Require().NoError(err)

	_, err = s.orders.Get(s.ctx, order.ID)
	s.NoError(err)
}

func (s *CheckoutSuite) TestCreateOrderKeepsItemsAddedDuringCheckout() {
	catalog := &addingCatalog{Catalog: s.catalog}
	tests := []struct {
		name    string
		options []Option
	}{
		{name: "sequential"},
		{name: "checkout store", options: []Option{WithCheckoutStore(&recordingStore{orders: s.orders, carts: s.cartRepo})}},
	}
	for _, tt := range tests {
		tt := tt
		s.Run(tt.name, func() {
			s.Require().NoError(s.cartRepo.Delete(s.ctx, s.buyer.ID))
			s.Require().NoError(s.carts.AddItem(s.ctx, s.buyer, "p1", 2))
			catalog.add = func() {
				s.Require().NoError(s.carts.AddItem(s.ctx, s.buyer, "p2", 5))
				s.Require().NoError(s.carts.AddItem(s.ctx, s.buyer, "p1", 1))
			}
			svc := NewService(s.orders, catalog, s.carts, s.gateway, Config{}, tt.options...)

			order, err := svc.CreateOrder(s.ctx, s.buyer, CreateOrderInput{ShippingAddress: testAddress, PaymentMethod: domain.PaymentMethodCashOnDelivery})
			s.Require().NoError(err)
			s.Require().Len(order.Items, 1)
			s.Equal(int32(2), order.Items[0].Quantity)

			c, err := s.carts.GetCart(s.ctx, s.buyer)
			s.Require().NoError(err)
			s.ElementsMatch([]domain.CartLine{
				{ProductID: "p1", Quantity: 1},
				{ProductID: "p2", Quantity: 5},
			}, c.Lines)
		})
	}
}

func (s *CheckoutSuite) TestCheckoutStoreIsUsedWhenConfigured() {
	store := &recordingStore{orders: s.orders, carts: s.cartRepo}
	svc := s.newService(WithCheckoutStore(store))
	s.Require().NoError(s.carts.AddItem(s.ctx, s.buyer, "p1", 1))

	order, err := svc.CreateOrder(s.ctx, s.buyer, CreateOrderInput{ShippingAddress: testAddress, PaymentMethod: domain.PaymentMethodCardGateway})
	s.Require().NoError(err)
	s.Require().Len(store.events, 1)
	s.Equal(order.ID, store.events[0].AggregateID)
	s.Empty(s.outbox.AllPending())

	c, err := s.carts.GetCart(s.ctx, s.buyer)
	s.Require().NoError(err)
	s.True(c.IsEmpty())
}

func (s *CheckoutSuite) TestCheckoutStoreFailureLeavesCart() {
	store := &recordingStore{orders: s.orders, carts: s.cartRepo, err: fmt.Errorf("%w: connection reset", domain.ErrStorage)}
	svc := s.newService(WithCheckoutStore(store))
	s.Require().NoError(s.carts.AddItem(s.ctx, s.buyer, "p1", 1))

	_, err := svc.CreateOrder(s.ctx, s.buyer, CreateOrderInput{ShippingAddress: testAddress, PaymentMethod: domain.PaymentMethodCardGateway})
	s.Require().ErrorIs(err, domain.ErrStorage)
	s.True(domain.IsRetryable(err))

	c, err := s.carts.GetCart(s.ctx, s.buyer)
	s.Require().NoError(err)
	s.Len(c.Lines, 1)
	s.Equal(1.0, s.counter("storefront_checkout_failures_total", "reason", "storage"))
}

func (s *CheckoutSuite) TestInitiatePaymentBuildsSessionFromFrozenItems() {
	order := s.placeOrder(domain.PaymentMethodCardGateway)
	s.catalog.Upsert(domain.Product{ID: "p1", Name: "Renamed", PriceMinor: 777})

	session, err := s.svc.InitiatePayment(s.ctx, s.buyer, order.ID)
	s.Require().NoError(err)
	s.NotEmpty(session.RedirectURL)

	req, ok := s.gateway.Session(session.ID)
	s.Require().True(ok)
	s.Equal(order.ID, req.Metadata[domain.MetadataOrderID])
	s.Equal("usd", req.Currency)
	s.Equal("http://shop.local/orders/"+order.ID+"?success=true", req.SuccessURL)
	s.Equal("http://shop.local/orders/"+order.ID, req.CancelURL)
	s.Equal([]domain.SessionLineItem{{Name: "Widget", Image: "/w.png", UnitPriceMinor: 10, Quantity: 2}}, req.LineItems)
}

func (s *CheckoutSuite) TestInitiatePaymentGatewayFailureIsRetryable() {
	order := s.placeOrder(domain.PaymentMethodCardGateway)
	s.gateway.CreateErr = errors.New("upstream unavailable")

	_, err := s.svc.InitiatePayment(s.ctx, s.buyer, order.ID)
	s.Require().ErrorIs(err, domain.ErrGateway)

	stored, err := s.orders.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.False(stored.IsPaid)

	s.gateway.CreateErr = nil
	_, err = s.svc.InitiatePayment(s.ctx, s.buyer, order.ID)
	s.Require().NoError(err)

	all, err := s.orders.ListAll(s.ctx, 0)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *CheckoutSuite) TestInitiatePaymentRejections() {
	card := s.placeOrder(domain.PaymentMethodCardGateway)
	cod := s.placeOrder(domain.PaymentMethodCashOnDelivery)

	paid := s.placeOrder(domain.PaymentMethodCardGateway)
	_, _, err := s.orders.MarkPaid(s.ctx, paid.ID, time.Now())
	s.Require().NoError(err)

	stranger := &domain.Principal{ID: "stranger", Role: domain.RoleUser}
	admin := &domain.Principal{ID: "admin", Role: domain.RoleAdmin}

	tests := []struct {
		name    string
		who     *domain.Principal
		orderID string
		wantErr error
	}{
		{name: "anonymous", who: nil, orderID: card.ID, wantErr: domain.ErrUnauthorized},
		{name: "stranger", who: stranger, orderID: card.ID, wantErr: domain.ErrForbidden},
		{name: "unknown order", who: s.buyer, orderID: "missing", wantErr: domain.ErrOrderNotFound},
		{name: "blank order id", who: s.buyer, orderID: " ", wantErr: domain.ErrInvalidInput},
		{name: "cash on delivery", who: s.buyer, orderID: cod.ID, wantErr: domain.ErrInvalidInput},
		{name: "already paid", who: admin, orderID: paid.ID, wantErr: domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		tt := tt
		s.Run(tt.name, func() {
			_, err := s.svc.InitiatePayment(s.ctx, tt.who, tt.orderID)
			s.Require().ErrorIs(err, tt.wantErr)
		})
	}

	_, err = s.svc.InitiatePayment(s.ctx, admin, card.ID)
	s.NoError(err)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "empty_cart", failureReason(domain.ErrEmptyCart))
	assert.Equal(t, "product_not_found", failureReason(fmt.Errorf("%w: p1", domain.ErrProductNotFound)))
	assert.Equal(t, "storage", failureReason(fmt.Errorf("%w: x", domain.ErrStorage)))
	assert.Equal(t, "internal", failureReason(errors.New("boom")))
	require.Equal(t, "unauthorized", failureReason(domain.ErrUnauthorized))
}
