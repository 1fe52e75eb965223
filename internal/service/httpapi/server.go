// Package httpapi отдаёт REST API витрины поверх сервисов корзины, заказов и оплаты.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 1 << 20
)

// CartService — операции корзины, нужные обработчикам.
type CartService interface {
	GetCart(ctx context.Context, principal *domain.Principal) (domain.Cart, error)
	AddItem(ctx context.Context, principal *domain.Principal, productID string, quantity int) error
	ClearCart(ctx context.Context, principal *domain.Principal) error
}

// CheckoutService оформляет заказ и создаёт сессию оплаты.
type CheckoutService interface {
	CreateOrder(ctx context.Context, principal *domain.Principal, input checkout.CreateOrderInput) (domain.Order, error)
	InitiatePayment(ctx context.Context, principal *domain.Principal, orderID string) (domain.CheckoutSession, error)
}

// ReconcileService меняет статусы оплаты и доставки.
type ReconcileService interface {
	MarkPaid(ctx context.Context, principal *domain.Principal, orderID string) (domain.Order, error)
	MarkDelivered(ctx context.Context, principal *domain.Principal, orderID string) (domain.Order, error)
	ConfirmGatewayPayment(ctx context.Context, confirmation domain.PaymentConfirmation, source string) (domain.Order, error)
}

// OrderService — чтение и удаление заказов.
type OrderService interface {
	Get(ctx context.Context, principal *domain.Principal, id string) (domain.Order, error)
	ListAll(ctx context.Context, principal *domain.Principal) ([]domain.Order, error)
	ListMine(ctx context.Context, principal *domain.Principal) ([]domain.Order, error)
	Delete(ctx context.Context, principal *domain.Principal, id string) error
}

// Authenticator проверяет bearer-токен и возвращает principal.
type Authenticator interface {
	Verify(raw string) (*domain.Principal, error)
}

// Deps — зависимости HTTP API. Keeper необязателен: без него Idempotency-Key игнорируется.
type Deps struct {
	Carts     CartService
	Checkout  CheckoutService
	Reconcile ReconcileService
	Orders    OrderService
	Auth      Authenticator
	Gateway   domain.PaymentGateway
	Keeper    *idempotency.Keeper

	// SignatureHeader — заголовок, из которого читается подпись webhook'а шлюза.
	SignatureHeader string
	// Currency подставляется в ответы с суммами.
	Currency       string
	RequestTimeout time.Duration
	Logger         *log.Entry
}

// Server собирает маршруты API.
type Server struct {
	deps   Deps
	logger *log.Entry
}

// NewServer создаёт сервер с заполненными значениями по умолчанию.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.WithField("component", "http-api")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	if deps.Currency == "" {
		deps.Currency = "usd"
	}
	return &Server{deps: deps, logger: deps.Logger}
}

// Handler возвращает http.Handler со всеми маршрутами и трассировкой otelhttp.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.deps.RequestTimeout))

	r.Route("/api", func(r chi.Router) {
		// Webhook аутентифицируется подписью шлюза, а не токеном пользователя.
		r.Post("/checkout/webhook", s.gatewayWebhook)

		r.Group(func(r chi.Router) {
			r.Use(authenticate(s.deps.Auth))

			r.Get("/cart", s.getCart)
			r.Post("/cart", s.addCartItem)
			r.Delete("/cart", s.clearCart)

			r.Get("/orders", s.listOrders)
			r.With(s.idempotent).Post("/orders", s.createOrder)
			r.Get("/orders/mine", s.listMyOrders)
			r.Get("/orders/{id}", s.getOrder)
			r.Delete("/orders/{id}", s.deleteOrder)
			r.Put("/orders/{id}/pay", s.markPaid)
			r.Put("/orders/{id}/deliver", s.markDelivered)

			r.With(s.idempotent).Post("/checkout/session", s.createCheckoutSession)
		})
	})

	return otelhttp.NewHandler(r, "storefront-api")
}
