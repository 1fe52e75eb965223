package app

import (
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
)

// Services — прикладные сервисы поверх Dependencies.
type Services struct {
	Carts     *cart.Service
	Checkout  *checkout.Service
	Reconcile *reconcile.Service
	Orders    *orders.Service
	Keeper    *idempotency.Keeper
}

// NewServices связывает сервисы с хранилищами, шлюзом и метриками.
func NewServices(cfg Config, deps *Dependencies) *Services {
	logger := deps.Logger

	cartOpts := []cart.Option{
		cart.WithLogger(logger.WithField("component", "cart")),
		cart.WithMetrics(deps.Metrics),
	}
	if deps.CartCache != nil {
		cartOpts = append(cartOpts, cart.WithCache(deps.CartCache))
	}
	carts := cart.NewService(deps.Carts, cartOpts...)

	checkoutOpts := []checkout.Option{
		checkout.WithOutbox(deps.Outbox),
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(deps.Metrics),
	}
	if deps.CheckoutStore != nil {
		checkoutOpts = append(checkoutOpts, checkout.WithCheckoutStore(deps.CheckoutStore))
	}

	return &Services{
		Carts: carts,
		Checkout: checkout.NewService(deps.Orders, deps.Catalog, carts, deps.Gateway, checkout.Config{
			Currency:    cfg.Currency,
			FrontendURL: cfg.FrontendURL,
		}, checkoutOpts...),
		Reconcile: reconcile.NewService(deps.Orders,
			reconcile.WithOutbox(deps.Outbox),
			reconcile.WithLogger(logger.WithField("component", "reconcile")),
			reconcile.WithMetrics(deps.Metrics),
		),
		Orders: orders.NewService(deps.Orders,
			orders.WithOutbox(deps.Outbox),
			orders.WithLogger(logger.WithField("component", "orders")),
		),
		Keeper: idempotency.NewKeeper(deps.Idempotency,
			idempotency.WithKeyTTL(cfg.IdempotencyKeyTTL),
			idempotency.WithKeeperLogger(logger.WithField("component", "idempotency")),
		),
	}
}

// APIHandler собирает HTTP API.
func (s *Services) APIHandler(cfg Config, deps *Dependencies) http.Handler {
	return httpapi.NewServer(httpapi.Deps{
		Carts:           s.Carts,
		Checkout:        s.Checkout,
		Reconcile:       s.Reconcile,
		Orders:          s.Orders,
		Auth:            deps.Tokens,
		Gateway:         deps.Gateway,
		Keeper:          s.Keeper,
		SignatureHeader: deps.SignatureHeader,
		Currency:        cfg.Currency,
		RequestTimeout:  cfg.RequestTimeout,
		Logger:          deps.Logger.WithField("component", "http-api"),
	}).Handler()
}
