package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/mongo"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	rediscache "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// Dependencies содержит хранилища и адаптеры, собранные по конфигурации.
type Dependencies struct {
	Orders      domain.OrderRepository
	Carts       domain.CartRepository
	Catalog     domain.Catalog
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository
	// CartSweeper nil, если корзины вычищает само хранилище (TTL-индекс MongoDB).
	CartSweeper domain.CartSweeper
	// CheckoutStore задан, только когда заказы и корзины живут в одной PostgreSQL.
	CheckoutStore domain.CheckoutStore
	CartCache     domain.CartCache

	Gateway         domain.PaymentGateway
	SignatureHeader string
	Tokens          *auth.TokenService
	Metrics         *metrics.CommerceMetrics
	Health          *health.Handler
	Logger          *log.Entry

	postgres *postgres.Store
	closers  []func(context.Context) error
}

// NewDependencies подключает хранилища и шлюз. При ошибке уже открытые ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *Dependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps = &Dependencies{
		Metrics: metrics.NewCommerceMetrics(),
		Health:  health.NewHandler(version.Get().Version),
		Logger:  logger,
	}
	defer func() {
		if err != nil {
			_ = deps.Close(context.Background())
			deps = nil
		}
	}()

	if err := deps.initStorage(ctx, cfg); err != nil {
		return deps, err
	}
	if err := deps.initCarts(ctx, cfg); err != nil {
		return deps, err
	}
	if err := deps.initCartCache(cfg); err != nil {
		return deps, err
	}
	if err := deps.initGateway(cfg); err != nil {
		return deps, err
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer), auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		return deps, err
	}
	deps.Tokens = tokens
	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config) error {
	switch cfg.Storage {
	case StorageMemory:
		d.Orders = memory.NewOrderRepository()
		d.Catalog = memory.NewCatalog(memory.DemoProducts()...)
		d.Outbox = memory.NewOutboxRepository()
		d.Idempotency = memory.NewIdempotencyRepository()
		d.Logger.Warn("using in-memory storage, data is lost on restart")
		return nil
	case StoragePostgres:
		store, err := d.openPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		d.Orders = postgres.NewOrderRepository(store)
		d.Catalog = postgres.NewCatalog(store)
		d.Outbox = postgres.NewOutboxRepository(store)
		d.Idempotency = postgres.NewIdempotencyRepository(store)
		return nil
	default:
		return fmt.Errorf("unsupported storage %q", cfg.Storage)
	}
}

func (d *Dependencies) initCarts(ctx context.Context, cfg Config) error {
	switch cfg.CartBackend() {
	case StorageMemory:
		carts := memory.NewCartRepository()
		d.Carts, d.CartSweeper = carts, carts
	case StoragePostgres:
		store, err := d.openPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		carts := postgres.NewCartRepository(store)
		d.Carts, d.CartSweeper = carts, carts
		if cfg.Storage == StoragePostgres {
			d.CheckoutStore = postgres.NewCheckoutStore(store)
		}
	case StorageMongo:
		client, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, client.Close)
		d.Health.Register("mongodb", client.Ping)

		carts := mongo.NewCartRepository(client.Database())
		if err := carts.CreateIndexes(ctx, cfg.CartRetention); err != nil {
			return err
		}
		d.Carts = carts
	default:
		return fmt.Errorf("unsupported cart storage %q", cfg.CartBackend())
	}
	return nil
}

// openPostgres открывает Store один раз, даже если им пользуются и заказы, и корзины.
func (d *Dependencies) openPostgres(ctx context.Context, cfg Config) (*postgres.Store, error) {
	if d.postgres != nil {
		return d.postgres, nil
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, func(context.Context) error { return store.Close() })
	d.Health.Register("postgres", store.Ping)

	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		d.Logger.Info("postgres migrations applied")
	}
	d.postgres = store
	return store, nil
}

func (d *Dependencies) initCartCache(cfg Config) error {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	d.closers = append(d.closers, func(context.Context) error { return client.Close() })

	cache := rediscache.NewCartCache(client, cfg.CartCacheTTL)
	d.CartCache = cache
	d.Health.RegisterOptional("redis", cache.Ping)
	return nil
}

func (d *Dependencies) initGateway(cfg Config) error {
	var gateway domain.PaymentGateway
	switch cfg.Gateway {
	case GatewayMock:
		gateway = payment.NewMockGateway(cfg.GatewaySecret, cfg.FrontendURL+"/mock-gateway")
		d.SignatureHeader = payment.SignatureHeader
	case GatewayStripe:
		stripeGateway, err := payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			APIURL:        cfg.StripeAPIURL,
		})
		if err != nil {
			return err
		}
		gateway = stripeGateway
		d.SignatureHeader = payment.StripeSignatureHeader
	default:
		return fmt.Errorf("unsupported payment gateway %q", cfg.Gateway)
	}

	d.Gateway = payment.NewBreaker(gateway, payment.BreakerSettings{
		CallTimeout: cfg.GatewayTimeout,
		Logger:      d.Logger.WithField("component", "payment-breaker"),
	})
	return nil
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if err := errors.Join(errs...); err != nil {
		d.Logger.WithError(err).Warn("failed to release dependencies")
		return err
	}
	return nil
}
