package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Драйверы хранилищ.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
)

// Платёжные шлюзы.
const (
	GatewayMock   = "mock"
	GatewayStripe = "stripe"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string
	LogLevel    string

	// Storage — хранилище заказов, каталога, outbox и ключей идемпотентности.
	Storage string
	// CartStorage переопределяет хранилище корзин; если пусто, используется Storage.
	CartStorage   string
	PostgresDSN   string
	AutoMigrate   bool
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	CartCacheTTL  time.Duration

	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	Gateway             string
	GatewaySecret       string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	GatewayTimeout      time.Duration
	Currency            string
	FrontendURL         string

	KafkaBrokers         []string
	KafkaClientID        string
	KafkaGroupID         string
	ConsumeConfirmations bool

	OutboxPollInterval time.Duration
	IdempotencyKeyTTL  time.Duration
	CartSweepSchedule  string
	CartRetention      time.Duration
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		GRPCAddr:    ":50051",
		LogLevel:    "info",

		Storage:       StorageMemory,
		MongoDatabase: "storefront",
		CartCacheTTL:  15 * time.Minute,

		JWTIssuer: "storefront",
		TokenTTL:  24 * time.Hour,

		Gateway:        GatewayMock,
		GatewayTimeout: 10 * time.Second,
		Currency:       "usd",
		FrontendURL:    "http://localhost:3000",

		KafkaClientID: "storefront",
		KafkaGroupID:  "storefront-payments",

		OutboxPollInterval: time.Second,
		IdempotencyKeyTTL:  24 * time.Hour,
		CartSweepSchedule:  "@every 1h",
		CartRetention:      30 * 24 * time.Hour,
		RequestTimeout:     15 * time.Second,
		ShutdownTimeout:    10 * time.Second,
	}
}

// CartBackend возвращает фактическое хранилище корзин.
func (c Config) CartBackend() string {
	if c.CartStorage != "" {
		return c.CartStorage
	}
	return c.Storage
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage %q", c.Storage))
	}

	switch c.CartBackend() {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage != StoragePostgres && c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres cart storage requires a DSN"))
		}
	case StorageMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("mongo cart storage requires a URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported cart storage %q", c.CartBackend()))
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}

	switch c.Gateway {
	case GatewayMock:
		if c.GatewaySecret == "" {
			errs = append(errs, errors.New("mock gateway requires a webhook secret"))
		}
	case GatewayStripe:
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("stripe gateway requires secret key and webhook secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported payment gateway %q", c.Gateway))
	}

	if c.ConsumeConfirmations && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("payment confirmation consumer requires kafka brokers"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	return errors.Join(errs...)
}

// LookupFunc совпадает с os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ConfigFromEnv накладывает переменные STOREFRONT_* поверх DefaultConfig.
func ConfigFromEnv(lookup LookupFunc) (Config, error) {
	cfg := DefaultConfig()
	e := envReader{lookup: lookup}

	e.str("STOREFRONT_HTTP_ADDR", &cfg.HTTPAddr)
	e.str("STOREFRONT_METRICS_ADDR", &cfg.MetricsAddr)
	e.str("STOREFRONT_GRPC_ADDR", &cfg.GRPCAddr)
	e.str("STOREFRONT_LOG_LEVEL", &cfg.LogLevel)

	e.str("STOREFRONT_STORAGE", &cfg.Storage)
	e.str("STOREFRONT_CART_STORAGE", &cfg.CartStorage)
	e.str("STOREFRONT_POSTGRES_DSN", &cfg.PostgresDSN)
	e.boolean("STOREFRONT_AUTO_MIGRATE", &cfg.AutoMigrate)
	e.str("STOREFRONT_MONGO_URI", &cfg.MongoURI)
	e.str("STOREFRONT_MONGO_DATABASE", &cfg.MongoDatabase)
	e.str("STOREFRONT_REDIS_ADDR", &cfg.RedisAddr)
	e.duration("STOREFRONT_CART_CACHE_TTL", &cfg.CartCacheTTL)

	e.str("STOREFRONT_JWT_SECRET", &cfg.JWTSecret)
	e.str("STOREFRONT_JWT_ISSUER", &cfg.JWTIssuer)
	e.duration("STOREFRONT_TOKEN_TTL", &cfg.TokenTTL)

	e.str("STOREFRONT_GATEWAY", &cfg.Gateway)
	e.str("STOREFRONT_GATEWAY_SECRET", &cfg.GatewaySecret)
	e.str("STOREFRONT_STRIPE_SECRET_KEY", &cfg.StripeSecretKey)
	e.str("STOREFRONT_STRIPE_WEBHOOK_SECRET", &cfg.StripeWebhookSecret)
	e.str("STOREFRONT_STRIPE_API_URL", &cfg.StripeAPIURL)
	e.duration("STOREFRONT_GATEWAY_TIMEOUT", &cfg.GatewayTimeout)
	e.str("STOREFRONT_CURRENCY", &cfg.Currency)
	e.str("STOREFRONT_FRONTEND_URL", &cfg.FrontendURL)

	e.list("STOREFRONT_KAFKA_BROKERS", &cfg.KafkaBrokers)
	e.str("STOREFRONT_KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	e.str("STOREFRONT_KAFKA_GROUP_ID", &cfg.KafkaGroupID)
	e.boolean("STOREFRONT_CONSUME_CONFIRMATIONS", &cfg.ConsumeConfirmations)

	e.duration("STOREFRONT_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	e.duration("STOREFRONT_IDEMPOTENCY_KEY_TTL", &cfg.IdempotencyKeyTTL)
	e.str("STOREFRONT_CART_SWEEP_SCHEDULE", &cfg.CartSweepSchedule)
	e.duration("STOREFRONT_CART_RETENTION", &cfg.CartRetention)
	e.duration("STOREFRONT_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	e.duration("STOREFRONT_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}
