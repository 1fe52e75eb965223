package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/cartsweep"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

const healthSyncInterval = 10 * time.Second

// Run поднимает API, служебные listener'ы и фоновые воркеры и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init dependencies: %w", err)
	}
	defer func() { _ = deps.Close(context.Background()) }()

	services := NewServices(cfg, deps)

	// Отказ Kafka не мешает приёму заказов: события остаются в outbox.
	producer, _ := initKafkaProducer(cfg, logger)
	defer closeKafka(producer, logger)

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen api: %w", err)
	}
	metricsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen metrics: %w", err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		_ = metricsLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	apiSrv := &http.Server{Handler: services.APIHandler(cfg, deps), ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Handler: newMetricsMux(deps.Health), ReadHeaderTimeout: 5 * time.Second}
	grpcSrv, grpcHealth := newAdminGRPCServer(logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", apiLis.Addr().String()).Info("http api listening")
		return serveHTTP(gctx, apiSrv, apiLis, cfg.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		logger.WithField("addr", metricsLis.Addr().String()).Info("metrics and health checks listening")
		return serveHTTP(gctx, metricsSrv, metricsLis, cfg.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		logger.WithField("addr", grpcLis.Addr().String()).Info("grpc admin listening")
		return serveGRPC(gctx, grpcSrv, grpcHealth, grpcLis, cfg.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		syncGRPCHealth(gctx, deps.Health, grpcHealth)
		return nil
	})

	startWorkers(gctx, g, cfg, deps, producer, logger)

	if producer != nil && cfg.ConsumeConfirmations {
		consumer, err := newConfirmationConsumer(cfg, services.Reconcile, producer)
		if err != nil {
			logger.WithError(err).Warn("payment confirmation consumer disabled")
		} else {
			consumer.Start(gctx)
			g.Go(func() error {
				<-gctx.Done()
				return consumer.Stop()
			})
		}
	}

	err = g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		logger.Info("storefront stopped")
		return nil
	}
	return err
}

func startWorkers(ctx context.Context, g *errgroup.Group, cfg Config, deps *Dependencies, producer *kafka.Producer, logger *log.Entry) {
	if producer != nil {
		worker := outbox.NewWorker(deps.Outbox,
			kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
			outbox.WithDLQPublisher(kafka.NewDeadLetterPublisher(producer)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		)
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	} else {
		logger.Info("kafka is not configured, outbox events stay pending")
	}

	cleanup := idempotency.NewCleanupWorker(deps.Idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")))
	g.Go(func() error {
		cleanup.Run(ctx)
		return nil
	})

	if deps.CartSweeper != nil {
		sweeper := cartsweep.New(deps.CartSweeper,
			cartsweep.WithSchedule(cfg.CartSweepSchedule),
			cartsweep.WithRetention(cfg.CartRetention),
			cartsweep.WithLogger(logger.WithField("component", "cart-sweeper")),
			cartsweep.WithMetrics(deps.Metrics),
		)
		g.Go(func() error { return sweeper.Run(ctx) })
	}
}

// newMetricsMux — служебный HTTP: метрики Prometheus и health checks.
func newMetricsMux(checks *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", checks)
	mux.HandleFunc("/readyz", checks.ReadinessHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	return mux
}

func newAdminGRPCServer(logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthSrv := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)
	grpcMetrics.InitializeMetrics(srv)

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return srv, healthSrv
}

// syncGRPCHealth переносит результат readiness-проверок в grpc.health.v1.
func syncGRPCHealth(ctx context.Context, checks *health.Handler, srv *grpchealth.Server) {
	ticker := time.NewTicker(healthSyncInterval)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if checks.Run(ctx).Status == health.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		srv.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serveHTTP(ctx context.Context, srv *http.Server, lis net.Listener, timeout time.Duration, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownHTTP(srv, timeout, logger)
		return nil
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func serveGRPC(ctx context.Context, srv *grpc.Server, healthSrv *grpchealth.Server, lis net.Listener, timeout time.Duration, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		healthSrv.Shutdown()
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeout):
			logger.Warn("grpc graceful stop timed out, forcing stop")
			srv.Stop()
		}
		return nil
	}
}
