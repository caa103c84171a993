package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/veloretail/FulfillmentGo/internal/inventory/config"
	"github.com/veloretail/FulfillmentGo/internal/inventory/event"
	"github.com/veloretail/FulfillmentGo/internal/inventory/migrations"
	"github.com/veloretail/FulfillmentGo/internal/inventory/repository/postgres"
	"github.com/veloretail/FulfillmentGo/internal/inventory/service"
	"github.com/veloretail/FulfillmentGo/pkg/database"
	"github.com/veloretail/FulfillmentGo/pkg/health"
	"github.com/veloretail/FulfillmentGo/pkg/kafka"
	"github.com/veloretail/FulfillmentGo/pkg/outbox"
	"github.com/veloretail/FulfillmentGo/pkg/tracing"
)

// App wires the inventory service together: stock ledger, command consumer,
// outbox publisher, and HTTP surface (health + metrics).
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool        *pgxpool.Pool
	redisClient *redis.Client
	producer    *kafka.Producer
	dlq         *kafka.DLQProducer
	consumer    *kafka.Consumer
	publisher   *outbox.Publisher
	httpServer  *http.Server

	shutdownTracer func(context.Context) error
}

// New builds the inventory application from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres.Database(), logger)
	if err != nil {
		return nil, err
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	database.RegisterPoolMetrics(registry, pool, cfg.ServiceName)

	producer := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.Kafka.Brokers), logger)
	dlq := kafka.NewDLQProducer(cfg.Kafka.Brokers, logger)
	if err := producer.Ping(ctx); err != nil {
		// Not fatal: the consumer and publisher retry on their own, and the
		// readiness endpoint reports kafka as degraded until it recovers.
		logger.Warn("kafka not reachable at startup", slog.String("error", err.Error()))
	}

	outboxStore := outbox.NewStore(cfg.Outbox.MaxAttempts)
	publisher := outbox.NewPublisher(pool, outboxStore, producer, outbox.PublisherConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
	}, outbox.NewMetrics(registry, cfg.ServiceName), logger)

	svc := service.NewService(pool, postgres.NewInventoryRepository(), outboxStore, logger)
	dispatcher := event.NewDispatcher(svc, logger)

	var dedup kafka.IdempotencyStore
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = database.NewRedisClient(ctx, &database.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
		dedup = kafka.NewRedisIdempotencyStore(redisClient, cfg.ServiceName, cfg.Redis.DedupTTL)
	} else {
		dedup = kafka.NewMemoryIdempotencyStore(cfg.Redis.DedupTTL)
	}

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   kafka.TopicInventoryCommands,
	}, kafka.IdempotentHandler(dedup, dispatcher.Handle, logger), dlq, logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", pool.Ping)
	healthHandler.RegisterNonCritical("kafka", producer.Ping)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", healthHandler.LivenessHandler())
	router.Get("/readyz", healthHandler.ReadinessHandler())
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		dlq:            dlq,
		consumer:       consumer,
		publisher:      publisher,
		httpServer:     httpServer,
		shutdownTracer: shutdownTracer,
	}, nil
}

// Run starts the consumer, outbox publisher, and HTTP server, then blocks
// until the context is canceled and everything has shut down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.consumer.Start(runCtx); err != nil {
			a.logger.Error("command consumer stopped with error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.publisher.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("http server listening", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-runCtx.Done()
	a.logger.Info("shutting down inventory service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}

	wg.Wait()

	if err := a.producer.Close(); err != nil {
		a.logger.Error("producer close failed", slog.String("error", err.Error()))
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("dlq producer close failed", slog.String("error", err.Error()))
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close failed", slog.String("error", err.Error()))
		}
	}
	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
	}
	a.pool.Close()

	a.logger.Info("inventory service stopped")
	return nil
}
