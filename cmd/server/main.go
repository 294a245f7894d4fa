package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/iho/eventledger/internal/adapter/http"
	"github.com/iho/eventledger/internal/adapter/http/handler"
	"github.com/iho/eventledger/internal/adapter/http/middleware"
	postgresRepo "github.com/iho/eventledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/eventledger/internal/adapter/repository/redis"
	"github.com/iho/eventledger/internal/infrastructure/config"
	"github.com/iho/eventledger/internal/infrastructure/eventconsumer"
	"github.com/iho/eventledger/internal/infrastructure/eventpublisher"
	"github.com/iho/eventledger/internal/infrastructure/logger"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
	"github.com/iho/eventledger/internal/infrastructure/postgres"
	"github.com/iho/eventledger/internal/infrastructure/redis"
	"github.com/iho/eventledger/internal/usecase"
)

const rateLimiterIdle = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if err := postgres.NewMigrator(cfg.DatabaseURL, cfg.MigrationsPath, log).Up(); err != nil {
		return err
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	var redisClient *goredis.Client
	if cfg.RedisEnabled() {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		log.Info().Msg("connected to redis")
	}

	reg := newRegistry()
	m := metrics.New(reg)

	snapshots, err := newSnapshotStore(cfg, pool, redisClient)
	if err != nil {
		return err
	}

	clock := usecase.SystemClock{}
	txManager := postgresRepo.NewTxManager(pool)
	eventStore := postgresRepo.NewEventStore()
	outboxRepo := postgresRepo.NewOutboxRepository(pool, clock)
	readModel := postgresRepo.NewBalanceReadModel(pool)

	accounts, err := usecase.NewAccountService(
		txManager,
		eventStore,
		snapshots,
		outboxRepo,
		postgresRepo.NewProcessedTransactionRepository(),
		postgresRepo.NewProcessedReservationRepository(),
		postgresRepo.NewULIDGenerator(),
		clock,
		cfg.SnapshotThreshold,
		log,
		m,
	)
	if err != nil {
		return err
	}

	routerCfg := httpAdapter.RouterConfig{
		AccountHandler: handler.NewAccountHandler(accounts, postgresRepo.NewRetrier(cfg.CommandMaxRetries, log), m, log),
		BalanceHandler: handler.NewBalanceHandler(
			usecase.NewAccountReadService(readModel),
			usecase.NewReconciliationUseCase(txManager, eventStore, readModel, clock),
			log,
		),
		HealthHandler:  handler.NewHealthHandler(pool, redisClient),
		IdempotencyTTL: cfg.IdempotencyTTL,
		RateLimiter:    newRateLimiter(cfg),
		Logger:         log,
		Metrics:        m,
		Gatherer:       reg,
	}
	if cfg.IdempotencyEnabled {
		routerCfg.IdempotencyStore = redisRepo.NewIdempotencyStore(redisClient)
	}

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpAdapter.NewRouter(routerCfg),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	publisher, closePublisher := newRelayPublisher(cfg, log)
	defer closePublisher()

	relay := eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: outboxRepo,
		Publisher:  publisher,
		Logger:     log,
		Metrics:    m,
		Clock:      clock,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxInterval,
		Retention:  cfg.OutboxRetention,
	})
	g.Go(func() error {
		return ignoreCanceled(relay.Start(gctx))
	})

	if cfg.KafkaEnabled() {
		consumer := eventconsumer.NewConsumer(eventconsumer.Config{
			Brokers:         cfg.KafkaBrokers,
			Topic:           cfg.KafkaTopic,
			GroupID:         cfg.KafkaGroupID,
			DeadLetterTopic: cfg.KafkaDLQTopic,
			GapRetries:      cfg.ProjectionGapRetries,
			Projector:       usecase.NewProjectionUseCase(txManager, readModel, log, m),
			Logger:          log,
			Metrics:         m,
		})
		defer func() {
			if err := consumer.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close projection consumer")
			}
		}()
		g.Go(func() error {
			return ignoreCanceled(consumer.Start(gctx))
		})
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, balance projection is not running")
	}

	if limiter := routerCfg.RateLimiter; limiter != nil {
		g.Go(func() error {
			evictIdleClients(gctx, limiter, log)
			return nil
		})
	}

	return g.Wait()
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newSnapshotStore picks the snapshot backend. The Redis backend needs a
// connected client.
func newSnapshotStore(cfg *config.Config, pool *pgxpool.Pool, client *goredis.Client) (usecase.SnapshotStore, error) {
	switch cfg.SnapshotBackend {
	case config.SnapshotBackendRedis:
		if client == nil {
			return nil, errors.New("redis snapshot backend requires a redis client")
		}
		return redisRepo.NewSnapshotStore(client, cfg.SnapshotTTL), nil
	case config.SnapshotBackendPostgres:
		return postgresRepo.NewSnapshotStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}

func newRateLimiter(cfg *config.Config) *middleware.RateLimiter {
	if cfg.HTTPRateLimitRPS <= 0 {
		return nil
	}
	return middleware.NewRateLimiter(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst)
}

// newRelayPublisher returns the outbox sink. Without brokers events are only
// logged and still marked published.
func newRelayPublisher(cfg *config.Config, log zerolog.Logger) (eventpublisher.Publisher, func()) {
	if !cfg.KafkaEnabled() {
		return eventpublisher.NewLogPublisher(log), func() {}
	}
	p := eventpublisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	return p, func() {
		if err := p.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka writer")
		}
	}
}

func evictIdleClients(ctx context.Context, limiter *middleware.RateLimiter, log zerolog.Logger) {
	ticker := time.NewTicker(rateLimiterIdle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Evict(rateLimiterIdle); n > 0 {
				log.Debug().Int("clients", n).Msg("evicted idle rate limiter entries")
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
