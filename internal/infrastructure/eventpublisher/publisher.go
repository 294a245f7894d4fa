package eventpublisher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
	"github.com/iho/eventledger/internal/usecase"
)

const cleanupEvery = time.Hour

// EventPublisher relays outbox rows to a Publisher in insertion order.
type EventPublisher struct {
	outboxRepo  usecase.OutboxRepository
	publisher   Publisher
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	clock       usecase.Clock
	batchSize   int
	interval    time.Duration
	retention   time.Duration
	lastCleanup time.Time
}

// Publisher defines the interface for publishing events to external systems.
type Publisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
}

// Config for EventPublisher.
type Config struct {
	OutboxRepo usecase.OutboxRepository
	Publisher  Publisher
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	Clock      usecase.Clock
	BatchSize  int           // Number of events to fetch per batch
	Interval   time.Duration // Polling interval
	// Retention is how long published rows are kept. Zero disables cleanup.
	Retention time.Duration
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(cfg Config) *EventPublisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = usecase.SystemClock{}
	}

	return &EventPublisher{
		outboxRepo: cfg.OutboxRepo,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger.With().Str("component", "outbox_relay").Logger(),
		metrics:    cfg.Metrics,
		clock:      cfg.Clock,
		batchSize:  cfg.BatchSize,
		interval:   cfg.Interval,
		retention:  cfg.Retention,
	}
}

// Start begins the event publishing worker.
// It runs continuously until the context is cancelled.
func (ep *EventPublisher) Start(ctx context.Context) error {
	ep.logger.Info().
		Int("batch_size", ep.batchSize).
		Dur("interval", ep.interval).
		Dur("retention", ep.retention).
		Msg("outbox relay started")

	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	ep.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			ep.logger.Info().Msg("outbox relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			ep.tick(ctx)
		}
	}
}

func (ep *EventPublisher) tick(ctx context.Context) {
	// Drain full batches without waiting for the next tick.
	for {
		n, err := ep.processEvents(ctx)
		if err != nil {
			ep.logger.Error().Err(err).Msg("error processing outbox")
			break
		}
		if n < ep.batchSize {
			break
		}
	}
	ep.cleanup(ctx)
}

// processEvents publishes one batch and returns how many rows were published.
// It stops at the first failure: later rows may belong to the same account
// and must not overtake it.
func (ep *EventPublisher) processEvents(ctx context.Context) (int, error) {
	events, err := ep.outboxRepo.GetUnpublished(ctx, ep.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	for _, event := range events {
		if err := ep.publisher.Publish(ctx, event); err != nil {
			ep.failed()
			return published, fmt.Errorf("publish event %s (%s v%d): %w",
				event.EventID, event.AggregateID, event.Version, err)
		}

		if err := ep.outboxRepo.MarkPublished(ctx, event.EventID, ep.clock.Now()); err != nil {
			// The row will be sent again; consumers drop the duplicate by version.
			ep.failed()
			return published, fmt.Errorf("mark event %s published: %w", event.EventID, err)
		}

		published++
		if ep.metrics != nil {
			ep.metrics.OutboxPublished.Inc()
		}
	}

	ep.logger.Debug().Int("count", published).Msg("outbox batch published")
	return published, nil
}

// cleanup deletes old published rows at most once per cleanupEvery.
func (ep *EventPublisher) cleanup(ctx context.Context) {
	if ep.retention <= 0 {
		return
	}
	now := ep.clock.Now()
	if !ep.lastCleanup.IsZero() && now.Sub(ep.lastCleanup) < cleanupEvery {
		return
	}
	ep.lastCleanup = now

	deleted, err := ep.outboxRepo.DeletePublished(ctx, now.Add(-ep.retention))
	if err != nil {
		ep.logger.Warn().Err(err).Msg("outbox cleanup failed")
		return
	}
	if deleted > 0 {
		ep.logger.Info().Int64("deleted", deleted).Msg("outbox cleanup")
	}
}

func (ep *EventPublisher) failed() {
	if ep.metrics != nil {
		ep.metrics.OutboxFailures.Inc()
	}
}

// LogPublisher is a publisher that only logs events. It is used when no
// broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	p.logger.Info().
		Str("event_id", event.EventID.String()).
		Str("event_type", string(event.EventType)).
		Str("aggregate_type", event.AggregateType).
		Str("aggregate_id", event.AggregateID.String()).
		Int64("version", event.Version).
		RawJSON("payload", event.Payload).
		Msg("event published")
	return nil
}
