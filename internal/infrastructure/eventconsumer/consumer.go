package eventconsumer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/iho/eventledger/internal/adapter/codec"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
)

// Dead-letter reasons, also used as metric labels.
const (
	reasonUndecodable = "undecodable"
	reasonGap         = "gap"
)

// Headers added to dead-lettered messages next to the original ones.
const (
	headerReason          = "dlq-reason"
	headerError           = "dlq-error"
	headerSourceTopic     = "dlq-source-topic"
	headerSourcePartition = "dlq-source-partition"
	headerSourceOffset    = "dlq-source-offset"
)

const defaultGapRetries = 10

// Projector applies events to the balance read model. It reports false
// without error for events that were already applied.
type Projector interface {
	Apply(ctx context.Context, accountID domain.AccountID, events []domain.AccountEvent) (bool, error)
}

// messageReader is the part of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the dead-letter path needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the consumer settings.
type Config struct {
	Brokers         []string
	Topic           string
	GroupID         string
	DeadLetterTopic string
	// GapRetries is how many times a version gap is retried before the
	// message is dead-lettered.
	GapRetries int
	Projector  Projector
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Consumer feeds the account event topic into the balance projection.
// A message is committed once it was applied, found to be a duplicate, or
// written to the dead-letter topic. Undecodable messages are dead-lettered
// at once, version gaps after GapRetries attempts; other failures are
// retried until the context ends.
type Consumer struct {
	reader      messageReader
	deadLetters messageWriter
	projector   Projector
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	gapRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewConsumer creates a consumer group reader on cfg.Topic and a writer for
// cfg.DeadLetterTopic.
func NewConsumer(cfg Config) *Consumer {
	readerLog := cfg.Logger.With().Str("component", "kafka_reader").Logger()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			readerLog.Debug().Msgf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			readerLog.Error().Msgf(msg, args...)
		}),
	})

	writerLog := cfg.Logger.With().Str("component", "kafka_dlq_writer").Logger()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.DeadLetterTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			writerLog.Debug().Msgf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			writerLog.Error().Msgf(msg, args...)
		}),
	}

	c := newConsumer(reader, writer, cfg.Projector, cfg.Logger, cfg.Metrics)
	if cfg.GapRetries > 0 {
		c.gapRetries = cfg.GapRetries
	}
	return c
}

func newConsumer(reader messageReader, deadLetters messageWriter, projector Projector, logger zerolog.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		reader:          reader,
		deadLetters:     deadLetters,
		projector:       projector,
		logger:          logger.With().Str("component", "projection_consumer").Logger(),
		metrics:         m,
		gapRetries:      defaultGapRetries,
		initialInterval: 100 * time.Millisecond,
		maxInterval:     30 * time.Second,
	}
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("projection consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("projection consumer shutting down")
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			// Only cancellation ends up here; the message stays uncommitted.
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close closes the reader and the dead-letter writer.
func (c *Consumer) Close() error {
	return errors.Join(c.reader.Close(), c.deadLetters.Close())
}

// handle returns nil once msg may be committed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	event, err := codec.DecodeMessage(msg.Value)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ProjectionRejected.WithLabelValues(reasonUndecodable).Inc()
		}
		return c.deadLetter(ctx, msg, reasonUndecodable, err)
	}

	meta := event.Meta()
	log := c.logger.With().
		Str("account_id", meta.AccountID.String()).
		Int64("version", meta.Version).
		Logger()

	attempt, gaps := 0, 0
	err = backoff.RetryNotify(func() error {
		attempt++
		applied, err := c.projector.Apply(ctx, meta.AccountID, []domain.AccountEvent{event})
		if err != nil {
			var gap *domain.NonContiguousVersionError
			if errors.As(err, &gap) {
				if gaps++; gaps >= c.gapRetries {
					return backoff.Permanent(err)
				}
			}
			return err
		}
		if !applied {
			log.Debug().Msg("duplicate delivery acknowledged")
		}
		return nil
	}, c.retryPolicy(ctx), func(err error, wait time.Duration) {
		var gap *domain.NonContiguousVersionError
		ev := log.Warn()
		if errors.As(err, &gap) {
			ev = ev.Int64("expected_version", gap.Expected)
		}
		ev.Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("projection failed, retrying")
	})
	if err == nil || ctx.Err() != nil {
		return err
	}

	var gap *domain.NonContiguousVersionError
	if errors.As(err, &gap) {
		return c.deadLetter(ctx, msg, reasonGap, err)
	}
	return err
}

// deadLetter copies msg to the dead-letter topic, retrying until the write
// succeeds or ctx ends. The source offset must not be committed before.
func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, reason string, cause error) error {
	log := c.logger.With().
		Str("reason", reason).
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Str("key", string(msg.Key)).
		Logger()

	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: headerReason, Value: []byte(reason)},
		kafka.Header{Key: headerError, Value: []byte(cause.Error())},
		kafka.Header{Key: headerSourceTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: headerSourcePartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: headerSourceOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)
	out := kafka.Message{Key: msg.Key, Value: msg.Value, Time: msg.Time, Headers: headers}

	err := backoff.RetryNotify(func() error {
		return c.deadLetters.WriteMessages(ctx, out)
	}, c.retryPolicy(ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("dead-letter write failed, retrying")
	})
	if err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.ProjectionDeadLettered.WithLabelValues(reason).Inc()
	}
	log.Error().Err(cause).Msg("message moved to dead-letter topic")
	return nil
}

func (c *Consumer) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}
