package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/eventledger/internal/adapter/codec"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

const (
	insertOutboxSQL = `INSERT INTO outbox_events
		(event_id, aggregate_id, aggregate_type, event_type, version, payload, occurred_at, created_at, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)`

	selectUnpublishedSQL = `SELECT position, event_id, aggregate_id, aggregate_type, event_type, version,
			payload, occurred_at, created_at, published_at, published
		FROM outbox_events
		WHERE NOT published
		ORDER BY position
		LIMIT $1`

	markPublishedSQL = `UPDATE outbox_events
		SET published = TRUE, published_at = $2
		WHERE event_id = $1`

	deletePublishedSQL = `DELETE FROM outbox_events
		WHERE published AND published_at < $1`
)

// OutboxRepository implements usecase.EventPublisher by writing outbox rows
// inside the command transaction, and usecase.OutboxRepository for the relay.
type OutboxRepository struct {
	db    querier
	clock usecase.Clock
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(pool *pgxpool.Pool, clock usecase.Clock) *OutboxRepository {
	return newOutboxRepository(pool, clock)
}

func newOutboxRepository(db querier, clock usecase.Clock) *OutboxRepository {
	return &OutboxRepository{db: db, clock: clock}
}

// Publish enqueues events within tx.
func (r *OutboxRepository) Publish(ctx context.Context, tx usecase.Transaction, events []domain.AccountEvent) error {
	pgxTx, err := pgxTx(tx)
	if err != nil {
		return err
	}

	createdAt := r.clock.Now().UTC()
	for _, e := range events {
		row, err := codec.NewOutboxEvent(e, createdAt)
		if err != nil {
			return err
		}

		_, err = pgxTx.Exec(ctx, insertOutboxSQL,
			row.EventID.String(),
			row.AggregateID.String(),
			row.AggregateType,
			string(row.EventType),
			row.Version,
			row.Payload,
			row.OccurredAt.UTC(),
			timeToPgTimestamptz(row.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("enqueue event %s: %w", row.EventID, err)
		}
	}

	return nil
}

// GetUnpublished returns up to limit unpublished rows in insertion order.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, selectUnpublishedSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*domain.OutboxEvent, 0, limit)
	for rows.Next() {
		var (
			e           domain.OutboxEvent
			eventID     string
			aggregateID string
			eventType   string
			occurredAt  time.Time
			createdAt   pgtype.Timestamptz
			publishedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&e.Position, &eventID, &aggregateID, &e.AggregateType, &eventType, &e.Version,
			&e.Payload, &occurredAt, &createdAt, &publishedAt, &e.Published); err != nil {
			return nil, err
		}

		e.EventID = domain.EventID(eventID)
		e.AggregateID = domain.AccountID(aggregateID)
		e.EventType = domain.EventType(eventType)
		e.OccurredAt = occurredAt.UTC()
		e.CreatedAt = createdAt.Time.UTC()
		e.PublishedAt = pgTimestamptzToTime(publishedAt)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID domain.EventID, publishedAt time.Time) error {
	_, err := r.db.Exec(ctx, markPublishedSQL, eventID.String(), timeToPgTimestamptz(publishedAt.UTC()))
	return err
}

// DeletePublished deletes published events older than before and reports how many went.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, deletePublishedSQL, timeToPgTimestamptz(before.UTC()))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
