package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/eventledger/internal/adapter/codec"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

const (
	selectEventsSQL = `SELECT event_id, version, event_type, payload, occurred_at
		FROM account_events
		WHERE account_id = $1
		ORDER BY version`

	selectEventsAfterSQL = `SELECT event_id, version, event_type, payload, occurred_at
		FROM account_events
		WHERE account_id = $1 AND version > $2
		ORDER BY version`

	currentVersionSQL = `SELECT COALESCE(MAX(version), 0) FROM account_events WHERE account_id = $1`

	insertEventSQL = `INSERT INTO account_events
		(event_id, account_id, version, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

// EventStore implements usecase.EventStore on the account_events table.
// Every call runs inside the caller's transaction.
type EventStore struct{}

// NewEventStore creates a new EventStore.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// LoadEvents returns the account's history ordered by version.
func (s *EventStore) LoadEvents(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID) ([]domain.AccountEvent, error) {
	pgxTx, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	rows, err := pgxTx.Query(ctx, selectEventsSQL, accountID.String())
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", accountID, err)
	}
	return scanEvents(rows, accountID)
}

// LoadEventsAfterVersion returns events with version greater than version.
func (s *EventStore) LoadEventsAfterVersion(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, version int64) ([]domain.AccountEvent, error) {
	pgxTx, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	rows, err := pgxTx.Query(ctx, selectEventsAfterSQL, accountID.String(), version)
	if err != nil {
		return nil, fmt.Errorf("load events for %s after v%d: %w", accountID, version, err)
	}
	return scanEvents(rows, accountID)
}

// AppendEvents checks the stored version and inserts events. A concurrent
// writer that slips in between the check and the insert trips the
// (account_id, version) unique constraint, which is reported the same way.
func (s *EventStore) AppendEvents(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, expectedVersion int64, events []domain.AccountEvent) error {
	if len(events) == 0 {
		return nil
	}

	pgxTx, err := pgxTx(tx)
	if err != nil {
		return err
	}

	var current int64
	if err := pgxTx.QueryRow(ctx, currentVersionSQL, accountID.String()).Scan(&current); err != nil {
		return fmt.Errorf("read version of %s: %w", accountID, err)
	}
	if current != expectedVersion {
		return fmt.Errorf("%w: account %s at version %d, expected %d",
			domain.ErrConcurrencyConflict, accountID, current, expectedVersion)
	}

	for i, e := range events {
		meta := e.Meta()
		if meta.AccountID != accountID {
			return fmt.Errorf("%w: event for %s appended to %s", domain.ErrAccountIDMismatch, meta.AccountID, accountID)
		}
		if want := expectedVersion + int64(i) + 1; meta.Version != want {
			return &domain.NonContiguousVersionError{AccountID: accountID, Expected: want, Actual: meta.Version}
		}

		payload, err := codec.EncodeEvent(e)
		if err != nil {
			return err
		}

		_, err = pgxTx.Exec(ctx, insertEventSQL,
			meta.EventID.String(),
			accountID.String(),
			meta.Version,
			string(e.Type()),
			payload,
			meta.OccurredAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: account %s version %d already written",
					domain.ErrConcurrencyConflict, accountID, meta.Version)
			}
			return fmt.Errorf("append event to %s: %w", accountID, err)
		}
	}

	return nil
}

func scanEvents(rows pgx.Rows, accountID domain.AccountID) ([]domain.AccountEvent, error) {
	defer rows.Close()

	var events []domain.AccountEvent
	for rows.Next() {
		var (
			eventID    string
			version    int64
			eventType  string
			payload    []byte
			occurredAt time.Time
		)
		if err := rows.Scan(&eventID, &version, &eventType, &payload, &occurredAt); err != nil {
			return nil, err
		}

		meta := domain.EventMeta{
			EventID:    domain.EventID(eventID),
			AccountID:  accountID,
			OccurredAt: occurredAt.UTC(),
			Version:    version,
		}
		e, err := codec.DecodeEvent(meta, domain.EventType(eventType), payload)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
