package usecase

import (
	"context"
	"time"

	"github.com/iho/eventledger/internal/domain"
)

// EventStore is the append-only per-account event log.
type EventStore interface {
	// LoadEvents returns the full ordered history; empty if the account is unknown.
	LoadEvents(ctx context.Context, tx Transaction, accountID domain.AccountID) ([]domain.AccountEvent, error)
	LoadEventsAfterVersion(ctx context.Context, tx Transaction, accountID domain.AccountID, version int64) ([]domain.AccountEvent, error)
	// AppendEvents fails with domain.ErrConcurrencyConflict unless the stored
	// version equals expectedVersion.
	AppendEvents(ctx context.Context, tx Transaction, accountID domain.AccountID, expectedVersion int64, events []domain.AccountEvent) error
}

// SnapshotStore caches aggregate state. Implementations ignore saves that
// are not newer than what is stored.
type SnapshotStore interface {
	Load(ctx context.Context, accountID domain.AccountID) (*domain.AccountSnapshot, error)
	SaveSnapshot(ctx context.Context, snapshot domain.AccountSnapshot) error
}

// EventPublisher enqueues appended events for publication in the same transaction.
type EventPublisher interface {
	Publish(ctx context.Context, tx Transaction, events []domain.AccountEvent) error
}

// TransactionStatus is the outcome of registering a transaction id.
type TransactionStatus int

const (
	TransactionCommitted TransactionStatus = iota
	TransactionNoEffect
)

func (s TransactionStatus) String() string {
	if s == TransactionNoEffect {
		return "no_effect"
	}
	return "committed"
}

// ProcessedTransactionStore deduplicates transaction-id bearing commands.
type ProcessedTransactionStore interface {
	// Register returns TransactionNoEffect for a retry with the same
	// fingerprint and domain.ErrTransactionIDConflict for a different one.
	Register(ctx context.Context, tx Transaction, accountID domain.AccountID, transactionID domain.TransactionID, fingerprint string, occurredAt time.Time) (TransactionStatus, error)
}

// ProcessedReservationStore tracks the phase of every reservation.
type ProcessedReservationStore interface {
	LookupPhase(ctx context.Context, tx Transaction, accountID domain.AccountID, reservationID domain.ReservationID) (domain.ReservationPhase, bool, error)
	LookupReservationByTransaction(ctx context.Context, tx Transaction, accountID domain.AccountID, transactionID domain.TransactionID) (domain.ReservationID, bool, error)
	Register(ctx context.Context, tx Transaction, accountID domain.AccountID, transactionID domain.TransactionID, reservationID domain.ReservationID, phase domain.ReservationPhase, occurredAt time.Time) error
	// UpdatePhase fails with domain.ErrInconsistentState when no row matches.
	UpdatePhase(ctx context.Context, tx Transaction, accountID domain.AccountID, reservationID domain.ReservationID, phase domain.ReservationPhase, occurredAt time.Time) error
}

// BalanceProjector applies a contiguous batch of events to the balance read model.
type BalanceProjector interface {
	Project(ctx context.Context, tx Transaction, accountID domain.AccountID, events []domain.AccountEvent) error
}

// BalanceReader reads the balance read model.
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID domain.AccountID) (*domain.AccountBalanceView, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, eventID domain.EventID, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	NewAccountID() domain.AccountID
	NewEventID() domain.EventID
	NewReservationID() domain.ReservationID
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a key so a failed request can be retried with it.
	Release(ctx context.Context, key string) error
}

// Retrier reruns a whole operation on transient failures.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}
