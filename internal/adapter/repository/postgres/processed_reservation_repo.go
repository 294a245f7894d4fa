package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

const (
	selectReservationPhaseSQL = `SELECT phase FROM processed_reservations
		WHERE account_id = $1 AND reservation_id = $2`

	selectReservationByTxSQL = `SELECT reservation_id FROM processed_reservations
		WHERE account_id = $1 AND transaction_id = $2`

	insertReservationSQL = `INSERT INTO processed_reservations
		(account_id, reservation_id, transaction_id, phase, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (account_id, reservation_id) DO NOTHING`

	updateReservationPhaseSQL = `UPDATE processed_reservations
		SET phase = $3, updated_at = $4
		WHERE account_id = $1 AND reservation_id = $2`
)

// ProcessedReservationRepository implements usecase.ProcessedReservationStore.
type ProcessedReservationRepository struct{}

// NewProcessedReservationRepository creates a new ProcessedReservationRepository.
func NewProcessedReservationRepository() *ProcessedReservationRepository {
	return &ProcessedReservationRepository{}
}

// LookupPhase returns the recorded phase and whether the reservation is known.
func (r *ProcessedReservationRepository) LookupPhase(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, reservationID domain.ReservationID) (domain.ReservationPhase, bool, error) {
	pgxTx, err := pgxTx(tx)
	if err != nil {
		return "", false, err
	}

	var raw string
	err = pgxTx.QueryRow(ctx, selectReservationPhaseSQL, accountID.String(), reservationID.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup reservation %s: %w", reservationID, err)
	}

	phase, err := domain.ParseReservationPhase(raw)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", domain.ErrInconsistentState, err)
	}
	return phase, true, nil
}

// LookupReservationByTransaction returns the reservation created by transactionID.
func (r *ProcessedReservationRepository) LookupReservationByTransaction(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, transactionID domain.TransactionID) (domain.ReservationID, bool, error) {
	pgxTx, err := pgxTx(tx)
	if err != nil {
		return "", false, err
	}

	var id string
	err = pgxTx.QueryRow(ctx, selectReservationByTxSQL, accountID.String(), transactionID.String()).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup reservation for transaction %s: %w", transactionID, err)
	}
	return domain.ReservationID(id), true, nil
}

// Register records a new reservation. Registering an existing id is a no-op.
func (r *ProcessedReservationRepository) Register(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, transactionID domain.TransactionID, reservationID domain.ReservationID, phase domain.ReservationPhase, occurredAt time.Time) error {
	pgxTx, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = pgxTx.Exec(ctx, insertReservationSQL,
		accountID.String(), reservationID.String(), transactionID.String(), string(phase), occurredAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: transaction %s already reserved on %s",
				domain.ErrConcurrencyConflict, transactionID, accountID)
		}
		return fmt.Errorf("register reservation %s: %w", reservationID, err)
	}
	return nil
}

// UpdatePhase moves a registered reservation to phase.
func (r *ProcessedReservationRepository) UpdatePhase(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, reservationID domain.ReservationID, phase domain.ReservationPhase, occurredAt time.Time) error {
	pgxTx, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := pgxTx.Exec(ctx, updateReservationPhaseSQL,
		accountID.String(), reservationID.String(), string(phase), occurredAt.UTC())
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", reservationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: reservation %s not registered", domain.ErrInconsistentState, reservationID)
	}
	return nil
}
