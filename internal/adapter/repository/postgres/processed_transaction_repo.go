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
	// registerTransactionSQL inserts the fingerprint or, when the id is
	// already taken, returns the stored one. inserted tells the cases apart.
	registerTransactionSQL = `WITH inserted AS (
			INSERT INTO processed_transactions (account_id, transaction_id, fingerprint, occurred_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id, transaction_id) DO NOTHING
			RETURNING fingerprint
		)
		SELECT fingerprint, TRUE AS inserted FROM inserted
		UNION ALL
		SELECT fingerprint, FALSE AS inserted FROM processed_transactions
		WHERE account_id = $1 AND transaction_id = $2
		LIMIT 1`

	selectFingerprintSQL = `SELECT fingerprint FROM processed_transactions
		WHERE account_id = $1 AND transaction_id = $2`
)

// ProcessedTransactionRepository implements usecase.ProcessedTransactionStore.
type ProcessedTransactionRepository struct{}

// NewProcessedTransactionRepository creates a new ProcessedTransactionRepository.
func NewProcessedTransactionRepository() *ProcessedTransactionRepository {
	return &ProcessedTransactionRepository{}
}

// Register records (accountID, transactionID) with its fingerprint.
//
// Under READ COMMITTED a row committed by a concurrent transaction after this
// statement took its snapshot is neither inserted nor selected, so an empty
// result is followed by a second lookup in a fresh statement.
func (r *ProcessedTransactionRepository) Register(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, transactionID domain.TransactionID, fingerprint string, occurredAt time.Time) (usecase.TransactionStatus, error) {
	pgxTx, err := pgxTx(tx)
	if err != nil {
		return usecase.TransactionCommitted, err
	}

	var (
		stored   string
		inserted bool
	)
	err = pgxTx.QueryRow(ctx, registerTransactionSQL,
		accountID.String(), transactionID.String(), fingerprint, occurredAt.UTC(),
	).Scan(&stored, &inserted)

	if errors.Is(err, pgx.ErrNoRows) {
		err = pgxTx.QueryRow(ctx, selectFingerprintSQL, accountID.String(), transactionID.String()).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return usecase.TransactionCommitted, fmt.Errorf("%w: transaction %s neither inserted nor found",
				domain.ErrInconsistentState, transactionID)
		}
	}
	if err != nil {
		return usecase.TransactionCommitted, fmt.Errorf("register transaction %s: %w", transactionID, err)
	}

	if inserted {
		return usecase.TransactionCommitted, nil
	}
	if stored != fingerprint {
		return usecase.TransactionCommitted, fmt.Errorf("%w: %s on account %s",
			domain.ErrTransactionIDConflict, transactionID, accountID)
	}
	return usecase.TransactionNoEffect, nil
}
