package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

const (
	selectBalanceSQL = `SELECT currency, balance, reserved, status, version
		FROM account_balances
		WHERE account_id = $1`

	selectBalanceForUpdateSQL = selectBalanceSQL + ` FOR UPDATE`

	upsertBalanceSQL = `INSERT INTO account_balances (account_id, currency, balance, reserved, status, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (account_id) DO UPDATE
		SET currency = EXCLUDED.currency,
			balance = EXCLUDED.balance,
			reserved = EXCLUDED.reserved,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE account_balances.version < EXCLUDED.version`
)

// BalanceReadModel maintains the account_balances table. It implements
// usecase.BalanceProjector and usecase.BalanceReader.
type BalanceReadModel struct {
	db querier
}

// NewBalanceReadModel creates a new BalanceReadModel.
func NewBalanceReadModel(pool *pgxpool.Pool) *BalanceReadModel {
	return newBalanceReadModel(pool)
}

func newBalanceReadModel(db querier) *BalanceReadModel {
	return &BalanceReadModel{db: db}
}

// Project folds events into the stored row. Version gaps and duplicates come
// back as *domain.NonContiguousVersionError; losing a race to another
// projector is domain.ErrConcurrencyConflict.
func (m *BalanceReadModel) Project(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, events []domain.AccountEvent) error {
	if len(events) == 0 {
		return nil
	}

	pgxTx, err := pgxTx(tx)
	if err != nil {
		return err
	}

	current, err := scanBalance(pgxTx.QueryRow(ctx, selectBalanceForUpdateSQL, accountID.String()), accountID)
	if err != nil && !errors.Is(err, domain.ErrAccountBalanceNotFound) {
		return err
	}

	next, err := domain.ProjectBalance(current, events)
	if err != nil {
		return err
	}

	balance, err := decimalToNumeric(next.Balance.Amount())
	if err != nil {
		return fmt.Errorf("project balance for %s: %w", accountID, err)
	}
	reserved, err := decimalToNumeric(next.Reserved.Amount())
	if err != nil {
		return fmt.Errorf("project balance for %s: %w", accountID, err)
	}

	tag, err := pgxTx.Exec(ctx, upsertBalanceSQL,
		accountID.String(),
		next.Currency.String(),
		balance,
		reserved,
		string(next.Status),
		next.Version,
	)
	if err != nil {
		return fmt.Errorf("project balance for %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: balance of %s already at or past v%d",
			domain.ErrConcurrencyConflict, accountID, next.Version)
	}
	return nil
}

// GetBalance returns the projected view or domain.ErrAccountBalanceNotFound.
func (m *BalanceReadModel) GetBalance(ctx context.Context, accountID domain.AccountID) (*domain.AccountBalanceView, error) {
	return scanBalance(m.db.QueryRow(ctx, selectBalanceSQL, accountID.String()), accountID)
}

func scanBalance(row pgx.Row, accountID domain.AccountID) (*domain.AccountBalanceView, error) {
	var (
		currencyCode string
		balance      pgtype.Numeric
		reserved     pgtype.Numeric
		status       string
		version      int64
	)
	if err := row.Scan(&currencyCode, &balance, &reserved, &status, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountBalanceNotFound, accountID)
		}
		return nil, err
	}

	currency, err := domain.ParseCurrency(currencyCode)
	if err != nil {
		return nil, err
	}
	balanceAmount, err := numericToDecimal(balance)
	if err != nil {
		return nil, err
	}
	reservedAmount, err := numericToDecimal(reserved)
	if err != nil {
		return nil, err
	}
	accountStatus, err := domain.ParseAccountStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInconsistentState, err)
	}

	return &domain.AccountBalanceView{
		AccountID: accountID,
		Currency:  currency,
		Balance:   domain.NewMoney(balanceAmount, currency),
		Reserved:  domain.NewMoney(reservedAmount, currency),
		Status:    accountStatus,
		Version:   version,
	}, nil
}
