package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iho/eventledger/internal/domain"
)

// ReconciliationUseCase compares the balance read model with the event store.
type ReconciliationUseCase struct {
	txManager  TransactionManager
	eventStore EventStore
	reader     BalanceReader
	clock      Clock
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(txManager TransactionManager, eventStore EventStore, reader BalanceReader, clock Clock) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		txManager:  txManager,
		eventStore: eventStore,
		reader:     reader,
		clock:      clock,
	}
}

// ReconciliationResult represents the result of a reconciliation check
type ReconciliationResult struct {
	AccountID domain.AccountID
	// Expected is replayed from the full event history.
	Expected domain.AccountBalanceView
	// Projected is nil when the read model has no row yet.
	Projected *domain.AccountBalanceView
	// Lag is how many events the read model is behind the store.
	Lag int64
	// Differences lists fields that disagree at the projected version.
	Differences  []string
	IsReconciled bool
	CheckedAt    time.Time
}

// ReconcileAccount replays the account without snapshots and compares the
// read model against the replay at the read model's own version, so a lagging
// projection is reported as lag rather than drift.
func (uc *ReconciliationUseCase) ReconcileAccount(ctx context.Context, accountID domain.AccountID) (*ReconciliationResult, error) {
	history, err := uc.loadHistory(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrAccountHistoryNotFound)
	}

	expected, err := domain.ProjectBalance(nil, history)
	if err != nil {
		return nil, err
	}

	projected, err := uc.reader.GetBalance(ctx, accountID)
	if err != nil && !errors.Is(err, domain.ErrAccountBalanceNotFound) {
		return nil, err
	}

	result := &ReconciliationResult{
		AccountID: accountID,
		Expected:  expected,
		Projected: projected,
		CheckedAt: uc.clock.Now(),
	}

	if projected == nil {
		result.Lag = expected.Version
		result.IsReconciled = false
		return result, nil
	}

	if projected.Version > expected.Version {
		result.Differences = append(result.Differences,
			fmt.Sprintf("version: projected %d ahead of store %d", projected.Version, expected.Version))
		return result, nil
	}

	result.Lag = expected.Version - projected.Version
	atVersion, err := domain.ProjectBalance(nil, history[:projected.Version])
	if err != nil {
		return nil, err
	}
	result.Differences = compareViews(atVersion, *projected)
	result.IsReconciled = len(result.Differences) == 0 && result.Lag == 0
	return result, nil
}

func (uc *ReconciliationUseCase) loadHistory(ctx context.Context, accountID domain.AccountID) ([]domain.AccountEvent, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	return uc.eventStore.LoadEvents(txCtx, tx, accountID)
}

func compareViews(want, got domain.AccountBalanceView) []string {
	var diffs []string
	if !want.Balance.Equal(got.Balance) {
		diffs = append(diffs, fmt.Sprintf("balance: expected %s, projected %s", want.Balance, got.Balance))
	}
	if !want.Reserved.Equal(got.Reserved) {
		diffs = append(diffs, fmt.Sprintf("reserved: expected %s, projected %s", want.Reserved, got.Reserved))
	}
	if want.Status != got.Status {
		diffs = append(diffs, fmt.Sprintf("status: expected %s, projected %s", want.Status, got.Status))
	}
	if want.Currency != got.Currency {
		diffs = append(diffs, fmt.Sprintf("currency: expected %s, projected %s", want.Currency, got.Currency))
	}
	return diffs
}
