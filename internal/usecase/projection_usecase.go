package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
)

// ProjectionUseCase feeds published events into the balance read model.
type ProjectionUseCase struct {
	txManager TransactionManager
	projector BalanceProjector
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewProjectionUseCase(txManager TransactionManager, projector BalanceProjector, logger zerolog.Logger, metrics *metrics.Metrics) *ProjectionUseCase {
	return &ProjectionUseCase{
		txManager: txManager,
		projector: projector,
		logger:    logger.With().Str("component", "projection").Logger(),
		metrics:   metrics,
	}
}

// Apply projects events for one account. It reports false without error when
// the events were already projected. A gap in versions is returned as an error
// so the caller retries instead of acknowledging.
func (uc *ProjectionUseCase) Apply(ctx context.Context, accountID domain.AccountID, events []domain.AccountEvent) (bool, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	if err := uc.projector.Project(txCtx, tx, accountID, events); err != nil {
		var gap *domain.NonContiguousVersionError
		if errors.As(err, &gap) && gap.IsDuplicate() {
			uc.logger.Debug().
				Str("account_id", accountID.String()).
				Int64("version", gap.Actual).
				Msg("skipping already projected event")
			uc.reject("duplicate")
			return false, nil
		}
		switch {
		case errors.As(err, &gap):
			uc.reject("gap")
		case errors.Is(err, domain.ErrConcurrencyConflict):
			uc.reject("conflict")
		default:
			uc.reject("error")
		}
		return false, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return false, err
	}
	if uc.metrics != nil {
		uc.metrics.ProjectionApplied.Add(float64(len(events)))
	}
	return true, nil
}

func (uc *ProjectionUseCase) reject(reason string) {
	if uc.metrics != nil {
		uc.metrics.ProjectionRejected.WithLabelValues(reason).Inc()
	}
}
