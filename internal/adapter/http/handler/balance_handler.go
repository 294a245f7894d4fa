package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/adapter/http/dto"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/logger"
	"github.com/iho/eventledger/internal/usecase"
)

// BalanceService defines the read side used by BalanceHandler.
type BalanceService interface {
	GetAccountBalance(ctx context.Context, accountID domain.AccountID) (*domain.AccountBalanceView, error)
}

// Reconciler compares the read model with a full replay.
type Reconciler interface {
	ReconcileAccount(ctx context.Context, accountID domain.AccountID) (*usecase.ReconciliationResult, error)
}

// BalanceHandler serves balance queries and reconciliation reports.
type BalanceHandler struct {
	balances   BalanceService
	reconciler Reconciler
	logger     zerolog.Logger
}

// NewBalanceHandler creates a new BalanceHandler.
func NewBalanceHandler(balances BalanceService, reconciler Reconciler, log zerolog.Logger) *BalanceHandler {
	return &BalanceHandler{
		balances:   balances,
		reconciler: reconciler,
		logger:     log,
	}
}

// Get handles GET /accounts/{id}/balance.
func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, err := dto.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}

	view, err := h.balances.GetAccountBalance(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceFromDomain(view))
}

// Reconcile handles GET /accounts/{id}/reconciliation.
func (h *BalanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	accountID, err := dto.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}

	result, err := h.reconciler.ReconcileAccount(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}

	if !result.IsReconciled {
		log := h.log(r)
		log.Warn().
			Str("account_id", accountID.String()).
			Int64("lag", result.Lag).
			Strs("differences", result.Differences).
			Msg("read model out of sync")
	}
	writeJSON(w, http.StatusOK, dto.ReconciliationFromResult(result))
}

func (h *BalanceHandler) log(r *http.Request) zerolog.Logger {
	return logger.FromContext(r.Context(), h.logger)
}
