package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/adapter/http/dto"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/logger"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
	"github.com/iho/eventledger/internal/usecase"
)

// AccountService defines the account commands used by the handler.
type AccountService interface {
	OpenAccount(ctx context.Context, cmd domain.OpenAccount) (domain.AccountID, error)
	CreditAccount(ctx context.Context, cmd domain.CreditAccount) (usecase.TransactionStatus, error)
	DebitAccount(ctx context.Context, cmd domain.DebitAccount) (usecase.TransactionStatus, error)
	ReserveFunds(ctx context.Context, cmd domain.ReserveFunds) (usecase.ReserveResult, error)
	CaptureReservation(ctx context.Context, cmd domain.CaptureReservation) (usecase.ReservationResult, error)
	CancelReservation(ctx context.Context, cmd domain.CancelReservation) (usecase.ReservationResult, error)
	CloseAccount(ctx context.Context, cmd domain.CloseAccount) error
}

// AccountHandler handles account command requests. Every command runs
// through the retrier so an optimistic conflict reloads and decides again.
type AccountHandler struct {
	service AccountService
	retrier usecase.Retrier
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewAccountHandler creates a new AccountHandler. retrier and m may be nil.
func NewAccountHandler(service AccountService, retrier usecase.Retrier, m *metrics.Metrics, log zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		service: service,
		retrier: retrier,
		metrics: m,
		logger:  log,
	}
}

// Open handles POST /accounts.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req dto.OpenAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var id domain.AccountID
	err = h.run(r.Context(), usecase.CommandOpenAccount, func() error {
		var err error
		id, err = h.service.OpenAccount(r.Context(), cmd)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.OpenAccountResponse{AccountID: id.String()})
}

// Credit handles POST /accounts/{id}/credits.
func (h *AccountHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req dto.MoneyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, err := req.ToCredit(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var status usecase.TransactionStatus
	err = h.run(r.Context(), usecase.CommandCreditAccount, func() error {
		var err error
		status, err = h.service.CreditAccount(r.Context(), cmd)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransactionResponse{
		AccountID:     cmd.AccountID.String(),
		TransactionID: cmd.TransactionID.String(),
		Status:        status.String(),
	})
}

// Debit handles POST /accounts/{id}/debits.
func (h *AccountHandler) Debit(w http.ResponseWriter, r *http.Request) {
	var req dto.MoneyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, err := req.ToDebit(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var status usecase.TransactionStatus
	err = h.run(r.Context(), usecase.CommandDebitAccount, func() error {
		var err error
		status, err = h.service.DebitAccount(r.Context(), cmd)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransactionResponse{
		AccountID:     cmd.AccountID.String(),
		TransactionID: cmd.TransactionID.String(),
		Status:        status.String(),
	})
}

// Reserve handles POST /accounts/{id}/reservations.
func (h *AccountHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req dto.MoneyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd, err := req.ToReserve(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var result usecase.ReserveResult
	err = h.run(r.Context(), usecase.CommandReserveFunds, func() error {
		var err error
		result, err = h.service.ReserveFunds(r.Context(), cmd)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Status == usecase.TransactionNoEffect {
		status = http.StatusOK
	}
	writeJSON(w, status, dto.ReserveResponse{
		AccountID:     cmd.AccountID.String(),
		ReservationID: result.ReservationID.String(),
		Status:        result.Status.String(),
	})
}

// Capture handles POST /accounts/{id}/reservations/{rid}/capture.
func (h *AccountHandler) Capture(w http.ResponseWriter, r *http.Request) {
	accountID, reservationID, ok := h.reservationParams(w, r)
	if !ok {
		return
	}
	cmd := domain.CaptureReservation{AccountID: accountID, ReservationID: reservationID}

	var result usecase.ReservationResult
	err := h.run(r.Context(), usecase.CommandCaptureReservation, func() error {
		var err error
		result, err = h.service.CaptureReservation(r.Context(), cmd)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ReservationFromResult(accountID, reservationID, result))
}

// Cancel handles POST /accounts/{id}/reservations/{rid}/cancel.
func (h *AccountHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID, reservationID, ok := h.reservationParams(w, r)
	if !ok {
		return
	}
	cmd := domain.CancelReservation{AccountID: accountID, ReservationID: reservationID}

	var result usecase.ReservationResult
	err := h.run(r.Context(), usecase.CommandCancelReservation, func() error {
		var err error
		result, err = h.service.CancelReservation(r.Context(), cmd)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ReservationFromResult(accountID, reservationID, result))
}

// Close handles POST /accounts/{id}/close.
func (h *AccountHandler) Close(w http.ResponseWriter, r *http.Request) {
	accountID, err := dto.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	err = h.run(r.Context(), usecase.CommandCloseAccount, func() error {
		return h.service.CloseAccount(r.Context(), domain.CloseAccount{AccountID: accountID})
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) reservationParams(w http.ResponseWriter, r *http.Request) (domain.AccountID, domain.ReservationID, bool) {
	accountID, err := dto.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return "", "", false
	}
	reservationID, err := dto.ParseReservationID(chi.URLParam(r, "rid"))
	if err != nil {
		h.fail(w, r, err)
		return "", "", false
	}
	return accountID, reservationID, true
}

// run executes op through the retrier and counts the extra attempts.
func (h *AccountHandler) run(ctx context.Context, command string, op func() error) error {
	if h.retrier == nil {
		return op()
	}

	attempts := 0
	err := h.retrier.Retry(ctx, func() error {
		attempts++
		return op()
	})
	if attempts > 1 && h.metrics != nil {
		h.metrics.CommandRetries.WithLabelValues(command).Add(float64(attempts - 1))
	}
	return err
}

func (h *AccountHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeDomainError(w, logger.FromContext(r.Context(), h.logger), err)
}
