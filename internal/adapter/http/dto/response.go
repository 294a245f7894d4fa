package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

// OpenAccountResponse is returned by POST /accounts.
type OpenAccountResponse struct {
	AccountID string `json:"account_id"`
}

// TransactionResponse is returned by credits and debits.
type TransactionResponse struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// ReserveResponse is returned by POST /accounts/{id}/reservations.
type ReserveResponse struct {
	AccountID     string `json:"account_id"`
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
}

// ReservationResponse is returned by capture and cancel. Amount and Currency
// are empty when the call had no effect.
type ReservationResponse struct {
	AccountID     string           `json:"account_id"`
	ReservationID string           `json:"reservation_id"`
	Status        string           `json:"status"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
}

// ReservationFromResult converts a capture or cancel outcome.
func ReservationFromResult(accountID domain.AccountID, reservationID domain.ReservationID, res usecase.ReservationResult) *ReservationResponse {
	resp := &ReservationResponse{
		AccountID:     accountID.String(),
		ReservationID: reservationID.String(),
		Status:        res.Status.String(),
	}
	if res.Amount != nil {
		amount := res.Amount.Amount()
		resp.Amount = &amount
		resp.Currency = res.Amount.Currency().String()
	}
	return resp
}

// BalanceResponse represents the projected balance of an account.
type BalanceResponse struct {
	AccountID string          `json:"account_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	Status    string          `json:"status"`
	Version   int64           `json:"version"`
}

// BalanceFromDomain converts a balance view to a response.
func BalanceFromDomain(v *domain.AccountBalanceView) *BalanceResponse {
	return &BalanceResponse{
		AccountID: v.AccountID.String(),
		Currency:  v.Currency.String(),
		Balance:   v.Balance.Amount(),
		Reserved:  v.Reserved.Amount(),
		Available: v.Available().Amount(),
		Status:    string(v.Status),
		Version:   v.Version,
	}
}

// ReconciliationResponse reports how the read model compares to the event store.
type ReconciliationResponse struct {
	AccountID   string           `json:"account_id"`
	Reconciled  bool             `json:"reconciled"`
	Expected    *BalanceResponse `json:"expected"`
	Projected   *BalanceResponse `json:"projected,omitempty"`
	Lag         int64            `json:"lag"`
	Differences []string         `json:"differences,omitempty"`
	CheckedAt   time.Time        `json:"checked_at"`
}

// ReconciliationFromResult converts a reconciliation result.
func ReconciliationFromResult(r *usecase.ReconciliationResult) *ReconciliationResponse {
	resp := &ReconciliationResponse{
		AccountID:   r.AccountID.String(),
		Reconciled:  r.IsReconciled,
		Expected:    BalanceFromDomain(&r.Expected),
		Lag:         r.Lag,
		Differences: r.Differences,
		CheckedAt:   r.CheckedAt,
	}
	if r.Projected != nil {
		resp.Projected = BalanceFromDomain(r.Projected)
	}
	return resp
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}
