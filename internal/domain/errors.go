package domain

import (
	"errors"
	"fmt"
)

var (
	// Validation errors
	ErrNegativeInitialBalance = errors.New("initial balance must not be negative")
	ErrCurrencyMismatch       = errors.New("currency mismatch")
	ErrAmountMustBePositive   = errors.New("amount must be positive")
	ErrAccountIDMismatch      = errors.New("account id mismatch")
	ErrInvalidID              = errors.New("invalid identifier")

	// Business rule errors
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrAccountInactive            = errors.New("account is not active")
	ErrAccountNotEmpty            = errors.New("account has a balance or open reservations")
	ErrReservationAlreadyCaptured = errors.New("reservation already captured")
	ErrReservationAlreadyCanceled = errors.New("reservation already canceled")
	ErrTransactionIDConflict      = errors.New("transaction id already used with a different payload")

	// Not found errors
	ErrAccountHistoryNotFound = errors.New("account history not found")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrAccountBalanceNotFound = errors.New("account balance not found")

	// Internal errors
	ErrInvalidStream          = errors.New("account event stream must start with AccountOpened")
	ErrNonContiguousVersion   = errors.New("non contiguous event versions")
	ErrInconsistentState      = errors.New("inconsistent state between registry and event store")
	ErrUnsupportedCurrency    = errors.New("unsupported currency")
	ErrUnknownEventType       = errors.New("unknown account event type")
	ErrSnapshotCorrupted      = errors.New("account snapshot cannot be decoded")
	ErrEventCorrupted         = errors.New("account event payload cannot be decoded")
	ErrSnapshotThresholdUnset = errors.New("snapshot threshold must be positive")

	// Transient errors
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// ErrorKind classifies errors for callers that need to decide how to react.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindBusinessRule ErrorKind = "business_rule"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "concurrency_conflict"
	KindInternal     ErrorKind = "internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNegativeInitialBalance, KindValidation},
	{ErrCurrencyMismatch, KindValidation},
	{ErrAmountMustBePositive, KindValidation},
	{ErrAccountIDMismatch, KindValidation},
	{ErrInvalidID, KindValidation},
	{ErrInsufficientFunds, KindBusinessRule},
	{ErrAccountInactive, KindBusinessRule},
	{ErrAccountNotEmpty, KindBusinessRule},
	{ErrReservationAlreadyCaptured, KindBusinessRule},
	{ErrReservationAlreadyCanceled, KindBusinessRule},
	{ErrTransactionIDConflict, KindBusinessRule},
	{ErrAccountHistoryNotFound, KindNotFound},
	{ErrReservationNotFound, KindNotFound},
	{ErrAccountBalanceNotFound, KindNotFound},
	{ErrConcurrencyConflict, KindConflict},
}

// KindOf returns the kind of err. Anything unrecognised is internal.
func KindOf(err error) ErrorKind {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// NonContiguousVersionError reports an event whose version does not follow the last known one.
type NonContiguousVersionError struct {
	AccountID AccountID
	Expected  int64
	Actual    int64
}

func (e *NonContiguousVersionError) Error() string {
	return fmt.Sprintf("non contiguous versions for account %s: expected %d but got %d",
		e.AccountID, e.Expected, e.Actual)
}

func (e *NonContiguousVersionError) Unwrap() error {
	return ErrNonContiguousVersion
}

// IsDuplicate reports whether the offending event was already applied.
func (e *NonContiguousVersionError) IsDuplicate() bool {
	return e.Actual < e.Expected
}
