package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// AccountID identifies an account aggregate (ULID).
type AccountID string

// TransactionID is the client supplied idempotency key (UUID).
type TransactionID string

// ReservationID identifies a reservation (ULID).
type ReservationID string

// EventID identifies a single stored event (ULID).
type EventID string

func (id AccountID) String() string     { return string(id) }
func (id TransactionID) String() string { return string(id) }
func (id ReservationID) String() string { return string(id) }
func (id EventID) String() string       { return string(id) }

func ParseAccountID(s string) (AccountID, error) {
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", fmt.Errorf("%w: account id %q", ErrInvalidID, s)
	}
	return AccountID(s), nil
}

func ParseReservationID(s string) (ReservationID, error) {
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", fmt.Errorf("%w: reservation id %q", ErrInvalidID, s)
	}
	return ReservationID(s), nil
}

func ParseEventID(s string) (EventID, error) {
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", fmt.Errorf("%w: event id %q", ErrInvalidID, s)
	}
	return EventID(s), nil
}

// ParseTransactionID accepts any UUID form and normalizes it to lower-case canonical text.
func ParseTransactionID(s string) (TransactionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: transaction id %q", ErrInvalidID, s)
	}
	return TransactionID(u.String()), nil
}
