package domain

import "time"

// EventType tags a stored account event.
type EventType string

// Event types
const (
	EventTypeAccountOpened       EventType = "account.opened"
	EventTypeFundsCredited       EventType = "funds.credited"
	EventTypeFundsDebited        EventType = "funds.debited"
	EventTypeFundsReserved       EventType = "funds.reserved"
	EventTypeReservationCaptured EventType = "reservation.captured"
	EventTypeReservationCanceled EventType = "reservation.canceled"
	EventTypeAccountClosed       EventType = "account.closed"
)

// AggregateTypeAccount is the aggregate type written to the outbox.
const AggregateTypeAccount = "account"

// EventMeta holds the fields every account event carries.
type EventMeta struct {
	EventID    EventID
	AccountID  AccountID
	OccurredAt time.Time
	Version    int64
}

func (m EventMeta) Meta() EventMeta { return m }

// AccountEvent is the closed set of facts recorded for an account.
// Only types declared in this package implement it.
type AccountEvent interface {
	Meta() EventMeta
	Type() EventType
	isAccountEvent()
}

type AccountOpened struct {
	EventMeta
	Currency       Currency
	InitialBalance Money
}

type FundsCredited struct {
	EventMeta
	TransactionID TransactionID
	Amount        Money
}

type FundsDebited struct {
	EventMeta
	TransactionID TransactionID
	Amount        Money
}

type FundsReserved struct {
	EventMeta
	TransactionID TransactionID
	ReservationID ReservationID
	Amount        Money
}

type ReservationCaptured struct {
	EventMeta
	ReservationID ReservationID
	Amount        Money
}

type ReservationCanceled struct {
	EventMeta
	ReservationID ReservationID
	Amount        Money
}

type AccountClosed struct {
	EventMeta
}

func (AccountOpened) Type() EventType       { return EventTypeAccountOpened }
func (FundsCredited) Type() EventType       { return EventTypeFundsCredited }
func (FundsDebited) Type() EventType        { return EventTypeFundsDebited }
func (FundsReserved) Type() EventType       { return EventTypeFundsReserved }
func (ReservationCaptured) Type() EventType { return EventTypeReservationCaptured }
func (ReservationCanceled) Type() EventType { return EventTypeReservationCanceled }
func (AccountClosed) Type() EventType       { return EventTypeAccountClosed }

func (AccountOpened) isAccountEvent()       {}
func (FundsCredited) isAccountEvent()       {}
func (FundsDebited) isAccountEvent()        {}
func (FundsReserved) isAccountEvent()       {}
func (ReservationCaptured) isAccountEvent() {}
func (ReservationCanceled) isAccountEvent() {}
func (AccountClosed) isAccountEvent()       {}

// LastVersion returns the version of the final event, or 0 for an empty slice.
func LastVersion(events []AccountEvent) int64 {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Meta().Version
}
