package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle status of an account.
type AccountStatus string

const (
	AccountStatusOpened AccountStatus = "OPENED"
	AccountStatusClosed AccountStatus = "CLOSED"
)

func ParseAccountStatus(s string) (AccountStatus, error) {
	switch st := AccountStatus(s); st {
	case AccountStatusOpened, AccountStatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("unknown account status %q", s)
}

// EventIDFunc supplies ids for newly produced events.
type EventIDFunc func() EventID

// Account is the event-sourced account aggregate. It is rebuilt per request
// from its history and must not be shared between goroutines.
type Account struct {
	id           AccountID
	currency     Currency
	balance      Money
	status       AccountStatus
	reservations map[ReservationID]Money
	version      int64
}

// ReservationOutcome is the result of a capture or cancel. No events means the
// reservation was not live and the caller has to consult the phase registry.
type ReservationOutcome struct {
	Events []AccountEvent
	Amount Money
}

func (o ReservationOutcome) HasEffect() bool { return len(o.Events) > 0 }

// Rehydrate folds a full ordered history into an account.
func Rehydrate(history []AccountEvent) (*Account, error) {
	if len(history) == 0 {
		return nil, ErrAccountHistoryNotFound
	}
	if _, ok := history[0].(AccountOpened); !ok {
		return nil, fmt.Errorf("%w: first event is %s", ErrInvalidStream, history[0].Type())
	}
	a := &Account{}
	for _, e := range history {
		if err := a.apply(e); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// RehydrateFromSnapshot restores the snapshot state and folds tail on top of it.
// tail must start right after the snapshot version.
func RehydrateFromSnapshot(snap AccountSnapshot, tail []AccountEvent) (*Account, error) {
	a := &Account{
		id:           snap.AccountID,
		currency:     snap.Currency,
		balance:      snap.Balance,
		status:       snap.Status,
		reservations: make(map[ReservationID]Money, len(snap.Reservations)),
		version:      snap.Version,
	}
	for id, m := range snap.Reservations {
		a.reservations[id] = m
	}
	for _, e := range tail {
		if err := a.apply(e); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// HandleOpenAccount produces the first event of a new account stream.
func HandleOpenAccount(cmd OpenAccount, id AccountID, eventID EventID, at time.Time) (AccountOpened, error) {
	if cmd.InitialBalance.IsStrictlyNegative() {
		return AccountOpened{}, ErrNegativeInitialBalance
	}
	if cmd.InitialBalance.Currency() != cmd.Currency {
		return AccountOpened{}, fmt.Errorf("%w: account %s, initial balance %s",
			ErrCurrencyMismatch, cmd.Currency, cmd.InitialBalance.Currency())
	}
	return AccountOpened{
		EventMeta:      EventMeta{EventID: eventID, AccountID: id, OccurredAt: at, Version: 1},
		Currency:       cmd.Currency,
		InitialBalance: cmd.InitialBalance,
	}, nil
}

func (a *Account) ID() AccountID         { return a.id }
func (a *Account) Currency() Currency    { return a.currency }
func (a *Account) Balance() Money        { return a.balance }
func (a *Account) Status() AccountStatus { return a.status }
func (a *Account) Version() int64        { return a.version }

// Reservation returns the live reservation with the given id.
func (a *Account) Reservation(id ReservationID) (Money, bool) {
	m, ok := a.reservations[id]
	return m, ok
}

// Reservations returns a copy of the live reservations.
func (a *Account) Reservations() map[ReservationID]Money {
	out := make(map[ReservationID]Money, len(a.reservations))
	for id, m := range a.reservations {
		out[id] = m
	}
	return out
}

// ReservedTotal sums all live reservations.
func (a *Account) ReservedTotal() Money {
	total := decimal.Zero
	for _, m := range a.reservations {
		total = total.Add(m.Amount())
	}
	return NewMoney(total, a.currency)
}

// AvailableBalance is the balance minus everything currently reserved.
func (a *Account) AvailableBalance() Money {
	return NewMoney(a.balance.Amount().Sub(a.ReservedTotal().Amount()), a.currency)
}

func (a *Account) Credit(cmd CreditAccount, newEventID EventIDFunc, at time.Time) ([]AccountEvent, error) {
	if err := a.checkMovement(cmd.AccountID, cmd.Amount); err != nil {
		return nil, err
	}
	return a.emit(FundsCredited{
		EventMeta:     a.nextMeta(newEventID(), at),
		TransactionID: cmd.TransactionID,
		Amount:        cmd.Amount,
	})
}

func (a *Account) Debit(cmd DebitAccount, newEventID EventIDFunc, at time.Time) ([]AccountEvent, error) {
	if err := a.checkMovement(cmd.AccountID, cmd.Amount); err != nil {
		return nil, err
	}
	if err := a.ensureAvailable(cmd.Amount); err != nil {
		return nil, err
	}
	return a.emit(FundsDebited{
		EventMeta:     a.nextMeta(newEventID(), at),
		TransactionID: cmd.TransactionID,
		Amount:        cmd.Amount,
	})
}

// Reserve holds funds under reservationID without changing the balance.
func (a *Account) Reserve(cmd ReserveFunds, reservationID ReservationID, newEventID EventIDFunc, at time.Time) ([]AccountEvent, error) {
	if err := a.checkMovement(cmd.AccountID, cmd.Amount); err != nil {
		return nil, err
	}
	if err := a.ensureAvailable(cmd.Amount); err != nil {
		return nil, err
	}
	return a.emit(FundsReserved{
		EventMeta:     a.nextMeta(newEventID(), at),
		TransactionID: cmd.TransactionID,
		ReservationID: reservationID,
		Amount:        cmd.Amount,
	})
}

// Capture debits a live reservation. A reservation that is not live yields no effect.
func (a *Account) Capture(cmd CaptureReservation, newEventID EventIDFunc, at time.Time) (ReservationOutcome, error) {
	if err := a.ensureSameAccount(cmd.AccountID); err != nil {
		return ReservationOutcome{}, err
	}
	amount, ok := a.reservations[cmd.ReservationID]
	if !ok {
		return ReservationOutcome{}, nil
	}
	events, err := a.emit(ReservationCaptured{
		EventMeta:     a.nextMeta(newEventID(), at),
		ReservationID: cmd.ReservationID,
		Amount:        amount,
	})
	if err != nil {
		return ReservationOutcome{}, err
	}
	return ReservationOutcome{Events: events, Amount: amount}, nil
}

// Cancel releases a live reservation. A reservation that is not live yields no effect.
func (a *Account) Cancel(cmd CancelReservation, newEventID EventIDFunc, at time.Time) (ReservationOutcome, error) {
	if err := a.ensureSameAccount(cmd.AccountID); err != nil {
		return ReservationOutcome{}, err
	}
	amount, ok := a.reservations[cmd.ReservationID]
	if !ok {
		return ReservationOutcome{}, nil
	}
	events, err := a.emit(ReservationCanceled{
		EventMeta:     a.nextMeta(newEventID(), at),
		ReservationID: cmd.ReservationID,
		Amount:        amount,
	})
	if err != nil {
		return ReservationOutcome{}, err
	}
	return ReservationOutcome{Events: events, Amount: amount}, nil
}

func (a *Account) Close(cmd CloseAccount, newEventID EventIDFunc, at time.Time) ([]AccountEvent, error) {
	if err := a.ensureSameAccount(cmd.AccountID); err != nil {
		return nil, err
	}
	if err := a.ensureActive(); err != nil {
		return nil, err
	}
	if !a.balance.IsZero() || len(a.reservations) > 0 {
		return nil, fmt.Errorf("%w: balance %s, %d open reservations",
			ErrAccountNotEmpty, a.balance, len(a.reservations))
	}
	return a.emit(AccountClosed{EventMeta: a.nextMeta(newEventID(), at)})
}

// Snapshot captures the current state at the current version.
func (a *Account) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		AccountID:    a.id,
		Currency:     a.currency,
		Balance:      a.balance,
		Status:       a.status,
		Reservations: a.Reservations(),
		Version:      a.version,
	}
}

func (a *Account) emit(e AccountEvent) ([]AccountEvent, error) {
	if err := a.apply(e); err != nil {
		return nil, err
	}
	return []AccountEvent{e}, nil
}

func (a *Account) nextMeta(eventID EventID, at time.Time) EventMeta {
	return EventMeta{EventID: eventID, AccountID: a.id, OccurredAt: at, Version: a.version + 1}
}

// checkMovement runs the checks shared by credit, debit and reserve.
func (a *Account) checkMovement(id AccountID, amount Money) error {
	if err := a.ensureSameAccount(id); err != nil {
		return err
	}
	if amount.Currency() != a.currency {
		return fmt.Errorf("%w: account %s, amount %s", ErrCurrencyMismatch, a.currency, amount.Currency())
	}
	if amount.IsNegativeOrZero() {
		return ErrAmountMustBePositive
	}
	return a.ensureActive()
}

func (a *Account) ensureSameAccount(id AccountID) error {
	if id != a.id {
		return fmt.Errorf("%w: command for %s routed to %s", ErrAccountIDMismatch, id, a.id)
	}
	return nil
}

func (a *Account) ensureActive() error {
	if a.status != AccountStatusOpened {
		return fmt.Errorf("%w: %s", ErrAccountInactive, a.id)
	}
	return nil
}

func (a *Account) ensureAvailable(amount Money) error {
	available := a.AvailableBalance()
	exceeds, err := amount.IsGreaterThan(available)
	if err != nil {
		return err
	}
	if exceeds {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount, available)
	}
	return nil
}

// apply mutates state for one event and sets the version to the event's own.
func (a *Account) apply(e AccountEvent) error {
	switch ev := e.(type) {
	case AccountOpened:
		if a.version != 0 {
			return fmt.Errorf("%w: account %s opened twice", ErrInvalidStream, ev.AccountID)
		}
		a.id = ev.AccountID
		a.currency = ev.Currency
		a.balance = ev.InitialBalance
		a.status = AccountStatusOpened
		a.reservations = make(map[ReservationID]Money)
	case FundsCredited:
		balance, err := a.balance.Add(ev.Amount)
		if err != nil {
			return err
		}
		a.balance = balance
	case FundsDebited:
		balance, err := a.balance.Subtract(ev.Amount)
		if err != nil {
			return err
		}
		a.balance = balance
	case FundsReserved:
		a.reservations[ev.ReservationID] = ev.Amount
	case ReservationCaptured:
		balance, err := a.balance.Subtract(ev.Amount)
		if err != nil {
			return err
		}
		a.balance = balance
		delete(a.reservations, ev.ReservationID)
	case ReservationCanceled:
		delete(a.reservations, ev.ReservationID)
	case AccountClosed:
		a.status = AccountStatusClosed
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEventType, e)
	}
	a.version = e.Meta().Version
	return nil
}
