package domain

import "fmt"

// AccountBalanceView is the read model row maintained by the balance projection.
type AccountBalanceView struct {
	AccountID AccountID
	Currency  Currency
	Balance   Money
	Reserved  Money
	Status    AccountStatus
	Version   int64
}

// Available is balance minus reserved.
func (v AccountBalanceView) Available() Money {
	return NewMoney(v.Balance.Amount().Sub(v.Reserved.Amount()), v.Currency)
}

// ProjectBalance folds a contiguous batch of events for one account into the
// view. current is nil when nothing has been projected yet. The returned view
// is a new value; current is left untouched.
func ProjectBalance(current *AccountBalanceView, events []AccountEvent) (AccountBalanceView, error) {
	var view AccountBalanceView
	if current != nil {
		view = *current
	}
	for _, e := range events {
		meta := e.Meta()
		if expected := view.Version + 1; meta.Version != expected {
			return AccountBalanceView{}, &NonContiguousVersionError{
				AccountID: meta.AccountID,
				Expected:  expected,
				Actual:    meta.Version,
			}
		}
		if err := foldBalance(&view, e); err != nil {
			return AccountBalanceView{}, err
		}
		view.Version = meta.Version
	}
	return view, nil
}

func foldBalance(v *AccountBalanceView, e AccountEvent) error {
	var err error
	switch ev := e.(type) {
	case AccountOpened:
		v.AccountID = ev.AccountID
		v.Currency = ev.Currency
		v.Balance = ev.InitialBalance
		v.Reserved = ZeroMoney(ev.Currency)
		v.Status = AccountStatusOpened
	case FundsCredited:
		v.Balance, err = v.Balance.Add(ev.Amount)
	case FundsDebited:
		v.Balance, err = v.Balance.Subtract(ev.Amount)
	case FundsReserved:
		v.Reserved, err = v.Reserved.Add(ev.Amount)
	case ReservationCaptured:
		if v.Balance, err = v.Balance.Subtract(ev.Amount); err == nil {
			v.Reserved, err = v.Reserved.Subtract(ev.Amount)
		}
	case ReservationCanceled:
		v.Reserved, err = v.Reserved.Subtract(ev.Amount)
	case AccountClosed:
		v.Status = AccountStatusClosed
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEventType, e)
	}
	return err
}
