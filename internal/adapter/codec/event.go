// Package codec converts account events and snapshots to and from their
// persisted JSON form.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iho/eventledger/internal/domain"
)

// eventPayload is the stored body of every event type. Fields that a type
// does not carry are omitted.
type eventPayload struct {
	Currency       string    `json:"currency"`
	Amount         string    `json:"amount,omitempty"`
	InitialBalance string    `json:"initialBalance,omitempty"`
	TransactionID  string    `json:"transactionId,omitempty"`
	ReservationID  string    `json:"reservationId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// EncodeEvent returns the JSON payload for e. Metadata that has its own
// column (event id, account id, version, type) is not repeated.
func EncodeEvent(e domain.AccountEvent) ([]byte, error) {
	p := eventPayload{OccurredAt: e.Meta().OccurredAt.UTC()}

	switch ev := e.(type) {
	case domain.AccountOpened:
		p.Currency = ev.Currency.String()
		p.InitialBalance = ev.InitialBalance.StringAmount()
	case domain.FundsCredited:
		p.setAmount(ev.Amount)
		p.TransactionID = ev.TransactionID.String()
	case domain.FundsDebited:
		p.setAmount(ev.Amount)
		p.TransactionID = ev.TransactionID.String()
	case domain.FundsReserved:
		p.setAmount(ev.Amount)
		p.TransactionID = ev.TransactionID.String()
		p.ReservationID = ev.ReservationID.String()
	case domain.ReservationCaptured:
		p.setAmount(ev.Amount)
		p.ReservationID = ev.ReservationID.String()
	case domain.ReservationCanceled:
		p.setAmount(ev.Amount)
		p.ReservationID = ev.ReservationID.String()
	case domain.AccountClosed:
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownEventType, e)
	}

	return json.Marshal(p)
}

func (p *eventPayload) setAmount(m domain.Money) {
	p.Amount = m.StringAmount()
	p.Currency = m.Currency().String()
}

// DecodeEvent rebuilds an event of type t from its payload. The payload's
// occurredAt wins over the one in meta.
func DecodeEvent(meta domain.EventMeta, t domain.EventType, data []byte) (domain.AccountEvent, error) {
	var p eventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %s v%d: %v", domain.ErrEventCorrupted, meta.AccountID, meta.Version, err)
	}
	if !p.OccurredAt.IsZero() {
		meta.OccurredAt = p.OccurredAt.UTC()
	}

	switch t {
	case domain.EventTypeAccountOpened:
		initial, err := domain.ParseMoney(p.InitialBalance, p.Currency)
		if err != nil {
			return nil, corrupted(meta, err)
		}
		return domain.AccountOpened{EventMeta: meta, Currency: initial.Currency(), InitialBalance: initial}, nil

	case domain.EventTypeFundsCredited:
		amount, err := p.money(meta)
		if err != nil {
			return nil, err
		}
		return domain.FundsCredited{EventMeta: meta, TransactionID: domain.TransactionID(p.TransactionID), Amount: amount}, nil

	case domain.EventTypeFundsDebited:
		amount, err := p.money(meta)
		if err != nil {
			return nil, err
		}
		return domain.FundsDebited{EventMeta: meta, TransactionID: domain.TransactionID(p.TransactionID), Amount: amount}, nil

	case domain.EventTypeFundsReserved:
		amount, err := p.money(meta)
		if err != nil {
			return nil, err
		}
		return domain.FundsReserved{
			EventMeta:     meta,
			TransactionID: domain.TransactionID(p.TransactionID),
			ReservationID: domain.ReservationID(p.ReservationID),
			Amount:        amount,
		}, nil

	case domain.EventTypeReservationCaptured:
		amount, err := p.money(meta)
		if err != nil {
			return nil, err
		}
		return domain.ReservationCaptured{EventMeta: meta, ReservationID: domain.ReservationID(p.ReservationID), Amount: amount}, nil

	case domain.EventTypeReservationCanceled:
		amount, err := p.money(meta)
		if err != nil {
			return nil, err
		}
		return domain.ReservationCanceled{EventMeta: meta, ReservationID: domain.ReservationID(p.ReservationID), Amount: amount}, nil

	case domain.EventTypeAccountClosed:
		return domain.AccountClosed{EventMeta: meta}, nil
	}

	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEventType, t)
}

func (p *eventPayload) money(meta domain.EventMeta) (domain.Money, error) {
	m, err := domain.ParseMoney(p.Amount, p.Currency)
	if err != nil {
		return domain.Money{}, corrupted(meta, err)
	}
	return m, nil
}

// corrupted keeps ErrUnsupportedCurrency visible to callers and tags
// everything else as a corrupted payload.
func corrupted(meta domain.EventMeta, err error) error {
	return fmt.Errorf("%w: %s v%d: %w", domain.ErrEventCorrupted, meta.AccountID, meta.Version, err)
}
