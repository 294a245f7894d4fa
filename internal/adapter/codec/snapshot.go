package codec

import (
	"encoding/json"
	"fmt"

	"github.com/iho/eventledger/internal/domain"
)

type snapshotState struct {
	Currency     string                    `json:"currency"`
	Balance      string                    `json:"balance"`
	Status       string                    `json:"status"`
	Reservations map[string]snapshotAmount `json:"reservations"`
}

type snapshotAmount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// EncodeSnapshot returns the JSON state of snap and the schema version it was
// written with. Account id and version are stored alongside, not inside.
func EncodeSnapshot(snap domain.AccountSnapshot) ([]byte, int, error) {
	state := snapshotState{
		Currency:     snap.Currency.String(),
		Balance:      snap.Balance.StringAmount(),
		Status:       string(snap.Status),
		Reservations: make(map[string]snapshotAmount, len(snap.Reservations)),
	}
	for id, amount := range snap.Reservations {
		state.Reservations[id.String()] = snapshotAmount{
			Amount:   amount.StringAmount(),
			Currency: amount.Currency().String(),
		}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, 0, err
	}
	return data, domain.SnapshotSchemaVersion, nil
}

// DecodeSnapshot parses state written by EncodeSnapshot. Any problem,
// including an unknown schema version, yields domain.ErrSnapshotCorrupted so
// the caller can fall back to a full replay.
func DecodeSnapshot(accountID domain.AccountID, version int64, schemaVersion int, data []byte) (domain.AccountSnapshot, error) {
	if schemaVersion != domain.SnapshotSchemaVersion {
		return domain.AccountSnapshot{}, fmt.Errorf("%w: %s: schema version %d",
			domain.ErrSnapshotCorrupted, accountID, schemaVersion)
	}

	var state snapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.AccountSnapshot{}, snapshotCorrupted(accountID, err)
	}

	balance, err := domain.ParseMoney(state.Balance, state.Currency)
	if err != nil {
		return domain.AccountSnapshot{}, snapshotCorrupted(accountID, err)
	}
	status, err := domain.ParseAccountStatus(state.Status)
	if err != nil {
		return domain.AccountSnapshot{}, snapshotCorrupted(accountID, err)
	}

	reservations := make(map[domain.ReservationID]domain.Money, len(state.Reservations))
	for id, r := range state.Reservations {
		amount, err := domain.ParseMoney(r.Amount, r.Currency)
		if err != nil {
			return domain.AccountSnapshot{}, snapshotCorrupted(accountID, err)
		}
		if amount.Currency() != balance.Currency() {
			return domain.AccountSnapshot{}, snapshotCorrupted(accountID, domain.ErrCurrencyMismatch)
		}
		reservations[domain.ReservationID(id)] = amount
	}

	return domain.AccountSnapshot{
		AccountID:    accountID,
		Currency:     balance.Currency(),
		Balance:      balance,
		Status:       status,
		Reservations: reservations,
		Version:      version,
	}, nil
}

func snapshotCorrupted(accountID domain.AccountID, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrSnapshotCorrupted, accountID, err)
}
