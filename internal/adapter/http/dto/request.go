package dto

import (
	"errors"
	"fmt"

	"github.com/iho/eventledger/internal/domain"
)

// ErrInvalidRequest marks a request body or path parameter that cannot be
// turned into a command.
var ErrInvalidRequest = errors.New("invalid request")

// OpenAccountRequest represents a request to open an account.
type OpenAccountRequest struct {
	Currency       string `json:"currency"`
	InitialBalance string `json:"initial_balance"`
}

// ToCommand converts to a domain command. An empty initial balance means zero.
func (r *OpenAccountRequest) ToCommand() (domain.OpenAccount, error) {
	amount := r.InitialBalance
	if amount == "" {
		amount = "0"
	}
	initial, err := parseMoney(amount, r.Currency)
	if err != nil {
		return domain.OpenAccount{}, err
	}
	return domain.OpenAccount{Currency: initial.Currency(), InitialBalance: initial}, nil
}

// MoneyRequest is the body shared by credits, debits and reservations.
type MoneyRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

func (r *MoneyRequest) parse(accountID string) (domain.AccountID, domain.TransactionID, domain.Money, error) {
	id, err := ParseAccountID(accountID)
	if err != nil {
		return "", "", domain.Money{}, err
	}
	txID, err := domain.ParseTransactionID(r.TransactionID)
	if err != nil {
		return "", "", domain.Money{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	amount, err := parseMoney(r.Amount, r.Currency)
	if err != nil {
		return "", "", domain.Money{}, err
	}
	return id, txID, amount, nil
}

// ToCredit converts to a CreditAccount command for accountID.
func (r *MoneyRequest) ToCredit(accountID string) (domain.CreditAccount, error) {
	id, txID, amount, err := r.parse(accountID)
	if err != nil {
		return domain.CreditAccount{}, err
	}
	return domain.CreditAccount{AccountID: id, TransactionID: txID, Amount: amount}, nil
}

// ToDebit converts to a DebitAccount command for accountID.
func (r *MoneyRequest) ToDebit(accountID string) (domain.DebitAccount, error) {
	id, txID, amount, err := r.parse(accountID)
	if err != nil {
		return domain.DebitAccount{}, err
	}
	return domain.DebitAccount{AccountID: id, TransactionID: txID, Amount: amount}, nil
}

// ToReserve converts to a ReserveFunds command for accountID.
func (r *MoneyRequest) ToReserve(accountID string) (domain.ReserveFunds, error) {
	id, txID, amount, err := r.parse(accountID)
	if err != nil {
		return domain.ReserveFunds{}, err
	}
	return domain.ReserveFunds{AccountID: id, TransactionID: txID, Amount: amount}, nil
}

// ParseAccountID validates an account id taken from the URL.
func ParseAccountID(s string) (domain.AccountID, error) {
	id, err := domain.ParseAccountID(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return id, nil
}

// ParseReservationID validates a reservation id taken from the URL.
func ParseReservationID(s string) (domain.ReservationID, error) {
	id, err := domain.ParseReservationID(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return id, nil
}

// parseMoney rejects unsupported currencies and malformed amounts as bad
// requests; inside the domain an unknown currency is an internal fault.
func parseMoney(amount, currency string) (domain.Money, error) {
	m, err := domain.ParseMoney(amount, currency)
	if err != nil {
		return domain.Money{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return m, nil
}
