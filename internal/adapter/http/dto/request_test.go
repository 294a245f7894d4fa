package dto

import (
	"errors"
	"testing"

	"github.com/iho/eventledger/internal/domain"
)

const (
	validAccountID     = "01HZX5Y7D8Q4J0ABCDEFGHJKMN"
	validTransactionID = "5B8F3C1E-0A7D-4B55-9F60-1F2A3B4C5D6E"
)

func TestOpenAccountRequest_ToCommand(t *testing.T) {
	req := &OpenAccountRequest{Currency: "usd", InitialBalance: "10.005"}

	cmd, err := req.ToCommand()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Currency != domain.USD {
		t.Fatalf("expected USD, got %s", cmd.Currency)
	}
	if got := cmd.InitialBalance.StringAmount(); got != "10.00" {
		t.Fatalf("expected banker's rounding to 10.00, got %s", got)
	}
}

func TestOpenAccountRequest_EmptyInitialBalanceIsZero(t *testing.T) {
	cmd, err := (&OpenAccountRequest{Currency: "JPY"}).ToCommand()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cmd.InitialBalance.IsZero() {
		t.Fatalf("expected zero initial balance, got %s", cmd.InitialBalance)
	}
}

func TestMoneyRequest_ToCredit(t *testing.T) {
	req := &MoneyRequest{TransactionID: validTransactionID, Amount: "2.50", Currency: "EUR"}

	cmd, err := req.ToCredit(validAccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.AccountID != validAccountID {
		t.Fatalf("unexpected account id %s", cmd.AccountID)
	}
	if cmd.TransactionID != "5b8f3c1e-0a7d-4b55-9f60-1f2a3b4c5d6e" {
		t.Fatalf("expected normalized transaction id, got %s", cmd.TransactionID)
	}
	if cmd.Amount.Currency() != domain.EUR || cmd.Amount.StringAmount() != "2.50" {
		t.Fatalf("unexpected amount %s", cmd.Amount)
	}
}

func TestMoneyRequest_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		accountID string
		req       MoneyRequest
	}{
		{"bad account id", "not-a-ulid", MoneyRequest{TransactionID: validTransactionID, Amount: "1", Currency: "USD"}},
		{"bad transaction id", validAccountID, MoneyRequest{TransactionID: "tx-1", Amount: "1", Currency: "USD"}},
		{"bad amount", validAccountID, MoneyRequest{TransactionID: validTransactionID, Amount: "one", Currency: "USD"}},
		{"unsupported currency", validAccountID, MoneyRequest{TransactionID: validTransactionID, Amount: "1", Currency: "XYZ"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.req.ToDebit(tt.accountID); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if _, err := tt.req.ToReserve(tt.accountID); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestParseReservationID(t *testing.T) {
	if _, err := ParseReservationID(validAccountID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseReservationID("res-1"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
