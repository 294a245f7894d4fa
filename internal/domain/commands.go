package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type OpenAccount struct {
	Currency       Currency
	InitialBalance Money
}

type CreditAccount struct {
	AccountID     AccountID
	TransactionID TransactionID
	Amount        Money
}

type DebitAccount struct {
	AccountID     AccountID
	TransactionID TransactionID
	Amount        Money
}

// ReserveFunds holds Amount against the available balance. The reservation id
// is assigned by the service, not the caller.
type ReserveFunds struct {
	AccountID     AccountID
	TransactionID TransactionID
	Amount        Money
}

type CaptureReservation struct {
	AccountID     AccountID
	ReservationID ReservationID
}

type CancelReservation struct {
	AccountID     AccountID
	ReservationID ReservationID
}

type CloseAccount struct {
	AccountID AccountID
}

// TransactionCommand is a command deduplicated by its client transaction id.
type TransactionCommand interface {
	TargetAccount() AccountID
	Transaction() TransactionID
	// Fingerprint is a content hash used to tell a retry from a reused id.
	Fingerprint() string
}

func (c CreditAccount) TargetAccount() AccountID   { return c.AccountID }
func (c CreditAccount) Transaction() TransactionID { return c.TransactionID }
func (c CreditAccount) Fingerprint() string {
	return fingerprint("CreditAccount", string(c.AccountID), string(c.TransactionID), c.Amount.StringAmount(), string(c.Amount.Currency()))
}

func (c DebitAccount) TargetAccount() AccountID   { return c.AccountID }
func (c DebitAccount) Transaction() TransactionID { return c.TransactionID }
func (c DebitAccount) Fingerprint() string {
	return fingerprint("DebitAccount", string(c.AccountID), string(c.TransactionID), c.Amount.StringAmount(), string(c.Amount.Currency()))
}

func (c ReserveFunds) TargetAccount() AccountID   { return c.AccountID }
func (c ReserveFunds) Transaction() TransactionID { return c.TransactionID }
func (c ReserveFunds) Fingerprint() string {
	return fingerprint("ReserveFunds", string(c.AccountID), string(c.TransactionID), c.Amount.StringAmount(), string(c.Amount.Currency()))
}

// fingerprint hashes the command type and its fields joined by '|'.
func fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
