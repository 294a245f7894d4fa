package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 code supported by the ledger.
type Currency string

const (
	USD Currency = "USD"
	AED Currency = "AED"
	AUD Currency = "AUD"
	CAD Currency = "CAD"
	CHF Currency = "CHF"
	CNH Currency = "CNH"
	CZK Currency = "CZK"
	DKK Currency = "DKK"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	HKD Currency = "HKD"
	HUF Currency = "HUF"
	ILS Currency = "ILS"
	JPY Currency = "JPY"
	KRW Currency = "KRW"
	MXN Currency = "MXN"
	MYR Currency = "MYR"
	NOK Currency = "NOK"
	NZD Currency = "NZD"
	PLN Currency = "PLN"
	SAR Currency = "SAR"
	SEK Currency = "SEK"
	SGD Currency = "SGD"
	TRY Currency = "TRY"
	TWD Currency = "TWD"
	ZAR Currency = "ZAR"
)

// fractionDigits holds the ISO 4217 minor unit count for every supported currency.
var fractionDigits = map[Currency]int32{
	USD: 2, AED: 2, AUD: 2, CAD: 2, CHF: 2, CNH: 2, CZK: 2, DKK: 2, EUR: 2,
	GBP: 2, HKD: 2, HUF: 2, ILS: 2, JPY: 0, KRW: 0, MXN: 2, MYR: 2, NOK: 2,
	NZD: 2, PLN: 2, SAR: 2, SEK: 2, SGD: 2, TRY: 2, TWD: 2, ZAR: 2,
}

// ParseCurrency validates a currency code.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := fractionDigits[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// FractionDigits returns the number of decimal places amounts in c carry.
func (c Currency) FractionDigits() int32 {
	return fractionDigits[c]
}

func (c Currency) String() string {
	return string(c)
}

// Money is a posted monetary amount. The amount is always rounded to the
// currency's fraction digits using banker's rounding.
//
// Money must not be used for intermediate calculations needing more precision
// (FX conversion, interest accrual); convert to Money only when posting.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney builds Money, rounding amount half-to-even to the currency scale.
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{
		amount:   amount.RoundBank(currency.FractionDigits()),
		currency: currency,
	}
}

// ParseMoney parses a decimal string amount in the given currency code.
func ParseMoney(amount, currency string) (Money, error) {
	c, err := ParseCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return NewMoney(d, c), nil
}

// ZeroMoney returns zero in the given currency.
func ZeroMoney(currency Currency) Money {
	return NewMoney(decimal.Zero, currency)
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() Currency      { return m.currency }

func (m Money) Add(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.amount.Add(other.amount), m.currency), nil
}

func (m Money) Subtract(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.amount.Sub(other.amount), m.currency), nil
}

func (m Money) IsGreaterThan(other Money) (bool, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return false, err
	}
	return m.amount.GreaterThan(other.amount), nil
}

func (m Money) IsZero() bool             { return m.amount.IsZero() }
func (m Money) IsNegativeOrZero() bool   { return m.amount.Sign() <= 0 }
func (m Money) IsStrictlyNegative() bool { return m.amount.Sign() < 0 }

// Equal compares amount and currency.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// StringAmount renders the amount with exactly the currency's fraction digits.
func (m Money) StringAmount() string {
	return m.amount.StringFixed(m.currency.FractionDigits())
}

func (m Money) String() string {
	return m.StringAmount() + " " + string(m.currency)
}

func (m Money) ensureSameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}
