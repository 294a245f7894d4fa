package postgres

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecimalNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "12.00", "-3.5", "1000000.0001", "0.00000001"} {
		t.Run(s, func(t *testing.T) {
			want := decimal.RequireFromString(s)

			n, err := decimalToNumeric(want)
			if err != nil {
				t.Fatalf("decimalToNumeric: %v", err)
			}
			if !n.Valid {
				t.Fatalf("expected a valid numeric for %s", s)
			}

			got, err := numericToDecimal(n)
			if err != nil {
				t.Fatalf("numericToDecimal: %v", err)
			}
			if !got.Equal(want) {
				t.Fatalf("round trip of %s gave %s", want, got)
			}
		})
	}
}
