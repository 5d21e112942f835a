package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "100", want: "100"},
		{raw: " 25.5 ", want: "25.5"},
		{raw: "10.005", want: "10.01"},
		{raw: "0", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount returned error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMinorUnitConversion(t *testing.T) {
	if got := ToMinorUnits(decimal.RequireFromString("19.99")); got != 1999 {
		t.Fatalf("expected 1999 cents, got %d", got)
	}
	if got := FromMinorUnits(5050); !got.Equal(decimal.RequireFromString("50.5")) {
		t.Fatalf("expected 50.5, got %s", got)
	}
	if got := AmountValue(FromMinorUnits(10000)); got != 100 {
		t.Fatalf("expected 100, got %v", got)
	}
	if got := FormatAmount(12.5); got != "12.50" {
		t.Fatalf("expected 12.50, got %s", got)
	}
}

func TestValidateDepositAmount(t *testing.T) {
	for _, raw := range []string{"9.99", "50000.01"} {
		if err := ValidateDepositAmount(decimal.RequireFromString(raw)); !errors.Is(err, ErrAmountOutOfRange) {
			t.Fatalf("expected %s to be out of range, got %v", raw, err)
		}
	}
	for _, raw := range []string{"10", "50000"} {
		if err := ValidateDepositAmount(decimal.RequireFromString(raw)); err != nil {
			t.Fatalf("expected %s to be accepted, got %v", raw, err)
		}
	}
}
