package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the only currency wallets hold.
const Currency = "ETB"

// Checkout limits enforced for gateway deposits.
var (
	MinDeposit = decimal.NewFromInt(10)
	MaxDeposit = decimal.NewFromInt(50000)
)

var (
	// ErrInvalidAmount is returned for unparsable or non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be a positive number")
	// ErrAmountOutOfRange is returned when a deposit falls outside the checkout limits.
	ErrAmountOutOfRange = fmt.Errorf("amount must be between %s and %s %s", MinDeposit, MaxDeposit, Currency)
)

// ParseAmount parses a positive major-unit amount rounded to cents.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	return amount, nil
}

// ValidateDepositAmount checks the checkout limits.
func ValidateDepositAmount(amount decimal.Decimal) error {
	if amount.LessThan(MinDeposit) || amount.GreaterThan(MaxDeposit) {
		return ErrAmountOutOfRange
	}
	return nil
}

// ToMinorUnits converts a major-unit amount to cents as Telegram expects.
func ToMinorUnits(amount decimal.Decimal) int {
	return int(amount.Shift(2).Round(0).IntPart())
}

// FromMinorUnits converts cents back to a major-unit amount.
func FromMinorUnits(minor int) decimal.Decimal {
	return decimal.New(int64(minor), -2)
}

// AmountValue converts an amount to the float stored in documents.
func AmountValue(amount decimal.Decimal) float64 {
	return amount.Round(2).InexactFloat64()
}

// FormatAmount renders a stored amount with two decimals.
func FormatAmount(value float64) string {
	return decimal.NewFromFloat(value).StringFixed(2)
}
