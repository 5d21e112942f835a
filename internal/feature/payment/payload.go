// Package payment turns Chapa callbacks and Telegram in-chat payments into
// wallet credits and game room memberships.
package payment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bingo_gateway/internal/domain"
)

const payloadSeparator = "|"

var (
	// ErrInvalidPayload is returned for a known payload kind with missing parts.
	ErrInvalidPayload = errors.New("invalid payment payload")
	// ErrUnknownPayload is returned when the payload prefix is not recognised.
	ErrUnknownPayload = errors.New("unknown payment payload")
)

// Intent kinds.
const (
	KindDeposit   = domain.TxDeposit
	KindGameEntry = domain.TxGameEntry
)

// Intent is what a payment is for.
type Intent struct {
	Kind   string
	Amount decimal.Decimal
	GameID string
}

// ParsePayload decodes an invoice payload. Amounts missing from the payload,
// or that do not parse, fall back to totalMinor in major units.
func ParsePayload(payload string, totalMinor int) (Intent, error) {
	fallback := domain.FromMinorUnits(totalMinor)

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return depositIntent(fallback, payload)
	}

	parts := strings.Split(payload, payloadSeparator)
	switch strings.TrimSpace(parts[0]) {
	case KindDeposit:
		return depositIntent(amountAt(parts, 1, fallback), payload)
	case KindGameEntry:
		if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
			return Intent{}, fmt.Errorf("%w: %q has no game id", ErrInvalidPayload, payload)
		}
		return Intent{
			Kind:   KindGameEntry,
			GameID: strings.TrimSpace(parts[1]),
			Amount: amountAt(parts, 2, fallback),
		}, nil
	default:
		return Intent{}, fmt.Errorf("%w: %q", ErrUnknownPayload, payload)
	}
}

// FormatDepositPayload builds the invoice payload for a wallet deposit.
func FormatDepositPayload(amount decimal.Decimal) string {
	return strings.Join([]string{KindDeposit, amount.String()}, payloadSeparator)
}

// FormatGameEntryPayload builds the invoice payload for a paid room entry.
func FormatGameEntryPayload(gameID string, fee decimal.Decimal) string {
	return strings.Join([]string{KindGameEntry, gameID, fee.String()}, payloadSeparator)
}

func depositIntent(amount decimal.Decimal, payload string) (Intent, error) {
	if !amount.IsPositive() {
		return Intent{}, fmt.Errorf("%w: %q has no positive amount", ErrInvalidPayload, payload)
	}
	return Intent{Kind: KindDeposit, Amount: amount}, nil
}

func amountAt(parts []string, idx int, fallback decimal.Decimal) decimal.Decimal {
	if idx >= len(parts) {
		return fallback
	}
	amount, err := domain.ParseAmount(parts[idx])
	if err != nil {
		return fallback
	}
	return amount
}
