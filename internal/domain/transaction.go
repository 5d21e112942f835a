package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction types.
const (
	TxDeposit    = "deposit"
	TxGameEntry  = "game_entry"
	TxAdminBonus = "admin_bonus"
)

// Transaction statuses.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// Payment methods.
const (
	MethodChapa    = "chapa"
	MethodTelegram = "telegram"
	MethodAdmin    = "admin"
)

// Transaction records a balance or membership change. Reference carries the
// provider's payment reference and is unique when present.
type Transaction struct {
	ID            string            `bson:"_id" json:"id"`
	UserID        string            `bson:"userId" json:"userId"`
	Type          string            `bson:"type" json:"type"`
	Amount        float64           `bson:"amount" json:"amount"`
	Currency      string            `bson:"currency" json:"currency"`
	Status        string            `bson:"status" json:"status"`
	PaymentMethod string            `bson:"paymentMethod" json:"paymentMethod"`
	Reference     string            `bson:"reference,omitempty" json:"txRef,omitempty"`
	GameID        string            `bson:"gameId,omitempty" json:"gameId,omitempty"`
	Description   string            `bson:"description,omitempty" json:"description,omitempty"`
	FailureReason string            `bson:"failureReason,omitempty" json:"failureReason,omitempty"`
	Metadata      map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt     time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// NewTransactionID builds a sortable transaction document id.
func NewTransactionID() string {
	return fmt.Sprintf("tx_%s_%s", time.Now().UTC().Format("20060102"), uuid.NewString())
}
