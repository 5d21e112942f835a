package domain

import "time"

// Wallet statuses.
const (
	WalletActive = "active"
)

// Wallet holds a user's spendable balance. The document id is the user's UID.
type Wallet struct {
	UserID    string    `bson:"_id" json:"userId"`
	Balance   float64   `bson:"balance" json:"balance"`
	Currency  string    `bson:"currency" json:"currency"`
	Status    string    `bson:"status" json:"status"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
