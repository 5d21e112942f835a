package domain

import (
	"strconv"
	"time"
)

// User is a player account. UID is either an external account id or
// tg_<telegram id> for accounts created from Telegram.
type User struct {
	UID              string    `bson:"_id" json:"uid"`
	DisplayName      string    `bson:"displayName,omitempty" json:"displayName,omitempty"`
	Email            string    `bson:"email,omitempty" json:"email,omitempty"`
	PhoneNumber      string    `bson:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`
	TelegramChatID   string    `bson:"telegramChatId,omitempty" json:"telegramChatId,omitempty"`
	TelegramUsername string    `bson:"telegramUsername,omitempty" json:"telegramUsername,omitempty"`
	Language         string    `bson:"language,omitempty" json:"language,omitempty"`
	Role             string    `bson:"role" json:"role"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updatedAt"`
}

// TelegramUID returns the account id used for users first seen through Telegram.
func TelegramUID(telegramID int64) string {
	return "tg_" + strconv.FormatInt(telegramID, 10)
}
