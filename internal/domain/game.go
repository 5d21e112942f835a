package domain

import "time"

// Game room statuses.
const (
	GameWaiting  = "waiting"
	GameActive   = "active"
	GameFinished = "finished"
)

// DefaultMaxPlayers caps rooms created from the bot.
const DefaultMaxPlayers = 10

// GameRoom is a Bingo room players join before a round starts.
type GameRoom struct {
	ID         string    `bson:"_id" json:"id"`
	Name       string    `bson:"name" json:"name"`
	Status     string    `bson:"status" json:"status"`
	Players    []Player  `bson:"players" json:"players"`
	EntryFee   float64   `bson:"entryFee" json:"entryFee"`
	MaxPlayers int       `bson:"maxPlayers" json:"maxPlayers"`
	CreatedBy  string    `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Player is a room member.
type Player struct {
	UserID           string    `bson:"userId" json:"userId"`
	DisplayName      string    `bson:"displayName,omitempty" json:"displayName,omitempty"`
	TelegramChatID   string    `bson:"telegramChatId,omitempty" json:"telegramChatId,omitempty"`
	TelegramUsername string    `bson:"telegramUsername,omitempty" json:"telegramUsername,omitempty"`
	EntryPaid        bool      `bson:"entryPaid" json:"entryPaid"`
	EntryAmount      float64   `bson:"entryAmount,omitempty" json:"entryAmount,omitempty"`
	JoinedAt         time.Time `bson:"joinedAt" json:"joinedAt"`
}

// HasPlayer reports whether uid already sits in the room.
func (g GameRoom) HasPlayer(uid string) bool {
	for _, p := range g.Players {
		if p.UserID == uid {
			return true
		}
	}
	return false
}

// Full reports whether the room reached its player cap.
func (g GameRoom) Full() bool {
	return g.MaxPlayers > 0 && len(g.Players) >= g.MaxPlayers
}

// Open reports whether the room still accepts players.
func (g GameRoom) Open() bool {
	return g.Status == GameWaiting || g.Status == GameActive
}
