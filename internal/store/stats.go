package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bingo_gateway/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Stats summarizes collection sizes for the admin API.
type Stats struct {
	Users                 int64 `json:"users"`
	GameRooms             int64 `json:"gameRooms"`
	OpenGameRooms         int64 `json:"openGameRooms"`
	Transactions          int64 `json:"transactions"`
	CompletedTransactions int64 `json:"completedTransactions"`
}

// StatsProvider exposes helper methods to retrieve collection counts for basic
// diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	users        countCollection
	gameRooms    countCollection
	transactions countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided
// collections.
func NewStatsProvider(users, gameRooms, transactions countCollection) *StatsProvider {
	return &StatsProvider{
		users:        users,
		gameRooms:    gameRooms,
		transactions: transactions,
	}
}

// Collect counts every tracked collection, stopping at the first failure.
func (p *StatsProvider) Collect(ctx context.Context) (Stats, error) {
	if ctx == nil {
		return Stats{}, errors.New("context is required")
	}
	if p == nil || p.users == nil || p.gameRooms == nil || p.transactions == nil {
		return Stats{}, errors.New("stats provider is not initialized")
	}

	var stats Stats
	counts := []struct {
		name   string
		coll   countCollection
		filter bson.M
		dst    *int64
	}{
		{"users", p.users, bson.M{}, &stats.Users},
		{"game rooms", p.gameRooms, bson.M{}, &stats.GameRooms},
		{"open game rooms", p.gameRooms, bson.M{"status": bson.M{"$in": []string{domain.GameWaiting, domain.GameActive}}}, &stats.OpenGameRooms},
		{"transactions", p.transactions, bson.M{}, &stats.Transactions},
		{"completed transactions", p.transactions, bson.M{"status": domain.TxCompleted}, &stats.CompletedTransactions},
	}

	for _, c := range counts {
		count, err := c.coll.CountDocuments(ctx, c.filter)
		if err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.name, err)
		}
		*c.dst = count
	}

	return stats, nil
}
