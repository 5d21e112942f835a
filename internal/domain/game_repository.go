package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type gameCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// GameRoomRepository persists game rooms and their player lists.
type GameRoomRepository struct {
	collection gameCollection
}

// NewGameRoomRepository constructs a GameRoomRepository.
func NewGameRoomRepository(collection gameCollection) *GameRoomRepository {
	return &GameRoomRepository{collection: collection}
}

// Get fetches a room by id.
func (r *GameRoomRepository) Get(ctx context.Context, id string) (GameRoom, error) {
	if err := r.check(ctx); err != nil {
		return GameRoom{}, err
	}
	if strings.TrimSpace(id) == "" {
		return GameRoom{}, errors.New("game id is required")
	}

	var room GameRoom
	if err := decodeOne(r.collection.FindOne(ctx, bson.M{"_id": id}), &room); err != nil {
		return GameRoom{}, fmt.Errorf("find game room: %w", err)
	}
	return room, nil
}

// FindWaiting returns the oldest room still waiting for players.
func (r *GameRoomRepository) FindWaiting(ctx context.Context) (GameRoom, error) {
	if err := r.check(ctx); err != nil {
		return GameRoom{}, err
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})

	var room GameRoom
	if err := decodeOne(r.collection.FindOne(ctx, bson.M{"status": GameWaiting}, opts), &room); err != nil {
		return GameRoom{}, fmt.Errorf("find waiting room: %w", err)
	}
	return room, nil
}

// ListOpen returns waiting and active rooms, newest first.
func (r *GameRoomRepository) ListOpen(ctx context.Context, limit int64) ([]GameRoom, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"status": bson.M{"$in": []string{GameWaiting, GameActive}}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list open rooms: %w", err)
	}

	rooms := make([]GameRoom, 0)
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, fmt.Errorf("decode open rooms: %w", err)
	}
	return rooms, nil
}

// Create inserts a room, filling id, status, capacity and timestamps when
// omitted.
func (r *GameRoomRepository) Create(ctx context.Context, room GameRoom) (GameRoom, error) {
	if err := r.check(ctx); err != nil {
		return GameRoom{}, err
	}

	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.Status == "" {
		room.Status = GameWaiting
	}
	if room.MaxPlayers <= 0 {
		room.MaxPlayers = DefaultMaxPlayers
	}
	if room.Players == nil {
		room.Players = []Player{}
	}

	ts := now()
	room.CreatedAt = ts
	room.UpdatedAt = ts
	for i := range room.Players {
		if room.Players[i].JoinedAt.IsZero() {
			room.Players[i].JoinedAt = ts
		}
	}

	if _, err := r.collection.InsertOne(ctx, room); err != nil {
		return GameRoom{}, fmt.Errorf("insert game room: %w", err)
	}
	return room, nil
}

// AddPlayer appends player when the room is open, below its player cap and
// does not already seat the same user. It reports whether the player was
// added; a missing room is ErrNotFound.
func (r *GameRoomRepository) AddPlayer(ctx context.Context, gameID string, player Player) (bool, error) {
	if err := r.check(ctx); err != nil {
		return false, err
	}
	if gameID == "" || player.UserID == "" {
		return false, errors.New("game id and player uid are required")
	}

	ts := now()
	if player.JoinedAt.IsZero() {
		player.JoinedAt = ts
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{
			"_id":            gameID,
			"status":         bson.M{"$in": bson.A{GameWaiting, GameActive}},
			"players.userId": bson.M{"$ne": player.UserID},
			"$expr": bson.M{"$lt": bson.A{
				bson.M{"$size": bson.M{"$ifNull": bson.A{"$players", bson.A{}}}},
				bson.M{"$ifNull": bson.A{"$maxPlayers", DefaultMaxPlayers}},
			}},
		},
		bson.M{
			"$push": bson.M{"players": player},
			"$set":  bson.M{"updatedAt": ts},
		},
	)
	if err != nil {
		return false, fmt.Errorf("add player: %w", err)
	}
	if result != nil && result.MatchedCount > 0 {
		return true, nil
	}

	// The room is missing, closed, full or already seats the player.
	if _, err := r.Get(ctx, gameID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *GameRoomRepository) check(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return errors.New("game room repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
