// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"bingo_gateway/internal/config"
)

// Collection names used across the gateway.
const (
	CollectionUsers        = "users"
	CollectionWallets      = "wallets"
	CollectionGameRooms    = "game_rooms"
	CollectionTransactions = "transactions"
)

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Client returns the underlying mongo.Client when available. Tests using fakes
// may receive nil here.
func (m *Manager) Client() *mongo.Client {
	client, ok := m.client.(*mongo.Client)
	if !ok {
		return nil
	}
	return client
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Users returns the users collection handle.
func (m *Manager) Users() *mongo.Collection {
	return m.Collection(CollectionUsers)
}

// Wallets returns the wallets collection handle.
func (m *Manager) Wallets() *mongo.Collection {
	return m.Collection(CollectionWallets)
}

// GameRooms returns the game rooms collection handle.
func (m *Manager) GameRooms() *mongo.Collection {
	return m.Collection(CollectionGameRooms)
}

// Transactions returns the transactions collection handle.
func (m *Manager) Transactions() *mongo.Collection {
	return m.Collection(CollectionTransactions)
}

// EnsureBaseIndexes creates the lookup and uniqueness indexes the payment flows
// rely on. Collections are created implicitly if they do not already exist.
func (m *Manager) EnsureBaseIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	plan := []struct {
		collection string
		models     []mongo.IndexModel
	}{
		{
			collection: CollectionUsers,
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "telegramChatId", Value: 1}},
					Options: options.Index().
						SetName("telegram_chat_id_unique").
						SetUnique(true).
						SetSparse(true),
				},
				{
					Keys:    bson.D{{Key: "telegramUsername", Value: 1}},
					Options: options.Index().SetName("telegram_username"),
				},
			},
		},
		{
			collection: CollectionTransactions,
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "reference", Value: 1}},
					Options: options.Index().
						SetName("reference_unique").
						SetUnique(true).
						SetSparse(true),
				},
				{
					Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
					Options: options.Index().SetName("user_history"),
				},
			},
		},
		{
			collection: CollectionGameRooms,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
					Options: options.Index().SetName("status_created"),
				},
			},
		},
	}

	for _, step := range plan {
		if _, err := createIndexes(ctx, m.Collection(step.collection), step.models); err != nil {
			return fmt.Errorf("create %s indexes: %w", step.collection, err)
		}
	}

	return nil
}

// Ping checks connectivity against the primary.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
