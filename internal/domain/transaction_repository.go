package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrAlreadyProcessed is returned when a payment reference was settled before.
var ErrAlreadyProcessed = errors.New("payment already processed")

type transactionCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// TransactionRepository stores payment and balance transactions. The unique
// index on reference makes a reference settle at most once.
type TransactionRepository struct {
	collection transactionCollection
}

// NewTransactionRepository constructs a TransactionRepository.
func NewTransactionRepository(collection transactionCollection) *TransactionRepository {
	return &TransactionRepository{collection: collection}
}

// Insert stores a transaction as given, filling id, currency and timestamps.
func (r *TransactionRepository) Insert(ctx context.Context, tx Transaction) (Transaction, error) {
	if err := r.check(ctx); err != nil {
		return Transaction{}, err
	}
	if tx.UserID == "" || tx.Type == "" || tx.Status == "" {
		return Transaction{}, errors.New("user id, type and status are required")
	}

	tx = withDefaults(tx)
	if _, err := r.collection.InsertOne(ctx, tx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Transaction{}, fmt.Errorf("insert transaction %s: %w", tx.Reference, ErrAlreadyProcessed)
		}
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

// CreatePending records a checkout that is waiting for the provider callback.
func (r *TransactionRepository) CreatePending(ctx context.Context, tx Transaction) (Transaction, error) {
	if strings.TrimSpace(tx.Reference) == "" {
		return Transaction{}, errors.New("reference is required")
	}
	tx.Status = TxPending
	return r.Insert(ctx, tx)
}

// FindByReference fetches the transaction carrying a provider reference.
func (r *TransactionRepository) FindByReference(ctx context.Context, reference string) (Transaction, error) {
	if err := r.check(ctx); err != nil {
		return Transaction{}, err
	}
	if strings.TrimSpace(reference) == "" {
		return Transaction{}, errors.New("reference is required")
	}

	var tx Transaction
	if err := decodeOne(r.collection.FindOne(ctx, bson.M{"reference": reference}), &tx); err != nil {
		return Transaction{}, fmt.Errorf("find transaction: %w", err)
	}
	return tx, nil
}

// Claim marks the reference completed, inserting the transaction when no
// record exists yet. A reference that is already completed yields
// ErrAlreadyProcessed: the conditional filter misses and the upsert collides
// with the unique reference index.
func (r *TransactionRepository) Claim(ctx context.Context, tx Transaction) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(tx.Reference) == "" || tx.UserID == "" || tx.Type == "" {
		return errors.New("reference, user id and type are required")
	}

	tx = withDefaults(tx)
	set := bson.M{
		"status":        TxCompleted,
		"userId":        tx.UserID,
		"type":          tx.Type,
		"amount":        tx.Amount,
		"currency":      tx.Currency,
		"paymentMethod": tx.PaymentMethod,
		"updatedAt":     tx.UpdatedAt,
	}
	if tx.GameID != "" {
		set["gameId"] = tx.GameID
	}
	if tx.Description != "" {
		set["description"] = tx.Description
	}
	for key, value := range tx.Metadata {
		set["metadata."+key] = value
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"reference": tx.Reference, "status": bson.M{"$ne": TxCompleted}},
		bson.M{
			"$set":         set,
			"$unset":       bson.M{"failureReason": ""},
			"$setOnInsert": bson.M{"_id": tx.ID, "createdAt": tx.CreatedAt},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("claim %s: %w", tx.Reference, ErrAlreadyProcessed)
		}
		return fmt.Errorf("claim %s: %w", tx.Reference, err)
	}
	if result != nil && result.MatchedCount == 0 && result.UpsertedCount == 0 {
		return fmt.Errorf("claim %s: %w", tx.Reference, ErrAlreadyProcessed)
	}

	return nil
}

// Release reverts a claimed reference to failed so a later delivery can retry.
func (r *TransactionRepository) Release(ctx context.Context, reference, reason string) error {
	return r.fail(ctx, bson.M{"reference": reference}, reason)
}

// MarkFailed fails a pending reference; completed references are left alone.
func (r *TransactionRepository) MarkFailed(ctx context.Context, reference, reason string) error {
	return r.fail(ctx, bson.M{"reference": reference, "status": TxPending}, reason)
}

// ListByUser returns a page of the user's transactions, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, uid string, limit, offset int64) ([]Transaction, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, errors.New("uid is required")
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{"userId": uid}, opts)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	txs := make([]Transaction, 0)
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return txs, nil
}

func (r *TransactionRepository) fail(ctx context.Context, filter bson.M, reason string) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	if ref, _ := filter["reference"].(string); strings.TrimSpace(ref) == "" {
		return errors.New("reference is required")
	}

	_, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"status":        TxFailed,
		"failureReason": reason,
		"updatedAt":     now(),
	}})
	if err != nil {
		return fmt.Errorf("mark transaction failed: %w", err)
	}
	return nil
}

func (r *TransactionRepository) check(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return errors.New("transaction repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func withDefaults(tx Transaction) Transaction {
	ts := now()
	if tx.ID == "" {
		tx.ID = NewTransactionID()
	}
	if tx.Currency == "" {
		tx.Currency = Currency
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = ts
	}
	tx.UpdatedAt = ts
	return tx
}
