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

type walletCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
}

// WalletRepository reads and credits wallets.
type WalletRepository struct {
	collection walletCollection
}

// NewWalletRepository constructs a WalletRepository.
func NewWalletRepository(collection walletCollection) *WalletRepository {
	return &WalletRepository{collection: collection}
}

// Get returns the wallet for uid. A user without a wallet document has an
// empty active wallet.
func (r *WalletRepository) Get(ctx context.Context, uid string) (Wallet, error) {
	if err := r.check(ctx, uid); err != nil {
		return Wallet{}, err
	}

	var wallet Wallet
	err := decodeOne(r.collection.FindOne(ctx, bson.M{"_id": uid}), &wallet)
	if errors.Is(err, ErrNotFound) {
		return Wallet{UserID: uid, Currency: Currency, Status: WalletActive}, nil
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("find wallet: %w", err)
	}

	return wallet, nil
}

// Credit atomically adds amount to the balance, creating the wallet on first
// credit, and returns the updated wallet.
func (r *WalletRepository) Credit(ctx context.Context, uid string, amount float64) (Wallet, error) {
	if err := r.check(ctx, uid); err != nil {
		return Wallet{}, err
	}
	if amount <= 0 {
		return Wallet{}, ErrInvalidAmount
	}

	ts := now()
	update := bson.M{
		"$inc": bson.M{"balance": amount},
		"$set": bson.M{"updatedAt": ts},
		"$setOnInsert": bson.M{
			"currency":  Currency,
			"status":    WalletActive,
			"createdAt": ts,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var wallet Wallet
	if err := decodeOne(r.collection.FindOneAndUpdate(ctx, bson.M{"_id": uid}, update, opts), &wallet); err != nil {
		return Wallet{}, fmt.Errorf("credit wallet: %w", err)
	}

	return wallet, nil
}

func (r *WalletRepository) check(ctx context.Context, uid string) error {
	if r == nil || r.collection == nil {
		return errors.New("wallet repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if strings.TrimSpace(uid) == "" {
		return errors.New("uid is required")
	}
	return nil
}
