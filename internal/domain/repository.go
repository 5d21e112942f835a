package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type findUpdateCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// UserRepository persists and retrieves users in MongoDB.
type UserRepository struct {
	collection findUpdateCollection
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(collection findUpdateCollection) *UserRepository {
	return &UserRepository{collection: collection}
}

// Get fetches a user by UID.
func (r *UserRepository) Get(ctx context.Context, uid string) (User, error) {
	if err := r.check(ctx); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(uid) == "" {
		return User{}, errors.New("uid is required")
	}

	return r.findOne(ctx, bson.M{"_id": uid})
}

// FindByChatID fetches the user linked to a Telegram chat.
func (r *UserRepository) FindByChatID(ctx context.Context, chatID string) (User, error) {
	if err := r.check(ctx); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(chatID) == "" {
		return User{}, errors.New("chat id is required")
	}

	return r.findOne(ctx, bson.M{"telegramChatId": chatID})
}

// FindByUsername fetches a user by Telegram username, with or without the
// leading @.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	if err := r.check(ctx); err != nil {
		return User{}, err
	}
	username = NormalizeUsername(username)
	if username == "" {
		return User{}, errors.New("username is required")
	}

	return r.findOne(ctx, bson.M{"telegramUsername": username})
}

// LinkTelegram attaches a Telegram chat (and username when known) to uid.
func (r *UserRepository) LinkTelegram(ctx context.Context, uid, chatID, username string) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	if uid == "" || chatID == "" {
		return errors.New("uid and chat id are required")
	}

	set := bson.M{
		"telegramChatId": chatID,
		"updatedAt":      now(),
	}
	if username = NormalizeUsername(username); username != "" {
		set["telegramUsername"] = username
	}

	return r.updateByID(ctx, uid, set, "link telegram")
}

// SetPhone stores the phone number shared from Telegram.
func (r *UserRepository) SetPhone(ctx context.Context, uid, phone string) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	if uid == "" || strings.TrimSpace(phone) == "" {
		return errors.New("uid and phone are required")
	}

	return r.updateByID(ctx, uid, bson.M{"phoneNumber": strings.TrimSpace(phone), "updatedAt": now()}, "set phone")
}

// SetLanguage stores the preferred bot language.
func (r *UserRepository) SetLanguage(ctx context.Context, uid, language string) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	if uid == "" || language == "" {
		return errors.New("uid and language are required")
	}

	return r.updateByID(ctx, uid, bson.M{"language": language, "updatedAt": now()}, "set language")
}

// Upsert creates the user when the UID is new and leaves an existing record
// untouched apart from updatedAt. It reports whether a document was inserted.
func (r *UserRepository) Upsert(ctx context.Context, user User) (User, bool, error) {
	if err := r.check(ctx); err != nil {
		return User{}, false, err
	}
	if strings.TrimSpace(user.UID) == "" {
		return User{}, false, errors.New("uid is required")
	}
	if user.Role == "" {
		user.Role = RoleUser
	}

	ts := now()
	user.CreatedAt = ts
	user.UpdatedAt = ts
	user.TelegramUsername = NormalizeUsername(user.TelegramUsername)

	onInsert := bson.M{
		"role":      user.Role,
		"createdAt": ts,
	}
	for field, value := range map[string]string{
		"displayName":      user.DisplayName,
		"email":            user.Email,
		"phoneNumber":      user.PhoneNumber,
		"telegramChatId":   user.TelegramChatID,
		"telegramUsername": user.TelegramUsername,
		"language":         user.Language,
	} {
		if value != "" {
			onInsert[field] = value
		}
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": user.UID},
		bson.M{
			"$set":         bson.M{"updatedAt": ts},
			"$setOnInsert": onInsert,
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return User{}, false, fmt.Errorf("upsert user: %w", err)
	}

	if result != nil && result.UpsertedCount > 0 {
		return user, true, nil
	}

	existing, err := r.Get(ctx, user.UID)
	if err != nil {
		return User{}, false, err
	}

	return existing, false, nil
}

func (r *UserRepository) check(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (User, error) {
	var user User
	if err := decodeOne(r.collection.FindOne(ctx, filter), &user); err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) updateByID(ctx context.Context, uid string, set bson.M, op string) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": uid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result != nil && result.MatchedCount == 0 {
		return fmt.Errorf("%s: user %s: %w", op, uid, ErrNotFound)
	}
	return nil
}

// NormalizeUsername strips whitespace and a leading @.
func NormalizeUsername(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}

func decodeOne(result *mongo.SingleResult, out interface{}) error {
	if result == nil {
		return errors.New("find returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}
	if err := result.Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
