// Package identity maps the identifiers a payment or chat carries onto a user
// account, linking Telegram chats to existing accounts lazily.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/logging"
)

// ErrNoIdentity is returned when none of the identifiers is set.
var ErrNoIdentity = errors.New("no identity to resolve")

const fallbackDisplayName = "Telegram User"

type userStore interface {
	Get(ctx context.Context, uid string) (domain.User, error)
	FindByChatID(ctx context.Context, chatID string) (domain.User, error)
	FindByUsername(ctx context.Context, username string) (domain.User, error)
	LinkTelegram(ctx context.Context, uid, chatID, username string) error
	Upsert(ctx context.Context, user domain.User) (domain.User, bool, error)
}

// Identity carries whatever identifiers a request knows about its user.
type Identity struct {
	UID        string
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// ChatID is the Telegram id in the string form stored on users.
func (i Identity) ChatID() string {
	if i.TelegramID == 0 {
		return ""
	}
	return strconv.FormatInt(i.TelegramID, 10)
}

// DisplayName joins the Telegram first and last names.
func (i Identity) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
	if name == "" {
		return fallbackDisplayName
	}
	return name
}

// Resolution is the outcome of a lookup.
type Resolution struct {
	User    domain.User
	Linked  bool // the chat was attached to an account found by username
	Created bool // a tg_<id> account was created
}

// Resolver looks users up by UID, then chat id, then username.
type Resolver struct {
	users  userStore
	logger *logrus.Entry
}

// NewResolver constructs a Resolver.
func NewResolver(users userStore, logger *logrus.Entry) *Resolver {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Resolver{
		users:  users,
		logger: logger,
	}
}

// Lookup resolves an existing account without creating one. It returns
// domain.ErrNotFound when nothing matches.
func (r *Resolver) Lookup(ctx context.Context, id Identity) (Resolution, error) {
	return r.lookup(ctx, id, true)
}

func (r *Resolver) lookup(ctx context.Context, id Identity, byUsername bool) (Resolution, error) {
	if r == nil || r.users == nil {
		return Resolution{}, errors.New("identity resolver is not initialized")
	}
	if ctx == nil {
		return Resolution{}, errors.New("context is required")
	}

	id.UID = strings.TrimSpace(id.UID)
	id.Username = domain.NormalizeUsername(id.Username)
	if id.UID == "" && id.TelegramID == 0 && id.Username == "" {
		return Resolution{}, ErrNoIdentity
	}

	if id.UID != "" {
		user, err := r.users.Get(ctx, id.UID)
		if err == nil {
			return Resolution{User: user}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return Resolution{}, fmt.Errorf("resolve by uid: %w", err)
		}
	}

	if chatID := id.ChatID(); chatID != "" {
		user, err := r.users.FindByChatID(ctx, chatID)
		if err == nil {
			return Resolution{User: user}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return Resolution{}, fmt.Errorf("resolve by chat id: %w", err)
		}
	}

	if !byUsername || id.Username == "" {
		return Resolution{}, domain.ErrNotFound
	}

	user, err := r.users.FindByUsername(ctx, id.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Resolution{}, domain.ErrNotFound
		}
		return Resolution{}, fmt.Errorf("resolve by username: %w", err)
	}

	chatID := id.ChatID()
	if chatID == "" || user.TelegramChatID == chatID {
		return Resolution{User: user}, nil
	}

	// A chat already attached to the account is never moved to another one.
	if user.TelegramChatID != "" {
		r.logger.WithFields(logging.Fields{
			"event":    "identity_link_refused",
			"uid":      user.UID,
			"chat_id":  id.TelegramID,
			"username": id.Username,
		}).Warn("username belongs to an account linked to another chat")
		return Resolution{}, domain.ErrNotFound
	}

	if err := r.users.LinkTelegram(ctx, user.UID, chatID, id.Username); err != nil {
		return Resolution{}, fmt.Errorf("link telegram chat: %w", err)
	}
	user.TelegramChatID = chatID

	r.logger.WithFields(logging.Fields{
		"event":    "identity_linked",
		"uid":      user.UID,
		"chat_id":  id.TelegramID,
		"username": id.Username,
	}).Info("linked telegram chat to existing account")

	return Resolution{User: user, Linked: true}, nil
}

// Resolve is Lookup with a fallback that creates tg_<telegram id> when the
// Telegram id is known.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (Resolution, error) {
	res, err := r.Lookup(ctx, id)
	if err == nil || !errors.Is(err, domain.ErrNotFound) || id.TelegramID == 0 {
		return res, err
	}
	return r.create(ctx, id)
}

// ResolveByChat finds the account attached to the Telegram chat or creates
// tg_<telegram id>. It never consults the UID or the username, so it is the
// only path for callers whose identifiers are not vouched for by Telegram.
func (r *Resolver) ResolveByChat(ctx context.Context, id Identity) (Resolution, error) {
	if id.TelegramID == 0 {
		return Resolution{}, ErrNoIdentity
	}
	id.UID = ""

	res, err := r.lookup(ctx, id, false)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return res, err
	}
	return r.create(ctx, id)
}

func (r *Resolver) create(ctx context.Context, id Identity) (Resolution, error) {
	id.Username = domain.NormalizeUsername(id.Username)

	user, created, err := r.users.Upsert(ctx, domain.User{
		UID:              domain.TelegramUID(id.TelegramID),
		DisplayName:      id.DisplayName(),
		TelegramChatID:   id.ChatID(),
		TelegramUsername: id.Username,
		Role:             domain.RoleUser,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Another delivery linked or created the chat first.
			existing, findErr := r.users.FindByChatID(ctx, id.ChatID())
			if findErr == nil {
				return Resolution{User: existing}, nil
			}
		}
		return Resolution{}, fmt.Errorf("create telegram account: %w", err)
	}

	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "identity_created",
			"uid":     user.UID,
			"chat_id": id.TelegramID,
		}).Info("created account for telegram user")
	}

	return Resolution{User: user, Created: created}, nil
}
