// Package admin bootstraps admin roles from configuration and applies manual
// balance adjustments.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/logging"
	"bingo_gateway/internal/realtime"
)

const bonusReferencePrefix = "bonus-"

type userCollection interface {
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type walletCreditor interface {
	Credit(ctx context.Context, uid string, amount float64) (domain.Wallet, error)
}

type bonusLedger interface {
	CreatePending(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	Claim(ctx context.Context, tx domain.Transaction) error
	MarkFailed(ctx context.Context, reference, reason string) error
}

type userGetter interface {
	Get(ctx context.Context, uid string) (domain.User, error)
}

// Service holds the admin operations.
type Service struct {
	users        userCollection
	accounts     userGetter
	wallets      walletCreditor
	transactions bonusLedger
	events       realtime.Publisher
	logger       *logrus.Entry
}

// NewService constructs a Service. events may be nil.
func NewService(users userCollection, accounts userGetter, wallets walletCreditor, transactions bonusLedger, events realtime.Publisher, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		users:        users,
		accounts:     accounts,
		wallets:      wallets,
		transactions: transactions,
		events:       events,
		logger:       logger,
	}
}

// EnsureAdmins demotes admins missing from uids and promotes every listed uid
// that already has an account.
func (s *Service) EnsureAdmins(ctx context.Context, uids []string) error {
	if s == nil || s.users == nil {
		return errors.New("admin service is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		if uid = strings.TrimSpace(uid); uid != "" {
			ids = append(ids, uid)
		}
	}

	now := time.Now().UTC()

	demoteResult, err := s.users.UpdateMany(ctx,
		bson.M{"role": domain.RoleAdmin, "_id": bson.M{"$nin": ids}},
		bson.M{"$set": bson.M{
			"role":      domain.RoleUser,
			"updatedAt": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("demote previous admins: %w", err)
	}

	var promoteResult *mongo.UpdateResult
	if len(ids) > 0 {
		promoteResult, err = s.users.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": ids}},
			bson.M{"$set": bson.M{
				"role":      domain.RoleAdmin,
				"updatedAt": now,
			}},
		)
		if err != nil {
			return fmt.Errorf("promote admins: %w", err)
		}
	}

	s.logger.WithFields(logging.Fields{
		"event":           "admin_bootstrap",
		"admins":          len(ids),
		"demoted_admins":  modifiedCount(demoteResult),
		"matched_admins":  matchedCount(promoteResult),
		"promoted_admins": modifiedCount(promoteResult),
	}).Info("ensured admin roles")

	return nil
}

// Bonus credits amount to uid. The admin_bonus transaction is recorded as
// pending before the wallet moves and completed afterwards, so a failed write
// never leaves an unrecorded credit behind.
func (s *Service) Bonus(ctx context.Context, actor, uid string, amount decimal.Decimal, reason string) (domain.Wallet, error) {
	if s == nil || s.wallets == nil || s.transactions == nil || s.accounts == nil {
		return domain.Wallet{}, errors.New("admin service is not initialized")
	}
	if ctx == nil {
		return domain.Wallet{}, errors.New("context is required")
	}
	if strings.TrimSpace(uid) == "" {
		return domain.Wallet{}, errors.New("uid is required")
	}
	if !amount.IsPositive() {
		return domain.Wallet{}, domain.ErrInvalidAmount
	}

	if _, err := s.accounts.Get(ctx, uid); err != nil {
		return domain.Wallet{}, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Admin bonus"
	}
	value := domain.AmountValue(amount)

	tx, err := s.transactions.CreatePending(ctx, domain.Transaction{
		UserID:        uid,
		Type:          domain.TxAdminBonus,
		Amount:        value,
		Currency:      domain.Currency,
		PaymentMethod: domain.MethodAdmin,
		Reference:     bonusReferencePrefix + uuid.NewString(),
		Description:   reason,
		Metadata:      map[string]string{"grantedBy": actor},
	})
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("record bonus: %w", err)
	}

	log := logging.Attach(s.logger, logging.Context{UID: uid, TxRef: tx.Reference}).WithFields(logging.Fields{
		"actor":  actor,
		"amount": amount.String(),
	})

	wallet, err := s.wallets.Credit(ctx, uid, value)
	if err != nil {
		if markErr := s.transactions.MarkFailed(ctx, tx.Reference, err.Error()); markErr != nil {
			log.WithError(markErr).WithField("event", "admin_bonus_mark_failed").Error("failed to fail bonus transaction")
		}
		return domain.Wallet{}, fmt.Errorf("credit bonus: %w", err)
	}

	// The wallet already moved; a retry would credit twice, so a failed
	// completion is logged and the pending record kept for reconciliation.
	if err := s.transactions.Claim(ctx, tx); err != nil {
		log.WithError(err).WithField("event", "admin_bonus_unconfirmed").Error("bonus credited but transaction left pending")
	}

	if s.events != nil {
		s.events.Publish(uid, realtime.Event{Type: realtime.EventWalletUpdated, Data: map[string]interface{}{
			"balance":  wallet.Balance,
			"currency": wallet.Currency,
			"amount":   value,
		}})
	}

	log.WithFields(logging.Fields{
		"event":   "admin_bonus",
		"balance": wallet.Balance,
	}).Info("credited admin bonus")

	return wallet, nil
}

func modifiedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.ModifiedCount
}

func matchedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.MatchedCount
}
