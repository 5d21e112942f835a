package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/lock"
	"bingo_gateway/internal/logging"
	"bingo_gateway/internal/realtime"
)

const lockTTL = 30 * time.Second

var (
	// ErrAlreadyProcessed marks a reference that was settled before. Settle
	// reports it as Result.Duplicate rather than an error.
	ErrAlreadyProcessed = domain.ErrAlreadyProcessed
	// ErrInProgress is returned while another delivery of the same reference
	// holds the settlement lock.
	ErrInProgress = errors.New("payment settlement in progress")
	// ErrGameNotFound is returned for a game entry naming an unknown room.
	ErrGameNotFound = errors.New("game not found")
)

type transactionStore interface {
	CreatePending(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	FindByReference(ctx context.Context, reference string) (domain.Transaction, error)
	Claim(ctx context.Context, tx domain.Transaction) error
	Release(ctx context.Context, reference, reason string) error
	MarkFailed(ctx context.Context, reference, reason string) error
}

type walletStore interface {
	Get(ctx context.Context, uid string) (domain.Wallet, error)
	Credit(ctx context.Context, uid string, amount float64) (domain.Wallet, error)
}

type gameStore interface {
	Get(ctx context.Context, id string) (domain.GameRoom, error)
	AddPlayer(ctx context.Context, gameID string, player domain.Player) (bool, error)
}

// Settlement is one confirmed payment to apply.
type Settlement struct {
	Reference string
	User      domain.User
	Intent    Intent
	Method    string
	Metadata  map[string]string
}

// Result describes the state after a settlement.
type Result struct {
	Balance   float64
	GameID    string
	Duplicate bool
}

// Settler applies confirmed payments exactly once per reference.
type Settler struct {
	transactions transactionStore
	wallets      walletStore
	games        gameStore
	locker       lock.Locker
	events       realtime.Publisher
	logger       *logrus.Entry
}

// NewSettler constructs a Settler. events may be nil.
func NewSettler(transactions transactionStore, wallets walletStore, games gameStore, locker lock.Locker, events realtime.Publisher, logger *logrus.Entry) *Settler {
	if logger == nil {
		logger = logging.Logger()
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}

	return &Settler{
		transactions: transactions,
		wallets:      wallets,
		games:        games,
		locker:       locker,
		events:       events,
		logger:       logger,
	}
}

// Settle claims the reference and applies the intent. A reference claimed
// before returns a Result with Duplicate set.
func (s *Settler) Settle(ctx context.Context, st Settlement) (Result, error) {
	if s == nil || s.transactions == nil || s.wallets == nil || s.games == nil {
		return Result{}, errors.New("settler is not initialized")
	}
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	if strings.TrimSpace(st.Reference) == "" || st.User.UID == "" {
		return Result{}, errors.New("reference and user are required")
	}
	if st.Intent.Kind == KindDeposit && !st.Intent.Amount.IsPositive() {
		return Result{}, domain.ErrInvalidAmount
	}

	release, ok, err := s.locker.Acquire(ctx, "payment:"+st.Reference, lockTTL)
	if err != nil {
		return Result{}, fmt.Errorf("acquire settlement lock: %w", err)
	}
	if !ok {
		return Result{}, ErrInProgress
	}
	defer release()

	log := logging.Attach(s.logger, logging.Context{
		UID:   st.User.UID,
		TxRef: st.Reference,
	}).WithFields(logging.Fields{
		"kind":   st.Intent.Kind,
		"method": st.Method,
		"amount": st.Intent.Amount.String(),
	})

	var tx domain.Transaction
	switch st.Intent.Kind {
	case KindDeposit:
		tx = s.transaction(st, fmt.Sprintf("Wallet deposit via %s", st.Method))
	case KindGameEntry:
		if _, err := s.games.Get(ctx, st.Intent.GameID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return Result{}, fmt.Errorf("%w: %s", ErrGameNotFound, st.Intent.GameID)
			}
			return Result{}, fmt.Errorf("load game: %w", err)
		}
		tx = s.transaction(st, fmt.Sprintf("Game entry fee for %s", st.Intent.GameID))
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownPayload, st.Intent.Kind)
	}

	if err := s.transactions.Claim(ctx, tx); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			log.WithField("event", "payment_duplicate").Info("payment reference already settled")
			return s.duplicate(ctx, st), nil
		}
		return Result{}, fmt.Errorf("claim payment: %w", err)
	}

	result, err := s.apply(ctx, st)
	if err != nil {
		if releaseErr := s.transactions.Release(ctx, st.Reference, err.Error()); releaseErr != nil {
			log.WithError(releaseErr).WithField("event", "payment_release_failed").Error("failed to release payment reference")
		}
		log.WithError(err).WithField("event", "payment_apply_failed").Error("failed to apply payment")
		return Result{}, err
	}

	log.WithFields(logging.Fields{
		"event":   "payment_settled",
		"balance": result.Balance,
		"game_id": result.GameID,
	}).Info("payment settled")

	return result, nil
}

func (s *Settler) apply(ctx context.Context, st Settlement) (Result, error) {
	amount := domain.AmountValue(st.Intent.Amount)

	if st.Intent.Kind == KindDeposit {
		wallet, err := s.wallets.Credit(ctx, st.User.UID, amount)
		if err != nil {
			return Result{}, fmt.Errorf("credit wallet: %w", err)
		}
		s.publish(st.User.UID, realtime.EventWalletUpdated, map[string]interface{}{
			"balance":  wallet.Balance,
			"currency": wallet.Currency,
			"amount":   amount,
			"txRef":    st.Reference,
		})
		return Result{Balance: wallet.Balance}, nil
	}

	added, err := s.games.AddPlayer(ctx, st.Intent.GameID, domain.Player{
		UserID:           st.User.UID,
		DisplayName:      st.User.DisplayName,
		TelegramChatID:   st.User.TelegramChatID,
		TelegramUsername: st.User.TelegramUsername,
		EntryPaid:        true,
		EntryAmount:      amount,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrGameNotFound, st.Intent.GameID)
		}
		return Result{}, fmt.Errorf("add player: %w", err)
	}
	if !added {
		// Closed, full or already seated: the fee must not be kept.
		return Result{}, fmt.Errorf("%w: %s", ErrGameClosed, st.Intent.GameID)
	}
	s.publish(st.User.UID, realtime.EventGameJoined, map[string]interface{}{
		"gameId": st.Intent.GameID,
		"amount": amount,
		"txRef":  st.Reference,
	})
	return Result{GameID: st.Intent.GameID}, nil
}

func (s *Settler) duplicate(ctx context.Context, st Settlement) Result {
	result := Result{Duplicate: true, GameID: st.Intent.GameID}
	if st.Intent.Kind == KindDeposit {
		if wallet, err := s.wallets.Get(ctx, st.User.UID); err == nil {
			result.Balance = wallet.Balance
		}
	}
	return result
}

func (s *Settler) transaction(st Settlement, description string) domain.Transaction {
	return domain.Transaction{
		UserID:        st.User.UID,
		Type:          st.Intent.Kind,
		Amount:        domain.AmountValue(st.Intent.Amount),
		Currency:      domain.Currency,
		PaymentMethod: st.Method,
		Reference:     st.Reference,
		GameID:        st.Intent.GameID,
		Description:   description,
		Metadata:      st.Metadata,
	}
}

func (s *Settler) publish(uid, eventType string, data interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(uid, realtime.Event{Type: eventType, Data: data})
}
