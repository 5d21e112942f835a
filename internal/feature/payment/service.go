package payment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bingo_gateway/internal/chapa"
	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/feature/identity"
	"bingo_gateway/internal/logging"
)

const (
	referencePrefix         = "bingo-"
	telegramReferencePrefix = "tg:"
	callbackPath            = "/api/payment-callback"
	returnPath              = "/payment-complete"
	defaultLastName         = "Player"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var (
	// ErrInvalidCheckout is returned when checkout fields are missing or malformed.
	ErrInvalidCheckout = errors.New("invalid checkout request")
	// ErrMissingReference is returned for callbacks without a tx_ref.
	ErrMissingReference = errors.New("missing transaction reference")
	// ErrNotSuccessful is returned when Chapa reports the payment did not succeed.
	ErrNotSuccessful = errors.New("payment was not successful")
	// ErrUserNotFound is returned when a paid reference maps to no account.
	ErrUserNotFound = errors.New("user not found")
	// ErrGameClosed is returned when a paid entry targets a finished or full room.
	ErrGameClosed = errors.New("game is not accepting players")
)

type userGetter interface {
	Get(ctx context.Context, uid string) (domain.User, error)
}

type identityResolver interface {
	Resolve(ctx context.Context, id identity.Identity) (identity.Resolution, error)
}

type chapaGateway interface {
	Configured() bool
	Initialize(ctx context.Context, req chapa.InitializeRequest) (string, error)
	Verify(ctx context.Context, txRef string) (chapa.Verification, error)
}

// Checkout is a request to pay into the wallet through Chapa.
type Checkout struct {
	Amount       string
	Email        string
	FirstName    string
	LastName     string
	Phone        string
	RequirePhone bool
}

// CheckoutSession is a started Chapa checkout.
type CheckoutSession struct {
	TxRef       string          `json:"tx_ref"`
	CheckoutURL string          `json:"checkout_url"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// TelegramPayment is a successful_payment message together with its sender.
type TelegramPayment struct {
	From             identity.Identity
	TotalAmount      int
	Currency         string
	Payload          string
	TelegramChargeID string
	ProviderChargeID string
}

// Options wires a Service.
type Options struct {
	Settler         *Settler
	Transactions    transactionStore
	Users           userGetter
	Games           gameStore
	Identities      identityResolver
	Chapa           chapaGateway
	CallbackBaseURL string
	FrontendURL     string
	Logger          *logrus.Entry
}

// Service runs both payment sources through a shared Settler.
type Service struct {
	settler      *Settler
	transactions transactionStore
	users        userGetter
	games        gameStore
	identities   identityResolver
	chapa        chapaGateway
	callbackURL  string
	returnURL    string
	logger       *logrus.Entry
	newReference func() string
}

// NewService constructs a Service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		settler:      opts.Settler,
		transactions: opts.Transactions,
		users:        opts.Users,
		games:        opts.Games,
		identities:   opts.Identities,
		chapa:        opts.Chapa,
		callbackURL:  strings.TrimRight(opts.CallbackBaseURL, "/") + callbackPath,
		returnURL:    strings.TrimRight(opts.FrontendURL, "/") + returnPath,
		logger:       logger,
		newReference: func() string { return referencePrefix + uuid.NewString() },
	}
}

// InitiateChapa records a pending deposit for uid and starts a hosted
// checkout.
func (s *Service) InitiateChapa(ctx context.Context, uid string, c Checkout) (CheckoutSession, error) {
	if err := s.check(ctx); err != nil {
		return CheckoutSession{}, err
	}
	if s.chapa == nil || !s.chapa.Configured() {
		return CheckoutSession{}, chapa.ErrNotConfigured
	}
	if uid == "" {
		return CheckoutSession{}, errors.New("uid is required")
	}

	amount, err := validateCheckout(c)
	if err != nil {
		return CheckoutSession{}, err
	}

	lastName := strings.TrimSpace(c.LastName)
	if lastName == "" {
		lastName = defaultLastName
	}

	txRef := s.newReference()
	if _, err := s.transactions.CreatePending(ctx, domain.Transaction{
		UserID:        uid,
		Type:          domain.TxDeposit,
		Amount:        domain.AmountValue(amount),
		Currency:      domain.Currency,
		PaymentMethod: domain.MethodChapa,
		Reference:     txRef,
		Description:   "Wallet deposit via Chapa",
		Metadata:      map[string]string{"email": strings.TrimSpace(c.Email)},
	}); err != nil {
		return CheckoutSession{}, fmt.Errorf("record pending deposit: %w", err)
	}

	checkoutURL, err := s.chapa.Initialize(ctx, chapa.InitializeRequest{
		Amount:      amount,
		Currency:    domain.Currency,
		Email:       strings.TrimSpace(c.Email),
		FirstName:   strings.TrimSpace(c.FirstName),
		LastName:    lastName,
		PhoneNumber: strings.TrimSpace(c.Phone),
		TxRef:       txRef,
		CallbackURL: s.callbackURL,
		ReturnURL:   s.returnURL,
		Customization: chapa.Customization{
			Title:       "Bingo Deposit",
			Description: "Wallet top-up",
		},
		Meta: map[string]string{"user_id": uid},
	})
	if err != nil {
		if failErr := s.transactions.MarkFailed(ctx, txRef, err.Error()); failErr != nil {
			logging.Attach(s.logger, logging.Context{UID: uid, TxRef: txRef}).WithError(failErr).Warn("failed to mark checkout failed")
		}
		return CheckoutSession{}, fmt.Errorf("initialize chapa checkout: %w", err)
	}

	logging.Attach(s.logger, logging.Context{
		UID:   uid,
		TxRef: txRef,
		Event: "payment_initiated",
	}).WithField("amount", amount.String()).Info("chapa checkout started")

	return CheckoutSession{
		TxRef:       txRef,
		CheckoutURL: checkoutURL,
		Amount:      amount,
		Currency:    domain.Currency,
	}, nil
}

// HandleChapaCallback verifies txRef with Chapa and settles the deposit.
func (s *Service) HandleChapaCallback(ctx context.Context, txRef string) (Result, error) {
	if err := s.check(ctx); err != nil {
		return Result{}, err
	}
	if s.chapa == nil || !s.chapa.Configured() {
		return Result{}, chapa.ErrNotConfigured
	}
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return Result{}, ErrMissingReference
	}

	log := logging.Attach(s.logger, logging.Context{TxRef: txRef})

	verification, err := s.chapa.Verify(ctx, txRef)
	if err != nil {
		return Result{}, fmt.Errorf("verify chapa payment: %w", err)
	}

	pending, err := s.transactions.FindByReference(ctx, txRef)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Result{}, fmt.Errorf("load pending deposit: %w", err)
	}
	hasPending := err == nil

	if !verification.Paid() {
		if hasPending {
			if failErr := s.transactions.MarkFailed(ctx, txRef, "chapa status "+verification.Status); failErr != nil {
				log.WithError(failErr).Warn("failed to mark deposit failed")
			}
		}
		log.WithFields(logging.Fields{
			"event":  "chapa_callback_rejected",
			"status": verification.Status,
		}).Warn("chapa reported an unsuccessful payment")
		return Result{}, fmt.Errorf("%w: %s", ErrNotSuccessful, verification.Status)
	}

	uid := pending.UserID
	if uid == "" {
		uid = verification.UserID()
	}
	if uid == "" {
		return Result{}, ErrUserNotFound
	}

	user, err := s.users.Get(ctx, uid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
		}
		return Result{}, fmt.Errorf("load user: %w", err)
	}

	amount := verification.Amount
	if !amount.IsPositive() && hasPending {
		amount = decimal.NewFromFloat(pending.Amount)
	}

	return s.settler.Settle(ctx, Settlement{
		Reference: txRef,
		User:      user,
		Intent:    Intent{Kind: KindDeposit, Amount: amount.Round(2)},
		Method:    domain.MethodChapa,
		Metadata:  compact(map[string]string{"chapaReference": verification.Reference}),
	})
}

// VerifyChapa returns Chapa's view of txRef without settling it.
func (s *Service) VerifyChapa(ctx context.Context, txRef string) (chapa.Verification, error) {
	if err := s.check(ctx); err != nil {
		return chapa.Verification{}, err
	}
	if s.chapa == nil || !s.chapa.Configured() {
		return chapa.Verification{}, chapa.ErrNotConfigured
	}
	if strings.TrimSpace(txRef) == "" {
		return chapa.Verification{}, ErrMissingReference
	}
	return s.chapa.Verify(ctx, strings.TrimSpace(txRef))
}

// HandleTelegramPayment settles a successful in-chat payment, resolving or
// creating the payer's account.
func (s *Service) HandleTelegramPayment(ctx context.Context, p TelegramPayment) (Result, error) {
	if err := s.check(ctx); err != nil {
		return Result{}, err
	}
	if s.identities == nil {
		return Result{}, errors.New("identity resolver is not initialized")
	}
	if strings.TrimSpace(p.TelegramChargeID) == "" {
		return Result{}, errors.New("telegram payment charge id is required")
	}

	intent, err := ParsePayload(p.Payload, p.TotalAmount)
	if err != nil {
		return Result{}, err
	}

	resolution, err := s.identities.Resolve(ctx, p.From)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, identity.ErrNoIdentity) {
			return Result{}, fmt.Errorf("%w: telegram %d", ErrUserNotFound, p.From.TelegramID)
		}
		return Result{}, fmt.Errorf("resolve payer: %w", err)
	}

	return s.settler.Settle(ctx, Settlement{
		Reference: telegramReferencePrefix + strings.TrimSpace(p.TelegramChargeID),
		User:      resolution.User,
		Intent:    intent,
		Method:    domain.MethodTelegram,
		Metadata: compact(map[string]string{
			"telegramPaymentChargeId": p.TelegramChargeID,
			"providerPaymentChargeId": p.ProviderChargeID,
			"currency":                p.Currency,
			"payload":                 p.Payload,
		}),
	})
}

// ValidatePreCheckout checks an invoice payload before Telegram charges the
// user.
func (s *Service) ValidatePreCheckout(ctx context.Context, payload string, totalMinor int) (Intent, error) {
	if err := s.check(ctx); err != nil {
		return Intent{}, err
	}

	intent, err := ParsePayload(payload, totalMinor)
	if err != nil {
		return Intent{}, err
	}
	if intent.Kind != KindGameEntry {
		return intent, nil
	}

	room, err := s.games.Get(ctx, intent.GameID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Intent{}, fmt.Errorf("%w: %s", ErrGameNotFound, intent.GameID)
		}
		return Intent{}, fmt.Errorf("load game: %w", err)
	}
	if !room.Open() || room.Full() {
		return Intent{}, fmt.Errorf("%w: %s", ErrGameClosed, intent.GameID)
	}
	return intent, nil
}

func (s *Service) check(ctx context.Context) error {
	if s == nil || s.settler == nil || s.transactions == nil || s.users == nil || s.games == nil {
		return errors.New("payment service is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func validateCheckout(c Checkout) (decimal.Decimal, error) {
	var missing []string
	if strings.TrimSpace(c.Amount) == "" {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(c.FirstName) == "" {
		missing = append(missing, "first_name")
	}
	if c.RequirePhone && strings.TrimSpace(c.Phone) == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return decimal.Zero, fmt.Errorf("%w: missing required fields: %s", ErrInvalidCheckout, strings.Join(missing, ", "))
	}

	amount, err := domain.ParseAmount(c.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	if err := domain.ValidateDepositAmount(amount); err != nil {
		return decimal.Zero, err
	}
	if !emailPattern.MatchString(strings.TrimSpace(c.Email)) {
		return decimal.Zero, fmt.Errorf("%w: invalid email format", ErrInvalidCheckout)
	}
	return amount, nil
}

func compact(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		if value != "" {
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
