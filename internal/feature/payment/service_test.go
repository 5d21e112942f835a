package payment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"bingo_gateway/internal/chapa"
	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/feature/identity"
)

type serviceFixture struct {
	*settleFixture
	users    memUsers
	chapa    *fakeChapa
	resolver *stubResolver
	service  *Service
}

func newServiceFixture(rooms ...domain.GameRoom) *serviceFixture {
	sf := newSettleFixture(rooms...)
	f := &serviceFixture{
		settleFixture: sf,
		users:         memUsers{"u1": {UID: "u1", DisplayName: "Abebe"}},
		chapa:         &fakeChapa{configured: true, checkoutURL: "https://checkout.chapa.co/abc"},
		resolver:      &stubResolver{},
	}
	logger, _ := nullLogger()
	f.service = NewService(Options{
		Settler:         sf.settler,
		Transactions:    sf.txs,
		Users:           f.users,
		Games:           sf.games,
		Identities:      f.resolver,
		Chapa:           f.chapa,
		CallbackBaseURL: "https://api.example.com/",
		FrontendURL:     "https://bingo.example.com",
		Logger:          logger,
	})
	f.service.newReference = func() string { return "bingo-fixed" }
	return f
}

func validCheckout() Checkout {
	return Checkout{Amount: "150", Email: "abebe@example.com", FirstName: "Abebe"}
}

func TestInitiateChapaRecordsPendingAndStartsCheckout(t *testing.T) {
	f := newServiceFixture()

	session, err := f.service.InitiateChapa(context.Background(), "u1", validCheckout())
	if err != nil {
		t.Fatalf("InitiateChapa returned error: %v", err)
	}
	if session.TxRef != "bingo-fixed" || session.CheckoutURL != "https://checkout.chapa.co/abc" {
		t.Fatalf("unexpected session: %+v", session)
	}

	pending := f.txs.byRef["bingo-fixed"]
	if pending.Status != domain.TxPending || pending.UserID != "u1" || pending.Amount != 150 {
		t.Fatalf("unexpected pending transaction: %+v", pending)
	}

	if len(f.chapa.initRequests) != 1 {
		t.Fatalf("expected one initialize call, got %d", len(f.chapa.initRequests))
	}
	req := f.chapa.initRequests[0]
	if req.CallbackURL != "https://api.example.com/api/payment-callback" {
		t.Fatalf("unexpected callback url %s", req.CallbackURL)
	}
	if req.ReturnURL != "https://bingo.example.com/payment-complete" {
		t.Fatalf("unexpected return url %s", req.ReturnURL)
	}
	if req.Meta["user_id"] != "u1" || req.LastName != defaultLastName || req.Currency != domain.Currency {
		t.Fatalf("unexpected initialize request: %+v", req)
	}
}

func TestInitiateChapaValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Checkout)
		wantErr error
	}{
		{name: "missing email", mutate: func(c *Checkout) { c.Email = "" }, wantErr: ErrInvalidCheckout},
		{name: "bad email", mutate: func(c *Checkout) { c.Email = "not-an-email" }, wantErr: ErrInvalidCheckout},
		{name: "missing phone when required", mutate: func(c *Checkout) { c.RequirePhone = true }, wantErr: ErrInvalidCheckout},
		{name: "below minimum", mutate: func(c *Checkout) { c.Amount = "5" }, wantErr: domain.ErrAmountOutOfRange},
		{name: "above maximum", mutate: func(c *Checkout) { c.Amount = "50001" }, wantErr: domain.ErrAmountOutOfRange},
		{name: "not a number", mutate: func(c *Checkout) { c.Amount = "ten" }, wantErr: domain.ErrInvalidAmount},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture()
			c := validCheckout()
			tt.mutate(&c)

			_, err := f.service.InitiateChapa(context.Background(), "u1", c)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(f.chapa.initRequests) != 0 {
				t.Fatalf("expected chapa not to be called")
			}
		})
	}
}

func TestInitiateChapaMarksFailedWhenGatewayErrors(t *testing.T) {
	f := newServiceFixture()
	f.chapa.initErr = errors.New("chapa: invalid api key")

	if _, err := f.service.InitiateChapa(context.Background(), "u1", validCheckout()); err == nil {
		t.Fatalf("expected initialize error")
	}
	if f.txs.status("bingo-fixed") != domain.TxFailed {
		t.Fatalf("expected pending deposit to be failed, got %s", f.txs.status("bingo-fixed"))
	}
}

func TestInitiateChapaRequiresConfiguration(t *testing.T) {
	f := newServiceFixture()
	f.chapa.configured = false

	if _, err := f.service.InitiateChapa(context.Background(), "u1", validCheckout()); !errors.Is(err, chapa.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestHandleChapaCallbackCreditsDepositOnce(t *testing.T) {
	f := newServiceFixture()
	if _, err := f.service.InitiateChapa(context.Background(), "u1", validCheckout()); err != nil {
		t.Fatalf("InitiateChapa returned error: %v", err)
	}
	f.chapa.verification = chapa.Verification{Status: "success", Amount: decimal.NewFromInt(150), Reference: "APx1"}

	result, err := f.service.HandleChapaCallback(context.Background(), "bingo-fixed")
	if err != nil {
		t.Fatalf("HandleChapaCallback returned error: %v", err)
	}
	if result.Balance != 150 || result.Duplicate {
		t.Fatalf("expected balance 150, got %+v", result)
	}

	again, err := f.service.HandleChapaCallback(context.Background(), "bingo-fixed")
	if err != nil {
		t.Fatalf("second callback returned error: %v", err)
	}
	if !again.Duplicate || f.wallets.balances["u1"] != 150 {
		t.Fatalf("expected duplicate callback to leave balance at 150, got %+v balance=%v", again, f.wallets.balances["u1"])
	}
}

func TestHandleChapaCallbackFallsBackToMetadataUser(t *testing.T) {
	f := newServiceFixture()
	f.chapa.verification = chapa.Verification{
		Status: "success",
		Amount: decimal.NewFromInt(40),
		Meta:   map[string]interface{}{"user_id": "u1"},
	}

	result, err := f.service.HandleChapaCallback(context.Background(), "bingo-external")
	if err != nil {
		t.Fatalf("HandleChapaCallback returned error: %v", err)
	}
	if result.Balance != 40 {
		t.Fatalf("expected balance 40, got %v", result.Balance)
	}
}

func TestHandleChapaCallbackErrors(t *testing.T) {
	tests := []struct {
		name         string
		txRef        string
		verification chapa.Verification
		verifyErr    error
		wantErr      error
	}{
		{name: "missing ref", txRef: " ", wantErr: ErrMissingReference},
		{name: "not successful", txRef: "bingo-x", verification: chapa.Verification{Status: "failed"}, wantErr: ErrNotSuccessful},
		{name: "no user", txRef: "bingo-x", verification: chapa.Verification{Status: "success", Amount: decimal.NewFromInt(10)}, wantErr: ErrUserNotFound},
		{name: "unknown user", txRef: "bingo-x", verification: chapa.Verification{Status: "success", Amount: decimal.NewFromInt(10), Meta: map[string]interface{}{"user_id": "ghost"}}, wantErr: ErrUserNotFound},
		{name: "verify error", txRef: "bingo-x", verifyErr: chapa.ErrTransactionNotFound, wantErr: chapa.ErrTransactionNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture()
			f.chapa.verification = tt.verification
			f.chapa.verifyErr = tt.verifyErr

			_, err := f.service.HandleChapaCallback(context.Background(), tt.txRef)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if f.wallets.credits != 0 {
				t.Fatalf("expected no credit")
			}
		})
	}
}

func TestHandleChapaCallbackMarksPendingFailed(t *testing.T) {
	f := newServiceFixture()
	if _, err := f.service.InitiateChapa(context.Background(), "u1", validCheckout()); err != nil {
		t.Fatalf("InitiateChapa returned error: %v", err)
	}
	f.chapa.verification = chapa.Verification{Status: "failed"}

	if _, err := f.service.HandleChapaCallback(context.Background(), "bingo-fixed"); !errors.Is(err, ErrNotSuccessful) {
		t.Fatalf("expected ErrNotSuccessful, got %v", err)
	}
	if f.txs.byRef["bingo-fixed"].FailureReason != "chapa status failed" {
		t.Fatalf("unexpected failure reason %q", f.txs.byRef["bingo-fixed"].FailureReason)
	}
}

func TestHandleTelegramPaymentDepositIncreasesBalance(t *testing.T) {
	f := newServiceFixture()
	f.resolver.resolution = identity.Resolution{User: domain.User{UID: "tg_42"}, Created: true}

	payment := TelegramPayment{
		From:             identity.Identity{TelegramID: 42, Username: "abebe"},
		TotalAmount:      10000,
		Currency:         "ETB",
		Payload:          "deposit|100",
		TelegramChargeID: "charge-1",
		ProviderChargeID: "prov-1",
	}

	result, err := f.service.HandleTelegramPayment(context.Background(), payment)
	if err != nil {
		t.Fatalf("HandleTelegramPayment returned error: %v", err)
	}
	if result.Balance != 100 {
		t.Fatalf("expected balance 100, got %v", result.Balance)
	}

	tx := f.txs.byRef["tg:charge-1"]
	if tx.PaymentMethod != domain.MethodTelegram || tx.Metadata["providerPaymentChargeId"] != "prov-1" {
		t.Fatalf("unexpected claimed transaction: %+v", tx)
	}
	if len(f.resolver.seen) != 1 || f.resolver.seen[0].TelegramID != 42 {
		t.Fatalf("expected payer identity to be resolved, got %+v", f.resolver.seen)
	}

	if _, err := f.service.HandleTelegramPayment(context.Background(), payment); err != nil {
		t.Fatalf("redelivery returned error: %v", err)
	}
	if f.wallets.balances["tg_42"] != 100 {
		t.Fatalf("expected redelivery not to credit again, got %v", f.wallets.balances["tg_42"])
	}
}

func TestHandleTelegramPaymentGameEntry(t *testing.T) {
	f := newServiceFixture(domain.GameRoom{ID: "room-1", Status: domain.GameWaiting, MaxPlayers: 10})
	f.resolver.resolution = identity.Resolution{User: domain.User{UID: "u1"}}

	result, err := f.service.HandleTelegramPayment(context.Background(), TelegramPayment{
		From:             identity.Identity{TelegramID: 7},
		TotalAmount:      2000,
		Payload:          "game_entry|room-1|20",
		TelegramChargeID: "charge-2",
	})
	if err != nil {
		t.Fatalf("HandleTelegramPayment returned error: %v", err)
	}
	if result.GameID != "room-1" || !f.games.rooms["room-1"].HasPlayer("u1") {
		t.Fatalf("expected player to join room-1, got %+v", result)
	}
}

func TestHandleTelegramPaymentErrors(t *testing.T) {
	f := newServiceFixture()

	if _, err := f.service.HandleTelegramPayment(context.Background(), TelegramPayment{Payload: "deposit|10"}); err == nil || !strings.Contains(err.Error(), "charge id") {
		t.Fatalf("expected charge id error, got %v", err)
	}
	if _, err := f.service.HandleTelegramPayment(context.Background(), TelegramPayment{Payload: "tip|10", TelegramChargeID: "c"}); !errors.Is(err, ErrUnknownPayload) {
		t.Fatalf("expected ErrUnknownPayload, got %v", err)
	}

	f.resolver.err = identity.ErrNoIdentity
	if _, err := f.service.HandleTelegramPayment(context.Background(), TelegramPayment{Payload: "deposit|10", TelegramChargeID: "c"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestValidatePreCheckout(t *testing.T) {
	full := domain.GameRoom{ID: "full", Status: domain.GameWaiting, MaxPlayers: 1, Players: []domain.Player{{UserID: "x"}}}
	done := domain.GameRoom{ID: "done", Status: domain.GameFinished, MaxPlayers: 10}
	open := domain.GameRoom{ID: "open", Status: domain.GameWaiting, MaxPlayers: 10}
	f := newServiceFixture(full, done, open)

	tests := []struct {
		payload string
		wantErr error
	}{
		{payload: "deposit|50"},
		{payload: "game_entry|open|10"},
		{payload: "game_entry|missing|10", wantErr: ErrGameNotFound},
		{payload: "game_entry|full|10", wantErr: ErrGameClosed},
		{payload: "game_entry|done|10", wantErr: ErrGameClosed},
		{payload: "lottery|1", wantErr: ErrUnknownPayload},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.payload, func(t *testing.T) {
			_, err := f.service.ValidatePreCheckout(context.Background(), tt.payload, 1000)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected payload to validate, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
