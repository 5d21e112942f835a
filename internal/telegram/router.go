package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/feature/identity"
	"bingo_gateway/internal/feature/payment"
	"bingo_gateway/internal/logging"
)

const (
	textWelcome            = "Welcome to Bingo Game! Please link your Telegram in your web profile to use all features. Use /help for more."
	textGameReady          = "Welcome! Your game is ready. Click here to play: %s"
	textNotLinked          = "Your Telegram is not linked to a Bingo account. Please link it in your web profile."
	textLinked             = "Your Telegram account has been linked to Bingo user %s! You can now use all bot features."
	textBalance            = "Your wallet balance: %s ETB"
	textDepositUsage       = "Usage: /deposit <amount> (e.g., /deposit 100)"
	textDepositInvalid     = "Invalid amount. Please use a number (e.g., /deposit 100)"
	textAmountNotPositive  = "Amount must be greater than 0."
	textAmountTooLarge     = "Amount must not exceed %s ETB."
	textDepositInvoice     = "💳 Payment invoice created for %s ETB. Please complete the payment to add funds to your wallet."
	textGameInvoice        = "💳 Payment invoice created for game entry (%s ETB). Please complete the payment to join the game."
	textInvoiceFailed      = "❌ Failed to create payment invoice. Please try again later."
	textJoinUsage          = "Usage: /join <game_id>"
	textGameNotFound       = "Game %s not found."
	textGameFull           = "Game %s is full."
	textJoined             = "You have joined game %s!"
	textAlreadyJoined      = "You are already in game %s."
	textNoGames            = "No active games right now. Use /start to create one."
	textUnknownCommand     = "Unknown command. Use /help."
	textInternalError      = "Something went wrong. Please try again later."
	textChooseLanguage     = "Choose your language:"
	textLanguageSet        = "Language set to %s."
	textShareOwnContact    = "Please share your own contact."
	textPhoneSaved         = "✅ Your phone number has been registered."
	textPaymentSuccess     = "✅ Payment successful! %s %s has been processed."
	textPaymentNotApplied  = "❌ Your payment was received but could not be applied. Please contact support with reference %s."
	textPreCheckoutFailed  = "Payment validation failed"
	textShippingNotOffered = "Shipping not available for digital products"

	textHelp = "Available commands:\n" +
		"/start - Welcome\n" +
		"/join <game_id> - Join a game\n" +
		"/balance - Show your wallet balance\n" +
		"/deposit <amount> - Deposit money\n" +
		"/games - List active games\n" +
		"/profile - Show your profile\n" +
		"/language - Choose your language\n" +
		"/help - Show this help message"

	languageCallbackPrefix = "lang_"
	defaultPlayerName      = "Player"
	gamesListLimit         = 10
)

type language struct {
	code string
	name string
}

var supportedLanguages = []language{
	{code: "en", name: "English"},
	{code: "am", name: "Amharic"},
}

type messenger interface {
	SendText(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) error
	SendInvoice(ctx context.Context, inv Invoice) error
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error
	AnswerShipping(ctx context.Context, queryID string, ok bool, errorMessage string) error
	AnswerCallback(ctx context.Context, queryID, text string) error
}

type identities interface {
	Lookup(ctx context.Context, id identity.Identity) (identity.Resolution, error)
	Resolve(ctx context.Context, id identity.Identity) (identity.Resolution, error)
}

type payments interface {
	ValidatePreCheckout(ctx context.Context, payload string, totalMinor int) (payment.Intent, error)
	HandleTelegramPayment(ctx context.Context, p payment.TelegramPayment) (payment.Result, error)
}

type walletReader interface {
	Get(ctx context.Context, uid string) (domain.Wallet, error)
}

type gameRooms interface {
	Get(ctx context.Context, id string) (domain.GameRoom, error)
	FindWaiting(ctx context.Context) (domain.GameRoom, error)
	ListOpen(ctx context.Context, limit int64) ([]domain.GameRoom, error)
	Create(ctx context.Context, room domain.GameRoom) (domain.GameRoom, error)
	AddPlayer(ctx context.Context, gameID string, player domain.Player) (bool, error)
}

type profiles interface {
	SetPhone(ctx context.Context, uid, phone string) error
	SetLanguage(ctx context.Context, uid, language string) error
}

// RouterOptions wires a Router.
type RouterOptions struct {
	Messenger   messenger
	Identities  identities
	Payments    payments
	Wallets     walletReader
	Games       gameRooms
	Profiles    profiles
	FrontendURL string
	Logger      *logrus.Entry
}

// Router dispatches bot commands and payment updates.
type Router struct {
	send        messenger
	identities  identities
	payments    payments
	wallets     walletReader
	games       gameRooms
	profiles    profiles
	frontendURL string
	logger      *logrus.Entry
}

// NewRouter constructs a Router.
func NewRouter(opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Logger()
	}

	return &Router{
		send:        opts.Messenger,
		identities:  opts.Identities,
		payments:    opts.Payments,
		wallets:     opts.Wallets,
		games:       opts.Games,
		profiles:    opts.Profiles,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
		logger:      logger,
	}
}

// HandleUpdate implements UpdateHandler; failures are logged.
func (r *Router) HandleUpdate(ctx context.Context, update *models.Update) {
	if err := r.Process(ctx, update); err != nil {
		meta := extractUpdateMeta(update)
		logging.Attach(r.logger, logging.Context{
			ChatID: meta.chatID,
			Event:  "telegram_update_failed",
		}).WithField("update_type", meta.updateType).WithError(err).Error("failed to handle telegram update")
	}
}

// Process handles one update and reports the first failure.
func (r *Router) Process(ctx context.Context, update *models.Update) error {
	if r == nil || r.send == nil || r.identities == nil || r.payments == nil {
		return errors.New("telegram router is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if update == nil {
		return nil
	}

	switch {
	case update.PreCheckoutQuery != nil:
		return r.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.ShippingQuery != nil:
		return r.send.AnswerShipping(ctx, update.ShippingQuery.ID, false, textShippingNotOffered)
	case update.CallbackQuery != nil:
		return r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		return r.handleMessage(ctx, update.Message)
	default:
		return nil
	}
}

func (r *Router) handlePreCheckout(ctx context.Context, query *models.PreCheckoutQuery) error {
	log := r.logger.WithFields(logging.Fields{
		"query_id": query.ID,
		"payload":  query.InvoicePayload,
		"amount":   query.TotalAmount,
	})

	if _, err := r.payments.ValidatePreCheckout(ctx, query.InvoicePayload, query.TotalAmount); err != nil {
		log.WithError(err).WithField("event", "telegram_precheckout_rejected").Warn("rejected pre-checkout query")
		return r.send.AnswerPreCheckout(ctx, query.ID, false, textPreCheckoutFailed)
	}

	log.WithField("event", "telegram_precheckout_ok").Info("approved pre-checkout query")
	return r.send.AnswerPreCheckout(ctx, query.ID, true, "")
}

func (r *Router) handleMessage(ctx context.Context, msg *models.Message) error {
	if msg.From == nil {
		return nil
	}
	chatID := msg.Chat.ID
	from := identityOf(msg.From)

	switch {
	case msg.SuccessfulPayment != nil:
		return r.handleSuccessfulPayment(ctx, chatID, from, msg.SuccessfulPayment)
	case msg.Contact != nil:
		return r.handleContact(ctx, chatID, from, msg.Contact)
	case strings.TrimSpace(msg.Text) != "":
		return r.handleText(ctx, chatID, from, strings.TrimSpace(msg.Text))
	default:
		return nil
	}
}

func (r *Router) handleSuccessfulPayment(ctx context.Context, chatID int64, from identity.Identity, sp *models.SuccessfulPayment) error {
	result, err := r.payments.HandleTelegramPayment(ctx, payment.TelegramPayment{
		From:             from,
		TotalAmount:      sp.TotalAmount,
		Currency:         sp.Currency,
		Payload:          sp.InvoicePayload,
		TelegramChargeID: sp.TelegramPaymentChargeID,
		ProviderChargeID: sp.ProviderPaymentChargeID,
	})
	if err != nil {
		if errors.Is(err, payment.ErrInProgress) {
			return nil
		}
		if sendErr := r.send.SendText(ctx, chatID, fmt.Sprintf(textPaymentNotApplied, sp.TelegramPaymentChargeID), nil); sendErr != nil {
			r.logger.WithError(sendErr).Warn("failed to notify payer")
		}
		return fmt.Errorf("apply telegram payment: %w", err)
	}
	if result.Duplicate {
		return nil
	}

	amount := domain.FromMinorUnits(sp.TotalAmount).String()
	return r.send.SendText(ctx, chatID, fmt.Sprintf(textPaymentSuccess, amount, sp.Currency), nil)
}

func (r *Router) handleContact(ctx context.Context, chatID int64, from identity.Identity, contact *models.Contact) error {
	if contact.UserID != from.TelegramID {
		return r.send.SendText(ctx, chatID, textShareOwnContact, nil)
	}
	if r.profiles == nil {
		return errors.New("profile store is not configured")
	}

	res, err := r.identities.Resolve(ctx, from)
	if err != nil {
		return r.fail(ctx, chatID, fmt.Errorf("resolve contact owner: %w", err))
	}
	if err := r.profiles.SetPhone(ctx, res.User.UID, contact.PhoneNumber); err != nil {
		return r.fail(ctx, chatID, err)
	}

	logging.Attach(r.logger, logging.Context{
		UID:    res.User.UID,
		ChatID: chatID,
		Event:  "telegram_phone_registered",
	}).Info("stored phone number from telegram contact")
	return r.send.SendText(ctx, chatID, textPhoneSaved, nil)
}

func (r *Router) handleCallback(ctx context.Context, query *models.CallbackQuery) error {
	chatID := messageChatID(query.Message)
	if chatID == 0 {
		chatID = query.From.ID
	}

	code, ok := strings.CutPrefix(query.Data, languageCallbackPrefix)
	if !ok {
		return r.send.AnswerCallback(ctx, query.ID, "")
	}

	name, known := languageName(code)
	if !known || r.profiles == nil {
		return r.send.AnswerCallback(ctx, query.ID, "")
	}

	res, err := r.identities.Lookup(ctx, identityOf(&query.From))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if answerErr := r.send.AnswerCallback(ctx, query.ID, ""); answerErr != nil {
				return answerErr
			}
			return r.send.SendText(ctx, chatID, textNotLinked, nil)
		}
		return err
	}
	if err := r.profiles.SetLanguage(ctx, res.User.UID, code); err != nil {
		return err
	}

	if err := r.send.AnswerCallback(ctx, query.ID, fmt.Sprintf(textLanguageSet, name)); err != nil {
		return err
	}
	return r.send.SendText(ctx, chatID, fmt.Sprintf(textLanguageSet, name), nil)
}

func (r *Router) handleText(ctx context.Context, chatID int64, from identity.Identity, text string) error {
	command, args := parseCommand(text)

	if command == "/help" {
		return r.send.SendText(ctx, chatID, textHelp, nil)
	}

	res, err := r.identities.Lookup(ctx, from)
	linked := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return r.fail(ctx, chatID, fmt.Errorf("lookup chat owner: %w", err))
	}
	if res.Linked {
		if err := r.send.SendText(ctx, chatID, fmt.Sprintf(textLinked, displayName(res.User)), nil); err != nil {
			return err
		}
	}

	switch command {
	case "/start":
		if !linked {
			return r.send.SendText(ctx, chatID, textWelcome, nil)
		}
		return r.start(ctx, chatID, res.User)
	case "/balance":
		if !linked {
			return r.send.SendText(ctx, chatID, textNotLinked, nil)
		}
		return r.balance(ctx, chatID, res.User)
	case "/deposit":
		return r.deposit(ctx, chatID, args)
	case "/join":
		if len(args) != 1 {
			return r.send.SendText(ctx, chatID, textJoinUsage, nil)
		}
		if !linked {
			return r.send.SendText(ctx, chatID, textNotLinked, nil)
		}
		return r.join(ctx, chatID, res.User, args[0])
	case "/games":
		return r.listGames(ctx, chatID)
	case "/profile":
		if !linked {
			return r.send.SendText(ctx, chatID, textNotLinked, nil)
		}
		return r.profile(ctx, chatID, res.User)
	case "/language":
		return r.send.SendText(ctx, chatID, textChooseLanguage, languageKeyboard())
	default:
		return r.send.SendText(ctx, chatID, textUnknownCommand, nil)
	}
}

func (r *Router) start(ctx context.Context, chatID int64, user domain.User) error {
	player := playerOf(user)

	room, err := r.games.FindWaiting(ctx)
	switch {
	case err == nil && room.EntryFee <= 0 && !room.Full():
		if _, err := r.games.AddPlayer(ctx, room.ID, player); err != nil {
			return r.fail(ctx, chatID, err)
		}
	case err == nil || errors.Is(err, domain.ErrNotFound):
		room, err = r.games.Create(ctx, domain.GameRoom{
			Name:       displayName(user) + "'s Game",
			Status:     domain.GameWaiting,
			Players:    []domain.Player{player},
			EntryFee:   0,
			MaxPlayers: domain.DefaultMaxPlayers,
			CreatedBy:  user.UID,
		})
		if err != nil {
			return r.fail(ctx, chatID, err)
		}
		r.logger.WithFields(logging.Fields{
			"event":   "game_room_created",
			"uid":     user.UID,
			"game_id": room.ID,
		}).Info("created game room from telegram")
	default:
		return r.fail(ctx, chatID, err)
	}

	return r.send.SendText(ctx, chatID, fmt.Sprintf(textGameReady, r.gameURL(room.ID)), nil)
}

func (r *Router) balance(ctx context.Context, chatID int64, user domain.User) error {
	wallet, err := r.wallets.Get(ctx, user.UID)
	if err != nil {
		return r.fail(ctx, chatID, err)
	}
	return r.send.SendText(ctx, chatID, fmt.Sprintf(textBalance, domain.FormatAmount(wallet.Balance)), nil)
}

func (r *Router) deposit(ctx context.Context, chatID int64, args []string) error {
	if len(args) != 1 {
		return r.send.SendText(ctx, chatID, textDepositUsage, nil)
	}

	amount, err := decimal.NewFromString(args[0])
	if err != nil {
		return r.send.SendText(ctx, chatID, textDepositInvalid, nil)
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return r.send.SendText(ctx, chatID, textAmountNotPositive, nil)
	}
	if amount.GreaterThan(domain.MaxDeposit) {
		return r.send.SendText(ctx, chatID, fmt.Sprintf(textAmountTooLarge, domain.MaxDeposit.String()), nil)
	}

	if err := r.send.SendInvoice(ctx, Invoice{
		ChatID:      chatID,
		Title:       "Bingo Wallet Deposit",
		Description: fmt.Sprintf("Deposit %s ETB to your Bingo wallet", amount.String()),
		Payload:     payment.FormatDepositPayload(amount),
		Amount:      amount,
	}); err != nil {
		r.logger.WithError(err).WithField("event", "telegram_invoice_failed").Warn("failed to send deposit invoice")
		return r.send.SendText(ctx, chatID, textInvoiceFailed, nil)
	}
	return r.send.SendText(ctx, chatID, fmt.Sprintf(textDepositInvoice, amount.String()), nil)
}

func (r *Router) join(ctx context.Context, chatID int64, user domain.User, gameID string) error {
	room, err := r.games.Get(ctx, gameID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.send.SendText(ctx, chatID, fmt.Sprintf(textGameNotFound, gameID), nil)
		}
		return r.fail(ctx, chatID, err)
	}
	if room.HasPlayer(user.UID) {
		return r.send.SendText(ctx, chatID, fmt.Sprintf(textAlreadyJoined, gameID), nil)
	}
	if room.Full() || !room.Open() {
		return r.send.SendText(ctx, chatID, fmt.Sprintf(textGameFull, gameID), nil)
	}

	name := room.Name
	if name == "" {
		name = "Bingo Game"
	}

	if room.EntryFee > 0 {
		fee := decimal.NewFromFloat(room.EntryFee).Round(2)
		if err := r.send.SendInvoice(ctx, Invoice{
			ChatID:      chatID,
			Title:       "Game Entry: " + name,
			Description: "Entry fee for " + name,
			Payload:     payment.FormatGameEntryPayload(room.ID, fee),
			Amount:      fee,
		}); err != nil {
			r.logger.WithError(err).WithField("event", "telegram_invoice_failed").Warn("failed to send game entry invoice")
			return r.send.SendText(ctx, chatID, textInvoiceFailed, nil)
		}
		return r.send.SendText(ctx, chatID, fmt.Sprintf(textGameInvoice, fee.String()), nil)
	}

	added, err := r.games.AddPlayer(ctx, room.ID, playerOf(user))
	if err != nil {
		return r.fail(ctx, chatID, err)
	}
	if !added {
		return r.send.SendText(ctx, chatID, fmt.Sprintf(textAlreadyJoined, gameID), nil)
	}
	return r.send.SendText(ctx, chatID, fmt.Sprintf(textJoined, gameID), nil)
}

func (r *Router) listGames(ctx context.Context, chatID int64) error {
	rooms, err := r.games.ListOpen(ctx, gamesListLimit)
	if err != nil {
		return r.fail(ctx, chatID, err)
	}
	if len(rooms) == 0 {
		return r.send.SendText(ctx, chatID, textNoGames, nil)
	}

	var b strings.Builder
	b.WriteString("Active games:")
	for _, room := range rooms {
		fmt.Fprintf(&b, "\n• %s (%s) - %d/%d players, entry %s ETB\n  /join %s",
			room.Name, room.Status, len(room.Players), room.MaxPlayers, domain.FormatAmount(room.EntryFee), room.ID)
	}
	return r.send.SendText(ctx, chatID, b.String(), nil)
}

func (r *Router) profile(ctx context.Context, chatID int64, user domain.User) error {
	wallet, err := r.wallets.Get(ctx, user.UID)
	if err != nil {
		return r.fail(ctx, chatID, err)
	}

	phone := user.PhoneNumber
	if phone == "" {
		phone = "not shared"
	}
	lang, _ := languageName(user.Language)
	if lang == "" {
		lang = supportedLanguages[0].name
	}

	text := fmt.Sprintf("👤 %s\nUser ID: %s\nPhone: %s\nLanguage: %s\nBalance: %s ETB",
		displayName(user), user.UID, phone, lang, domain.FormatAmount(wallet.Balance))

	var markup models.ReplyMarkup
	if user.PhoneNumber == "" {
		markup = &models.ReplyKeyboardMarkup{
			Keyboard:        [][]models.KeyboardButton{{{Text: "📱 Share phone number", RequestContact: true}}},
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		}
	}
	return r.send.SendText(ctx, chatID, text, markup)
}

func (r *Router) fail(ctx context.Context, chatID int64, err error) error {
	if sendErr := r.send.SendText(ctx, chatID, textInternalError, nil); sendErr != nil {
		r.logger.WithError(sendErr).Warn("failed to send error reply")
	}
	return err
}

func (r *Router) gameURL(gameID string) string {
	return r.frontendURL + "/game/" + gameID
}

// parseCommand splits "/cmd@bot arg1 arg2" into "/cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	command := strings.ToLower(fields[0])
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return command, fields[1:]
}

func identityOf(user *models.User) identity.Identity {
	if user == nil {
		return identity.Identity{}
	}
	return identity.Identity{
		TelegramID: user.ID,
		Username:   user.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
	}
}

func playerOf(user domain.User) domain.Player {
	return domain.Player{
		UserID:           user.UID,
		DisplayName:      displayName(user),
		TelegramChatID:   user.TelegramChatID,
		TelegramUsername: user.TelegramUsername,
	}
}

func displayName(user domain.User) string {
	if name := strings.TrimSpace(user.DisplayName); name != "" {
		return name
	}
	return defaultPlayerName
}

func languageName(code string) (string, bool) {
	for _, lang := range supportedLanguages {
		if lang.code == code {
			return lang.name, true
		}
	}
	return "", false
}

func languageKeyboard() models.ReplyMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(supportedLanguages))
	for _, lang := range supportedLanguages {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         lang.name,
			CallbackData: languageCallbackPrefix + lang.code,
		}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
