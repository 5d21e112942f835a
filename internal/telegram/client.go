// Package telegram hosts the Telegram client, update routing, and the bot
// command handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bingo_gateway/internal/config"
	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/logging"
)

// ErrInvoicesDisabled is returned when no payment provider token is configured.
var ErrInvoicesDisabled = errors.New("telegram invoices are not configured")

type botAPI interface {
	Start(ctx context.Context)
	StartWebhook(ctx context.Context)
	WebhookHandler() http.HandlerFunc
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendInvoice(ctx context.Context, params *bot.SendInvoiceParams) (*models.Message, error)
	AnswerPreCheckoutQuery(ctx context.Context, params *bot.AnswerPreCheckoutQueryParams) (bool, error)
	AnswerShippingQuery(ctx context.Context, params *bot.AnswerShippingQueryParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
	GetWebhookInfo(ctx context.Context) (*models.WebhookInfo, error)
}

// UpdateHandler consumes updates delivered by polling or the webhook.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update *models.Update)
}

var (
	// AllowedUpdates are the update kinds the bot subscribes to.
	AllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
		"pre_checkout_query",
		"shipping_query",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Invoice describes an in-chat payment request.
type Invoice struct {
	ChatID      int64
	Title       string
	Description string
	Payload     string
	Amount      decimal.Decimal
}

// Client wraps the Telegram bot instance and logging dependencies.
type Client struct {
	bot           botAPI
	handler       UpdateHandler
	providerToken string
	webhookURL    string
	webhookSecret string
	logger        *logrus.Entry
}

// NewClient initializes the Telegram bot. Updates are logged and passed to
// the handler registered with Handle.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		providerToken: cfg.TelegramProviderToken,
		webhookURL:    cfg.TelegramWebhookURL,
		webhookSecret: cfg.TelegramWebhookSecret,
		logger:        logger,
	}

	options := []bot.Option{
		bot.WithAllowedUpdates(AllowedUpdates),
		bot.WithDefaultHandler(client.defaultHandler),
		bot.WithErrorsHandler(errorHandler(logger)),
	}
	if cfg.TelegramWebhookSecret != "" {
		options = append(options, bot.WithWebhookSecretToken(cfg.TelegramWebhookSecret))
	}

	tgBot, err := createBot(cfg.TelegramToken, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	client.bot = tgBot

	return client, nil
}

// Handle registers the update handler.
func (c *Client) Handle(handler UpdateHandler) {
	c.handler = handler
}

// WebhookMode reports whether updates arrive through the webhook.
func (c *Client) WebhookMode() bool {
	return c.webhookURL != ""
}

// InvoicesEnabled reports whether a payment provider token is configured.
func (c *Client) InvoicesEnabled() bool {
	return c.providerToken != ""
}

// Start processes updates until the context is canceled, using long polling
// or the webhook queue depending on configuration.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	mode := "polling"
	if c.WebhookMode() {
		mode = "webhook"
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"mode":            mode,
		"allowed_updates": AllowedUpdates,
	}).Info("starting telegram updates")

	if c.WebhookMode() {
		c.bot.StartWebhook(ctx)
	} else {
		c.bot.Start(ctx)
	}

	c.logger.WithField("event", "telegram_stopped").Info("telegram updates stopped")
}

// WebhookHandler returns the HTTP handler that queues webhook updates.
func (c *Client) WebhookHandler() http.Handler {
	return c.bot.WebhookHandler()
}

// SendText sends a plain text message; markup may be nil.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) error {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendInvoice sends an ETB invoice; the amount is converted to cents.
func (c *Client) SendInvoice(ctx context.Context, inv Invoice) error {
	if !c.InvoicesEnabled() {
		return ErrInvoicesDisabled
	}
	if !inv.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}

	_, err := c.bot.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:          inv.ChatID,
		Title:           inv.Title,
		Description:     inv.Description,
		Payload:         inv.Payload,
		ProviderToken:   c.providerToken,
		Currency:        domain.Currency,
		Prices:          []models.LabeledPrice{{Label: inv.Title, Amount: domain.ToMinorUnits(inv.Amount)}},
		StartParameter:  "bingo_" + strconv.FormatInt(time.Now().Unix(), 10),
		NeedName:        true,
		NeedPhoneNumber: true,
		NeedEmail:       true,
	})
	if err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"event":   "telegram_invoice_sent",
		"chat_id": inv.ChatID,
		"payload": inv.Payload,
	}).Info("sent telegram invoice")
	return nil
}

// AnswerPreCheckout approves or rejects a checkout.
func (c *Client) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	params := &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
	}
	if !ok {
		params.ErrorMessage = errorMessage
	}
	if _, err := c.bot.AnswerPreCheckoutQuery(ctx, params); err != nil {
		return fmt.Errorf("answer pre-checkout query: %w", err)
	}
	return nil
}

// AnswerShipping answers a shipping query.
func (c *Client) AnswerShipping(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	params := &bot.AnswerShippingQueryParams{
		ShippingQueryID: queryID,
		OK:              ok,
	}
	if !ok {
		params.ErrorMessage = errorMessage
	}
	if _, err := c.bot.AnswerShippingQuery(ctx, params); err != nil {
		return fmt.Errorf("answer shipping query: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges an inline keyboard press.
func (c *Client) AnswerCallback(ctx context.Context, queryID, text string) error {
	if _, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
	}); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

// SetWebhook registers the configured webhook URL with Telegram.
func (c *Client) SetWebhook(ctx context.Context, dropPending bool) error {
	if !c.WebhookMode() {
		return errors.New("telegram webhook url is not configured")
	}

	allowed := make([]string, len(AllowedUpdates))
	copy(allowed, AllowedUpdates)

	if _, err := c.bot.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:                c.webhookURL,
		AllowedUpdates:     allowed,
		DropPendingUpdates: dropPending,
		SecretToken:        c.webhookSecret,
	}); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"event": "telegram_webhook_set",
		"url":   c.webhookURL,
	}).Info("registered telegram webhook")
	return nil
}

// DeleteWebhook removes the webhook so long polling can be used.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	if _, err := c.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: dropPending}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	c.logger.WithField("event", "telegram_webhook_deleted").Info("deleted telegram webhook")
	return nil
}

// WebhookInfo reports Telegram's view of the webhook.
func (c *Client) WebhookInfo(ctx context.Context) (*models.WebhookInfo, error) {
	info, err := c.bot.GetWebhookInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get webhook info: %w", err)
	}
	return info, nil
}

func (c *Client) defaultHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	logUpdate(c.logger, update)

	if c.handler != nil {
		c.handler.HandleUpdate(ctx, update)
	}
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func logUpdate(logger *logrus.Entry, update *models.Update) {
	meta := extractUpdateMeta(update)

	fields := logging.Fields{
		"event":       "telegram_update",
		"update_type": meta.updateType,
	}
	if meta.text != "" {
		fields["text"] = meta.text
	}
	if meta.userID != 0 {
		fields["user_id"] = meta.userID
	}
	if meta.chatID != 0 {
		fields["chat_id"] = meta.chatID
	}

	logger.WithFields(fields).Info("telegram update received")
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     update.Message.Chat.ID,
			text:       update.Message.SuccessfulPayment.InvoicePayload,
			updateType: "successful_payment",
		}
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     update.Message.Chat.ID,
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			userID:     update.CallbackQuery.From.ID,
			chatID:     messageChatID(update.CallbackQuery.Message),
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	case update.PreCheckoutQuery != nil:
		return updateMeta{
			text:       update.PreCheckoutQuery.InvoicePayload,
			updateType: "pre_checkout_query",
		}
	case update.ShippingQuery != nil:
		return updateMeta{
			text:       update.ShippingQuery.InvoicePayload,
			updateType: "shipping_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram update error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return msg.Message.Chat.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return msg.InaccessibleMessage.Chat.ID
	default:
		return 0
	}
}
