package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"bingo_gateway/internal/chapa"
	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/feature/identity"
	"bingo_gateway/internal/feature/payment"
	"bingo_gateway/internal/logging"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

type callbackRequest struct {
	TxRef  string `json:"tx_ref"`
	TrxRef string `json:"trx_ref"`
	Status string `json:"status"`
}

type loginRequest struct {
	TelegramID json.Number `json:"telegram_id"`
	Username   string      `json:"username"`
	FirstName  string      `json:"first_name"`
	LastName   string      `json:"last_name"`
}

type checkoutRequest struct {
	Amount      json.Number `json:"amount"`
	Email       string      `json:"email"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	PhoneNumber string      `json:"phone_number"`
}

type bonusRequest struct {
	UID    string      `json:"uid"`
	Amount json.Number `json:"amount"`
	Reason string      `json:"reason"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     "Bingo Backend API",
		"version":     serviceVersion,
		"environment": s.cfg.AppEnv,
		"endpoints": gin.H{
			"health":   "/health",
			"test":     "/api/test",
			"payments": "/api/payment/initiate",
			"callback": "/api/payment-callback",
			"telegram": "/api/telegram/webhook",
			"realtime": "/api/ws",
		},
	})
}

func (s *Server) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     "API is working",
		"environment": s.cfg.AppEnv,
		"timestamp":   s.now().Unix(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	mongoStatus := "ok"

	if s.mongo == nil {
		mongoStatus = "error"
		s.logger.WithField("event", "health_mongo_missing").Warn("mongo checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), mongoPingTimeout)
		err := s.mongo.Ping(pingCtx)
		cancel()

		if err != nil {
			mongoStatus = "error"
			s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
		}
	}
	if mongoStatus != "ok" {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              status,
		"environment":         s.cfg.AppEnv,
		"chapa_configured":    s.cfg.ChapaConfigured(),
		"store_configured":    s.mongo != nil,
		"telegram_configured": s.cfg.TelegramToken != "",
		"invoices_enabled":    s.cfg.InvoicesEnabled(),
		"mongo":               mongoStatus,
		"timestamp":           s.now().Unix(),
	})
}

// handleChapaCallbackRedirect serves Chapa's GET redirect (trx_ref query) and
// plain reachability checks.
func (s *Server) handleChapaCallbackRedirect(c *gin.Context) {
	txRef := strings.TrimSpace(c.Query("trx_ref"))
	if txRef == "" {
		txRef = strings.TrimSpace(c.Query("tx_ref"))
	}
	if txRef == "" {
		c.JSON(http.StatusOK, gin.H{"message": "Payment callback endpoint is working"})
		return
	}

	s.settleChapa(c, txRef)
}

func (s *Server) handleChapaCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data received"})
		return
	}

	txRef := strings.TrimSpace(req.TxRef)
	if txRef == "" {
		txRef = strings.TrimSpace(req.TrxRef)
	}
	if txRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing transaction reference"})
		return
	}

	s.settleChapa(c, txRef)
}

func (s *Server) settleChapa(c *gin.Context, txRef string) {
	if s.payments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payments unavailable"})
		return
	}

	log := s.logger.WithField("tx_ref", txRef)
	result, err := s.payments.HandleChapaCallback(c.Request.Context(), txRef)
	switch {
	case err == nil && result.Duplicate:
		c.JSON(http.StatusOK, gin.H{
			"status":  "already_processed",
			"message": "Payment already processed",
		})
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "Payment processed successfully",
			"balance": result.Balance,
		})
	case errors.Is(err, payment.ErrMissingReference):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing transaction reference"})
	case errors.Is(err, payment.ErrInProgress):
		c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
	case errors.Is(err, payment.ErrNotSuccessful):
		log.WithError(err).WithField("event", "chapa_callback_rejected").Warn("chapa reported unsuccessful payment")
		c.JSON(http.StatusPaymentRequired, gin.H{
			"status":  "error",
			"message": "Payment verification failed",
		})
	case errors.Is(err, payment.ErrUserNotFound):
		log.WithError(err).WithField("event", "chapa_callback_rejected").Warn("paid reference has no user")
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, chapa.ErrTransactionNotFound), errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
	case errors.Is(err, chapa.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Chapa is not configured"})
	default:
		s.internalError(c, "chapa_callback_error", err)
	}
}

// handleTelegramWebhook hands the raw request to the bot's webhook handler;
// updates are then processed by the bot's default handler.
func (s *Server) handleTelegramWebhook(c *gin.Context) {
	if s.webhook == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram webhook mode is disabled"})
		return
	}

	s.webhook.ServeHTTP(c.Writer, c.Request)
}

// handleTelegramPaymentWebhook processes one update synchronously so the
// caller learns whether settlement succeeded.
func (s *Server) handleTelegramPaymentWebhook(c *gin.Context) {
	if s.updates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram updates unavailable"})
		return
	}

	var update models.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid update payload"})
		return
	}

	if err := s.updates.Process(c.Request.Context(), &update); err != nil {
		if errors.Is(err, payment.ErrInProgress) {
			c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
			return
		}
		s.internalError(c, "telegram_payment_webhook_error", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTelegramLogin(c *gin.Context) {
	if s.identities == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database unavailable"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing telegram_id"})
		return
	}
	telegramID, err := strconv.ParseInt(req.TelegramID.String(), 10, 64)
	if err != nil || telegramID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing telegram_id"})
		return
	}

	res, err := s.identities.ResolveByChat(c.Request.Context(), identity.Identity{
		TelegramID: telegramID,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	})
	if err != nil {
		s.internalError(c, "telegram_login_error", err)
		return
	}

	token, expiresAt, err := s.tokens.Issue(res.User.UID)
	if err != nil {
		s.internalError(c, "token_issue_error", err)
		return
	}

	s.logger.WithFields(logging.Fields{
		"event":   "telegram_login",
		"uid":     res.User.UID,
		"created": res.Created,
	}).Info("issued session token")

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.Unix(),
		"user":       res.User,
		"created":    res.Created,
	})
}

func (s *Server) handleTelegramChatID(c *gin.Context) {
	if s.users == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database unavailable"})
		return
	}

	user, err := s.users.Get(c.Request.Context(), c.GetString(contextUIDKey))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"chatId": nil})
			return
		}
		s.internalError(c, "telegram_chat_id_error", err)
		return
	}

	if user.TelegramChatID == "" {
		c.JSON(http.StatusOK, gin.H{"chatId": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": user.TelegramChatID})
}

// handleInitiatePayment serves both checkout routes; the wallet route also
// requires a phone number.
func (s *Server) handleInitiatePayment(requirePhone bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.payments == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payments unavailable"})
			return
		}

		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No JSON data provided"})
			return
		}

		uid := c.GetString(contextUIDKey)
		session, err := s.payments.InitiateChapa(c.Request.Context(), uid, payment.Checkout{
			Amount:       req.Amount.String(),
			Email:        req.Email,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Phone:        req.PhoneNumber,
			RequirePhone: requirePhone,
		})
		if err != nil {
			switch {
			case errors.Is(err, payment.ErrInvalidCheckout),
				errors.Is(err, domain.ErrInvalidAmount),
				errors.Is(err, domain.ErrAmountOutOfRange):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, chapa.ErrNotConfigured):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Chapa is not configured"})
			default:
				s.internalError(c, "payment_initiate_error", err)
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "Payment initialized successfully",
			"data":    session,
		})
	}
}

func (s *Server) handleVerifyPayment(c *gin.Context) {
	if s.payments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payments unavailable"})
		return
	}

	txRef := strings.TrimSpace(c.Param("tx_ref"))
	if txRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing transaction reference"})
		return
	}

	verification, err := s.payments.VerifyChapa(c.Request.Context(), txRef)
	if err != nil {
		switch {
		case errors.Is(err, chapa.ErrTransactionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Transaction not found"})
		case errors.Is(err, chapa.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Chapa is not configured"})
		default:
			s.internalError(c, "payment_verify_error", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Payment verified successfully",
		"paid":    verification.Paid(),
		"data":    verification,
	})
}

func (s *Server) handlePaymentHistory(c *gin.Context) {
	if s.transactions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database unavailable"})
		return
	}

	limit, err := queryInt(c, "limit", defaultHistoryLimit)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}

	txs, err := s.transactions.ListByUser(c.Request.Context(), c.GetString(contextUIDKey), limit, offset)
	if err != nil {
		s.internalError(c, "payment_history_error", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"transactions": txs,
			"total":        len(txs),
			"limit":        limit,
			"offset":       offset,
		},
	})
}

func (s *Server) handleWallet(c *gin.Context) {
	if s.wallets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database unavailable"})
		return
	}

	wallet, err := s.wallets.Get(c.Request.Context(), c.GetString(contextUIDKey))
	if err != nil {
		s.internalError(c, "wallet_read_error", err)
		return
	}

	c.JSON(http.StatusOK, wallet)
}

func (s *Server) handleWebsocket(c *gin.Context) {
	if s.sockets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Realtime unavailable"})
		return
	}

	s.sockets.Serve(c.Writer, c.Request, c.GetString(contextUIDKey))
}

func (s *Server) handleAdminBonus(c *gin.Context) {
	if s.admin == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Admin unavailable"})
		return
	}

	var req bonusRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid and amount are required"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidAmount.Error()})
		return
	}

	actor := c.GetString(contextUIDKey)
	wallet, err := s.admin.Bonus(c.Request.Context(), actor, strings.TrimSpace(req.UID), amount.Round(2), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		default:
			s.internalError(c, "admin_bonus_error", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "wallet": wallet})
}

func (s *Server) handleAdminStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stats unavailable"})
		return
	}

	stats, err := s.stats.Collect(c.Request.Context())
	if err != nil {
		s.internalError(c, "admin_stats_error", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) internalError(c *gin.Context, event string, err error) {
	s.logger.WithFields(logging.Fields{
		"event": event,
		"path":  c.FullPath(),
		"uid":   c.GetString(contextUIDKey),
	}).WithError(err).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func queryInt(c *gin.Context, key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
