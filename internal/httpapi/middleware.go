package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/logging"
)

const (
	contextUIDKey        = "uid"
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	bearerPrefix         = "Bearer "
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(logging.Fields{
			"event":       "http_request",
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if uid := c.GetString(contextUIDKey); uid != "" {
			entry = entry.WithField("uid", uid)
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("http request failed")
			return
		}
		entry.Debug("http request")
	}
}

const corsMaxAge = 12 * time.Hour

func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(corsConfig(origins))
}

// corsConfig allows the configured origins. "*" allows any origin; the
// request origin is echoed back so credentialed requests keep working.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	}

	wildcard := false
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch {
		case origin == "*":
			wildcard = true
		case strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://"):
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}

	if wildcard || len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = nil
		cfg.AllowOriginFunc = func(string) bool { return wildcard }
	}
	return cfg
}

// requireAuth accepts a bearer token from the Authorization header, or from
// the token query parameter for websocket upgrades.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw != "" && !strings.HasPrefix(raw, bearerPrefix) {
			abortError(c, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}
		if raw == "" {
			raw = c.Query("token")
		}
		if strings.TrimSpace(raw) == "" {
			abortError(c, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}

		uid, err := s.tokens.Parse(raw)
		if err != nil {
			abortError(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(contextUIDKey, uid)
		c.Next()
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.users == nil {
			abortError(c, http.StatusServiceUnavailable, "User store unavailable")
			return
		}

		uid := c.GetString(contextUIDKey)
		user, err := s.users.Get(c.Request.Context(), uid)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				abortError(c, http.StatusForbidden, "Admin access required")
				return
			}
			s.internalError(c, "admin_lookup_error", err)
			c.Abort()
			return
		}
		if !domain.IsAdmin(user.Role) {
			s.logger.WithFields(logging.Fields{
				"event": "admin_denied",
				"uid":   uid,
			}).Warn("non-admin called admin route")
			abortError(c, http.StatusForbidden, "Admin access required")
			return
		}

		c.Next()
	}
}

// requireTelegramSecret enforces the webhook secret when one is configured.
func (s *Server) requireTelegramSecret() gin.HandlerFunc {
	secret := s.cfg.TelegramWebhookSecret
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		got := c.GetHeader(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			s.logger.WithFields(logging.Fields{
				"event": "telegram_webhook_rejected",
				"path":  c.FullPath(),
			}).Warn("telegram webhook secret mismatch")
			abortError(c, http.StatusUnauthorized, "Invalid webhook secret")
			return
		}

		c.Next()
	}
}

func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
