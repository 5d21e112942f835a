// Package httpapi exposes the gateway's HTTP surface: payment callbacks,
// Telegram webhooks, the authenticated wallet API and health checks.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bingo_gateway/internal/chapa"
	"bingo_gateway/internal/config"
	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/feature/identity"
	"bingo_gateway/internal/feature/payment"
	"bingo_gateway/internal/logging"
	"bingo_gateway/internal/store"
)

const (
	mongoPingTimeout  = 2 * time.Second
	readHeaderTimeout = 5 * time.Second
	listenPrefix      = ":"
	serviceVersion    = "2.0.0"
)

// MongoChecker is the subset of the store used by /health.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

type paymentService interface {
	InitiateChapa(ctx context.Context, uid string, c payment.Checkout) (payment.CheckoutSession, error)
	HandleChapaCallback(ctx context.Context, txRef string) (payment.Result, error)
	VerifyChapa(ctx context.Context, txRef string) (chapa.Verification, error)
}

type updateProcessor interface {
	Process(ctx context.Context, update *models.Update) error
}

type identityResolver interface {
	ResolveByChat(ctx context.Context, id identity.Identity) (identity.Resolution, error)
}

type tokenIssuer interface {
	Issue(uid string) (string, time.Time, error)
	Parse(raw string) (string, error)
}

type userReader interface {
	Get(ctx context.Context, uid string) (domain.User, error)
}

type walletReader interface {
	Get(ctx context.Context, uid string) (domain.Wallet, error)
}

type transactionLister interface {
	ListByUser(ctx context.Context, uid string, limit, offset int64) ([]domain.Transaction, error)
}

type socketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, uid string)
}

type bonusGranter interface {
	Bonus(ctx context.Context, actor, uid string, amount decimal.Decimal, reason string) (domain.Wallet, error)
}

type statsCollector interface {
	Collect(ctx context.Context) (store.Stats, error)
}

// Options wires the HTTP server. Nil collaborators disable the routes that
// depend on them.
type Options struct {
	Config       config.Config
	Mongo        MongoChecker
	Payments     paymentService
	Updates      updateProcessor
	Webhook      http.Handler
	Identities   identityResolver
	Tokens       tokenIssuer
	Users        userReader
	Wallets      walletReader
	Transactions transactionLister
	Sockets      socketServer
	Admin        bonusGranter
	Stats        statsCollector
	Logger       *logrus.Entry
	Now          func() time.Time
}

// Server hosts the gin engine and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	engine *gin.Engine
	logger *logrus.Entry

	cfg          config.Config
	mongo        MongoChecker
	payments     paymentService
	updates      updateProcessor
	webhook      http.Handler
	identities   identityResolver
	tokens       tokenIssuer
	users        userReader
	wallets      walletReader
	transactions transactionLister
	sockets      socketServer
	admin        bonusGranter
	stats        statsCollector
	now          func() time.Time
}

// NewServer builds the router and an http.Server listening on cfg.HTTPPort.
func NewServer(opts Options) (*Server, error) {
	if opts.Tokens == nil {
		return nil, errors.New("token issuer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Logger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if opts.Config.AppEnv != config.EnvDevelopment && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &Server{
		logger:       logger,
		cfg:          opts.Config,
		mongo:        opts.Mongo,
		payments:     opts.Payments,
		updates:      opts.Updates,
		webhook:      opts.Webhook,
		identities:   opts.Identities,
		tokens:       opts.Tokens,
		users:        opts.Users,
		wallets:      opts.Wallets,
		transactions: opts.Transactions,
		sockets:      opts.Sockets,
		admin:        opts.Admin,
		stats:        opts.Stats,
		now:          now,
	}

	srv.engine = srv.routes()
	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", listenPrefix, opts.Config.HTTPPort),
		Handler:           srv.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv, nil
}

// Handler returns the gin engine; used by tests and embedding servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe starts the HTTP server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "http_listen",
		"addr":  s.server.Addr,
	}).Info("starting http server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server listen: %w", err)
	}

	s.logger.WithField("event", "http_stopped").Info("http server stopped")
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware(s.cfg.CORSOrigins))

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.GET("/test", s.handleTest)
	api.GET("/payment-callback", s.handleChapaCallbackRedirect)
	api.POST("/payment-callback", s.handleChapaCallback)

	tg := api.Group("/telegram")
	tg.POST("/webhook", s.requireTelegramSecret(), s.handleTelegramWebhook)
	tg.POST("/payment-webhook", s.requireTelegramSecret(), s.handleTelegramPaymentWebhook)
	tg.POST("/login", s.handleTelegramLogin)

	authed := api.Group("")
	authed.Use(s.requireAuth())
	authed.GET("/telegram/user/telegram-chat-id", s.handleTelegramChatID)
	authed.POST("/payment/initiate", s.handleInitiatePayment(false))
	authed.POST("/wallet/deposit", s.handleInitiatePayment(true))
	authed.GET("/payment/verify/:tx_ref", s.handleVerifyPayment)
	authed.GET("/payment/history", s.handlePaymentHistory)
	authed.GET("/wallet", s.handleWallet)
	authed.GET("/ws", s.handleWebsocket)

	admin := authed.Group("/admin")
	admin.Use(s.requireAdmin())
	admin.POST("/bonus", s.handleAdminBonus)
	admin.GET("/stats", s.handleAdminStats)

	return r
}
