package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bingo_gateway/internal/auth"
	"bingo_gateway/internal/chapa"
	"bingo_gateway/internal/config"
	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/feature/admin"
	"bingo_gateway/internal/feature/identity"
	"bingo_gateway/internal/feature/payment"
	"bingo_gateway/internal/httpapi"
	"bingo_gateway/internal/lock"
	"bingo_gateway/internal/logging"
	"bingo_gateway/internal/realtime"
	"bingo_gateway/internal/store"
	"bingo_gateway/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	redisConnectTimeout     = 5 * time.Second
	adminBootstrapTimeout   = 5 * time.Second
	httpShutdownTimeout     = 10 * time.Second
	telegramShutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the Telegram bot (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			return serve(cfg, logger)
		},
	}
}

func serve(cfg config.Config, logger *logrus.Entry) error {
	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
		"chapa":    cfg.ChapaConfigured(),
		"invoices": cfg.InvoicesEnabled(),
		"webhook":  cfg.WebhookMode(),
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("mongo connection error: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancelShutdown()
		if err := mongoManager.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
			return
		}
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}()

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	err = mongoManager.EnsureBaseIndexes(indexCtx)
	cancelIndexes()
	if err != nil {
		return fmt.Errorf("mongo index setup error: %w", err)
	}

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	locker, closeLocker, err := openLocker(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	hub := realtime.NewHub()
	users := domain.NewUserRepository(mongoManager.Users())
	wallets := domain.NewWalletRepository(mongoManager.Wallets())
	games := domain.NewGameRoomRepository(mongoManager.GameRooms())
	transactions := domain.NewTransactionRepository(mongoManager.Transactions())
	resolver := identity.NewResolver(users, logger)

	settler := payment.NewSettler(transactions, wallets, games, locker, hub, logger)
	payments := payment.NewService(payment.Options{
		Settler:         settler,
		Transactions:    transactions,
		Users:           users,
		Games:           games,
		Identities:      resolver,
		Chapa:           chapa.NewClient(cfg.ChapaBaseURL, cfg.ChapaSecretKey, nil),
		CallbackBaseURL: cfg.CallbackBaseURL,
		FrontendURL:     cfg.FrontendURL,
		Logger:          logger,
	})

	admins := admin.NewService(mongoManager.Users(), users, wallets, transactions, hub, logger)
	adminCtx, cancelAdmin := context.WithTimeout(context.Background(), adminBootstrapTimeout)
	err = admins.EnsureAdmins(adminCtx, cfg.AdminUIDs)
	cancelAdmin()
	if err != nil {
		return fmt.Errorf("admin bootstrap error: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, auth.DefaultTTL)
	if err != nil {
		return fmt.Errorf("token issuer setup error: %w", err)
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("telegram client setup error: %w", err)
	}

	router := telegram.NewRouter(telegram.RouterOptions{
		Messenger:   tgClient,
		Identities:  resolver,
		Payments:    payments,
		Wallets:     wallets,
		Games:       games,
		Profiles:    users,
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	})
	tgClient.Handle(router)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	var webhook http.Handler
	if tgClient.WebhookMode() {
		webhook = tgClient.WebhookHandler()
	}

	api, err := httpapi.NewServer(httpapi.Options{
		Config:       cfg,
		Mongo:        mongoManager,
		Payments:     payments,
		Updates:      router,
		Webhook:      webhook,
		Identities:   resolver,
		Tokens:       issuer,
		Users:        users,
		Wallets:      wallets,
		Transactions: transactions,
		Sockets:      realtime.NewServer(hub, cfg.CORSOrigins, logger),
		Admin:        admins,
		Stats:        store.NewStatsProvider(mongoManager.Users(), mongoManager.GameRooms(), mongoManager.Transactions()),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("http server setup error: %w", err)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	defer cancelTelegram()
	tgDone := make(chan struct{})
	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- api.ListenAndServe()
	}()

	var runErr error
	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, shutting down")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	case err := <-httpErr:
		if err != nil {
			runErr = err
			logger.WithError(err).WithField("event", "http_stopped_early").Error("http server stopped before shutdown signal")
		}
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := api.Shutdown(httpCtx); err != nil {
		logger.WithError(err).Error("http shutdown error")
	}
	cancelHTTP()

	cancelTelegram()
	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
	return runErr
}

// openLocker returns the Redis locker when REDIS_URL is set and the
// in-process locker otherwise.
func openLocker(cfg config.Config, logger *logrus.Entry) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		logger.WithField("event", "lock_local").Warn("REDIS_URL not set, settlement locks are in-process only")
		return lock.NewLocalLocker(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	locker, err := lock.OpenRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection error: %w", err)
	}

	logger.WithField("event", "redis_connect").Info("connected to redis")
	return locker, func() {
		if err := locker.Close(); err != nil {
			logger.WithError(err).Warn("redis close error")
		}
	}, nil
}
