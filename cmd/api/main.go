package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"avalo-ledger/internal/auth"
	"avalo-ledger/internal/config"
	"avalo-ledger/internal/httpapi"
	"avalo-ledger/internal/ledger"
	"avalo-ledger/internal/outbox"
	"avalo-ledger/internal/payout"
	"avalo-ledger/internal/purchase"
	"avalo-ledger/internal/refund"
	"avalo-ledger/internal/spend"
	"avalo-ledger/internal/store/postgres"
	"avalo-ledger/internal/wallet"
	"avalo-ledger/pkg/logger"
	"avalo-ledger/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	producer, err := utils.OpenKafkaProducer(utils.KafkaConfig{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Error("kafka init failed", "err", err)
		os.Exit(1)
	}
	defer producer.Close()

	// Engine wiring: one store, one emitter, coordinators on top.
	st := postgres.New(db)
	events := outbox.NewEmitter(cfg.Kafka.TransactionsTopic, cfg.Kafka.PayoutsTopic)
	attempts := cfg.Ledger.TxMaxAttempts

	walletStore := wallet.NewStore(st, attempts)
	ledgerSvc := ledger.NewService(st)
	limiter := purchase.NewRedisLimiter(rdb, cfg.Purchase.MaxPerWindow, cfg.Purchase.Window)

	h := httpapi.Handlers{
		Auth:     authManager,
		Wallet:   walletStore,
		Ledger:   ledgerSvc,
		Purchase: purchase.NewService(st, limiter, events, log, attempts),
		Spend:    spend.NewCoordinator(st, events, log, cfg.Ledger.PlatformAccountID, attempts),
		Refund:   refund.NewCoordinator(st, events, log, cfg.Ledger.PlatformAccountID, attempts),
		Payout: payout.NewManager(st, events, log, payout.Config{
			MinimumPayoutTokens: cfg.Payout.MinTokens,
			RatePerTokenMinor:   cfg.Payout.RatePerTokenMinor,
			FeePercent:          cfg.Payout.FeePercent,
		}, attempts),
	}

	// Outbox relay: single background drainer per process.
	relay := outbox.NewRelay(st, outbox.KafkaPublisher{Producer: producer}, log)
	go relay.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, auth.RequireAccessToken(authManager), h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
