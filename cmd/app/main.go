// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-payments/internal/config"
	"marketplace-payments/internal/domain/ports/adapter"
	pg "marketplace-payments/internal/infra/db/postgres"
	httpapi "marketplace-payments/internal/infra/http"
	"marketplace-payments/internal/infra/logging"
	"marketplace-payments/internal/infra/metrics"
	"marketplace-payments/internal/infra/notify"
	"marketplace-payments/internal/infra/payment"
	red "marketplace-payments/internal/infra/redis"
	"marketplace-payments/internal/infra/sched"
	"marketplace-payments/internal/infra/web"
	"marketplace-payments/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop gateway, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Runtime.Dev {
		log.Printf("[DEV MODE] Enabled")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	// ---- Metrics ----
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	userRepo := pg.NewUserRepo(pool)
	txRepo := pg.NewTransactionRepo(pool)
	entRepo := pg.NewEntitlementRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Payment gateway ----
	var gateway adapter.PaymentGateway
	if cfg.Runtime.Dev && cfg.Payment.Daraja.ConsumerKey == "" {
		logger.Warn().Msg("no Daraja credentials, using noop gateway")
		gateway = payment.NewNoopGateway()
	} else {
		gateway = payment.NewDarajaGateway(
			cfg.Payment.Daraja.ConsumerKey,
			cfg.Payment.Daraja.ConsumerSecret,
			cfg.Payment.Daraja.Shortcode,
			cfg.Payment.Daraja.Passkey,
			cfg.Payment.Daraja.CallbackURL,
			cfg.Payment.Daraja.Sandbox,
		)
	}

	// ---- Use cases ----
	notifier := notify.NewLogNotifier(logger)
	payUC := usecase.NewPaymentUseCase(txRepo, entRepo, gateway, logger)
	retrier := sched.NewRetryDispatcher(cfg.Scheduler.RetryDelay, payUC, logger)
	cbUC := usecase.NewCallbackUseCase(txRepo, userRepo, entRepo, txManager, retrier, cfg.Scheduler.MaxRetries, logger)
	entUC := usecase.NewEntitlementUseCase(entRepo, txRepo, userRepo, payUC, notifier, logger)
	prorUC := usecase.NewProrationUseCase(txRepo, userRepo, entRepo, txManager, notifier, cfg.Scheduler.ProrationLookback, cfg.Payment.PayLinkBase, logger)
	statsUC := usecase.NewStatsUseCase(userRepo, entRepo, txRepo)

	// ---- Workers ----
	expiryWorker := sched.NewExpiryWorker(cfg.Scheduler.ExpiryInterval, entUC, logger)
	go func() { _ = expiryWorker.Run(ctx) }()
	prorationWorker := sched.NewProrationWorker(cfg.Scheduler.ProrationInterval, prorUC, logger)
	go func() { _ = prorationWorker.Run(ctx) }()

	// ---- Public API server ----
	apiServer := httpapi.NewServer(cfg, payUC, cbUC, entUC, rateLimiter, logger)
	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("api server error: %v", err)
		}
	}()

	// ---- Admin server ----
	adminServer := web.NewServer(statsUC, payUC, cfg.Security.AdminAPIKey, cfg.Security.JWTSecret, logger)
	adminMux := http.NewServeMux()
	adminServer.RegisterRoutes(adminMux)
	admin := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Admin.Port), Handler: adminMux}
	go func() {
		logger.Info().Int("port", cfg.Admin.Port).Msg("admin API listening")
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server error: %v", err)
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Println("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = admin.Shutdown(shutdownCtx)
	retrier.Stop()
	cancel()
}
