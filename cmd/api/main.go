package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-escrow/config"
	"marketplace-escrow/internal/adapter/gateway"
	httpHandler "marketplace-escrow/internal/adapter/http/handler"
	"marketplace-escrow/internal/adapter/http/middleware"
	"marketplace-escrow/internal/adapter/messaging/rabbitmq"
	memStorage "marketplace-escrow/internal/adapter/storage/memory"
	pgStorage "marketplace-escrow/internal/adapter/storage/postgres"
	redisStorage "marketplace-escrow/internal/adapter/storage/redis"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/internal/service"
	"marketplace-escrow/pkg/logger"
	"marketplace-escrow/pkg/metrics"
	"marketplace-escrow/pkg/resilience"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// storage bundles the repositories of one backend.
type storage struct {
	accounts   ports.AccountRepository
	ledger     ports.LedgerRepository
	deals      ports.DealRepository
	catalog    ports.ProductCatalog
	audit      ports.AuditRepository
	transactor ports.DBTransactor
	checkers   []ports.HealthChecker
	close      func()
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("driver", cfg.Database.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting escrow ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)
	checkers := append(store.checkers, redisStorage.NewHealthCheck(rdb))

	m := metrics.New()

	escrowOwner, platformOwner, err := cfg.Escrow.Owners()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid escrow owner IDs")
	}
	boostFee, err := cfg.Escrow.BoostFeeAmount()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid boost fee")
	}

	// Outbound: payment processor and event broker
	gw := gateway.NewClient(
		&http.Client{Timeout: cfg.Gateway.Timeout},
		cfg.Gateway.BaseURL,
		cfg.Gateway.SecretKey,
		resilience.NewCircuitBreaker("payment-gateway", cfg.Gateway.BreakerTimeout),
		resilience.Config{MaxRetries: cfg.Gateway.MaxRetries, InitialBackoff: cfg.Gateway.InitialBackoff},
		m,
		logger.Component(log, "gateway"),
	)

	var publisher ports.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		p, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		defer p.Close()
		publisher = p
		log.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("RabbitMQ connected")
	} else {
		log.Warn().Msg("No broker configured, events are logged only")
		publisher = rabbitmq.NewLogPublisher(logger.Component(log, "events"))
	}

	// Core services
	sigSvc := service.NewHMACSignatureService(cfg.Gateway.SignatureTolerance)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	notifier := service.NewNotificationService(publisher, sigSvc, cfg.Events.SigningKey,
		service.DefaultNotifyRetryIntervals, m, logger.Component(log, "notifier"))
	auditSvc := service.NewAuditService(store.audit, logger.Component(log, "audit"))
	transfers := service.NewTransferService(store.accounts, store.ledger, store.transactor, m, logger.Component(log, "transfer"))

	dealSvc := service.NewDealService(transfers, store.deals, store.accounts, store.catalog, notifier, escrowOwner, m, logger.Component(log, "deals"))
	balanceSvc := service.NewBalanceService(transfers, store.accounts, store.ledger, gw, idempotencyCache, service.BalanceConfig{
		Currency:        cfg.Escrow.Currency,
		PlatformOwnerID: platformOwner,
		BoostFee:        boostFee,
		BoostDays:       cfg.Escrow.BoostDays,
	}, logger.Component(log, "balance"))
	reportingSvc := service.NewReportingService(store.accounts, store.ledger, cfg.Escrow.Currency)
	reconcilerSvc := service.NewReconcilerService(
		transfers, store.ledger, sigSvc, cfg.Gateway.WebhookSecret, idempotencyCache, notifier, m, logger.Component(log, "reconciler"),
	)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		DealSvc:        dealSvc,
		BalanceSvc:     balanceSvc,
		ReportingSvc:   reportingSvc,
		ReconcilerSvc:  reconcilerSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		ReadLimit:      middleware.RateLimitRule{Limit: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window},
		HealthCheckers: checkers,
		AuditSvc:       auditSvc,
		Metrics:        m,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		// Let committed operations finish publishing their events.
		if err := notifier.Wait(shutdownCtx); err != nil {
			return fmt.Errorf("draining events: %w", err)
		}
		return auditSvc.Wait(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Server exited")
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory storage, data is lost on exit")
		s := memStorage.NewStore()
		return &storage{
			accounts:   memStorage.NewAccountRepo(s),
			ledger:     memStorage.NewLedgerRepo(s),
			deals:      memStorage.NewDealRepo(s),
			catalog:    memStorage.NewProductCatalog(s),
			audit:      memStorage.NewAuditRepo(s),
			transactor: s,
			checkers:   []ports.HealthChecker{s},
			close:      func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("PostgreSQL connected")
	return &storage{
		accounts:   pgStorage.NewAccountRepo(pool),
		ledger:     pgStorage.NewLedgerRepo(pool),
		deals:      pgStorage.NewDealRepo(pool),
		catalog:    pgStorage.NewProductRepo(pool, cfg.Escrow.Currency),
		audit:      pgStorage.NewAuditRepo(pool),
		transactor: pgStorage.NewTransactor(pool, cfg.Database.LockTimeout),
		checkers:   []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:      pool.Close,
	}, nil
}
