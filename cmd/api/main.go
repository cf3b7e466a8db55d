package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lendwallet/walletd/internal/config"
	"github.com/lendwallet/walletd/internal/funding"
	"github.com/lendwallet/walletd/internal/infra"
	"github.com/lendwallet/walletd/internal/ledger"
	"github.com/lendwallet/walletd/internal/logging"
	"github.com/lendwallet/walletd/internal/notification"
	"github.com/lendwallet/walletd/internal/outbox"
	"github.com/lendwallet/walletd/internal/routes"
	"github.com/lendwallet/walletd/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.With(zap.String("app", cfg.AppName), zap.String("env", cfg.AppEnv))

	if err := run(cfg, logger); err != nil {
		logger.Error("walletd stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	var (
		db          *pgxpool.Pool
		store       ledger.Store
		outboxStore outbox.Store
	)
	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			version, err := infra.Migrate(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			logger.Info("schema migrated", zap.Uint("version", version))
		}
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{
			ConnAttempts: 10,
			RetryDelay:   2 * time.Second,
		}, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		db = pool
		store = ledger.NewPostgresStore(pool, cfg.LockTimeout)
		outboxStore = outbox.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger store")
		mem := ledger.NewMemoryStore(cfg.LockTimeout)
		store = mem
		outboxStore = mem
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", zap.Error(err))
			}
		}()
		cache = client
	} else {
		logger.Warn("REDIS_URL not set, HTTP idempotency cache and login rate limit disabled")
	}

	var (
		payouts  ledger.PayoutGateway   = funding.StaticGateway{}
		deposits ledger.DepositVerifier = funding.NewStaticVerifier()
	)
	if cfg.StripeSecretKey != "" {
		gw, err := funding.NewStripeGateway(cfg.StripeSecretKey, nil)
		if err != nil {
			return err
		}
		payouts, deposits = gw, gw
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, payouts are simulated and deposit references cannot be verified")
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		kn := notification.NewKafkaNotifier(writer, logger)
		defer func() {
			if err := kn.Close(); err != nil {
				logger.Warn("close kafka writer", zap.Error(err))
			}
		}()
		notifier = kn
	}

	srv, err := server.New(routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Logger:   logger,
		Store:    store,
		Payouts:  payouts,
		Deposits: deposits,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	var relayWG sync.WaitGroup
	relayWG.Add(1)
	go func() {
		defer relayWG.Done()
		outbox.NewRelay(outboxStore, notifier, cfg.OutboxPollInterval, 0, logger).Run(relayCtx)
	}()
	defer func() {
		stopRelay()
		relayWG.Wait()
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Address()))
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-srvErrCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
