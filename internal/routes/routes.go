package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lendwallet/walletd/internal/auth"
	"github.com/lendwallet/walletd/internal/config"
	"github.com/lendwallet/walletd/internal/funding"
	"github.com/lendwallet/walletd/internal/identity"
	"github.com/lendwallet/walletd/internal/ledger"
	"github.com/lendwallet/walletd/internal/middleware"
	"github.com/lendwallet/walletd/internal/payments"
	"github.com/lendwallet/walletd/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *zap.Logger
	// Store backs the ledger. It is the Postgres store unless running in
	// development without a database.
	Store    ledger.Store
	Payouts  ledger.PayoutGateway
	Deposits ledger.DepositVerifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Store == nil {
		return fmt.Errorf("ledger store is required")
	}
	if d.Payouts == nil {
		return fmt.Errorf("payout gateway is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	ledgerSvc := ledger.NewService(d.Store, d.Payouts, d.Logger, ledger.Options{
		Limits:           ledger.Limits{Min: d.Cfg.MinAmount, Max: d.Cfg.MaxAmount},
		OperationTimeout: d.Cfg.OperationTimeout,
		PayoutTimeout:    d.Cfg.PayoutTimeout,
		DefaultCurrency:  d.Cfg.DefaultCurrency,
		Deposits:         d.Deposits,
	})

	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}
	identitySvc := identity.NewService(identityRepo, ledgerSvc, d.Cfg.DefaultCurrency, d.Logger)
	tokens := auth.NewTokenService(d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, identity.NewHandler(identitySvc))
	RegisterAuthRoutes(api, auth.NewHandler(identitySvc, tokens, ledgerSvc, d.Logger),
		middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimit, d.Logger))

	// Protected routes. Idempotency runs after JWTAuth so keys are scoped per user.
	protected := api.Group("",
		middleware.JWTAuth(tokens, identitySvc),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	)
	RegisterMeRoute(protected, identitySvc, ledgerSvc)
	RegisterWalletRoutes(protected, wallet.NewHandler(ledgerSvc))
	RegisterPaymentRoutes(protected, payments.NewHandler(ledgerSvc))
	RegisterFundingRoutes(protected, funding.NewHandler(ledgerSvc, d.Logger))

	return nil
}
