// Command api wires every package in internal/ into the running auth
// service: config, telemetry, the Postgres pool, the distributed KV store,
// the RSA key pairs, the rate-limit tiers, the audit chain, the fraud
// scorer, the payment gate, and the gin router, then serves them behind a
// graceful-shutdown HTTP server. Same fx-wiring shape as the teacher's
// cmd/auth/main.go, with the OAuth/org surface replaced by the auth-
// orchestrator, session-rotation, audit, anomaly, and payment providers
// this service actually needs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/shieldcart-auth/internal/anomaly"
	"github.com/smallbiznis/shieldcart-auth/internal/audit"
	"github.com/smallbiznis/shieldcart-auth/internal/config"
	"github.com/smallbiznis/shieldcart-auth/internal/cryptoutil"
	"github.com/smallbiznis/shieldcart-auth/internal/httpapi"
	authjwt "github.com/smallbiznis/shieldcart-auth/internal/jwt"
	"github.com/smallbiznis/shieldcart-auth/internal/mailer"
	"github.com/smallbiznis/shieldcart-auth/internal/payment"
	"github.com/smallbiznis/shieldcart-auth/internal/ratelimit"
	"github.com/smallbiznis/shieldcart-auth/internal/repository"
	"github.com/smallbiznis/shieldcart-auth/internal/secret"
	"github.com/smallbiznis/shieldcart-auth/internal/server"
	"github.com/smallbiznis/shieldcart-auth/internal/service"
	"github.com/smallbiznis/shieldcart-auth/internal/session"
	"github.com/smallbiznis/shieldcart-auth/internal/store"
	"github.com/smallbiznis/shieldcart-auth/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newSessionRepository,
			newLoginAttemptRepository,
			newAuditRepository,
			newOrderRepository,
			newPaymentRepository,
			newWebhookEventRepository,
			newProductCatalogRepository,
			newRedisClient,
			newKV,
			newKVStatus,
			newAESGCMBox,
			newKeyManager,
			newTokenGenerator,
			newAuditWriter,
			newRotator,
			newMailer,
			newFailedLoginTracker,
			newGeneralLimiter,
			newRateLimitTiers,
			newScorer,
			newPaymentProvider,
			newPaymentGate,
			newAuthService,
			newAuthMiddleware,
			newAuthHandler,
			newPaymentHandler,
			newRoutes,
			httpapi.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

// newConfig loads environment configuration and, when VAULT_ENABLED, merges
// in a Vault secret overlay and starts the 30-minute token-renewal loop for
// the lifetime of the process. A bootstrap logger (not the otel-wired one —
// that depends on cfg) reports Vault problems; any failure here falls back
// to the environment values already loaded rather than aborting startup.
func newConfig(lc fx.Lifecycle) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if !cfg.VaultEnabled {
		return cfg, nil
	}

	bootstrap, _ := zap.NewProduction()
	if bootstrap == nil {
		bootstrap = zap.NewNop()
	}

	client, err := secret.NewClient(cfg.VaultAddr, cfg.VaultToken, "secret", cfg.ServiceName, bootstrap)
	if err != nil {
		bootstrap.Warn("vault client init failed, using environment configuration", zap.Error(err))
		return cfg, nil
	}

	fetchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	overlay, err := client.Fetch(fetchCtx)
	cancel()
	if err != nil {
		bootstrap.Warn("vault secret fetch failed, using environment configuration", zap.Error(err))
		return cfg, nil
	}
	cfg.ApplySecretOverlay(overlay)

	runCtx, stop := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go client.RenewLoop(runCtx, secret.RenewInterval)
			return nil
		},
		OnStop: func(context.Context) error {
			stop()
			return nil
		},
	})

	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newSessionRepository(pool *pgxpool.Pool) repository.SessionRepository {
	return repository.NewPostgresSessionRepo(pool)
}

func newLoginAttemptRepository(pool *pgxpool.Pool) repository.LoginAttemptRepository {
	return repository.NewPostgresLoginAttemptRepo(pool)
}

func newAuditRepository(pool *pgxpool.Pool) audit.Repository {
	return repository.NewPostgresAuditRepo(pool)
}

func newOrderRepository(pool *pgxpool.Pool) repository.OrderRepository {
	return repository.NewPostgresOrderRepo(pool)
}

func newPaymentRepository(pool *pgxpool.Pool) repository.PaymentRepository {
	return repository.NewPostgresPaymentRepo(pool)
}

func newWebhookEventRepository(pool *pgxpool.Pool) repository.WebhookEventRepository {
	return repository.NewPostgresWebhookEventRepo(pool)
}

func newProductCatalogRepository(pool *pgxpool.Pool) repository.ProductCatalogRepository {
	return repository.NewPostgresProductCatalogRepo(pool)
}

// newRedisClient connects to Redis when enabled; it returns a nil client
// rather than erroring when disabled, so newKV can fall through to the
// in-memory-only store without a dependency the operator chose not to run.
func newRedisClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (redis.UniversalClient, error) {
	if !cfg.RedisEnabled {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, degrading to in-memory store", zap.Error(err))
		_ = client.Close()
		return nil, nil
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}

// newKV builds the shared distributed KV store the rate limiter and
// failed-login tracker depend on, wrapping Redis in a DegradingKV that
// falls back to the in-process map on sustained failure, per the spec's
// backing-store contract.
func newKV(lc fx.Lifecycle, client redis.UniversalClient, logger *zap.Logger) store.KV {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})

	fallback := store.NewMemoryKV(ctx)
	if client == nil {
		return fallback
	}
	return store.NewDegradingKV(store.NewRedisKV(client), fallback, logger, 3, 200*time.Millisecond)
}

// staticDistributed reports a fixed distributed-mode status; used when the
// KV store has no Redis backing to degrade from (memory-only deployments).
type staticDistributed bool

func (s staticDistributed) Distributed() bool { return bool(s) }

// newKVStatus exposes whether distributed (Redis-backed) mode is active for
// the /healthz endpoint, per the spec's backing-store contract.
func newKVStatus(kv store.KV) httpapi.DistributedStatusReporter {
	if r, ok := kv.(httpapi.DistributedStatusReporter); ok {
		return r
	}
	return staticDistributed(false)
}

func newAESGCMBox(cfg config.Config) (*cryptoutil.AESGCMBox, error) {
	return cryptoutil.NewAESGCMBox(cfg.EncryptionKey)
}

func newKeyManager(cfg config.Config) (*authjwt.KeyManager, error) {
	return authjwt.NewKeyManager(
		cfg.JWTAccessPrivateKeyPath, "access-1",
		cfg.JWTRefreshPrivateKeyPath, "refresh-1",
	)
}

func newTokenGenerator(keys *authjwt.KeyManager, cfg config.Config) *authjwt.Generator {
	return authjwt.NewGenerator(keys, cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
}

func newAuditWriter(repo audit.Repository, cfg config.Config) *audit.Writer {
	return audit.NewWriter(repo, cfg.AuditKey)
}

func newRotator(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	tokens *authjwt.Generator,
	auditWriter *audit.Writer,
	ids *snowflake.Node,
	cfg config.Config,
) *session.Rotator {
	return session.NewRotator(sessions, users, tokens, auditWriter, ids, cfg.RefreshTokenTTL)
}

func newMailer(logger *zap.Logger) mailer.Mailer {
	return mailer.NewLoggingMailer(logger)
}

func newFailedLoginTracker(kv store.KV) *ratelimit.FailedLoginTracker {
	return ratelimit.NewFailedLoginTracker(kv)
}

func newGeneralLimiter(cfg config.Config) *ratelimit.GeneralLimiter {
	rps := float64(cfg.RateLimitMaxRequests) / cfg.RateLimitWindow.Seconds()
	return ratelimit.NewGeneralLimiter(rps, cfg.RateLimitMaxRequests, []string{"/healthz", "/.well-known/jwks.json"})
}

func newRateLimitTiers(kv store.KV) *ratelimit.Tiers {
	return ratelimit.NewTiers(kv)
}

func newScorer(orders repository.OrderRepository, logins repository.LoginAttemptRepository, payments repository.PaymentRepository) *anomaly.Scorer {
	return anomaly.NewScorer(orders, logins, payments)
}

func newPaymentProvider(cfg config.Config) payment.Provider {
	return payment.NewHTTPProvider(&http.Client{Timeout: 15 * time.Second}, cfg.PaymentProviderEndpoint, cfg.PaymentProviderSecret)
}

func newPaymentGate(
	catalog repository.ProductCatalogRepository,
	provider payment.Provider,
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	scorer *anomaly.Scorer,
	auditWriter *audit.Writer,
	ids *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
) *payment.Gate {
	alertFn := func(_ context.Context, alert payment.AnomalyAlert) {
		logger.Warn("order anomaly alert",
			zap.Int64("userId", alert.UserID),
			zap.Int64("orderId", alert.OrderID),
			zap.Int("score", alert.Score),
			zap.Strings("reasons", alert.Reasons),
		)
	}
	return payment.NewGate(catalog, provider, orders, payments, scorer, auditWriter, ids, cfg.FraudScoreThreshold, alertFn)
}

func newAuthService(
	users repository.UserRepository,
	loginAttempts repository.LoginAttemptRepository,
	rotator *session.Rotator,
	tokens *authjwt.Generator,
	auditWriter *audit.Writer,
	mailSender mailer.Mailer,
	failedLogins *ratelimit.FailedLoginTracker,
	box *cryptoutil.AESGCMBox,
	cfg config.Config,
	logger *zap.Logger,
) *service.AuthService {
	return service.NewAuthService(users, loginAttempts, rotator, tokens, auditWriter, mailSender, failedLogins, box, cfg, logger)
}

func newAuthMiddleware(tokens *authjwt.Generator, users repository.UserRepository, cfg config.Config, logger *zap.Logger) *httpapi.Auth {
	return &httpapi.Auth{Tokens: tokens, Users: users, Cfg: cfg, Logger: logger}
}

func newAuthHandler(svc *service.AuthService, cfg config.Config, logger *zap.Logger) *httpapi.AuthHandler {
	return httpapi.NewAuthHandler(svc, cfg, logger)
}

func newPaymentHandler(
	gate *payment.Gate,
	payments repository.PaymentRepository,
	orders repository.OrderRepository,
	webhooks repository.WebhookEventRepository,
	users repository.UserRepository,
	auditWriter *audit.Writer,
	mailSender mailer.Mailer,
	cfg config.Config,
	logger *zap.Logger,
) *httpapi.PaymentHandler {
	return httpapi.NewPaymentHandler(gate, payments, orders, webhooks, users, auditWriter, mailSender, cfg, logger)
}

func newRoutes(
	cfg config.Config,
	auth *httpapi.Auth,
	authHandler *httpapi.AuthHandler,
	paymentHandler *httpapi.PaymentHandler,
	tokens *authjwt.Generator,
	generalLimiter *ratelimit.GeneralLimiter,
	tiers *ratelimit.Tiers,
	kvStatus httpapi.DistributedStatusReporter,
	logger *zap.Logger,
) httpapi.Routes {
	return httpapi.Routes{
		Cfg:            cfg,
		Auth:           auth,
		AuthHandler:    authHandler,
		PaymentHandler: paymentHandler,
		Tokens:         tokens,
		GeneralLimiter: generalLimiter,
		Tiers:          tiers,
		KVStatus:       kvStatus,
		Logger:         logger,
	}
}

func useTelemetry(*telemetry.Provider) {}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
