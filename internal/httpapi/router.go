package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/shieldcart-auth/internal/config"
	"github.com/smallbiznis/shieldcart-auth/internal/jwt"
	"github.com/smallbiznis/shieldcart-auth/internal/ratelimit"
)

// DistributedStatusReporter is implemented by the KV store wrapper so the
// health endpoint can expose whether distributed (Redis-backed) mode is
// currently active, per the spec's backing-store contract.
type DistributedStatusReporter interface {
	Distributed() bool
}

// Routes bundles everything NewRouter needs to wire the full API surface.
type Routes struct {
	Cfg            config.Config
	Auth           *Auth
	AuthHandler    *AuthHandler
	PaymentHandler *PaymentHandler
	Tokens         *jwt.Generator
	GeneralLimiter *ratelimit.GeneralLimiter
	Tiers          *ratelimit.Tiers
	KVStatus       DistributedStatusReporter
	Logger         *zap.Logger
}

// NewRouter wires the gin engine, the fixed middleware ordering from the
// request-gating chain, and every /api/v1 route.
func NewRouter(r Routes) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(r.Logger))
	engine.Use(otelgin.Middleware(r.Cfg.ServiceName))
	engine.Use(CORS(r.Cfg, r.Logger))
	engine.Use(SecurityHeaders(r.Cfg))
	engine.Use(GeneralTier(r.GeneralLimiter))
	engine.Use(CSRFGuard(r.Cfg))
	engine.Use(RequestInfo())
	engine.Use(AutomationDetector())

	// Body-size caps and the prototype-pollution guard are route-scoped, not
	// global: the webhook route needs its own larger cap and reads its raw
	// body directly rather than through BindJSON.

	engine.GET("/healthz", func(c *gin.Context) {
		distributed := false
		if r.KVStatus != nil {
			distributed = r.KVStatus.Distributed()
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "distributed": distributed})
	})
	engine.GET("/.well-known/jwks.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, r.Tokens.JWKS())
	})

	api := engine.Group("/api/v1")
	auth := api.Group("/auth")
	auth.Use(BodySizeLimit(maxJSONBodyBytes), BodyGuard())
	{
		auth.POST("/register", WindowTier(r.Tiers.Auth, true), r.AuthHandler.Register)
		auth.POST("/verify-email", r.AuthHandler.VerifyEmail)
		auth.POST("/resend-verification", WindowTier(r.Tiers.Strict, true), r.AuthHandler.ResendVerification)
		auth.POST("/login", EnhancedAuthTier(r.Tiers), r.AuthHandler.Login)
		auth.POST("/login/2fa", EnhancedAuthTier(r.Tiers), r.AuthHandler.Login2FA)
		auth.POST("/refresh", r.AuthHandler.Refresh)
		auth.POST("/logout", r.Auth.RequireBearer, r.AuthHandler.Logout)
		auth.POST("/logout/all", r.Auth.RequireBearer, r.AuthHandler.LogoutAll)

		auth.POST("/forgot-password", WindowTier(r.Tiers.Strict, true), r.AuthHandler.ForgotPassword)
		auth.POST("/validate-reset-token", r.AuthHandler.ValidateResetToken)
		auth.POST("/reset-password", WindowTier(r.Tiers.Strict, true), r.AuthHandler.ResetPassword)
		auth.POST("/change-password", r.Auth.RequireBearer, r.AuthHandler.ChangePassword)

		auth.POST("/2fa/enable", r.Auth.RequireBearer, r.AuthHandler.TwoFactorEnable)
		auth.POST("/2fa/verify-setup", r.Auth.RequireBearer, r.AuthHandler.TwoFactorVerifySetup)
		auth.POST("/2fa/disable", r.Auth.RequireBearer, r.AuthHandler.TwoFactorDisable)
		auth.POST("/2fa/backup-codes", r.Auth.RequireBearer, r.AuthHandler.TwoFactorBackupCodes)

		auth.GET("/sessions", r.Auth.RequireBearer, r.AuthHandler.ListSessions)
		auth.POST("/sessions/revoke", r.Auth.RequireBearer, r.AuthHandler.RevokeSession)
		auth.GET("/me", r.Auth.RequireBearer, r.AuthHandler.Me)
	}

	payments := api.Group("/payments")
	{
		payments.POST("/create-intent",
			BodySizeLimit(maxJSONBodyBytes),
			r.Auth.RequireBearer,
			BodyGuard("amount", "currency", "price", "total", "discount"),
			r.PaymentHandler.CreateIntent,
		)
		payments.POST("/webhook", BodySizeLimit(maxWebhookBodyBytes), r.PaymentHandler.Webhook)
	}

	return engine
}
