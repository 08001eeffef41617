// Package config loads runtime configuration from the environment, the way
// the teacher's config.go does: plain getEnv/getInt/getBool/getDuration/
// getList helpers, no second configuration paradigm (no YAML, no env
// struct-tag library).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values recognized per the
// documented environment inputs.
type Config struct {
	Environment string
	HTTPPort    string
	DatabaseURL string

	EncryptionKey []byte
	AuditKey      []byte

	JWTAccessPrivateKeyPath  string
	JWTAccessPublicKeyPath   string
	JWTRefreshPrivateKeyPath string
	JWTRefreshPublicKeyPath  string
	JWTIssuer                string
	AccessTokenTTL           time.Duration
	RefreshTokenTTL          time.Duration

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	ClientOrigins []string

	RedisEnabled bool
	RedisURL     string

	VaultEnabled bool
	VaultAddr    string
	VaultToken   string

	PaymentProviderEndpoint string
	PaymentProviderSecret   string
	PaymentWebhookSecret    string

	FraudScoreThreshold int

	ServiceName       string
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// Load reads configuration from environment variables, applying the
// documented defaults and failing fast on the operator-provisioned
// required values (encryption key, key-pair paths, payment secrets).
func Load() (Config, error) {
	_ = godotenv.Load()

	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if len(encryptionKey) < 32 {
		return Config{}, fmt.Errorf("ENCRYPTION_KEY must be set and at least 32 characters")
	}

	auditKey := getEnv("AUDIT_SIGNING_KEY", "")
	if auditKey == "" {
		return Config{}, fmt.Errorf("AUDIT_SIGNING_KEY is required")
	}

	accessPriv := os.Getenv("JWT_ACCESS_PRIVATE_KEY_PATH")
	accessPub := os.Getenv("JWT_ACCESS_PUBLIC_KEY_PATH")
	refreshPriv := os.Getenv("JWT_REFRESH_PRIVATE_KEY_PATH")
	refreshPub := os.Getenv("JWT_REFRESH_PUBLIC_KEY_PATH")
	if accessPriv == "" || refreshPriv == "" {
		return Config{}, fmt.Errorf("JWT_ACCESS_PRIVATE_KEY_PATH and JWT_REFRESH_PRIVATE_KEY_PATH are required")
	}

	paymentSecret := os.Getenv("PAYMENT_PROVIDER_SECRET")
	webhookSecret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if paymentSecret == "" || webhookSecret == "" {
		return Config{}, fmt.Errorf("PAYMENT_PROVIDER_SECRET and PAYMENT_WEBHOOK_SECRET are required")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseURL: databaseURL,

		EncryptionKey: []byte(encryptionKey)[:32],
		AuditKey:      []byte(auditKey),

		JWTAccessPrivateKeyPath:  accessPriv,
		JWTAccessPublicKeyPath:   accessPub,
		JWTRefreshPrivateKeyPath: refreshPriv,
		JWTRefreshPublicKeyPath:  refreshPub,
		JWTIssuer:                getEnv("JWT_ISSUER", "shieldcart-auth"),
		AccessTokenTTL:           getDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		RefreshTokenTTL:          getDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),

		RateLimitWindow:      time.Duration(getInt("RATE_LIMIT_WINDOW_MINUTES", 15)) * time.Minute,
		RateLimitMaxRequests: getInt("RATE_LIMIT_MAX_REQUESTS", 100),

		ClientOrigins: getList("CLIENT_ORIGIN", nil),

		RedisEnabled: getBool("REDIS_ENABLED", false),
		RedisURL:     getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		VaultEnabled: getBool("VAULT_ENABLED", false),
		VaultAddr:    os.Getenv("VAULT_ADDR"),
		VaultToken:   os.Getenv("VAULT_TOKEN"),

		PaymentProviderEndpoint: getEnv("PAYMENT_PROVIDER_ENDPOINT", "https://api.payments.example/v1/intents"),
		PaymentProviderSecret:   paymentSecret,
		PaymentWebhookSecret:    webhookSecret,

		FraudScoreThreshold: getInt("FRAUD_SCORE_THRESHOLD", 80),

		ServiceName:       getEnv("SERVICE_NAME", "shieldcart-auth"),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	return cfg, nil
}

// ApplySecretOverlay overlays values fetched from an external secret store
// (Vault, when VAULT_ENABLED) onto the environment-sourced configuration.
// Unrecognized or malformed keys are ignored rather than rejected, so a
// partially-populated secret doesn't take down the rest of the overlay.
func (c *Config) ApplySecretOverlay(secrets map[string]string) {
	if v, ok := secrets["encryption_key"]; ok && len(v) >= 32 {
		c.EncryptionKey = []byte(v)[:32]
	}
	if v, ok := secrets["audit_signing_key"]; ok && v != "" {
		c.AuditKey = []byte(v)
	}
	if v, ok := secrets["database_url"]; ok && v != "" {
		c.DatabaseURL = v
	}
	if v, ok := secrets["payment_provider_secret"]; ok && v != "" {
		c.PaymentProviderSecret = v
	}
	if v, ok := secrets["payment_webhook_secret"]; ok && v != "" {
		c.PaymentWebhookSecret = v
	}
}

// IsProduction reports whether the service is running in its production
// environment — gates the strict CORS/CSRF/fingerprint behaviors the spec
// distinguishes from development convenience.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if strings.HasSuffix(v, "d") {
			if days, err := strconv.Atoi(strings.TrimSuffix(v, "d")); err == nil {
				return time.Duration(days) * 24 * time.Hour
			}
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
