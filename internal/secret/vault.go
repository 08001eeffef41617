// Package secret wires the optional HashiCorp Vault secret store described
// in the spec's configuration surface: when VAULT_ENABLED is set, a
// singleton client fetches an overlay of secrets once at startup and
// renews its token on a fixed cadence; any failure — initial fetch or a
// later renewal — logs and leaves the environment-sourced configuration in
// effect rather than failing startup. Lifecycle is Init -> Authenticated ->
// Renewing* -> Torn-down, matching the teacher's other singleton-client
// lifecycle shapes (the pgx pool, the Redis client) of connect-once,
// health-check, background-maintain, close-on-shutdown.
package secret

import (
	"context"
	"fmt"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// RenewInterval is the token-renewal cadence the spec documents (§6,
// "token renewal loop at 30-minute cadence").
const RenewInterval = 30 * time.Minute

// Client is a thin wrapper over the Vault API client plus the health flag
// the rest of the service can report on a diagnostics endpoint.
type Client struct {
	api        *vaultapi.Client
	mountPath  string
	secretPath string
	logger     *zap.Logger

	mu      sync.RWMutex
	healthy bool
}

// NewClient builds a Vault client against addr, authenticated with token,
// reading the KV-v2 secret at mountPath/secretPath.
func NewClient(addr, token, mountPath, secretPath string, logger *zap.Logger) (*Client, error) {
	cfg := vaultapi.DefaultConfig()
	cfg.Address = addr
	api, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("init vault client: %w", err)
	}
	api.SetToken(token)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, mountPath: mountPath, secretPath: secretPath, logger: logger}, nil
}

// Healthy reports whether the most recent fetch or renewal succeeded.
func (c *Client) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Client) setHealthy(v bool) {
	c.mu.Lock()
	c.healthy = v
	c.mu.Unlock()
}

// Fetch reads the configured KV-v2 secret and returns its string-valued
// fields as an overlay map keyed by the same names used in environment
// configuration (lowercase_with_underscores).
func (c *Client) Fetch(ctx context.Context) (map[string]string, error) {
	kv := c.api.KVv2(c.mountPath)
	result, err := kv.Get(ctx, c.secretPath)
	if err != nil {
		c.setHealthy(false)
		return nil, fmt.Errorf("fetch vault secret: %w", err)
	}

	out := make(map[string]string, len(result.Data))
	for k, v := range result.Data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	c.setHealthy(true)
	return out, nil
}

// RenewLoop renews the client's own token every interval until ctx is
// cancelled. A failed renewal is logged and leaves the previously fetched
// overlay in effect — it never re-triggers a fetch or panics the process.
func (c *Client) RenewLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, err := c.api.Auth().Token().RenewSelfWithContext(renewCtx, 0)
			cancel()
			if err != nil {
				c.logger.Warn("vault token renewal failed, continuing with existing token", zap.Error(err))
				c.setHealthy(false)
				continue
			}
			c.setHealthy(true)
		}
	}
}
