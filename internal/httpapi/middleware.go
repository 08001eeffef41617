package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/shieldcart-auth/internal/apierror"
	"github.com/smallbiznis/shieldcart-auth/internal/config"
	"github.com/smallbiznis/shieldcart-auth/internal/jwt"
	"github.com/smallbiznis/shieldcart-auth/internal/ratelimit"
	"github.com/smallbiznis/shieldcart-auth/internal/repository"
)

const (
	rawBodyKey      = "httpapi.rawBody"
	requestInfoKey  = "httpapi.requestInfo"
	automationKey   = "httpapi.automation"
	userIDKey       = "httpapi.userID"
	accessClaimsKey = "httpapi.accessClaims"

	maxJSONBodyBytes    = 10 * 1024
	maxWebhookBodyBytes = 64 * 1024
)

var forbiddenTopLevelKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// RequestLogger logs every request with latency and request-id metadata,
// assigning a fresh request id when the caller didn't send one.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

// SecurityHeaders sets the fixed set of defensive response headers on every
// response, regardless of route or outcome.
func SecurityHeaders(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-XSS-Protection", "0")
		if cfg.IsProduction() {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		c.Next()
	}
}

// CORS allows only the configured client origins, never falling back to a
// wildcard when credentials (the refresh cookie) are in play. A missing
// Origin header is tolerated outside production (same-origin tooling,
// curl, server-to-server calls) but rejected in production, matching the
// Auth middleware's own production-vs-not fingerprint handling. An Origin
// present but not on the allow-list is always rejected with a structured
// log event rather than silently passed through.
func CORS(cfg config.Config, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(cfg.ClientOrigins))
	for _, o := range cfg.ClientOrigins {
		allowed[strings.ToLower(o)] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			if cfg.IsProduction() {
				logger.Warn("request rejected: missing Origin header in production")
				respondErrorStatus(c, http.StatusForbidden, "Origin header required.")
				c.Abort()
				return
			}
			c.Next()
			return
		}
		if !allowed[strings.ToLower(origin)] {
			logger.Warn("request rejected: origin not allowed", zap.String("origin", origin), zap.String("path", c.Request.URL.Path))
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			respondErrorStatus(c, http.StatusForbidden, "Origin is not allowed.")
			c.Abort()
			return
		}
		h := c.Writer.Header()
		h.Set("Vary", "Origin")
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// BodySizeLimit caps the request body at maxBytes before anything reads it.
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// CSRFGuard requires, for state-changing requests from a browser, that the
// Origin (or Referer, when Origin is absent) header name one of the
// configured client origins. Non-browser requests that send neither header
// pass through — this is a CSRF defense for the cookie-carried refresh
// token, not a general API-key gate.
func CSRFGuard(cfg config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.ClientOrigins))
	for _, o := range cfg.ClientOrigins {
		allowed[strings.ToLower(o)] = true
	}
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = refererOrigin(c.GetHeader("Referer"))
		}
		if origin == "" {
			c.Next()
			return
		}
		if !allowed[strings.ToLower(origin)] {
			respondErrorStatus(c, http.StatusForbidden, "Request origin is not allowed.")
			c.Abort()
			return
		}
		c.Next()
	}
}

func refererOrigin(referer string) string {
	idx := strings.Index(referer, "://")
	if idx < 0 {
		return ""
	}
	rest := referer[idx+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return referer[:idx+3] + rest
}

// BodyGuard captures the raw JSON request body once, rejects bodies
// carrying forbidden top-level keys (the prototype-pollution defense-in-depth
// deny list, since encoding/json has no shared global object to pollute;
// keys inside nested objects are not checked),
// and stashes the bytes for handlers to decode via BindJSON. extraForbidden
// lets a specific route additionally reject fields it never accepts from the
// client (payment amounts, for instance).
func BodyGuard(extraForbidden ...string) gin.HandlerFunc {
	forbidden := make(map[string]bool, len(forbiddenTopLevelKeys)+len(extraForbidden))
	for k := range forbiddenTopLevelKeys {
		forbidden[k] = true
	}
	for _, k := range extraForbidden {
		forbidden[strings.ToLower(k)] = true
	}

	return func(c *gin.Context) {
		if c.Request.Body == nil {
			c.Next()
			return
		}
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondErrorStatus(c, http.StatusRequestEntityTooLarge, "Request body too large.")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		if len(bytes.TrimSpace(raw)) > 0 {
			var decoded map[string]json.RawMessage
			if err := json.Unmarshal(raw, &decoded); err != nil {
				respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
				c.Abort()
				return
			}
			for key := range decoded {
				if forbidden[strings.ToLower(key)] {
					respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body contains a disallowed field."))
					c.Abort()
					return
				}
			}
		}
		c.Set(rawBodyKey, raw)
		c.Next()
	}
}

// BindJSON decodes the body captured by BodyGuard into dst.
func BindJSON(c *gin.Context, dst any) error {
	value, ok := c.Get(rawBodyKey)
	if !ok {
		return c.ShouldBindJSON(dst)
	}
	raw, _ := value.([]byte)
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

var objectIDPattern = regexp.MustCompile(`^[a-f0-9]{24}$`)

// ValidObjectID reports whether s matches the 24-hex-character id shape the
// catalog's product ids are required to carry.
func ValidObjectID(s string) bool {
	return objectIDPattern.MatchString(strings.ToLower(s))
}

// RequestInfo computes jwt.RequestInfo for the current request and stashes
// it in the context so downstream middleware and handlers share one
// computation instead of re-reading headers.
func RequestInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := jwt.RequestInfoFromHTTP(c.Request, c.ClientIP())
		c.Set(requestInfoKey, info)
		c.Next()
	}
}

func getRequestInfo(c *gin.Context) jwt.RequestInfo {
	if v, ok := c.Get(requestInfoKey); ok {
		if info, ok := v.(jwt.RequestInfo); ok {
			return info
		}
	}
	return jwt.RequestInfoFromHTTP(c.Request, c.ClientIP())
}

// AutomationDetector scores the request's headers for automation signals
// and stashes the result for rate-limit tier selection.
func AutomationDetector() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := jwt.DetectAutomation(getRequestInfo(c))
		c.Set(automationKey, result)
		c.Next()
	}
}

func getAutomation(c *gin.Context) jwt.AutomationResult {
	if v, ok := c.Get(automationKey); ok {
		if result, ok := v.(jwt.AutomationResult); ok {
			return result
		}
	}
	return jwt.AutomationResult{}
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func tierKey(c *gin.Context, withIdentity bool) string {
	ip := c.ClientIP()
	if !withIdentity {
		return ip
	}
	email := ""
	if v, ok := c.Get(rawBodyKey); ok {
		if raw, ok := v.([]byte); ok {
			var body struct {
				Email string `json:"email"`
			}
			_ = json.Unmarshal(raw, &body)
			email = strings.ToLower(strings.TrimSpace(body.Email))
		}
	}
	ua := c.Request.UserAgent()
	return ip + ":" + hashHex(email) + ":" + hashHex(ua)
}

// WindowTier gates a route behind a fixed-window rate-limit tier.
// withIdentity selects the IP + sha256(email) + sha256(UA) key composition
// over the plain-IP key.
func WindowTier(tier *ratelimit.WindowLimiter, withIdentity bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := tierKey(c, withIdentity)
		result, err := tier.Allow(c.Request.Context(), key)
		if err != nil {
			// A KV error lets the request through unthrottled; nothing is logged here.
			c.Next()
			return
		}
		ratelimit.WriteHeaders(c.Writer, result.Limit, result.Remaining, time.Now().Add(result.RetryAfter))
		if !result.Allowed {
			c.Writer.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			respondError(c, apierror.New(apierror.KindRateLimited, "Too many requests. Please try again later."))
			c.Abort()
			return
		}
		c.Next()
	}
}

// EnhancedAuthTier gates a route behind the enhanced-auth tier, picking the
// automated or non-automated limit per request from the result
// AutomationDetector already stashed in the context, instead of a tier fixed
// once at router-construction time.
func EnhancedAuthTier(tiers *ratelimit.Tiers) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier := tiers.EnhancedFor(getAutomation(c).IsAutomated)
		WindowTier(tier, true)(c)
	}
}

// GeneralTier gates every route behind the process-local general limiter.
func GeneralTier(limiter *ratelimit.GeneralLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if !limiter.Allow(c.FullPath(), c.ClientIP()) {
			respondError(c, apierror.New(apierror.KindRateLimited, "Too many requests. Please try again later."))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Auth validates the bearer access token per the full chain: signature and
// claim shape, reload the user, reject a stale tokenVersion, reject a locked
// account, and compare the enhanced fingerprint against the one bound into
// the token, falling back to the legacy fingerprint as a logged grace path.
type Auth struct {
	Tokens *jwt.Generator
	Users  repository.UserRepository
	Cfg    config.Config
	Logger *zap.Logger
}

// RequireBearer is the gin middleware enforcing the chain described above.
func (a *Auth) RequireBearer(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		c.Abort()
		return
	}

	claims, err := a.Tokens.VerifyAccess(parts[1], "")
	if err != nil {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Invalid or expired access token."))
		c.Abort()
		return
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Invalid access token."))
		c.Abort()
		return
	}

	user, err := a.Users.GetByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Invalid access token."))
		c.Abort()
		return
	}

	if user.TokenVersion != claims.TokenVersion {
		respondError(c, apierror.New(apierror.KindTokenExpired, "Access token is no longer valid."))
		c.Abort()
		return
	}
	if user.IsLocked(time.Now()) {
		respondError(c, apierror.New(apierror.KindAccountLocked, "Account is temporarily locked."))
		c.Abort()
		return
	}

	info := getRequestInfo(c)
	if claims.Fingerprint != "" {
		enhanced := jwt.EnhancedFingerprint(info)
		if claims.Fingerprint != enhanced {
			legacy := jwt.LegacyFingerprint(info.UserAgent, info.IP)
			if claims.Fingerprint == legacy {
				a.Logger.Warn("access token verified via legacy fingerprint grace path", zap.Int64("userId", userID))
			} else if a.Cfg.IsProduction() {
				respondError(c, apierror.New(apierror.KindInvalidCredentials, "Invalid access token."))
				c.Abort()
				return
			} else {
				a.Logger.Warn("fingerprint mismatch tolerated outside production", zap.Int64("userId", userID))
			}
		}
	}

	c.Set(userIDKey, userID)
	c.Set(accessClaimsKey, claims)
	c.Next()
}

func currentUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
