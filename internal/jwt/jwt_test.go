package jwt_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/shieldcart-auth/internal/jwt"
)

func writeTestKey(t *testing.T, dir, name string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func newTestGenerator(t *testing.T) *jwt.Generator {
	t.Helper()
	dir := t.TempDir()
	accessPath := writeTestKey(t, dir, "access.pem")
	refreshPath := writeTestKey(t, dir, "refresh.pem")

	keys, err := jwt.NewKeyManager(accessPath, "access-1", refreshPath, "refresh-1")
	require.NoError(t, err)

	return jwt.NewGenerator(keys, "shieldcart-auth", 15*time.Minute, 7*24*time.Hour)
}

func TestSignAndVerifyAccessRoundTrip(t *testing.T) {
	gen := newTestGenerator(t)

	token, err := gen.SignAccess(42, "alice@example.com", "user", 3, "fp-abc", "203.0.113.10")
	require.NoError(t, err)

	claims, err := gen.VerifyAccess(token, "fp-abc")
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
	assert.Equal(t, "fp-abc", claims.Fingerprint)
	assert.Equal(t, "203.0.113.10", claims.IP)
}

func TestVerifyAccessRejectsFingerprintMismatch(t *testing.T) {
	gen := newTestGenerator(t)
	token, err := gen.SignAccess(1, "bob@example.com", "user", 0, "fp-real", "10.0.0.1")
	require.NoError(t, err)

	_, err = gen.VerifyAccess(token, "fp-different")
	assert.ErrorIs(t, err, jwt.ErrFingerprintMiss)
}

func TestVerifyAccessRejectsAlgNone(t *testing.T) {
	gen := newTestGenerator(t)

	token := gojwt.NewWithClaims(gojwt.SigningMethodNone, gojwt.MapClaims{
		"sub":  "alice",
		"role": "admin",
	})
	signed, err := token.SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = gen.VerifyAccess(signed, "")
	assert.Error(t, err)
}

func TestVerifyAccessRejectsHS256(t *testing.T) {
	gen := newTestGenerator(t)

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": "alice", "role": "admin", "email": "alice@example.com",
	})
	signed, err := token.SignedString([]byte("attacker-controlled-secret"))
	require.NoError(t, err)

	_, err = gen.VerifyAccess(signed, "")
	assert.Error(t, err)
}

func TestRefreshTokenRejectedByVerifyAccess(t *testing.T) {
	gen := newTestGenerator(t)

	refreshToken, err := gen.SignRefresh(7, 100, 0)
	require.NoError(t, err)

	_, err = gen.VerifyAccess(refreshToken, "")
	assert.Error(t, err, "a token signed with the refresh key must not verify against the access key")
}

func TestAccessTokenRejectedByVerifyRefresh(t *testing.T) {
	gen := newTestGenerator(t)

	accessToken, err := gen.SignAccess(7, "carol@example.com", "user", 0, "", "")
	require.NoError(t, err)

	_, err = gen.VerifyRefresh(accessToken)
	assert.Error(t, err, "a token signed with the access key must not verify against the refresh key")
}

func TestSignAndVerifyRefreshRoundTrip(t *testing.T) {
	gen := newTestGenerator(t)

	token, err := gen.SignRefresh(7, 555, 2)
	require.NoError(t, err)

	claims, err := gen.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.Subject)
	assert.EqualValues(t, 555, claims.Family)
	assert.EqualValues(t, 2, claims.TokenVersion)
}

func TestVerifyAccessRejectsMalformedToken(t *testing.T) {
	gen := newTestGenerator(t)
	_, err := gen.VerifyAccess("not-a-jwt", "")
	assert.ErrorIs(t, err, jwt.ErrMalformedToken)
}

func TestEnhancedFingerprintStableForMissingHeaders(t *testing.T) {
	a := jwt.EnhancedFingerprint(jwt.RequestInfo{IP: "1.2.3.4"})
	b := jwt.EnhancedFingerprint(jwt.RequestInfo{IP: "1.2.3.4"})
	assert.Equal(t, a, b)

	c := jwt.EnhancedFingerprint(jwt.RequestInfo{IP: "1.2.3.4", UserAgent: "Mozilla/5.0"})
	assert.NotEqual(t, a, c)
}

func TestDetectAutomationFlagsCurlLikeClient(t *testing.T) {
	result := jwt.DetectAutomation(jwt.RequestInfo{UserAgent: "python-requests/2.31"})
	assert.True(t, result.IsAutomated)
	assert.GreaterOrEqual(t, result.Confidence, 70)
}

func TestDetectAutomationAllowsOrdinaryBrowser(t *testing.T) {
	result := jwt.DetectAutomation(jwt.RequestInfo{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
		Accept:         "text/html",
		SecFetchSite:   "same-origin",
		SecFetchMode:   "navigate",
		SecFetchDest:   "document",
	})
	assert.False(t, result.IsAutomated)
}
