package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenClaims is the custom claim set carried on an access token, per
// the documented wire shape {sub, email, role, tokenVersion, fingerprint,
// ip, jti, exp}.
type AccessTokenClaims struct {
	Email        string `json:"email"`
	Role         string `json:"role"`
	TokenVersion int64  `json:"tokenVersion"`
	Fingerprint  string `json:"fingerprint"`
	IP           string `json:"ip"`
	jwt.RegisteredClaims
}

var (
	ErrMalformedToken  = errors.New("malformed token")
	ErrUnexpectedAlg   = errors.New("unexpected signing algorithm")
	ErrMissingClaims   = errors.New("required claims missing")
	ErrFingerprintMiss = errors.New("fingerprint mismatch")
)

// Generator signs and verifies access and refresh tokens. Verification
// rejects anything whose header algorithm is not exactly RS256 before any
// cryptographic check is attempted — the allow-list is enforced inside the
// Keyfunc itself, not only via the parser's WithValidMethods option, so a
// crafted `alg` (including "none") never reaches rsa.VerifyPKCS1v15.
type Generator struct {
	keys       *KeyManager
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewGenerator builds a token Generator bound to one key manager.
func NewGenerator(keys *KeyManager, issuer string, accessTTL, refreshTTL time.Duration) *Generator {
	return &Generator{keys: keys, issuer: issuer, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// SignAccess mints a new access token for the given user snapshot.
func (g *Generator) SignAccess(userID int64, email, role string, tokenVersion int64, fingerprint, ip string) (string, error) {
	now := time.Now()
	claims := AccessTokenClaims{
		Email:        email,
		Role:         role,
		TokenVersion: tokenVersion,
		Fingerprint:  fingerprint,
		IP:           ip,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.accessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = g.keys.Access.KeyID
	return token.SignedString(g.keys.Access.Private)
}

// VerifyAccess parses and validates an access token, returning a distinct
// error per failed check (ErrMalformedToken, ErrMissingClaims,
// ErrFingerprintMiss, or a wrapped parse error); the HTTP bearer middleware
// turns all of them into one response. It follows the
// structural-then-cryptographic check order the
// algorithm-confusion defense requires: dot-segment shape, header alg
// allow-list, then signature, then required-claim presence, then the
// optional fingerprint comparison.
func (g *Generator) VerifyAccess(tokenStr string, expectedFingerprint string) (*AccessTokenClaims, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return nil, ErrMalformedToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(g.issuer),
	)

	token, err := parser.ParseWithClaims(tokenStr, &AccessTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedAlg, t.Method.Alg())
		}
		return g.keys.Access.Public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, ErrMissingClaims
	}
	if claims.Subject == "" || claims.Email == "" || claims.Role == "" {
		return nil, ErrMissingClaims
	}

	if expectedFingerprint != "" && claims.Fingerprint != "" && claims.Fingerprint != expectedFingerprint {
		return nil, ErrFingerprintMiss
	}

	return claims, nil
}
