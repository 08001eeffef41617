package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const refreshTokenType = "refresh"

// RefreshTokenClaims is the custom claim set carried on a refresh token, per
// the documented wire shape {sub, family, tokenVersion, type:"refresh", exp}.
type RefreshTokenClaims struct {
	Family       int64  `json:"family"`
	TokenVersion int64  `json:"tokenVersion"`
	Type         string `json:"type"`
	jwt.RegisteredClaims
}

var ErrNotRefreshToken = errors.New("token is not a refresh token")

// SubjectInt64 parses the RegisteredClaims.Subject back into the numeric
// user id it was minted from.
func (c *RefreshTokenClaims) SubjectInt64() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// SignRefresh mints a refresh token bound to userID and family, signed with
// the refresh key pair — a distinct key from the access token's, so a
// compromised refresh key cannot be used to forge access tokens and vice
// versa.
func (g *Generator) SignRefresh(userID, family, tokenVersion int64) (string, error) {
	now := time.Now()
	claims := RefreshTokenClaims{
		Family:       family,
		TokenVersion: tokenVersion,
		Type:         refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.refreshTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = g.keys.Refresh.KeyID
	return token.SignedString(g.keys.Refresh.Private)
}

// VerifyRefresh parses and validates a refresh token: same structural and
// header-alg gate as VerifyAccess, verified against the refresh public key
// (key separation — a token signed with the access key is rejected here,
// and vice versa), then asserts type=="refresh" and sub/family presence.
func (g *Generator) VerifyRefresh(tokenStr string) (*RefreshTokenClaims, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return nil, ErrMalformedToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(g.issuer),
	)

	token, err := parser.ParseWithClaims(tokenStr, &RefreshTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedAlg, t.Method.Alg())
		}
		return g.keys.Refresh.Public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse refresh token: %w", err)
	}

	claims, ok := token.Claims.(*RefreshTokenClaims)
	if !ok || !token.Valid {
		return nil, ErrMissingClaims
	}
	if claims.Type != refreshTokenType {
		return nil, ErrNotRefreshToken
	}
	if claims.Subject == "" || claims.Family == 0 {
		return nil, ErrMissingClaims
	}

	return claims, nil
}
