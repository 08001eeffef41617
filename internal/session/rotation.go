// Package session implements refresh-token issuance and rotation: the
// presented token is always verified, consumed, and replaced, and reuse of an
// already-revoked token revokes that token's family. Each refresh mints a
// new family id, so sessions rotated from the reused token are not revoked.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/shieldcart-auth/internal/apierror"
	"github.com/smallbiznis/shieldcart-auth/internal/audit"
	"github.com/smallbiznis/shieldcart-auth/internal/domain"
	"github.com/smallbiznis/shieldcart-auth/internal/jwt"
	"github.com/smallbiznis/shieldcart-auth/internal/repository"
)

// Issued is the pair of tokens returned by every issuance or rotation.
type Issued struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Rotator owns the refresh-session lifecycle: initial issuance on login,
// rotation on refresh, and revocation on logout.
type Rotator struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	tokens   *jwt.Generator
	audit    *audit.Writer
	ids      *snowflake.Node
	ttl      time.Duration
}

// NewRotator builds a Rotator over the session store, user store, token
// generator, audit writer, and the snowflake node it mints family ids from.
func NewRotator(sessions repository.SessionRepository, users repository.UserRepository, tokens *jwt.Generator, auditWriter *audit.Writer, ids *snowflake.Node, refreshTTL time.Duration) *Rotator {
	return &Rotator{sessions: sessions, users: users, tokens: tokens, audit: auditWriter, ids: ids, ttl: refreshTTL}
}

// Issue mints a brand new token family for a freshly authenticated user —
// the entry point for login, not refresh.
func (rt *Rotator) Issue(ctx context.Context, user domain.User, info jwt.RequestInfo) (Issued, error) {
	family := newFamilyID(rt.ids)
	return rt.mint(ctx, user, family, info)
}

func (rt *Rotator) mint(ctx context.Context, user domain.User, family int64, info jwt.RequestInfo) (Issued, error) {
	fingerprint := jwt.EnhancedFingerprint(info)

	accessToken, err := rt.tokens.SignAccess(user.ID, user.Email, string(user.Role), user.TokenVersion, fingerprint, info.IP)
	if err != nil {
		return Issued{}, apierror.Wrap(apierror.KindInternal, "Could not sign access token.", err)
	}

	refreshToken, err := rt.tokens.SignRefresh(user.ID, family, user.TokenVersion)
	if err != nil {
		return Issued{}, apierror.Wrap(apierror.KindInternal, "Could not sign refresh token.", err)
	}

	expiresAt := time.Now().Add(rt.ttl)
	_, err = rt.sessions.Create(ctx, domain.RefreshSession{
		UserID:      user.ID,
		FamilyID:    family,
		HashedToken: jwt.HashToken(refreshToken),
		Fingerprint: fingerprint,
		IPAddress:   info.IP,
		UserAgent:   info.UserAgent,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateSession) {
			return Issued{}, apierror.New(apierror.KindConflict, "A refresh is already in progress for this session.")
		}
		return Issued{}, apierror.Wrap(apierror.KindInternal, "Could not persist session.", err)
	}

	return Issued{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: expiresAt}, nil
}

// Rotate consumes a presented refresh token and mints its replacement.
//
// Order of operations matters: the presented session is revoked before the
// new one is inserted, so a second concurrent request presenting the same
// token either loses the unique-constraint race on the first revoke (and
// gets RefreshInProgress) or finds the session already revoked (reuse).
func (rt *Rotator) Rotate(ctx context.Context, refreshToken string, info jwt.RequestInfo) (Issued, error) {
	claims, err := rt.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return Issued{}, apierror.Wrap(apierror.KindTokenExpired, "Refresh token is invalid or expired.", err)
	}

	userID, err := claims.SubjectInt64()
	if err != nil {
		return Issued{}, apierror.Wrap(apierror.KindInvalidRequest, "Malformed refresh token.", err)
	}

	user, err := rt.users.GetByID(ctx, userID)
	if err != nil {
		return Issued{}, apierror.Wrap(apierror.KindInvalidCredentials, "Refresh token does not match a known user.", err)
	}

	if user.TokenVersion != claims.TokenVersion {
		return Issued{}, apierror.New(apierror.KindTokenExpired, "Session has been invalidated.")
	}

	hashedToken := jwt.HashToken(refreshToken)
	presented, err := rt.sessions.GetByHashedToken(ctx, hashedToken)
	if err != nil {
		return Issued{}, apierror.Wrap(apierror.KindTokenExpired, "Refresh token is not recognized.", err)
	}

	if presented.Revoked {
		rt.handleReuse(ctx, presented)
		return Issued{}, apierror.New(apierror.KindTokenReused, "Refresh token has already been used.")
	}

	if !time.Now().Before(presented.ExpiresAt) {
		return Issued{}, apierror.New(apierror.KindTokenExpired, "Refresh token has expired.")
	}

	if err := rt.sessions.Revoke(ctx, presented.ID, nil); err != nil {
		return Issued{}, apierror.Wrap(apierror.KindInternal, "Could not revoke prior session.", err)
	}

	// A new family per refresh avoids hash collisions on rapid rotation;
	// reuse of the just-revoked family's token is what handleReuse catches.
	issued, err := rt.mint(ctx, user, newFamilyID(rt.ids), info)
	if err != nil {
		return Issued{}, err
	}

	return issued, nil
}

// handleReuse revokes the entire family a reused token belonged to and
// writes a security audit entry. Errors here are swallowed by design — the
// caller has already decided to reject the request regardless.
func (rt *Rotator) handleReuse(ctx context.Context, presented domain.RefreshSession) {
	_ = rt.sessions.RevokeFamily(ctx, presented.FamilyID)
	if rt.audit == nil {
		return
	}
	userID := presented.UserID
	risk := 80
	_, _ = rt.audit.Append(ctx, domain.AuditLogEntry{
		EventType: domain.EventSecurityRefreshReuse,
		UserID:    &userID,
		Action:    "refresh_reuse",
		Resource:  "session",
		Result:    domain.AuditResultFailure,
		RiskScore: &risk,
		IPAddress: presented.IPAddress,
		UserAgent: presented.UserAgent,
		Metadata:  map[string]any{"familyId": presented.FamilyID, "sessionId": presented.ID},
	})
}

// RevokeSession revokes a single named session, e.g. for a "log out on this
// device" action.
func (rt *Rotator) RevokeSession(ctx context.Context, sessionID int64) error {
	return rt.sessions.Revoke(ctx, sessionID, nil)
}

// RevokeAll revokes every active session for a user (logout-everywhere) and
// bumps TokenVersion so any outstanding access tokens stop verifying too.
func (rt *Rotator) RevokeAll(ctx context.Context, userID int64) error {
	if err := rt.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	return rt.users.IncrementTokenVersion(ctx, userID)
}

// ActiveSessions lists a user's active sessions for display/management.
func (rt *Rotator) ActiveSessions(ctx context.Context, userID int64) ([]domain.RefreshSession, error) {
	return rt.sessions.ListActiveForUser(ctx, userID)
}
