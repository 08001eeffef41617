package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/shieldcart-auth/internal/domain"
)

// ErrDuplicateSession is returned by Create when the hashed_token unique
// constraint fires — two concurrent rotations raced on the same presented
// token. The caller maps this to a RefreshInProgress response without
// issuing any token.
var ErrDuplicateSession = errors.New("refresh already in progress")

const pgUniqueViolation = "23505"

// SessionRepository is the persistence contract for refresh-token sessions.
type SessionRepository interface {
	Create(ctx context.Context, session domain.RefreshSession) (domain.RefreshSession, error)
	GetByHashedToken(ctx context.Context, hashedToken string) (domain.RefreshSession, error)
	Revoke(ctx context.Context, sessionID int64, replacedBy *int64) error
	RevokeFamily(ctx context.Context, familyID int64) error
	RevokeAllForUser(ctx context.Context, userID int64) error
	ListActiveForUser(ctx context.Context, userID int64) ([]domain.RefreshSession, error)
}

// PostgresSessionRepo implements SessionRepository against the
// refresh_sessions table.
type PostgresSessionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: pool}
}

const sessionColumns = `id, user_id, family_id, hashed_token, fingerprint, legacy_fingerprint,
	ip_address, user_agent, revoked, revoked_at, replaced_by, expires_at, created_at`

func scanSession(row pgx.Row) (domain.RefreshSession, error) {
	var s domain.RefreshSession
	err := row.Scan(
		&s.ID, &s.UserID, &s.FamilyID, &s.HashedToken, &s.Fingerprint, &s.LegacyFingerprint,
		&s.IPAddress, &s.UserAgent, &s.Revoked, &s.RevokedAt, &s.ReplacedBy, &s.ExpiresAt, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RefreshSession{}, ErrNotFound
		}
		return domain.RefreshSession{}, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

// Create inserts a new session row. A hashed_token collision (two rotations
// racing on the same presented refresh token) surfaces as ErrDuplicateSession
// rather than a generic error, so the caller can answer RefreshInProgress
// without minting a second token family.
func (r *PostgresSessionRepo) Create(ctx context.Context, session domain.RefreshSession) (domain.RefreshSession, error) {
	const query = `
INSERT INTO refresh_sessions (user_id, family_id, hashed_token, fingerprint, legacy_fingerprint,
	ip_address, user_agent, revoked, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, now())
RETURNING ` + sessionColumns

	row := r.db.QueryRow(ctx, query,
		session.UserID, session.FamilyID, session.HashedToken, session.Fingerprint, session.LegacyFingerprint,
		session.IPAddress, session.UserAgent, session.ExpiresAt,
	)
	created, err := scanSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.RefreshSession{}, ErrDuplicateSession
		}
		return domain.RefreshSession{}, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

func (r *PostgresSessionRepo) GetByHashedToken(ctx context.Context, hashedToken string) (domain.RefreshSession, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions WHERE hashed_token = $1`, hashedToken)
	return scanSession(row)
}

func (r *PostgresSessionRepo) Revoke(ctx context.Context, sessionID int64, replacedBy *int64) error {
	const query = `UPDATE refresh_sessions SET revoked = true, revoked_at = now(), replaced_by = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, sessionID, replacedBy)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) RevokeFamily(ctx context.Context, familyID int64) error {
	const query = `UPDATE refresh_sessions SET revoked = true, revoked_at = now() WHERE family_id = $1 AND revoked = false`
	_, err := r.db.Exec(ctx, query, familyID)
	if err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) RevokeAllForUser(ctx context.Context, userID int64) error {
	const query = `UPDATE refresh_sessions SET revoked = true, revoked_at = now() WHERE user_id = $1 AND revoked = false`
	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("revoke all for user: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) ListActiveForUser(ctx context.Context, userID int64) ([]domain.RefreshSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM refresh_sessions WHERE user_id = $1 AND revoked = false AND expires_at > now() ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.RefreshSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
