// Package repository holds the hand-rolled pgx/v5 persistence layer. There
// is no code generator in front of these queries: each repo owns its SQL
// and its own row-to-domain mapping, the way the teacher's
// PostgresOAuthClientRepo does for the one table it never ran through sqlc.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/shieldcart-auth/internal/domain"
)

// ErrNotFound is returned by any Get-style method when no row matches.
var ErrNotFound = errors.New("not found")

// UserRepository is the persistence contract the orchestrator and supporting
// packages use for everything about a User row.
type UserRepository interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByEmailVerificationToken(ctx context.Context, token string) (domain.User, error)
	GetByPasswordResetToken(ctx context.Context, token string) (domain.User, error)
	GetByTwoFactorTempToken(ctx context.Context, token string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	ResetFailedAttempts(ctx context.Context, userID int64) error
	UpdateProfile(ctx context.Context, user domain.User) error
	SetPasswordHash(ctx context.Context, userID int64, hash string, history []string) error
	SetEmailVerification(ctx context.Context, userID int64, token string, expiresAt *time.Time) error
	MarkEmailVerified(ctx context.Context, userID int64) error
	SetPasswordResetToken(ctx context.Context, userID int64, token string, expiresAt *time.Time) error
	ClearPasswordResetToken(ctx context.Context, userID int64) error
	IncrementTokenVersion(ctx context.Context, userID int64) error
	SetTwoFactorSecret(ctx context.Context, userID int64, encrypted, nonce []byte, backupHashes []string) error
	EnableTwoFactor(ctx context.Context, userID int64, enabled bool) error
	SetTwoFactorTempToken(ctx context.Context, userID int64, token string, expiresAt *time.Time) error
	RecordFailedAttempt(ctx context.Context, userID int64) (attempts int, err error)
	LockAccount(ctx context.Context, userID int64, until time.Time) error
	UnlockAccount(ctx context.Context, userID int64) error
	AppendLoginHistory(ctx context.Context, userID int64, entry domain.LoginHistoryEntry) error
	AppendTrustedDevice(ctx context.Context, userID int64, device domain.TrustedDevice) error
	UpdateBackupCodeHashes(ctx context.Context, userID int64, hashes []string) error
}

// PostgresUserRepo implements UserRepository against the users table.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const userColumns = `id, email, email_verified, email_verification_token, email_verification_expires_at,
	password_hash, password_history, password_reset_token, password_reset_expires_at, last_password_change,
	name, phone, phone_verified, avatar_url, role, provider, status, token_version,
	two_factor_enabled, two_factor_temp_token, two_factor_temp_expires_at,
	totp_secret_encrypted, totp_secret_nonce, backup_code_hashes,
	failed_login_attempts, locked_until, trusted_devices, login_history,
	created_at, updated_at`

func (r *PostgresUserRepo) scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var passwordHistory, backupCodes []string
	var trustedDevicesRaw, loginHistoryRaw []byte

	err := row.Scan(
		&u.ID, &u.Email, &u.EmailVerified, &u.EmailVerificationToken, &u.EmailVerificationExpiresAt,
		&u.PasswordHash, &passwordHistory, &u.PasswordResetToken, &u.PasswordResetExpiresAt, &u.LastPasswordChange,
		&u.Name, &u.Phone, &u.PhoneVerified, &u.AvatarURL, &u.Role, &u.Provider, &u.Status, &u.TokenVersion,
		&u.TwoFactorEnabled, &u.TwoFactorTempToken, &u.TwoFactorTempExpiresAt,
		&u.TOTPSecretEncrypted, &u.TOTPSecretNonce, &backupCodes,
		&u.FailedLoginAttempts, &u.LockedUntil, &trustedDevicesRaw, &loginHistoryRaw,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}

	u.PasswordHistory = passwordHistory
	u.BackupCodeHashes = backupCodes
	if len(trustedDevicesRaw) > 0 {
		_ = json.Unmarshal(trustedDevicesRaw, &u.TrustedDevices)
	}
	if len(loginHistoryRaw) > 0 {
		_ = json.Unmarshal(loginHistoryRaw, &u.LoginHistory)
	}
	return u, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return r.scanUser(row)
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return r.scanUser(row)
}

func (r *PostgresUserRepo) GetByEmailVerificationToken(ctx context.Context, token string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email_verification_token = $1 AND email_verification_token != ''`, token)
	return r.scanUser(row)
}

func (r *PostgresUserRepo) GetByPasswordResetToken(ctx context.Context, token string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE password_reset_token = $1 AND password_reset_token != ''`, token)
	return r.scanUser(row)
}

func (r *PostgresUserRepo) GetByTwoFactorTempToken(ctx context.Context, token string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE two_factor_temp_token = $1 AND two_factor_temp_token != ''`, token)
	return r.scanUser(row)
}

func (r *PostgresUserRepo) ResetFailedAttempts(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET failed_login_attempts = 0, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	const query = `
INSERT INTO users (email, email_verified, email_verification_token, email_verification_expires_at,
	password_hash, password_history, name, phone, role, provider, status, token_version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
RETURNING ` + userColumns

	row := r.db.QueryRow(ctx, query,
		user.Email, user.EmailVerified, user.EmailVerificationToken, user.EmailVerificationExpiresAt,
		user.PasswordHash, user.PasswordHistory, user.Name, user.Phone, user.Role, user.Provider,
		user.Status, user.TokenVersion,
	)
	created, err := r.scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user domain.User) error {
	const query = `UPDATE users SET name = $2, phone = $3, avatar_url = $4, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, user.ID, user.Name, user.Phone, user.AvatarURL)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) SetPasswordHash(ctx context.Context, userID int64, hash string, history []string) error {
	const query = `UPDATE users SET password_hash = $2, password_history = $3, last_password_change = now(), updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID, hash, history)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) SetEmailVerification(ctx context.Context, userID int64, token string, expiresAt *time.Time) error {
	const query = `UPDATE users SET email_verification_token = $2, email_verification_expires_at = $3, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set email verification: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) MarkEmailVerified(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET email_verified = true, email_verification_token = '', email_verification_expires_at = NULL, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) SetPasswordResetToken(ctx context.Context, userID int64, token string, expiresAt *time.Time) error {
	const query = `UPDATE users SET password_reset_token = $2, password_reset_expires_at = $3, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set password reset token: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) ClearPasswordResetToken(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET password_reset_token = '', password_reset_expires_at = NULL, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("clear password reset token: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) IncrementTokenVersion(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET token_version = token_version + 1, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("increment token version: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) SetTwoFactorSecret(ctx context.Context, userID int64, encrypted, nonce []byte, backupHashes []string) error {
	const query = `UPDATE users SET totp_secret_encrypted = $2, totp_secret_nonce = $3, backup_code_hashes = $4, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID, encrypted, nonce, backupHashes)
	if err != nil {
		return fmt.Errorf("set two factor secret: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) EnableTwoFactor(ctx context.Context, userID int64, enabled bool) error {
	const query = `UPDATE users SET two_factor_enabled = $2, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID, enabled)
	if err != nil {
		return fmt.Errorf("enable two factor: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) SetTwoFactorTempToken(ctx context.Context, userID int64, token string, expiresAt *time.Time) error {
	const query = `UPDATE users SET two_factor_temp_token = $2, two_factor_temp_expires_at = $3, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set two factor temp token: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) RecordFailedAttempt(ctx context.Context, userID int64) (int, error) {
	const query = `UPDATE users SET failed_login_attempts = failed_login_attempts + 1, updated_at = now() WHERE id = $1 RETURNING failed_login_attempts`
	var attempts int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("record failed attempt: %w", err)
	}
	return attempts, nil
}

func (r *PostgresUserRepo) LockAccount(ctx context.Context, userID int64, until time.Time) error {
	const query = `UPDATE users SET status = $2, locked_until = $3, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID, domain.UserStatusLocked, until)
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) UnlockAccount(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET status = $2, locked_until = NULL, failed_login_attempts = 0, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID, domain.UserStatusActive)
	if err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) AppendLoginHistory(ctx context.Context, userID int64, entry domain.LoginHistoryEntry) error {
	const query = `UPDATE users SET login_history = (COALESCE(login_history, '[]'::jsonb) || $2::jsonb), updated_at = now() WHERE id = $1`
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode login history entry: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, userID, fmt.Sprintf("[%s]", encoded)); err != nil {
		return fmt.Errorf("append login history: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) AppendTrustedDevice(ctx context.Context, userID int64, device domain.TrustedDevice) error {
	const query = `UPDATE users SET trusted_devices = (COALESCE(trusted_devices, '[]'::jsonb) || $2::jsonb), updated_at = now() WHERE id = $1`
	encoded, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("encode trusted device: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, userID, fmt.Sprintf("[%s]", encoded)); err != nil {
		return fmt.Errorf("append trusted device: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateBackupCodeHashes(ctx context.Context, userID int64, hashes []string) error {
	const query = `UPDATE users SET backup_code_hashes = $2, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID, hashes)
	if err != nil {
		return fmt.Errorf("update backup code hashes: %w", err)
	}
	return nil
}
