package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginAttemptRepository records every authentication attempt (success or
// failure) and answers the aggregate queries anomaly.LoginHistory needs.
// It is deliberately separate from users.login_history, which only keeps a
// per-user recent-activity list for display; this table is the one the
// fraud scorer and brute-force detector query across users and IPs.
type LoginAttemptRepository interface {
	Record(ctx context.Context, userID int64, ip, userAgent string, success bool, reason string) error
	CountFailedLoginsByUser(ctx context.Context, userID int64, since time.Time) (int, error)
	CountFailedLoginsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	FailedLoginTimestampsByIP(ctx context.Context, ip string, since time.Time) ([]time.Time, error)
}

// PostgresLoginAttemptRepo implements LoginAttemptRepository against the
// login_attempts table.
type PostgresLoginAttemptRepo struct {
	db *pgxpool.Pool
}

func NewPostgresLoginAttemptRepo(pool *pgxpool.Pool) *PostgresLoginAttemptRepo {
	return &PostgresLoginAttemptRepo{db: pool}
}

func (r *PostgresLoginAttemptRepo) Record(ctx context.Context, userID int64, ip, userAgent string, success bool, reason string) error {
	const query = `INSERT INTO login_attempts (user_id, ip_address, user_agent, success, reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, now())`
	_, err := r.db.Exec(ctx, query, userID, ip, userAgent, success, reason)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

func (r *PostgresLoginAttemptRepo) CountFailedLoginsByUser(ctx context.Context, userID int64, since time.Time) (int, error) {
	const query = `SELECT count(*) FROM login_attempts WHERE user_id = $1 AND success = false AND attempted_at >= $2`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed logins by user: %w", err)
	}
	return count, nil
}

func (r *PostgresLoginAttemptRepo) CountFailedLoginsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	const query = `SELECT count(*) FROM login_attempts WHERE ip_address = $1 AND success = false AND attempted_at >= $2`
	var count int
	if err := r.db.QueryRow(ctx, query, ip, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed logins by ip: %w", err)
	}
	return count, nil
}

func (r *PostgresLoginAttemptRepo) FailedLoginTimestampsByIP(ctx context.Context, ip string, since time.Time) ([]time.Time, error) {
	const query = `SELECT attempted_at FROM login_attempts WHERE ip_address = $1 AND success = false AND attempted_at >= $2 ORDER BY attempted_at ASC`
	rows, err := r.db.Query(ctx, query, ip, since)
	if err != nil {
		return nil, fmt.Errorf("failed login timestamps by ip: %w", err)
	}
	defer rows.Close()

	var timestamps []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan login attempt timestamp: %w", err)
		}
		timestamps = append(timestamps, t)
	}
	return timestamps, rows.Err()
}
