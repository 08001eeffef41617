package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/shieldcart-auth/internal/domain"
)

// PaymentRepository persists payment intents and answers the
// anomaly.PaymentHistory queries the fraud scorer needs.
type PaymentRepository interface {
	Create(ctx context.Context, intent domain.PaymentIntent) (domain.PaymentIntent, error)
	UpdateStatus(ctx context.Context, intentID int64, status domain.PaymentIntentStatus, providerRef string) error
	GetByProviderRef(ctx context.Context, providerRef string) (domain.PaymentIntent, error)
	CountFailedPayments(ctx context.Context, userID int64, since time.Time) (int, error)
	CountPaymentEvents(ctx context.Context, userID int64, since time.Time) (int, error)
	DistinctIPsForUser(ctx context.Context, userID int64, since time.Time) (int, error)
	RecordAttemptIP(ctx context.Context, intentID int64, userID int64, ip string) error
}

// PostgresPaymentRepo implements PaymentRepository against the
// payment_intents and payment_attempt_ips tables.
type PostgresPaymentRepo struct {
	db *pgxpool.Pool
}

func NewPostgresPaymentRepo(pool *pgxpool.Pool) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: pool}
}

func (r *PostgresPaymentRepo) Create(ctx context.Context, intent domain.PaymentIntent) (domain.PaymentIntent, error) {
	const query = `
INSERT INTO payment_intents (order_id, user_id, amount_cents, currency, status, provider_ref, client_secret, fraud_score, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
RETURNING id, order_id, user_id, amount_cents, currency, status, provider_ref, client_secret, fraud_score, created_at`

	var created domain.PaymentIntent
	row := r.db.QueryRow(ctx, query, intent.OrderID, intent.UserID, intent.AmountCents, intent.Currency, intent.Status, intent.ProviderRef, intent.ClientSecret, intent.FraudScore)
	if err := scanPaymentIntent(row, &created); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return created, nil
}

func (r *PostgresPaymentRepo) UpdateStatus(ctx context.Context, intentID int64, status domain.PaymentIntentStatus, providerRef string) error {
	const query = `UPDATE payment_intents SET status = $2, provider_ref = COALESCE(NULLIF($3, ''), provider_ref) WHERE id = $1`
	_, err := r.db.Exec(ctx, query, intentID, status, providerRef)
	if err != nil {
		return fmt.Errorf("update payment intent status: %w", err)
	}
	return nil
}

func (r *PostgresPaymentRepo) GetByProviderRef(ctx context.Context, providerRef string) (domain.PaymentIntent, error) {
	const query = `SELECT id, order_id, user_id, amount_cents, currency, status, provider_ref, client_secret, fraud_score, created_at
		FROM payment_intents WHERE provider_ref = $1`
	var intent domain.PaymentIntent
	row := r.db.QueryRow(ctx, query, providerRef)
	if err := scanPaymentIntent(row, &intent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PaymentIntent{}, ErrNotFound
		}
		return domain.PaymentIntent{}, fmt.Errorf("get payment intent by provider ref: %w", err)
	}
	return intent, nil
}

func scanPaymentIntent(row pgx.Row, intent *domain.PaymentIntent) error {
	return row.Scan(&intent.ID, &intent.OrderID, &intent.UserID, &intent.AmountCents, &intent.Currency, &intent.Status, &intent.ProviderRef, &intent.ClientSecret, &intent.FraudScore, &intent.CreatedAt)
}

func (r *PostgresPaymentRepo) CountFailedPayments(ctx context.Context, userID int64, since time.Time) (int, error) {
	const query = `SELECT count(*) FROM payment_intents WHERE user_id = $1 AND status = $2 AND created_at >= $3`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, domain.PaymentIntentStatusFailed, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed payments: %w", err)
	}
	return count, nil
}

func (r *PostgresPaymentRepo) CountPaymentEvents(ctx context.Context, userID int64, since time.Time) (int, error) {
	const query = `SELECT count(*) FROM payment_intents WHERE user_id = $1 AND created_at >= $2`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count payment events: %w", err)
	}
	return count, nil
}

func (r *PostgresPaymentRepo) DistinctIPsForUser(ctx context.Context, userID int64, since time.Time) (int, error) {
	const query = `SELECT count(DISTINCT ip_address) FROM payment_attempt_ips WHERE user_id = $1 AND attempted_at >= $2`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("distinct ips for user: %w", err)
	}
	return count, nil
}

func (r *PostgresPaymentRepo) RecordAttemptIP(ctx context.Context, intentID int64, userID int64, ip string) error {
	const query = `INSERT INTO payment_attempt_ips (payment_intent_id, user_id, ip_address, attempted_at) VALUES ($1, $2, $3, now())`
	if _, err := r.db.Exec(ctx, query, intentID, userID, ip); err != nil {
		return fmt.Errorf("record payment attempt ip: %w", err)
	}
	return nil
}

// WebhookEventRepository deduplicates processed provider webhooks.
type WebhookEventRepository interface {
	MarkProcessed(ctx context.Context, event domain.WebhookEvent) (alreadyProcessed bool, err error)
}

// PostgresWebhookEventRepo implements WebhookEventRepository against the
// webhook_events table, using its primary key as the dedup gate.
type PostgresWebhookEventRepo struct {
	db *pgxpool.Pool
}

func NewPostgresWebhookEventRepo(pool *pgxpool.Pool) *PostgresWebhookEventRepo {
	return &PostgresWebhookEventRepo{db: pool}
}

func (r *PostgresWebhookEventRepo) MarkProcessed(ctx context.Context, event domain.WebhookEvent) (bool, error) {
	const query = `INSERT INTO webhook_events (id, provider, event_type, signature, received_at, processed)
		VALUES ($1, $2, $3, $4, now(), true)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.db.Exec(ctx, query, event.ID, event.Provider, event.EventType, event.Signature)
	if err != nil {
		return false, fmt.Errorf("mark webhook processed: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}
