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

// PostgresAuditRepo implements audit.Repository against an append-only
// audit_log table. The table grants INSERT and SELECT only to the
// application role; UPDATE and DELETE are revoked at the schema level so
// tampering requires superuser access the audit chain can then detect.
type PostgresAuditRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAuditRepo(pool *pgxpool.Pool) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: pool}
}

// auditColumns must stay in sync with the audit_log table, which carries
// btree indices on (result, timestamp) and (risk_score, timestamp) for the
// security dashboard's filtered queries.
const auditColumns = `id, event_type, user_id, action, resource, resource_id, changes, result, error_message, risk_score,
		ip_address, user_agent, metadata, previous_hash, signature, timestamp`

func (r *PostgresAuditRepo) Latest(ctx context.Context) (*domain.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log ORDER BY id DESC LIMIT 1`
	row := r.db.QueryRow(ctx, query)
	entry, err := scanAuditEntry(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// auditChangesDTO is the on-disk shape of AuditLogEntry.Changes: a single
// jsonb column rather than two, since the pair is always read and written
// together.
type auditChangesDTO struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("encode audit metadata: %w", err)
	}
	var changes []byte
	if entry.Changes != nil {
		changes, err = json.Marshal(auditChangesDTO{Before: entry.Changes.Before, After: entry.Changes.After})
		if err != nil {
			return domain.AuditLogEntry{}, fmt.Errorf("encode audit changes: %w", err)
		}
	}

	query := `
INSERT INTO audit_log (event_type, user_id, action, resource, resource_id, changes, result, error_message, risk_score,
	ip_address, user_agent, metadata, previous_hash, signature, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING ` + auditColumns

	row := r.db.QueryRow(ctx, query,
		entry.EventType, entry.UserID, entry.Action, entry.Resource, entry.ResourceID, changes,
		entry.Result, entry.ErrorMessage, entry.RiskScore,
		entry.IPAddress, entry.UserAgent, metadata,
		entry.PreviousHash, entry.Signature, entry.Timestamp,
	)
	created, err := scanAuditEntry(row)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return created, nil
}

func (r *PostgresAuditRepo) ListByTimeRange(ctx context.Context, from, to time.Time) ([]domain.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE timestamp >= $1 AND timestamp <= $2 ORDER BY id ASC`
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAuditEntry(row pgx.Row) (domain.AuditLogEntry, error) {
	var entry domain.AuditLogEntry
	var metadata, changes []byte
	err := row.Scan(
		&entry.ID, &entry.EventType, &entry.UserID, &entry.Action, &entry.Resource, &entry.ResourceID,
		&changes, &entry.Result, &entry.ErrorMessage, &entry.RiskScore,
		&entry.IPAddress, &entry.UserAgent,
		&metadata, &entry.PreviousHash, &entry.Signature, &entry.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuditLogEntry{}, ErrNotFound
		}
		return domain.AuditLogEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &entry.Metadata)
	}
	if len(changes) > 0 {
		var dto auditChangesDTO
		if err := json.Unmarshal(changes, &dto); err == nil {
			entry.Changes = &domain.AuditChanges{Before: dto.Before, After: dto.After}
		}
	}
	return entry, nil
}
