package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProductCatalogRepository is the minimal pricing surface the payment gate
// needs — this module does not implement a product catalog, only the
// read-side lookup the gate uses to reject client-supplied prices.
type ProductCatalogRepository interface {
	PriceCents(ctx context.Context, productID string) (cents int64, active bool, err error)
}

// PostgresProductCatalogRepo implements ProductCatalogRepository against a
// minimal products table (id, price_cents, active).
type PostgresProductCatalogRepo struct {
	db *pgxpool.Pool
}

func NewPostgresProductCatalogRepo(pool *pgxpool.Pool) *PostgresProductCatalogRepo {
	return &PostgresProductCatalogRepo{db: pool}
}

func (r *PostgresProductCatalogRepo) PriceCents(ctx context.Context, productID string) (int64, bool, error) {
	const query = `SELECT price_cents, active FROM products WHERE id = $1`
	var cents int64
	var active bool
	err := r.db.QueryRow(ctx, query, productID).Scan(&cents, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, fmt.Errorf("price lookup: %w", err)
	}
	return cents, active, nil
}
