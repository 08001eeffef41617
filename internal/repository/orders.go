package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/shieldcart-auth/internal/domain"
)

// OrderRepository persists priced orders and their line items, and answers
// the order-anomaly queries anomaly.OrderHistory needs.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) (domain.Order, error)
	GetByID(ctx context.Context, orderID int64) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error
	RecentOrders(ctx context.Context, userID int64, limit int) ([]domain.Order, error)
	CountOrdersSince(ctx context.Context, userID int64, since time.Time) (int, error)
	HasShippingAddress(ctx context.Context, userID int64, addressHash string) (bool, error)
	RecordShippingAddress(ctx context.Context, userID int64, orderID int64, addressHash string) error
}

// PostgresOrderRepo implements OrderRepository against the orders and
// order_items tables.
type PostgresOrderRepo struct {
	db *pgxpool.Pool
}

func NewPostgresOrderRepo(pool *pgxpool.Pool) *PostgresOrderRepo {
	return &PostgresOrderRepo{db: pool}
}

// HashShippingAddress derives the opaque address key used for the
// unseen-shipping-address anomaly signal; callers never pass raw address
// text into this package.
func HashShippingAddress(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (r *PostgresOrderRepo) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertOrder = `
INSERT INTO orders (user_id, status, subtotal_cents, discount_cents, total_cents, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING id, user_id, status, subtotal_cents, discount_cents, total_cents, created_at`

	var created domain.Order
	row := tx.QueryRow(ctx, insertOrder, order.UserID, order.Status, order.SubtotalCents, order.DiscountCents, order.TotalCents)
	if err := row.Scan(&created.ID, &created.UserID, &created.Status, &created.SubtotalCents, &created.DiscountCents, &created.TotalCents, &created.CreatedAt); err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	const insertItem = `INSERT INTO order_items (order_id, product_id, description, unit_price_cents, quantity) VALUES ($1, $2, $3, $4, $5)`
	for _, item := range order.Items {
		if _, err := tx.Exec(ctx, insertItem, created.ID, item.ProductID, item.Description, item.UnitPriceCents, item.Quantity); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
		item.OrderID = created.ID
		created.Items = append(created.Items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit order tx: %w", err)
	}
	return created, nil
}

func (r *PostgresOrderRepo) GetByID(ctx context.Context, orderID int64) (domain.Order, error) {
	const query = `SELECT id, user_id, status, subtotal_cents, discount_cents, total_cents, created_at FROM orders WHERE id = $1`
	var o domain.Order
	err := r.db.QueryRow(ctx, query, orderID).Scan(&o.ID, &o.UserID, &o.Status, &o.SubtotalCents, &o.DiscountCents, &o.TotalCents, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	const itemQuery = `SELECT id, order_id, product_id, description, unit_price_cents, quantity FROM order_items WHERE order_id = $1`
	rows, err := r.db.Query(ctx, itemQuery, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Description, &item.UnitPriceCents, &item.Quantity); err != nil {
			return domain.Order{}, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

func (r *PostgresOrderRepo) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	const query = `UPDATE orders SET status = $2 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, orderID, status); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepo) RecentOrders(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	const query = `SELECT id, user_id, status, subtotal_cents, discount_cents, total_cents, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.SubtotalCents, &o.DiscountCents, &o.TotalCents, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *PostgresOrderRepo) CountOrdersSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	const query = `SELECT count(*) FROM orders WHERE user_id = $1 AND created_at >= $2`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders since: %w", err)
	}
	return count, nil
}

func (r *PostgresOrderRepo) HasShippingAddress(ctx context.Context, userID int64, addressHash string) (bool, error) {
	const query = `SELECT exists(SELECT 1 FROM order_shipping_addresses WHERE user_id = $1 AND address_hash = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, addressHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("has shipping address: %w", err)
	}
	return exists, nil
}

func (r *PostgresOrderRepo) RecordShippingAddress(ctx context.Context, userID int64, orderID int64, addressHash string) error {
	const query = `INSERT INTO order_shipping_addresses (user_id, order_id, address_hash, first_seen_at)
		VALUES ($1, $2, $3, now()) ON CONFLICT (user_id, address_hash) DO NOTHING`
	if _, err := r.db.Exec(ctx, query, userID, orderID, addressHash); err != nil {
		return fmt.Errorf("record shipping address: %w", err)
	}
	return nil
}
