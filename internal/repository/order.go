package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/merchkit/checkout/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders
		(id, customer_id, payment_reference, lines, shipping_address, total, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getOrderByPaymentRefSQL = `SELECT id, customer_id, payment_reference, lines,
		shipping_address, total, status, shipped_at, delivered_at, created_at
		FROM orders WHERE payment_reference = $1`

	// COALESCE keeps the first-transition timestamp: repeated transitions to
	// the same status never overwrite it.
	markShippedSQL = `UPDATE orders
		SET status = 'shipped', shipped_at = COALESCE(shipped_at, now())
		WHERE id = $1`

	markDeliveredSQL = `UPDATE orders
		SET status = 'delivered', delivered_at = COALESCE(delivered_at, now())
		WHERE id = $1`
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The line items are serialized to JSON for the
// JSONB column. A unique violation on the payment reference maps to
// order.ErrPaymentReferenceExists so callers can resolve redelivered events
// as no-ops.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerID, o.PaymentReference, linesJSON,
		o.ShippingAddress, o.Total, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return order.ErrPaymentReferenceExists
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// GetByPaymentReference returns the order carrying the given payment
// reference, or order.ErrNotFound.
func (r *OrderRepository) GetByPaymentReference(ctx context.Context, ref string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByPaymentRefSQL, ref)
	if err != nil {
		return nil, fmt.Errorf("getting order by payment reference %q: %w", ref, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order by payment reference %q: %w", ref, err)
	}
	return &o, nil
}

// MarkShipped transitions the order to shipped, setting shipped_at only on
// the first transition.
func (r *OrderRepository) MarkShipped(ctx context.Context, id string) error {
	return r.transition(ctx, markShippedSQL, id)
}

// MarkDelivered transitions the order to delivered, setting delivered_at
// only on the first transition.
func (r *OrderRepository) MarkDelivered(ctx context.Context, id string) error {
	return r.transition(ctx, markDeliveredSQL, id)
}

func (r *OrderRepository) transition(ctx context.Context, sql, id string) error {
	tag, err := r.pool.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("transitioning order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		linesJSON []byte
		status    string
		total     decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.PaymentReference, &linesJSON,
		&o.ShippingAddress, &total, &status, &o.ShippedAt, &o.DeliveredAt, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return o, fmt.Errorf("unmarshaling order lines: %w", err)
	}
	o.Total = total
	o.Status = order.Status(status)
	return o, nil
}
