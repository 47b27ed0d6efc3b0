package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/checkout/internal/domain/customer"
)

const (
	getCustomerByIDSQL = `SELECT id, name, email, COALESCE(gateway_customer_id, '')
		FROM customers WHERE id = $1`

	setGatewayCustomerIDSQL = `UPDATE customers SET gateway_customer_id = $2
		WHERE id = $1`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// GetByID returns a single customer by its identifier.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*customer.Customer, error) {
	var c customer.Customer
	err := r.pool.QueryRow(ctx, getCustomerByIDSQL, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.GatewayCustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	return &c, nil
}

// SetGatewayCustomerID persists the external payment-processor identity for
// the customer.
func (r *CustomerRepository) SetGatewayCustomerID(ctx context.Context, id, gatewayID string) error {
	tag, err := r.pool.Exec(ctx, setGatewayCustomerIDSQL, id, gatewayID)
	if err != nil {
		return fmt.Errorf("setting gateway customer id for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return customer.ErrNotFound
	}
	return nil
}
