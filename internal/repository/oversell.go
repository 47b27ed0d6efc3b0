package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/checkout/internal/domain/inventory"
)

const createOversellFlagSQL = `INSERT INTO oversell_flags (order_id, product_id, quantity)
	VALUES ($1, $2, $3)`

var _ inventory.FlagRepository = (*OversellFlagRepository)(nil)

// OversellFlagRepository implements inventory.FlagRepository backed by
// PostgreSQL. Each row is an order line awaiting manual oversell review.
type OversellFlagRepository struct {
	pool *pgxpool.Pool
}

// NewOversellFlagRepository returns an OversellFlagRepository that uses the
// given pool.
func NewOversellFlagRepository(pool *pgxpool.Pool) *OversellFlagRepository {
	return &OversellFlagRepository{pool: pool}
}

// Create persists an oversell flag.
func (r *OversellFlagRepository) Create(ctx context.Context, flag *inventory.OversellFlag) error {
	_, err := r.pool.Exec(ctx, createOversellFlagSQL,
		flag.OrderID, flag.ProductID, flag.Quantity,
	)
	if err != nil {
		return fmt.Errorf("creating oversell flag for order %q: %w", flag.OrderID, err)
	}
	return nil
}
