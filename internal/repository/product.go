package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/merchkit/checkout/internal/domain/product"
)

const (
	getProductByIDSQL = `SELECT id, name, price, stock, image, category
		FROM products WHERE id = $1`

	// The WHERE clause makes the decrement conditional and the single UPDATE
	// statement makes it atomic: concurrent decrements on the same row
	// serialize inside PostgreSQL, so no decrement ever acts on a stale
	// stock value. Zero rows affected means the condition failed.
	decrementStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// DecrementStock applies the atomic conditional decrement. It distinguishes
// a missing product from one with insufficient stock so callers can flag the
// right condition.
func (r *ProductRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	tag, err := r.pool.Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return product.ErrInsufficientStock
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.Image, &p.Category)
	p.Price = price
	return p, err
}
