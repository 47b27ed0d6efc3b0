package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrInsufficientStock is returned by DecrementStock when the conditional
// decrement did not apply because the remaining stock is lower than the
// requested quantity.
var ErrInsufficientStock = errors.New("insufficient stock")

// Product represents a catalog item available for purchase.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Image    string
	Category string
}

// Repository defines the product ledger boundary: catalog reads plus the
// atomic conditional stock decrement.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)

	// DecrementStock applies stock = stock - qty only if stock >= qty, as a
	// single storage-level operation. It returns ErrInsufficientStock when
	// the condition does not hold. Implementations must not read stock into
	// application memory to decide; concurrent decrements on the same product
	// serialize at the storage layer.
	DecrementStock(ctx context.Context, id string, qty int) error
}
