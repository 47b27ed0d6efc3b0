package checkout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/merchkit/checkout/internal/domain/product"
)

// Sentinel errors for cart validation.
var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidTotal    = errors.New("computed total must be positive")
	ErrInvalidShipping = errors.New("shipping address must be a JSON value")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// OutOfStockError indicates a line requests more units than are in stock.
type OutOfStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Validator prices and validates a submitted cart against the current
// catalog. It is a pure read-and-compute step with no side effects; the
// stock check here is advisory and is re-validated at decrement time.
type Validator struct {
	products product.Repository
}

// NewValidator creates a Validator backed by the given product repository.
func NewValidator(products product.Repository) *Validator {
	return &Validator{products: products}
}

// Validate re-prices the cart, freezes each line, and computes the checkout
// totals: subtotal = Σ(price×qty), shipping flat fee, tax = 8% of subtotal,
// total rounded to cents.
func (v *Validator) Validate(ctx context.Context, lines []CartLine, shippingAddress json.RawMessage) (*Snapshot, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	// The address rides through gateway metadata as an opaque string and is
	// reconstructed by the webhook path; an absent or unparseable value must
	// fail here, before any intent is opened, not after capture.
	if len(shippingAddress) == 0 || string(shippingAddress) == "null" || !json.Valid(shippingAddress) {
		return nil, ErrInvalidShipping
	}

	validated := make([]ValidatedLine, 0, len(lines))
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: line.ProductID}
		}

		p, err := v.products.GetByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, &ProductNotFoundError{ProductID: line.ProductID}
			}
			return nil, errors.Wrapf(err, "get product %q", line.ProductID)
		}
		if p.Stock < line.Quantity {
			return nil, &OutOfStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: p.Stock,
			}
		}

		validated = append(validated, ValidatedLine{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  line.Quantity,
			Image:     p.Image,
		})
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	tax := subtotal.Mul(TaxRate)
	total := subtotal.Add(ShippingFee).Add(tax).Round(2)
	if !total.IsPositive() {
		return nil, ErrInvalidTotal
	}

	return &Snapshot{
		Lines: validated,
		Totals: Totals{
			Subtotal: subtotal,
			Shipping: ShippingFee,
			Tax:      tax,
			Total:    total,
		},
		ShippingAddress: shippingAddress,
	}, nil
}
