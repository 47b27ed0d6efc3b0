package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer is the authenticated buyer placing a checkout.
type Customer struct {
	ID    string
	Name  string
	Email string

	// GatewayCustomerID is the identity of this customer at the external
	// payment gateway. Empty until the first intent is created; once written
	// it is the single source of truth, so repeated checkouts never create
	// duplicate gateway identities.
	GatewayCustomerID string
}

// Repository defines persistence operations for customers.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Customer, error)
	SetGatewayCustomerID(ctx context.Context, id, gatewayID string) error
}
