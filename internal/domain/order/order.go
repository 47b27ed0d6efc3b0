// Package order materializes verified payment events into durable orders.
package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/merchkit/checkout/internal/domain/checkout"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
)

// ErrNotFound is returned when no order matches the lookup.
var ErrNotFound = errors.New("order not found")

// ErrPaymentReferenceExists is returned by Repository.Create when an order
// with the same payment reference already exists. Callers treat it as
// "already processed", never as a failure.
var ErrPaymentReferenceExists = errors.New("payment reference already exists")

// Order is the durable record of a confirmed purchase. Exactly one order
// exists per distinct payment reference; that uniqueness, enforced by the
// storage layer at insert time, is the system's core correctness invariant.
type Order struct {
	ID               string
	CustomerID       string
	PaymentReference string
	Lines            []checkout.ValidatedLine
	ShippingAddress  json.RawMessage
	Total            decimal.Decimal
	Status           Status
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CreatedAt        time.Time
}

// Repository defines persistence operations for orders.
//
// Create must enforce payment-reference uniqueness at insert time and map a
// storage-level unique violation to ErrPaymentReferenceExists: an advisory
// existence check can always race against a concurrent redelivery, the
// insert cannot. MarkShipped and MarkDelivered set their timestamp only on
// the first transition; repeated transitions never overwrite it.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByPaymentReference(ctx context.Context, ref string) (*Order, error)
	MarkShipped(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, id string) error
}

// StockAdjuster applies the stock decrement for a materialized order's
// lines. Implemented by the inventory package.
type StockAdjuster interface {
	Adjust(ctx context.Context, orderID string, lines []checkout.ValidatedLine) error
}
