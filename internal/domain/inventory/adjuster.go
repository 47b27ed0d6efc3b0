// Package inventory applies stock decrements for materialized orders.
package inventory

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/merchkit/checkout/internal/domain/checkout"
	"github.com/merchkit/checkout/internal/domain/product"
)

// OversellFlag marks an order line whose decrement was denied because
// concurrent checkouts had already taken the remaining units. Flags feed a
// manual review queue; the order itself is never rolled back.
type OversellFlag struct {
	OrderID   string
	ProductID string
	Quantity  int
}

// FlagRepository persists oversell flags for manual review.
type FlagRepository interface {
	Create(ctx context.Context, flag *OversellFlag) error
}

// Adjuster decrements product stock once per line of a newly materialized
// order. Each decrement is a single atomic conditional storage operation;
// a denied decrement is flagged for review rather than failing the order,
// since the payment has already been captured.
type Adjuster struct {
	products product.Repository
	flags    FlagRepository

	oversells metric.Int64Counter
}

// NewAdjuster creates an Adjuster with the required dependencies.
func NewAdjuster(products product.Repository, flags FlagRepository, meter metric.Meter) (*Adjuster, error) {
	oversells, err := meter.Int64Counter("checkout.oversell_flags",
		metric.WithDescription("Order lines denied stock and flagged for manual review"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create oversell counter")
	}

	return &Adjuster{
		products:  products,
		flags:     flags,
		oversells: oversells,
	}, nil
}

// Adjust decrements stock for every line, fanning out across lines. A line
// denied by the conditional decrement is recorded as an oversell flag and
// does not fail the adjustment; storage errors do.
func (a *Adjuster) Adjust(ctx context.Context, orderID string, lines []checkout.ValidatedLine) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, line := range lines {
		g.Go(func() error {
			err := a.products.DecrementStock(ctx, line.ProductID, line.Quantity)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, product.ErrInsufficientStock):
				return a.flagOversell(ctx, orderID, line)
			default:
				return errors.Wrapf(err, "decrement stock for product %s", line.ProductID)
			}
		})
	}
	return g.Wait()
}

func (a *Adjuster) flagOversell(ctx context.Context, orderID string, line checkout.ValidatedLine) error {
	zctx.From(ctx).Warn("Oversell detected, flagging line for manual review",
		zap.String("order_id", orderID),
		zap.String("product_id", line.ProductID),
		zap.Int("quantity", line.Quantity),
	)
	a.oversells.Add(ctx, 1)

	err := a.flags.Create(ctx, &OversellFlag{
		OrderID:   orderID,
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
	})
	if err != nil {
		return errors.Wrapf(err, "flag oversell for product %s", line.ProductID)
	}
	return nil
}
