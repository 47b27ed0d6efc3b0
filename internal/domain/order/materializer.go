package order

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/merchkit/checkout/internal/domain/payment"
)

// Expected volume of distinct payment references kept in the advisory
// duplicate filter between restarts.
const (
	seenFilterCapacity = 1_000_000
	seenFilterFPR      = 0.001
)

// Materializer converts verified "payment succeeded" events into exactly one
// durable order per payment reference, then applies the stock decrement.
//
// Redelivery handling is layered: an in-process bloom filter and a
// repository lookup short-circuit most duplicates cheaply, but both are
// advisory. The binding guarantee is the unique constraint on the payment
// reference, enforced by the storage layer at insert time, which concurrent
// redeliveries cannot race past.
type Materializer struct {
	orders    Repository
	inventory StockAdjuster

	mu   sync.Mutex
	seen *bloom.BloomFilter

	tracer       trace.Tracer
	materialized metric.Int64Counter
	duplicates   metric.Int64Counter
}

// NewMaterializer creates a Materializer with the required dependencies.
func NewMaterializer(
	orders Repository,
	inventory StockAdjuster,
	tracer trace.Tracer,
	meter metric.Meter,
) (*Materializer, error) {
	materialized, err := meter.Int64Counter("checkout.orders_materialized",
		metric.WithDescription("Orders created from payment succeeded events"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create materialized counter")
	}
	duplicates, err := meter.Int64Counter("checkout.duplicate_events",
		metric.WithDescription("Redelivered payment events resolved as no-ops"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create duplicates counter")
	}

	return &Materializer{
		orders:       orders,
		inventory:    inventory,
		seen:         bloom.NewWithEstimates(seenFilterCapacity, seenFilterFPR),
		tracer:       tracer,
		materialized: materialized,
		duplicates:   duplicates,
	}, nil
}

// HandleEvent processes a verified gateway event. Events of any type other
// than payment succeeded are ignored. For a succeeded event it decodes the
// metadata payload, creates the order exactly once, and decrements stock for
// the newly created order's lines. Redelivered events resolve to a no-op.
//
// A metadata payload that cannot be decoded is an operational alert, not a
// client error: the money is already captured, so the failure is logged
// loudly here and the caller acknowledges the event to stop redelivery.
func (m *Materializer) HandleEvent(ctx context.Context, ev *payment.Event) error {
	if ev.Type != payment.EventTypeSucceeded {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "order.Materialize", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("payment.reference", ev.IntentID),
	))
	defer span.End()

	lg := zctx.From(ctx).With(
		zap.String("event_id", ev.ID),
		zap.String("payment_reference", ev.IntentID),
	)

	payload, err := payment.DecodeMetadata(ev.Metadata)
	if err != nil {
		lg.Error("Payment captured but metadata is malformed, manual reconciliation required",
			zap.Error(err),
		)
		return errors.Wrapf(err, "event %s", ev.ID)
	}

	// Advisory fast paths. Either may miss a duplicate; neither may wrongly
	// declare one, which is why a bloom hit still consults the repository.
	if m.maybeSeen(ev.IntentID) {
		if _, err := m.orders.GetByPaymentReference(ctx, ev.IntentID); err == nil {
			lg.Debug("Duplicate payment event, already materialized")
			m.duplicates.Add(ctx, 1)
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return errors.Wrap(err, "check payment reference")
		}
	}

	o := &Order{
		ID:               uuid.New().String(),
		CustomerID:       payload.CustomerID,
		PaymentReference: ev.IntentID,
		Lines:            payload.Lines,
		ShippingAddress:  payload.ShippingAddress,
		Total:            payload.Total,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}

	if err := m.orders.Create(ctx, o); err != nil {
		if errors.Is(err, ErrPaymentReferenceExists) {
			// A concurrent redelivery won the insert race. Same end state.
			lg.Debug("Duplicate payment event, lost insert race")
			m.markSeen(ev.IntentID)
			m.duplicates.Add(ctx, 1)
			return nil
		}
		return errors.Wrap(err, "create order")
	}
	m.markSeen(ev.IntentID)
	m.materialized.Add(ctx, 1)

	lg.Info("Order materialized",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.Int("lines", len(o.Lines)),
	)

	if err := m.inventory.Adjust(ctx, o.ID, o.Lines); err != nil {
		return errors.Wrapf(err, "adjust inventory for order %s", o.ID)
	}
	return nil
}

func (m *Materializer) maybeSeen(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen.TestString(ref)
}

func (m *Materializer) markSeen(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen.AddString(ref)
}
