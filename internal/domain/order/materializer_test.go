package order

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/merchkit/checkout/internal/domain/checkout"
	"github.com/merchkit/checkout/internal/domain/payment"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	mu        sync.Mutex
	byRef     map[string]*Order
	createErr error
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{byRef: make(map[string]*Order)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byRef[o.PaymentReference]; exists {
		return ErrPaymentReferenceExists
	}
	m.byRef[o.PaymentReference] = o
	return nil
}

func (m *mockOrderRepo) GetByPaymentReference(_ context.Context, ref string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) MarkShipped(_ context.Context, _ string) error   { return nil }
func (m *mockOrderRepo) MarkDelivered(_ context.Context, _ string) error { return nil }

func (m *mockOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byRef)
}

type mockAdjuster struct {
	mu    sync.Mutex
	calls int
	lines []checkout.ValidatedLine
	err   error
}

func (m *mockAdjuster) Adjust(_ context.Context, _ string, lines []checkout.ValidatedLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lines = lines
	return m.err
}

func (m *mockAdjuster) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Helpers ---

func newTestMaterializer(t *testing.T, repo Repository, adj StockAdjuster) *Materializer {
	t.Helper()
	m, err := NewMaterializer(repo, adj,
		tracenoop.NewTracerProvider().Tracer("test"),
		metricnoop.NewMeterProvider().Meter("test"),
	)
	require.NoError(t, err)
	return m
}

func succeededEvent(eventID, intentID string) *payment.Event {
	snap := &checkout.Snapshot{
		Lines: []checkout.ValidatedLine{
			{
				ProductID: "p1",
				Name:      "Widget",
				UnitPrice: decimal.RequireFromString("10.00"),
				Quantity:  2,
			},
		},
		Totals: checkout.Totals{
			Subtotal: decimal.RequireFromString("20.00"),
			Shipping: decimal.RequireFromString("10.00"),
			Tax:      decimal.RequireFromString("1.60"),
			Total:    decimal.RequireFromString("31.60"),
		},
		ShippingAddress: json.RawMessage(`{"street":"1 Main St"}`),
	}
	return &payment.Event{
		ID:       eventID,
		Type:     payment.EventTypeSucceeded,
		IntentID: intentID,
		Metadata: payment.EncodeMetadata("cust-1", snap),
	}
}

// --- Tests ---

func TestHandleEvent_MaterializesOrder(t *testing.T) {
	repo := newMockOrderRepo()
	adj := &mockAdjuster{}
	m := newTestMaterializer(t, repo, adj)

	err := m.HandleEvent(context.Background(), succeededEvent("evt_1", "pi_123"))
	require.NoError(t, err)

	o, err := repo.GetByPaymentReference(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", o.CustomerID)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("31.60").Equal(o.Total))
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "p1", o.Lines[0].ProductID)

	assert.Equal(t, 1, adj.callCount())
	assert.Equal(t, o.Lines, adj.lines)
}

func TestHandleEvent_IgnoresOtherEventTypes(t *testing.T) {
	repo := newMockOrderRepo()
	adj := &mockAdjuster{}
	m := newTestMaterializer(t, repo, adj)

	ev := succeededEvent("evt_1", "pi_123")
	ev.Type = "payment_intent.created"

	require.NoError(t, m.HandleEvent(context.Background(), ev))
	assert.Zero(t, repo.count())
	assert.Zero(t, adj.callCount())
}

func TestHandleEvent_RedeliveryIsNoOp(t *testing.T) {
	repo := newMockOrderRepo()
	adj := &mockAdjuster{}
	m := newTestMaterializer(t, repo, adj)

	for range 5 {
		require.NoError(t, m.HandleEvent(context.Background(), succeededEvent("evt_1", "pi_123")))
	}

	assert.Equal(t, 1, repo.count(), "exactly one order per payment reference")
	assert.Equal(t, 1, adj.callCount(), "stock adjusted once")
}

func TestHandleEvent_ConcurrentRedelivery(t *testing.T) {
	repo := newMockOrderRepo()
	adj := &mockAdjuster{}
	m := newTestMaterializer(t, repo, adj)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.HandleEvent(context.Background(), succeededEvent("evt_1", "pi_123"))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "delivery %d", i)
	}
	assert.Equal(t, 1, repo.count())
	assert.Equal(t, 1, adj.callCount())
}

func TestHandleEvent_LostInsertRace(t *testing.T) {
	// The advisory check misses, the insert hits the unique constraint.
	repo := newMockOrderRepo()
	repo.createErr = ErrPaymentReferenceExists
	adj := &mockAdjuster{}
	m := newTestMaterializer(t, repo, adj)

	err := m.HandleEvent(context.Background(), succeededEvent("evt_1", "pi_123"))
	require.NoError(t, err, "unique violation resolves as already processed")
	assert.Zero(t, adj.callCount(), "no stock adjustment for a lost race")
}

func TestHandleEvent_MalformedMetadata(t *testing.T) {
	repo := newMockOrderRepo()
	adj := &mockAdjuster{}
	m := newTestMaterializer(t, repo, adj)

	ev := succeededEvent("evt_1", "pi_123")
	ev.Metadata = map[string]string{"schema_version": "1"}

	err := m.HandleEvent(context.Background(), ev)
	require.ErrorIs(t, err, payment.ErrMalformedMetadata)
	assert.Zero(t, repo.count(), "no partial order from partial data")
	assert.Zero(t, adj.callCount())
}

func TestHandleEvent_AdjustErrorPropagates(t *testing.T) {
	repo := newMockOrderRepo()
	adj := &mockAdjuster{err: errors.New("db down")}
	m := newTestMaterializer(t, repo, adj)

	err := m.HandleEvent(context.Background(), succeededEvent("evt_1", "pi_123"))
	require.Error(t, err)
	assert.Equal(t, 1, repo.count(), "order persists even when adjustment fails")
}

func TestHandleEvent_CreateError(t *testing.T) {
	repo := newMockOrderRepo()
	repo.createErr = errors.New("connection reset")
	adj := &mockAdjuster{}
	m := newTestMaterializer(t, repo, adj)

	err := m.HandleEvent(context.Background(), succeededEvent("evt_1", "pi_123"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, payment.ErrMalformedMetadata)
	assert.Zero(t, adj.callCount())
}
