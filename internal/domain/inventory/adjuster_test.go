package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"

	"github.com/merchkit/checkout/internal/domain/checkout"
	"github.com/merchkit/checkout/internal/domain/product"
)

// --- Mock implementations ---

// mockLedger mimics the storage-level conditional decrement: the check and
// the write happen under one lock, as a single indivisible operation.
type mockLedger struct {
	mu     sync.Mutex
	stock  map[string]int
	decErr error
}

func (m *mockLedger) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stock[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &product.Product{ID: id, Stock: s, Price: decimal.Zero}, nil
}

func (m *mockLedger) DecrementStock(_ context.Context, id string, qty int) error {
	if m.decErr != nil {
		return m.decErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stock[id]
	if !ok {
		return product.ErrNotFound
	}
	if s < qty {
		return product.ErrInsufficientStock
	}
	m.stock[id] = s - qty
	return nil
}

type mockFlagRepo struct {
	mu    sync.Mutex
	flags []*OversellFlag
	err   error
}

func (m *mockFlagRepo) Create(_ context.Context, flag *OversellFlag) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags = append(m.flags, flag)
	return nil
}

func (m *mockFlagRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flags)
}

// --- Helpers ---

func newTestAdjuster(t *testing.T, ledger *mockLedger, flags *mockFlagRepo) *Adjuster {
	t.Helper()
	a, err := NewAdjuster(ledger, flags, metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return a
}

func line(productID string, qty int) checkout.ValidatedLine {
	return checkout.ValidatedLine{ProductID: productID, Quantity: qty}
}

// --- Tests ---

func TestAdjust_DecrementsEveryLine(t *testing.T) {
	ledger := &mockLedger{stock: map[string]int{"p1": 5, "p2": 3}}
	flags := &mockFlagRepo{}
	a := newTestAdjuster(t, ledger, flags)

	err := a.Adjust(context.Background(), "order-1", []checkout.ValidatedLine{
		line("p1", 2),
		line("p2", 3),
	})

	require.NoError(t, err)
	assert.Equal(t, 3, ledger.stock["p1"])
	assert.Equal(t, 0, ledger.stock["p2"])
	assert.Zero(t, flags.count())
}

func TestAdjust_OversellFlagsLine(t *testing.T) {
	ledger := &mockLedger{stock: map[string]int{"p1": 5, "p2": 1}}
	flags := &mockFlagRepo{}
	a := newTestAdjuster(t, ledger, flags)

	err := a.Adjust(context.Background(), "order-1", []checkout.ValidatedLine{
		line("p1", 2),
		line("p2", 4),
	})

	require.NoError(t, err, "oversell is not a hard failure")
	assert.Equal(t, 3, ledger.stock["p1"], "other lines still decrement")
	assert.Equal(t, 1, ledger.stock["p2"], "denied line leaves stock untouched")
	require.Equal(t, 1, flags.count())
	assert.Equal(t, "order-1", flags.flags[0].OrderID)
	assert.Equal(t, "p2", flags.flags[0].ProductID)
	assert.Equal(t, 4, flags.flags[0].Quantity)
}

func TestAdjust_StorageErrorPropagates(t *testing.T) {
	ledger := &mockLedger{stock: map[string]int{"p1": 5}, decErr: errors.New("db down")}
	flags := &mockFlagRepo{}
	a := newTestAdjuster(t, ledger, flags)

	err := a.Adjust(context.Background(), "order-1", []checkout.ValidatedLine{line("p1", 1)})
	require.Error(t, err)
}

func TestAdjust_FlagErrorPropagates(t *testing.T) {
	ledger := &mockLedger{stock: map[string]int{"p1": 0}}
	flags := &mockFlagRepo{err: errors.New("db down")}
	a := newTestAdjuster(t, ledger, flags)

	err := a.Adjust(context.Background(), "order-1", []checkout.ValidatedLine{line("p1", 1)})
	require.Error(t, err)
}

func TestAdjust_LastUnitContention(t *testing.T) {
	// N concurrent adjustments all requesting the last unit: exactly one
	// decrement succeeds, the rest are flagged, stock never goes negative.
	const n = 16
	ledger := &mockLedger{stock: map[string]int{"p1": 1}}
	flags := &mockFlagRepo{}
	a := newTestAdjuster(t, ledger, flags)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = a.Adjust(context.Background(), "order-1", []checkout.ValidatedLine{line("p1", 1)})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "adjustment %d", i)
	}
	assert.Equal(t, 0, ledger.stock["p1"])
	assert.Equal(t, n-1, flags.count())
}
