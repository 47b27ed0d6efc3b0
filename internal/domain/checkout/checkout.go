// Package checkout prices a client-submitted cart into a frozen snapshot.
package checkout

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Pricing constants applied to every checkout.
var (
	// ShippingFee is the flat shipping charge added to every order.
	ShippingFee = decimal.RequireFromString("10.00")

	// TaxRate is applied to the subtotal before shipping.
	TaxRate = decimal.RequireFromString("0.08")
)

// CartLine is a client-supplied cart entry. It is never persisted as-is;
// the validator re-prices every line against the current catalog.
type CartLine struct {
	ProductID string
	Quantity  int
}

// ValidatedLine is a cart line frozen at validation time. Name, price and
// image are copied from the catalog so later edits cannot retroactively
// change a placed order's recorded content.
type ValidatedLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// Totals holds the checkout amounts computed once at validation time and
// embedded verbatim into the payment intent.
type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Snapshot is the complete priced checkout: the frozen lines, the computed
// totals, and the shipping address passed through opaquely.
type Snapshot struct {
	Lines           []ValidatedLine
	Totals          Totals
	ShippingAddress json.RawMessage
}
