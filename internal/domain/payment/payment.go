// Package payment opens gateway payment intents carrying a self-describing
// order payload, and defines the narrow gateway client boundary.
package payment

import (
	"context"
	"fmt"
)

// EventTypeSucceeded is the gateway event type that confirms a captured
// payment and triggers order materialization.
const EventTypeSucceeded = "payment_intent.succeeded"

// Currency is the only settlement currency the checkout supports.
const Currency = "usd"

// IntentRequest describes a payment intent to open at the gateway. Amount is
// in minor units (cents).
type IntentRequest struct {
	AmountMinor int64
	Currency    string
	CustomerID  string
	Metadata    map[string]string
}

// Intent is a gateway-side authorized-but-not-yet-confirmed charge.
type Intent struct {
	ID           string
	ClientSecret string
}

// Event is a verified gateway notification. IntentID is the payment
// reference; Metadata is the payload attached at intent creation.
type Event struct {
	ID       string
	Type     string
	IntentID string
	Metadata map[string]string
}

// Gateway is the payment processor client boundary. Implementations must
// return *GatewayError for any processor communication failure.
type Gateway interface {
	CreateCustomer(ctx context.Context, name, email string) (string, error)
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// GatewayError indicates a processor communication failure. The checkout
// leaves no partial state behind when it occurs: no order, no stock change.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
