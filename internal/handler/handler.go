// Package handler exposes the checkout payment HTTP endpoints.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/merchkit/checkout/internal/domain/checkout"
	"github.com/merchkit/checkout/internal/domain/customer"
	"github.com/merchkit/checkout/internal/domain/payment"
)

// CartValidator prices a submitted cart into a frozen snapshot.
type CartValidator interface {
	Validate(ctx context.Context, lines []checkout.CartLine, shippingAddress json.RawMessage) (*checkout.Snapshot, error)
}

// IntentIssuer opens a gateway payment intent for a priced snapshot.
type IntentIssuer interface {
	CreateIntent(ctx context.Context, cust *customer.Customer, snap *checkout.Snapshot) (string, error)
}

// EventVerifier authenticates an inbound webhook request body.
type EventVerifier interface {
	Verify(body []byte, header string) error
}

// EventProcessor materializes a verified payment event.
type EventProcessor interface {
	HandleEvent(ctx context.Context, ev *payment.Event) error
}

// Handler implements the two payment routes, delegating business logic to
// the injected checkout components.
type Handler struct {
	customers    customer.Repository
	validator    CartValidator
	issuer       IntentIssuer
	verifier     EventVerifier
	materializer EventProcessor
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(
	customers customer.Repository,
	validator CartValidator,
	issuer IntentIssuer,
	verifier EventVerifier,
	materializer EventProcessor,
) *Handler {
	return &Handler{
		customers:    customers,
		validator:    validator,
		issuer:       issuer,
		verifier:     verifier,
		materializer: materializer,
	}
}

// Register mounts the payment routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /payment/create-intent", h.CreateIntent)
	mux.HandleFunc("POST /payment/webhook", h.Webhook)
}

// writeJSON writes a jx-encoded response body with the given status.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes a {code, message} error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}
