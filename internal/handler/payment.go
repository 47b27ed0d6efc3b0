package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/merchkit/checkout/internal/domain/checkout"
	"github.com/merchkit/checkout/internal/domain/customer"
	"github.com/merchkit/checkout/internal/domain/payment"
)

// customerIDHeader carries the authenticated customer identity. Session
// authentication itself is an upstream concern; by the time a request
// reaches this service the header is trusted.
const customerIDHeader = "X-Customer-ID"

type createIntentRequest struct {
	CartItems []struct {
		Product struct {
			ID string `json:"_id"`
		} `json:"product"`
		Quantity int `json:"quantity"`
	} `json:"cartItems"`
	ShippingAddress json.RawMessage `json:"shippingAddress"`
}

// CreateIntent handles POST /payment/create-intent: it prices the submitted
// cart, opens a gateway intent carrying the frozen order payload, and
// returns the client secret. Nothing is persisted and no stock changes; the
// purchase is confirmed only by the later webhook.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID := r.Header.Get(customerIDHeader)
	if customerID == "" {
		writeError(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cust, err := h.customers.GetByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown customer")
			return
		}
		h.serverError(w, r, err)
		return
	}

	lines := make([]checkout.CartLine, len(req.CartItems))
	for i, item := range req.CartItems {
		lines[i] = checkout.CartLine{
			ProductID: item.Product.ID,
			Quantity:  item.Quantity,
		}
	}

	snap, err := h.validator.Validate(ctx, lines, req.ShippingAddress)
	if err != nil {
		h.checkoutError(w, r, err)
		return
	}

	clientSecret, err := h.issuer.CreateIntent(ctx, cust, snap)
	if err != nil {
		var gwErr *payment.GatewayError
		if errors.As(err, &gwErr) {
			zctx.From(ctx).Error("Payment gateway unavailable", zap.Error(err))
			writeError(w, http.StatusBadGateway, "payment gateway unavailable")
			return
		}
		h.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("clientSecret")
		e.Str(clientSecret)
		e.ObjEnd()
	})
}

// checkoutError maps cart validation failures to client-visible statuses.
// All of them happen before any payment, so they are immediate and
// actionable with no side effects.
func (h *Handler) checkoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		pnfErr *checkout.ProductNotFoundError
		oosErr *checkout.OutOfStockError
		iqErr  *checkout.InvalidQuantityError
	)
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkout.ErrInvalidShipping):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkout.ErrInvalidTotal):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &pnfErr):
		writeError(w, http.StatusUnprocessableEntity, pnfErr.Error())
	case errors.As(err, &oosErr):
		writeError(w, http.StatusConflict, oosErr.Error())
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	default:
		h.serverError(w, r, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
