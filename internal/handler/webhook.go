package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/merchkit/checkout/internal/domain/payment"
	"github.com/merchkit/checkout/internal/gateway"
)

// signatureHeader carries the processor's HMAC signature over the raw body.
const signatureHeader = "Webhook-Signature"

// maxWebhookBody bounds the raw body read for signature verification.
const maxWebhookBody = 1 << 20

// Webhook handles POST /payment/webhook. Signature verification is the hard
// boundary: a request that fails it is rejected with 400 and no processing.
// Once the signature passes, the event is always acknowledged with
// {received: true} — even for duplicates or events whose payload turns out
// to be unusable — so the processor is never induced to retry forever.
// Only genuine storage failures return 5xx, which invites a redelivery that
// idempotent materialization will absorb.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(signatureHeader)); err != nil {
		lg.Warn("Webhook signature rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ev, err := gateway.ParseEvent(body)
	if err != nil {
		// Signed by the processor but not decodable: acknowledge so delivery
		// stops, and leave an auditable trail for reconciliation.
		lg.Error("Verified webhook event is undecodable, manual reconciliation required",
			zap.Error(err),
		)
		h.acknowledge(w)
		return
	}

	if err := h.materializer.HandleEvent(ctx, ev); err != nil {
		if errors.Is(err, payment.ErrMalformedMetadata) {
			// Already logged as an operational alert by the materializer.
			h.acknowledge(w)
			return
		}
		lg.Error("Webhook processing failed, processor will redeliver",
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	h.acknowledge(w)
}

func (h *Handler) acknowledge(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("received")
		e.Bool(true)
		e.ObjEnd()
	})
}
