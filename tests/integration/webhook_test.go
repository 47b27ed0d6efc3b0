//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

// succeededEvent builds the processor's payment_intent.succeeded delivery
// with the order payload encoded in intent metadata the way create-intent
// writes it.
func succeededEvent(t *testing.T, eventID, intentID string, items string, total string) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": "payment_intent.succeeded",
		"data": map[string]any{
			"object": map[string]any{
				"id": intentID,
				"metadata": map[string]string{
					"schema_version":   "1",
					"customer_id":      testCustomer,
					"items":            items,
					"shipping_address": `{"street":"1 Main St","city":"Springfield","zip":"62704"}`,
					"total":            total,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func itemJSON(productID, name, unitPrice string, qty int) string {
	return fmt.Sprintf(`{"product_id":%q,"name":%q,"unit_price":%q,"quantity":%d,"image":"img.jpg"}`,
		productID, name, unitPrice, qty)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	body := succeededEvent(t, "evt_badsig", "pi_int_badsig",
		"["+itemJSON("p-baklava", "Baklava", "4.00", 1)+"]", "14.32")

	resp := postWebhook(t, body, "t=1,v1=deadbeef")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if n := orderCount(t, "pi_int_badsig"); n != 0 {
		t.Errorf("order materialized despite rejected signature: %d rows", n)
	}
}

func TestWebhook_TamperedBody(t *testing.T) {
	body := succeededEvent(t, "evt_tamper", "pi_int_tamper",
		"["+itemJSON("p-baklava", "Baklava", "4.00", 1)+"]", "14.32")
	signature := signWebhook(body)

	tampered := succeededEvent(t, "evt_tamper", "pi_int_tamper",
		"["+itemJSON("p-baklava", "Baklava", "4.00", 5)+"]", "31.60")
	resp := postWebhook(t, tampered, signature)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if n := orderCount(t, "pi_int_tamper"); n != 0 {
		t.Errorf("order materialized from tampered body: %d rows", n)
	}
}

func TestWebhook_MaterializesOrderOnce(t *testing.T) {
	// 2x Baklava 4.00 = 8.00, +10.00 shipping +0.64 tax = 18.64.
	body := succeededEvent(t, "evt_dup", "pi_int_dup",
		"["+itemJSON("p-baklava", "Baklava", "4.00", 2)+"]", "18.64")

	stockBefore := productStock(t, "p-baklava")

	// The processor retries deliveries; every attempt must be acknowledged
	// and only the first may have effects.
	for i := range 3 {
		resp := postWebhook(t, body, signWebhook(body))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i+1, resp.StatusCode)
		}
		ack := decodeJSON[ackResponse](t, resp)
		resp.Body.Close()
		if !ack.Received {
			t.Fatalf("delivery %d: expected received=true", i+1)
		}
	}

	if n := orderCount(t, "pi_int_dup"); n != 1 {
		t.Fatalf("expected exactly 1 order for pi_int_dup, got %d", n)
	}
	if got, want := productStock(t, "p-baklava"), stockBefore-2; got != want {
		t.Errorf("stock after redeliveries: got %d, want %d", got, want)
	}
}

func TestWebhook_OversellFlaggedNotRolledBack(t *testing.T) {
	// p-cake is seeded with stock 1; the paid order wants 3. The order still
	// materializes, the decrement is denied, and the shortfall is flagged.
	body := succeededEvent(t, "evt_oversell", "pi_int_oversell",
		"["+itemJSON("p-cake", "Cake", "5.00", 3)+"]", "26.20")

	resp := postWebhook(t, body, signWebhook(body))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if n := orderCount(t, "pi_int_oversell"); n != 1 {
		t.Fatalf("expected order to materialize, got %d rows", n)
	}
	if got := productStock(t, "p-cake"); got != 1 {
		t.Errorf("denied decrement must leave stock untouched: got %d, want 1", got)
	}
	if n := oversellFlagCount(t, "pi_int_oversell"); n != 1 {
		t.Errorf("expected 1 oversell flag, got %d", n)
	}
}

func TestWebhook_IgnoresOtherEventTypes(t *testing.T) {
	body, err := json.Marshal(map[string]any{
		"id":   "evt_created",
		"type": "payment_intent.created",
		"data": map[string]any{
			"object": map[string]any{"id": "pi_int_created", "metadata": map[string]string{}},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	resp := postWebhook(t, body, signWebhook(body))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if n := orderCount(t, "pi_int_created"); n != 0 {
		t.Errorf("unexpected order for non-succeeded event: %d rows", n)
	}
}

func TestWebhook_MalformedMetadataAcked(t *testing.T) {
	body, err := json.Marshal(map[string]any{
		"id":   "evt_broken",
		"type": "payment_intent.succeeded",
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_int_broken",
				"metadata": map[string]string{"schema_version": "1"},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	resp := postWebhook(t, body, signWebhook(body))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 ack for unusable payload, got %d", resp.StatusCode)
	}
	if n := orderCount(t, "pi_int_broken"); n != 0 {
		t.Errorf("partial order materialized: %d rows", n)
	}
}
