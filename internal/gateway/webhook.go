package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/merchkit/checkout/internal/domain/payment"
)

// ErrSignatureInvalid is returned when a webhook signature does not verify.
// Callers must reject the request with no further processing.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// DefaultTolerance bounds how old a signed timestamp may be before the
// event is rejected as a potential replay.
const DefaultTolerance = 5 * time.Minute

// WebhookVerifier authenticates inbound events as genuinely originating from
// the payment processor. The signature header has the form
// "t=<unix>,v1=<hex>" where the hex value is
// HMAC-SHA256(secret, "<unix>.<raw body>").
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier creates a verifier for the given shared secret. A
// non-positive tolerance falls back to DefaultTolerance.
func NewWebhookVerifier(secret []byte, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &WebhookVerifier{
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify checks the signature header against the raw request body. It
// returns ErrSignatureInvalid for any malformed header, stale timestamp, or
// MAC mismatch; the error never reveals which check failed.
func (v *WebhookVerifier) Verify(body []byte, header string) error {
	ts, sig, ok := parseSignatureHeader(header)
	if !ok {
		return ErrSignatureInvalid
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return ErrSignatureInvalid
	}
	if subtle.ConstantTimeCompare(expected, provided) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

// parseSignatureHeader extracts the timestamp and v1 signature from a header
// of the form "t=1712345678,v1=abcdef...". Unknown elements are ignored so
// the processor can add new scheme versions without breaking verification.
func parseSignatureHeader(header string) (ts int64, sig string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", false
			}
			ts = parsed
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", false
	}
	return ts, sig, true
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified event body into a payment.Event. It is only
// called after Verify succeeds; a body that fails here is an operational
// problem, not a forgery.
func ParseEvent(body []byte) (*payment.Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	if env.ID == "" || env.Type == "" || env.Data.Object.ID == "" {
		return nil, errors.New("event missing id, type, or object id")
	}
	return &payment.Event{
		ID:       env.ID,
		Type:     env.Type,
		IntentID: env.Data.Object.ID,
		Metadata: env.Data.Object.Metadata,
	}, nil
}
