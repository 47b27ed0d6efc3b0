// Package gateway implements the payment processor client boundary: an HTTP
// client for the processor's REST API and the webhook signature verifier.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/merchkit/checkout/internal/domain/payment"
)

var _ payment.Gateway = (*Client)(nil)

// Client talks to a Stripe-style payment processor REST API using
// form-encoded requests authenticated with a secret API key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a gateway client for the given API base URL and secret
// key. Outbound requests are traced via otelhttp.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type customerResponse struct {
	ID string `json:"id"`
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// CreateCustomer registers the buyer at the processor and returns the
// processor-side customer id.
func (c *Client) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	form := url.Values{}
	form.Set("name", name)
	form.Set("email", email)

	var resp customerResponse
	if err := c.post(ctx, "/v1/customers", form, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &payment.GatewayError{Op: "create customer", Err: errors.New("empty customer id in response")}
	}
	return resp.ID, nil
}

// CreateIntent opens a payment intent carrying the order payload in its
// metadata and returns the intent id and client secret.
func (c *Client) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", req.Currency)
	form.Set("customer", req.CustomerID)
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var resp intentResponse
	if err := c.post(ctx, "/v1/payment_intents", form, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.ClientSecret == "" {
		return nil, &payment.GatewayError{Op: "create intent", Err: errors.New("incomplete intent in response")}
	}
	return &payment.Intent{ID: resp.ID, ClientSecret: resp.ClientSecret}, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return &payment.GatewayError{Op: "build request " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return &payment.GatewayError{Op: "POST " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &payment.GatewayError{Op: "read response " + path, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &payment.GatewayError{
			Op:  "POST " + path,
			Err: errors.Errorf("status %d: %s", resp.StatusCode, truncate(body, 256)),
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &payment.GatewayError{Op: "decode response " + path, Err: err}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
