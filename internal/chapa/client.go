// Package chapa is a thin client for the Chapa hosted checkout API.
package chapa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20

	// StatusSuccess is the status Chapa reports for paid transactions.
	StatusSuccess = "success"
)

var (
	// ErrNotConfigured is returned when no secret key is set.
	ErrNotConfigured = errors.New("chapa is not configured")
	// ErrTransactionNotFound is returned when Chapa does not know the tx_ref.
	ErrTransactionNotFound = errors.New("chapa transaction not found")
)

// Customization is shown on the hosted checkout page.
type Customization struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// InitializeRequest starts a hosted checkout.
type InitializeRequest struct {
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Email         string            `json:"email"`
	FirstName     string            `json:"first_name"`
	LastName      string            `json:"last_name,omitempty"`
	PhoneNumber   string            `json:"phone_number,omitempty"`
	TxRef         string            `json:"tx_ref"`
	CallbackURL   string            `json:"callback_url"`
	ReturnURL     string            `json:"return_url"`
	Customization Customization     `json:"customization"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// Verification is the subset of the verify response the gateway relies on.
type Verification struct {
	Status    string                 `json:"status"`
	Amount    decimal.Decimal        `json:"amount"`
	Currency  string                 `json:"currency"`
	TxRef     string                 `json:"tx_ref"`
	Reference string                 `json:"reference"`
	Email     string                 `json:"email"`
	Meta      map[string]interface{} `json:"meta"`
}

// Paid reports whether the verification shows a completed payment.
func (v Verification) Paid() bool {
	return strings.EqualFold(v.Status, StatusSuccess)
}

// UserID returns meta.user_id when Chapa echoed it back.
func (v Verification) UserID() string {
	if v.Meta == nil {
		return ""
	}
	raw, ok := v.Meta["user_id"]
	if !ok || raw == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(raw))
}

type envelope struct {
	Message json.RawMessage `json:"message"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the Chapa REST API with bearer authentication.
type Client struct {
	baseURL string
	secret  string
	http    httpDoer
}

// NewClient constructs a Client. A nil doer uses an http.Client with a
// conservative timeout.
func NewClient(baseURL, secret string, doer httpDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  strings.TrimSpace(secret),
		http:    doer,
	}
}

// Configured reports whether a secret key is present.
func (c *Client) Configured() bool {
	return c != nil && c.secret != ""
}

// Initialize creates a hosted checkout and returns its URL.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if req.TxRef == "" {
		return "", errors.New("tx_ref is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode initialize request: %w", err)
	}

	var data struct {
		CheckoutURL string `json:"checkout_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(body), &data); err != nil {
		return "", fmt.Errorf("initialize %s: %w", req.TxRef, err)
	}
	if data.CheckoutURL == "" {
		return "", fmt.Errorf("initialize %s: response carried no checkout_url", req.TxRef)
	}

	return data.CheckoutURL, nil
}

// Verify fetches the authoritative status of a transaction.
func (c *Client) Verify(ctx context.Context, txRef string) (Verification, error) {
	if !c.Configured() {
		return Verification{}, ErrNotConfigured
	}
	if ctx == nil {
		return Verification{}, errors.New("context is required")
	}
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return Verification{}, errors.New("tx_ref is required")
	}

	var v Verification
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(txRef), nil, &v); err != nil {
		return Verification{}, fmt.Errorf("verify %s: %w", txRef, err)
	}
	if v.TxRef == "" {
		v.TxRef = txRef
	}

	return v, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call chapa: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrTransactionNotFound
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !strings.EqualFold(env.Status, StatusSuccess) {
		return fmt.Errorf("chapa returned HTTP %d status %q: %s", resp.StatusCode, env.Status, messageText(env.Message))
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// messageText flattens Chapa's message field, which is either a string or an
// object of validation errors.
func messageText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
