// Package payment opens and confirms authorizations against the card gateway.
// Card credentials never transit this service; the hosted widget hands the
// shopper a payment-method token and we only ever see that token.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrDeclined is recoverable: the shopper can retry with another method.
	ErrDeclined = errors.New("payment declined")
	// ErrGateway covers network failures and 5xx after retries are exhausted.
	ErrGateway = errors.New("payment gateway unavailable")
)

// Authorization is a gateway-side hold on funds, not yet captured.
type Authorization struct {
	ID           string // stable identifier, usable for refund/audit
	ClientSecret string // client-usable token for the hosted widget
}

type Result struct {
	AuthorizationID string
	Status          string
}

type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	MaxRetries int
	Sleep      func(time.Duration) // injectable for tests
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SecretKey:  secretKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		MaxRetries: 3,
		Sleep:      time.Sleep,
	}
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Error        *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateAuthorization opens a hold for amountCents. The orchestrator calls
// this once per checkout attempt.
func (c *Client) CreateAuthorization(ctx context.Context, amountCents int) (Authorization, error) {
	form := url.Values{}
	form.Set("amount", strconv.Itoa(amountCents))
	form.Set("currency", "eur")

	var out intentResponse
	if err := c.post(ctx, "/v1/payment_intents", form, &out); err != nil {
		return Authorization{}, err
	}
	return Authorization{ID: out.ID, ClientSecret: out.ClientSecret}, nil
}

// Confirm finalizes the hold with the shopper's payment-method token.
func (c *Client) Confirm(ctx context.Context, auth Authorization, paymentMethod string) (Result, error) {
	form := url.Values{}
	form.Set("payment_method", paymentMethod)
	form.Set("client_secret", auth.ClientSecret)

	var out intentResponse
	if err := c.post(ctx, "/v1/payment_intents/"+auth.ID+"/confirm", form, &out); err != nil {
		return Result{}, err
	}
	return Result{AuthorizationID: out.ID, Status: out.Status}, nil
}

// post sends one form-encoded request, retrying network errors and 5xx with
// exponential backoff. Card declines are terminal and never retried.
func (c *Client) post(ctx context.Context, path string, form url.Values, out *intentResponse) error {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			c.Sleep(time.Duration(1<<(attempt-1)) * 200 * time.Millisecond)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.BaseURL+path, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.SecretKey)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrGateway, err)
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			var body intentResponse
			_ = json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			if body.Error != nil && body.Error.Type == "card_error" {
				return fmt.Errorf("%w: %s", ErrDeclined, body.Error.Message)
			}
			if body.Error != nil {
				return fmt.Errorf("gateway rejected request: %s", body.Error.Message)
			}
			return fmt.Errorf("gateway rejected request: status %d", resp.StatusCode)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
		return nil
	}
	return lastErr
}
