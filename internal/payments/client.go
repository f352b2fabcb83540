package payments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPClient is a JSON-over-HTTP Processor with a client-side rate limit.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient constructs a client. A non-positive ratePerSecond disables
// the limiter.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, ratePerSecond float64, burst int) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

func (c *HTTPClient) Authorize(ctx context.Context, req AuthorizeRequest) (*Intent, error) {
	var out Intent
	if err := c.doPost(ctx, "authorize", "/v1/payment_intents", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("processor authorize: empty intent id")
	}
	return &out, nil
}

func (c *HTTPClient) Refund(ctx context.Context, intentID string, amount int64, key string) error {
	body := map[string]any{"payment_intent": intentID, "amount": amount}
	return c.doPost(ctx, "refund", "/v1/refunds", key, body, nil)
}

func (c *HTTPClient) Transfer(ctx context.Context, accountID string, amount int64, currency, key string) (string, error) {
	body := map[string]any{"destination": accountID, "amount": amount, "currency": currency}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doPost(ctx, "transfer", "/v1/transfers", key, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) doPost(ctx context.Context, op, path, key string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("processor %s: rate limit: %w", op, err)
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("processor %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProcessorError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
