// Package telnyxclient is a small REST client for the Telnyx messaging API
// and its webhook signatures.
package telnyxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

var tracer = otel.Tracer("relay.internal.messaging.telnyxclient")

const (
	defaultBaseURL   = "https://api.telnyx.com/v2"
	defaultUserAgent = "receptionist-relay/0.1"
)

// Config controls how the Telnyx client behaves.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	// MaxRetries bounds retries of throttled requests. Message sends are
	// only retried on 429 since a 5xx may already have queued the SMS.
	MaxRetries int
	Backoff    time.Duration
	MaxSkew    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client wraps the Telnyx messaging endpoints used by the relay.
type Client struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
	maxRetries    int
	backoff       time.Duration
	maxSkew       time.Duration
	logger        *logging.Logger
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telnyxclient: API key is required")
	}
	c := &Client{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		webhookSecret: cfg.WebhookSecret,
		httpClient:    cfg.HTTPClient,
		maxRetries:    max(cfg.MaxRetries, 0),
		backoff:       cfg.Backoff,
		maxSkew:       cfg.MaxSkew,
		logger:        cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.backoff <= 0 {
		c.backoff = 250 * time.Millisecond
	}
	if c.maxSkew <= 0 {
		c.maxSkew = 5 * time.Minute
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	return c, nil
}

// SendMessage queues an outbound SMS and returns the created message.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*MessageResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(struct {
		From               string   `json:"from"`
		To                 string   `json:"to"`
		Text               string   `json:"text"`
		MediaURLs          []string `json:"media_urls,omitempty"`
		MessagingProfileID string   `json:"messaging_profile_id,omitempty"`
	}{
		From:               req.From,
		To:                 req.To,
		Text:               req.Body,
		MediaURLs:          req.MediaURLs,
		MessagingProfileID: req.MessagingProfileID,
	})
	if err != nil {
		return nil, fmt.Errorf("telnyxclient: marshal send body: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		return nil, err
	}
	resp, err := decodeData[MessageResponse](data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return nil, errors.New("telnyxclient: response missing message id")
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "telnyx."+strings.TrimPrefix(path, "/"))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method))

	data, err := c.invoke(ctx, method, path, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "telnyx request failed")
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.Int("http.status_code", apiErr.StatusCode))
		}
	}
	return data, err
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("telnyxclient: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", defaultUserAgent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= c.maxRetries || !retryable(method, 0, err) {
				return nil, fmt.Errorf("telnyxclient: http error: %w", err)
			}
			c.logRetry(path, attempt, 0, err)
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("telnyxclient: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt >= c.maxRetries || !retryable(method, resp.StatusCode, nil) {
			return nil, apiErr
		}
		c.logRetry(path, attempt, resp.StatusCode, apiErr)
		if err := c.sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("telnyx retry", "path", path, "attempt", attempt+1, "status", status, "error", err)
}

// retryable reports whether a failed attempt may be repeated. A 429 was
// never accepted, so it is safe for any method. Server and network errors
// are ambiguous for a POST that creates a message and are retried only for
// reads.
func retryable(method string, status int, err error) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	idempotent := method == http.MethodGet || method == http.MethodHead
	if err != nil {
		return idempotent && !errors.Is(err, context.Canceled)
	}
	return idempotent && status >= 500 && status <= 599
}

// APIError is a non-2xx response from Telnyx. Body keeps the raw response
// for operator logs.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
	Body       string
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("telnyxclient: %s (status=%d)", e.Detail, e.StatusCode)
	case e.Title != "":
		return fmt.Sprintf("telnyxclient: %s (status=%d)", e.Title, e.StatusCode)
	}
	return fmt.Sprintf("telnyxclient: http status %d", e.StatusCode)
}

// Telnyx reports errors as {"errors":[{"title":..,"detail":..}]}; some
// gateways answer with a flat object or plain text.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var parsed struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Errors []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		apiErr.Detail = strings.TrimSpace(string(body))
		return apiErr
	}
	apiErr.Title, apiErr.Detail = parsed.Title, parsed.Detail
	if len(parsed.Errors) > 0 {
		apiErr.Title, apiErr.Detail = parsed.Errors[0].Title, parsed.Errors[0].Detail
	}
	return apiErr
}

func decodeData[T any](body []byte) (*T, error) {
	var wrapper struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("telnyxclient: decode response: %w", err)
	}
	return &wrapper.Data, nil
}
