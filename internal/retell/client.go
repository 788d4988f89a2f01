// Package retell is a thin REST client for the Retell AI chat and call APIs.
package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/receptionist-relay/internal/observability/metrics"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const (
	defaultBaseURL   = "https://api.retellai.com"
	defaultUserAgent = "receptionist-relay/0.1"
)

// Config controls how the Retell client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.RelayMetrics
	UserAgent  string
}

// Client wraps the Retell endpoints the relay uses.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	metrics    *metrics.RelayMetrics
	userAgent  string
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("retell: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		metrics:    cfg.Metrics,
		userAgent:  userAgent,
	}, nil
}

// CreateChat opens a new chat session for agentID.
func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (*Chat, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, errors.New("retell: agent id required")
	}
	var out Chat
	if err := c.invokeJSON(ctx, "create_chat", http.MethodPost, "/create-chat", req, &out); err != nil {
		return nil, err
	}
	if out.ChatID == "" {
		return nil, errors.New("retell: create chat response missing chat_id")
	}
	return &out, nil
}

// CreateChatCompletion sends the user's content into chatID and returns the
// agent messages produced in response.
func (c *Client) CreateChatCompletion(ctx context.Context, chatID, content string) (*ChatCompletion, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, errors.New("retell: chat id required")
	}
	body := struct {
		ChatID  string `json:"chat_id"`
		Content string `json:"content"`
	}{ChatID: chatID, Content: content}
	var out ChatCompletion
	if err := c.invokeJSON(ctx, "chat_completion", http.MethodPost, "/create-chat-completion", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndChat ends chatID.
func (c *Client) EndChat(ctx context.Context, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("retell: chat id required")
	}
	return c.invokeJSON(ctx, "end_chat", http.MethodPatch, "/end-chat/"+url.PathEscape(chatID), nil, nil)
}

// UpdateChat merges dynamic variables into an existing chat.
func (c *Client) UpdateChat(ctx context.Context, chatID string, vars map[string]string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("retell: chat id required")
	}
	body := struct {
		OverrideDynamicVariables map[string]string `json:"override_dynamic_variables"`
	}{OverrideDynamicVariables: vars}
	return c.invokeJSON(ctx, "update_chat", http.MethodPatch, "/update-chat/"+url.PathEscape(chatID), body, nil)
}

// CreatePhoneCall places an outbound call.
func (c *Client) CreatePhoneCall(ctx context.Context, req PhoneCallRequest) (*PhoneCall, error) {
	if strings.TrimSpace(req.FromNumber) == "" || strings.TrimSpace(req.ToNumber) == "" {
		return nil, errors.New("retell: from and to numbers required")
	}
	var out PhoneCall
	if err := c.invokeJSON(ctx, "create_phone_call", http.MethodPost, "/v2/create-phone-call", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) invokeJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("retell: marshal %s body: %w", op, err)
		}
		body = encoded
	}
	start := time.Now()
	data, err := c.invoke(ctx, method, path, body)
	c.metrics.ObserveProviderLatency("retell", op, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("retell: decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("retell: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("retell: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("retell: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("retell: request failed without response")
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
	c.logger.Warn("retell retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}
