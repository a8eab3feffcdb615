package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/types"
)

// RetryConfig holds retry configuration for collaborator calls.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`    // Maximum retry attempts, default 2
	InitialDelay  time.Duration `json:"initial_delay"`  // Initial backoff delay, default 500ms
	MaxDelay      time.Duration `json:"max_delay"`      // Maximum backoff delay, default 10s
	BackoffFactor float64       `json:"backoff_factor"` // Exponential backoff factor, default 2.0
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	d := float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// retry runs fn until it succeeds, returns a non-retryable error or the
// attempts run out.
func retry(ctx context.Context, cfg RetryConfig, logger *zap.Logger, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.delay(attempt)
			logger.Debug("retrying collaborator call",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !types.IsRetryable(err) {
			return err
		}
		logger.Warn("collaborator call failed, will retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return lastErr
}

// Option configures an HTTP collaborator client.
type Option func(*httpClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *httpClient) { h.client = c }
}

// WithRetry replaces the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(h *httpClient) { h.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *httpClient) {
		if logger != nil {
			h.logger = logger
		}
	}
}

type httpClient struct {
	name   string
	apiKey string
	client *http.Client
	retry  RetryConfig
	logger *zap.Logger
}

func newHTTPClient(name, apiKey string, opts []Option) *httpClient {
	h := &httpClient{
		name:   name,
		apiKey: apiKey,
		client: &http.Client{Timeout: 2 * time.Minute},
		retry:  DefaultRetryConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("component", "collab"), zap.String("collaborator", name))
	return h
}

// do sends a JSON request and decodes a JSON response into out. A nil out
// discards the body. It returns the HTTP status so callers can treat 404
// specially.
func (h *httpClient) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, types.NewError(types.ErrInvalidRequest, "encode request").WithCause(err)
		}
		payload = data
	}

	var status int
	err := retry(ctx, h.retry, h.logger, method+" "+url, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return types.NewError(types.ErrInvalidRequest, "build request").WithCause(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if h.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+h.apiKey)
		}
		if id, ok := types.RequestID(ctx); ok {
			req.Header.Set("X-Request-ID", id)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return transportError(ctx, h.name, err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		if status == http.StatusNotFound && method == http.MethodGet {
			return nil
		}
		if status < 200 || status >= 300 {
			return mapHTTPError(status, readErrorMessage(resp.Body), h.name)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if raw, ok := out.(*json.RawMessage); ok {
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return transportError(ctx, h.name, err)
			}
			*raw = data
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return types.Errorf(types.ErrUpstreamError, "%s: decode response", h.name).WithCause(err)
		}
		return nil
	})
	return status, err
}

// transportError classifies a failed round trip. Failures caused by the
// caller's context are not retried.
func transportError(ctx context.Context, name string, err error) *types.Error {
	code := types.ErrUpstreamError
	if isTimeout(err) {
		code = types.ErrUpstreamTimeout
	}
	e := types.Errorf(code, "%s unreachable", name).WithCause(err)
	if ctx.Err() != nil {
		return e
	}
	return e.WithRetryable(true)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(interface{ Timeout() bool }); ok && te.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "deadline exceeded")
}

// mapHTTPError maps a collaborator's HTTP status onto a types.Error with the
// appropriate retry flag.
func mapHTTPError(status int, msg, collaborator string) *types.Error {
	text := fmt.Sprintf("%s: %s", collaborator, msg)
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return types.NewError(types.ErrInvalidRequest, text).WithHTTPStatus(status)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, text).WithHTTPStatus(status).WithRetryable(true)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return types.NewError(types.ErrUpstreamTimeout, text).WithHTTPStatus(status).WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError, text).WithHTTPStatus(status).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, text).WithHTTPStatus(status)
	}
}

// readErrorMessage reads the error message from a response body. JSON error
// envelopes are unwrapped; anything else is returned as trimmed text.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(envelope.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return http.StatusText(http.StatusInternalServerError)
	}
	return text
}
