// Package backend talks to the billing REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/pkg/observability"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// Config configures the client.
type Config struct {
	BaseURL string
	// Timeout bounds each request, including reading the body.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive transient failures that
	// open the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration
	UserAgent      string
}

// DefaultConfig returns a config for baseURL with production defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		Timeout:         15 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		UserAgent:       "billcycle",
	}
}

// Client sends JSON requests and maps every failure onto a billing error
// kind: transport problems and 5xx are transient, other 4xx are server
// rejections, and unparseable 2xx bodies are integrity errors.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[json.RawMessage]
	logger    *slog.Logger
	metrics   observability.Metrics
}

// NewClient creates a client guarded by a circuit breaker.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
		metrics:   observability.NoopMetrics{},
	}

	c.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "billing-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Only an unreachable or failing backend counts against it.
			return err == nil || !domain.IsTransient(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if to == gobreaker.StateOpen {
				c.metrics.Counter(observability.MetricBreakerOpen, 1)
			}
		},
	})
	return c
}

// WithMetrics records request outcomes.
func (c *Client) WithMetrics(metrics observability.Metrics) *Client {
	c.metrics = metrics
	return c
}

// Do sends one request. body is JSON-encoded when non-nil; bearer, when
// set, is sent as the Authorization header. It returns the raw JSON body of
// a successful response.
func (c *Client) Do(ctx context.Context, method, path string, body any, bearer string) (json.RawMessage, error) {
	operation := method + " " + path
	raw, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.roundTrip(ctx, method, path, body, bearer)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewTransientError(err, operation)
	}
	return raw, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any, bearer string) (json.RawMessage, error) {
	operation := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s body", operation)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", operation)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	requestID := observability.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(operation, "error", start)
		return nil, domain.NewTransientError(err, operation)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.record(operation, "error", start)
		return nil, domain.NewTransientError(err, operation)
	}
	c.record(operation, statusClass(resp.StatusCode), start)

	c.logger.DebugContext(ctx, "backend response",
		observability.OperationKey, operation,
		observability.StatusKey, resp.StatusCode,
		observability.RequestIDKey, requestID,
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodeSuccess(operation, data)
	case isTransientStatus(resp.StatusCode):
		return nil, domain.NewTransientError(
			errors.Newf("status %d: %s", resp.StatusCode, truncate(string(data), 200)), operation)
	default:
		return nil, domain.NewServerRejection(resp.StatusCode, rejectionReason(resp.StatusCode, data))
	}
}

func (c *Client) record(operation, status string, start time.Time) {
	tags := []observability.Tag{
		observability.T(observability.OperationKey, operation),
		observability.T(observability.StatusKey, status),
	}
	c.metrics.Counter(observability.MetricRequestsSent, 1, tags...)
	c.metrics.Timing(observability.MetricOperationDuration, time.Since(start), tags...)
}

func decodeSuccess(operation string, data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, domain.NewIntegrityError(
			errors.Newf("response is not JSON: %s", truncate(string(trimmed), 80)),
			fmt.Sprintf("decode %s response", operation))
	}
	return json.RawMessage(trimmed), nil
}

func isTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// rejectionReason extracts the human-readable message the backend sent.
func rejectionReason(code int, data []byte) string {
	var body struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		var errText string
		if json.Unmarshal(body.Error, &errText) == nil && errText != "" {
			return errText
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}

	text := strings.TrimSpace(string(data))
	if text != "" && len(text) <= 200 && !strings.HasPrefix(text, "<") && !strings.HasPrefix(text, "{") {
		return text
	}
	return http.StatusText(code)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
