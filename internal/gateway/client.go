package gateway

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

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 1 << 20
)

// Response is a provider HTTP response with its body fully read.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client sends adapter requests with a hard timeout, a per-provider circuit breaker,
// metrics and a tracing span. It never retries; callers re-poll instead.
type Client struct {
	provider ProviderID
	http     *http.Client
	timeout  time.Duration
	breakers *Breakers
	breaker  *gobreaker.CircuitBreaker[*Response]
	logger   *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every call, including reading the body.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreakers shares a circuit breaker set between clients.
func WithBreakers(b *Breakers) ClientOption {
	return func(c *Client) { c.breakers = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for provider.
func NewClient(provider ProviderID, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		timeout:  defaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	if c.breakers == nil {
		c.breakers = NewBreakers(BreakerSettings{}, c.logger)
	}
	c.breaker = c.breakers.For(provider)
	return c
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() ProviderID { return c.provider }

// Do executes req. Network errors, timeouts, an open circuit and 5xx responses return an
// error wrapping ErrTransport (with the body, if any, still in the Response). 4xx responses
// are returned without error for the adapter to map into a structured rejection.
func (c *Client) Do(ctx context.Context, operation string, req *http.Request) (*Response, error) {
	name := string(c.provider)
	ctx, span := otel.Tracer("gateway").Start(ctx, name+"."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", name),
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.URL.Path),
	)

	out, err := c.breaker.Execute(func() (*Response, error) {
		return c.send(ctx, operation, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		requestsTotal.WithLabelValues(name, operation, outcomeCircuitOpen).Inc()
		span.SetStatus(codes.Error, "circuit open")
		return nil, fmt.Errorf("%w: %s circuit open", ErrTransport, name)
	}
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// send performs one call. The breaker counts every returned error as a failure, so 4xx
// responses come back without one.
func (c *Client) send(ctx context.Context, operation string, req *http.Request) (*Response, error) {
	name := string(c.provider)
	span := trace.SpanFromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.Do(req.WithContext(ctx))
	var body []byte
	if err == nil {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()
	}
	requestDuration.WithLabelValues(name, operation).Observe(time.Since(start).Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(name, operation, outcomeError).Inc()
		span.SetStatus(codes.Error, "transport")
		c.logger.Warn("provider call failed",
			zap.String("provider", name), zap.String("operation", operation), zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, name, operation, err)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: body}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	switch {
	case resp.StatusCode >= 500:
		requestsTotal.WithLabelValues(name, operation, outcomeError).Inc()
		span.SetStatus(codes.Error, "provider 5xx")
		c.logger.Warn("provider returned server error",
			zap.String("provider", name), zap.String("operation", operation), zap.Int("status", resp.StatusCode))
		return out, fmt.Errorf("%w: %s %s: HTTP %d", ErrTransport, name, operation, resp.StatusCode)
	case resp.StatusCode >= 400:
		requestsTotal.WithLabelValues(name, operation, outcomeClientError).Inc()
	default:
		requestsTotal.WithLabelValues(name, operation, outcomeOK).Inc()
	}
	return out, nil
}

// NewJSONRequest builds a JSON request with a bearer token.
func NewJSONRequest(ctx context.Context, method, endpoint, token string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// NewFormRequest builds a form-encoded request with a bearer token. GET requests carry the
// values in the query string.
func NewFormRequest(ctx context.Context, method, endpoint, token string, values url.Values) (*http.Request, error) {
	var reader io.Reader
	if method == http.MethodGet {
		if len(values) > 0 {
			endpoint += "?" + values.Encode()
		}
	} else {
		reader = strings.NewReader(values.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}
