// Package upstream talks to the aggregation service: it mints the service
// credential, retries transient failures with exponential backoff, and
// classifies what comes back.
package upstream

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

	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/metrics"
	"github.com/storepulse/pulsegate/internal/query"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Endpoint paths on the aggregation service
const (
	LoadPath = "/v1/load"
	MetaPath = "/v1/meta"
)

// RequestIDHeader carries the inbound request id upstream
const RequestIDHeader = "X-Request-Id"

// Config holds call budgets for each endpoint
type Config struct {
	BaseURL     string
	LoadTimeout time.Duration
	LoadRetries int
	MetaTimeout time.Duration
	MetaRetries int
	BackoffBase time.Duration
}

// DefaultConfig returns the stock budgets
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		LoadTimeout: 30 * time.Second,
		LoadRetries: 2,
		MetaTimeout: 20 * time.Second,
		MetaRetries: 1,
		BackoffBase: 250 * time.Millisecond,
	}
}

// RequestOptions bound a single logical call
type RequestOptions struct {
	Timeout     time.Duration
	Retries     int
	BackoffBase time.Duration
	RequestID   string
	Headers     map[string]string
}

// Response is a fully read upstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client is the resilient aggregation service client
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  TokenSource
	sleep   Sleeper
	metrics *metrics.Metrics
	logger  *logging.Logger
	tracer  trace.Tracer
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithSleeper overrides the backoff sleep
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleep = s
	}
}

// WithMetrics records attempts and latency on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger overrides the logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for cfg.BaseURL authenticated by tokens
func NewClient(cfg Config, tokens TokenSource, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		tokens: tokens,
		sleep:  sleepContext,
		logger: logging.Global(),
		tracer: otel.Tracer("pulsegate/upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load executes a compiled query and returns the raw result document
func (c *Client) Load(ctx context.Context, q query.CompiledQuery, requestID string) (json.RawMessage, error) {
	encoded, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode compiled query: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, LoadPath, url.Values{"query": {string(encoded)}}, nil, RequestOptions{
		Timeout:     c.cfg.LoadTimeout,
		Retries:     c.cfg.LoadRetries,
		BackoffBase: c.cfg.BackoffBase,
		RequestID:   requestID,
	})
	if err != nil {
		return nil, err
	}
	return decodeBody("load", resp)
}

// Meta fetches the aggregation service's schema description
func (c *Client) Meta(ctx context.Context, requestID string) (json.RawMessage, error) {
	resp, err := c.Do(ctx, http.MethodGet, MetaPath, nil, nil, RequestOptions{
		Timeout:     c.cfg.MetaTimeout,
		Retries:     c.cfg.MetaRetries,
		BackoffBase: c.cfg.BackoffBase,
		RequestID:   requestID,
	})
	if err != nil {
		return nil, err
	}
	return decodeBody("meta", resp)
}

// Probe fetches meta once, bounded by timeout, for readiness checks
func (c *Client) Probe(ctx context.Context, timeout time.Duration, requestID string) error {
	resp, err := c.Do(ctx, http.MethodGet, MetaPath, nil, nil, RequestOptions{
		Timeout:   timeout,
		RequestID: requestID,
	})
	if err != nil {
		return err
	}
	_, err = decodeBody("meta", resp)
	return err
}

func decodeBody(endpoint string, resp *Response) (json.RawMessage, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(endpoint, resp)
	}
	if !json.Valid(resp.Body) {
		return nil, decodeError(endpoint, resp, errors.New("body is not valid JSON"))
	}
	return json.RawMessage(resp.Body), nil
}

// Do performs method on path with up to opts.Retries retries. 2xx and 4xx
// responses return at once. 5xx responses and transport failures are retried
// after backoff*2^(n-1) for the n-th retry. When attempts run out a
// *TransportError is returned if any attempt failed in transport, otherwise the
// last 5xx response.
// Cancelling ctx stops the loop.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, body []byte, opts RequestOptions) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "upstream "+method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	token, err := c.tokens.Token()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")
		return nil, err
	}

	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	endpoint := strings.TrimPrefix(path, "/")
	start := time.Now()
	if c.metrics != nil {
		defer func() {
			c.metrics.UpstreamLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}()
	}

	var (
		last    *Response
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= retries+1; attempt++ {
		if attempt > 1 && c.metrics != nil {
			c.metrics.UpstreamRetries.WithLabelValues(endpoint).Inc()
		}

		resp, err := c.attempt(ctx, method, path, params, body, token, opts)
		if err != nil {
			if ctx.Err() != nil {
				span.SetStatus(codes.Error, "cancelled")
				return nil, ctx.Err()
			}
			c.observe(endpoint, "transport")
			last, lastErr = nil, err
			c.logger.WithContext(ctx).Warn("Upstream transport failure",
				"endpoint", endpoint, "attempt", attempt, "error", err)
		} else {
			c.observe(endpoint, metrics.StatusClass(resp.StatusCode))
			if resp.StatusCode < 500 {
				span.SetAttributes(
					attribute.Int("http.status_code", resp.StatusCode),
					attribute.Int("upstream.attempts", attempt),
				)
				return resp, nil
			}
			last = resp
			c.logger.WithContext(ctx).Warn("Upstream server error",
				"endpoint", endpoint, "attempt", attempt, "status", resp.StatusCode)
		}

		if attempt > retries {
			break
		}
		delay := opts.BackoffBase * time.Duration(1<<(attempt-1))
		if err := c.sleep(ctx, delay); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("upstream.attempts", attempt))
	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, "transport")
		return nil, &TransportError{Endpoint: endpoint, Attempts: attempt, Err: lastErr}
	}
	span.SetAttributes(attribute.Int("http.status_code", last.StatusCode))
	span.SetStatus(codes.Error, http.StatusText(last.StatusCode))
	return last, nil
}

// attempt issues one request bounded by opts.Timeout and reads the whole body
func (c *Client) attempt(ctx context.Context, method, path string, params url.Values, body []byte, token string, opts RequestOptions) (*Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	target := c.cfg.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.RequestID != "" {
		req.Header.Set(RequestIDHeader, opts.RequestID)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) observe(endpoint, outcome string) {
	if c.metrics != nil {
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	}
}
