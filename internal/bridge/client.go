// Package bridge is the single chokepoint for every outbound CRM HTTP call.
// It acquires a rate-limit token, resolves the tenant's access token,
// attaches auth and version headers, meters usage, and retries once on 429.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/0ndata/crmbridge/internal/config"
	"github.com/0ndata/crmbridge/internal/ratelimit"
	"github.com/0ndata/crmbridge/internal/usage"
)

const defaultRetryAfter = 2 * time.Second

// TokenSource resolves a usable access token for a tenant.
// Implemented by oauth.Manager.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, tenantID string) (string, error)
}

// Request describes one CRM API call.
type Request struct {
	Method   string
	Path     string            // e.g. "/objects/predictions/records"
	Body     any               // marshaled to JSON when non-nil
	Query    map[string]string // merged into the URL
	TenantID string
}

// Response is the uniform envelope for every CRM call. Ordinary non-2xx
// statuses are returned as data with OK=false, never as an error; errors are
// reserved for rate-limit exhaustion, missing credentials, and transport
// failures.
type Response struct {
	OK     bool
	Status int
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Text returns the raw body for diagnostics.
func (r *Response) Text() string { return string(r.Body) }

// Client performs CRM API calls. One instance is shared process-wide; the
// limiter and tracker it holds are the only shared mutable state.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	tokens     TokenSource
	tracker    *usage.Tracker
	metrics    *Metrics
	log        *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error // for testing
}

// New creates a bridge client. metrics may be nil (instruments disabled).
func New(cfg config.CRM, limiter *ratelimit.Limiter, tokens TokenSource, tracker *usage.Tracker, metrics *Metrics, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		tokens:  tokens,
		tracker: tracker,
		metrics: metrics,
		log:     log,
		sleep:   sleepCtx,
	}
}

// Do executes one CRM API call.
//
// A 429 response is retried exactly once after the Retry-After interval
// (default 2s); a second consecutive 429 is returned to the caller. Each
// attempt re-acquires the rate limiter and re-resolves the access token, and
// each attempt is metered regardless of response status since the call was
// made.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	const maxRetries = 1
	for attempt := 0; ; attempt++ {
		resp, retryable, err := c.attempt(ctx, req)
		if err != nil {
			return nil, err
		}
		if retryable && attempt < maxRetries {
			wait := retryAfter(resp)
			c.log.Warn("crm rate limited upstream, retrying once",
				"path", req.Path, "wait", wait)
			if c.metrics != nil {
				c.metrics.Retried429.Add(ctx, 1)
			}
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		return &Response{
			OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
			Status: resp.StatusCode,
			Body:   resp.body,
		}, nil
	}
}

// attemptResult carries one HTTP attempt's outcome.
type attemptResult struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

func (c *Client) attempt(ctx context.Context, req Request) (*attemptResult, bool, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, false, err
	}

	token, err := c.tokens.ValidAccessToken(ctx, req.TenantID)
	if err != nil {
		if c.metrics != nil {
			c.metrics.Unauthenticated.Add(ctx, 1)
		}
		return nil, false, err
	}

	u, err := c.buildURL(req)
	if err != nil {
		return nil, false, err
	}

	var bodyReader io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, false, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Version", c.apiVersion)
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if c.metrics != nil {
		c.metrics.Requests.Add(ctx, 1)
		c.metrics.Duration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, false, fmt.Errorf("crm %s %s: %w", req.Method, req.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Metered per attempt, whatever the status: the call was still made.
	c.tracker.Increment(req.TenantID)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read crm response: %w", err)
	}

	return &attemptResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		body:       body,
	}, resp.StatusCode == http.StatusTooManyRequests, nil
}

func (c *Client) buildURL(req Request) (string, error) {
	u, err := url.Parse(c.baseURL + req.Path)
	if err != nil {
		return "", fmt.Errorf("build url for %s: %w", req.Path, err)
	}

	if len(req.Query) > 0 {
		q := u.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// retryAfter reads the Retry-After header (seconds), defaulting to 2s.
func retryAfter(resp *attemptResult) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
