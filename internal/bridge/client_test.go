package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/0ndata/crmbridge/internal/config"
	"github.com/0ndata/crmbridge/internal/domain"
	"github.com/0ndata/crmbridge/internal/ratelimit"
	"github.com/0ndata/crmbridge/internal/usage"
)

// staticTokens is a TokenSource returning a fixed token, or an error when
// the token is empty.
type staticTokens struct {
	token string
}

func (s staticTokens) ValidAccessToken(_ context.Context, tenantID string) (string, error) {
	if s.token == "" {
		return "", domain.ErrUnauthenticated
	}
	return s.token, nil
}

func testLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{Capacity: 1000, RefillPerSecond: 1000, DailyCap: 1_000_000})
}

func testClient(baseURL string, tokens TokenSource, tracker *usage.Tracker) *Client {
	if tracker == nil {
		tracker = usage.NewTracker(false, nil)
	}
	c := New(config.CRM{BaseURL: baseURL, APIVersion: "2021-07-28", Timeout: 5 * time.Second},
		testLimiter(), tokens, tracker, nil, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil } // no real waits in tests
	return c
}

func TestDoAttachesAuthAndVersionHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Version"); got != "2021-07-28" {
			t.Errorf("Version = %q", got)
		}
		if got := r.URL.Query().Get("locationId"); got != "loc-1" {
			t.Errorf("locationId = %q", got)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, staticTokens{token: "tok-1"}, nil)
	resp, err := c.Do(context.Background(), Request{
		Path:     "/objects/predictions/records",
		Query:    map[string]string{"locationId": "loc-1"},
		TenantID: "loc-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK || resp.Status != http.StatusOK {
		t.Errorf("resp = %+v", resp)
	}
}

func TestDoUnauthenticatedFailsBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := testClient(srv.URL, staticTokens{}, nil)
	_, err := c.Do(context.Background(), Request{Path: "/contacts/", TenantID: "loc-x"})
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if called {
		t.Error("no network call may happen without a token")
	}
}

func TestDoNon2xxIsDataNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such record"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, staticTokens{token: "t"}, nil)
	resp, err := c.Do(context.Background(), Request{Path: "/objects/x/records/1", TenantID: "loc-1"})
	if err != nil {
		t.Fatalf("non-2xx must not be an error, got %v", err)
	}
	if resp.OK {
		t.Error("expected OK=false")
	}
	if resp.Status != http.StatusNotFound {
		t.Errorf("status = %d", resp.Status)
	}
	if resp.Text() != "no such record" {
		t.Errorf("body = %q", resp.Text())
	}
}

func TestDo429RetriedOnce(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, staticTokens{token: "t"}, nil)

	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	resp, err := c.Do(context.Background(), Request{Path: "/contacts/", TenantID: "loc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK {
		t.Errorf("expected retried 200, got %d", resp.Status)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Errorf("expected one 1s Retry-After sleep, got %v", slept)
	}
}

func TestDoSecond429Surfaced(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL, staticTokens{token: "t"}, nil)
	resp, err := c.Do(context.Background(), Request{Path: "/contacts/", TenantID: "loc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 surfaced", resp.Status)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want exactly 2 (one retry, no third attempt)", calls)
	}
}

func TestDoRetryAfterDefaultsToTwoSeconds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL, staticTokens{token: "t"}, nil)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if _, err := c.Do(context.Background(), Request{Path: "/x", TenantID: "loc-1"}); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("expected default 2s wait, got %v", slept)
	}
}

func TestDoMetersUsageRegardlessOfStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tracker := usage.NewTracker(true, nil)
	c := testClient(srv.URL, staticTokens{token: "t"}, tracker)

	if _, err := c.Do(context.Background(), Request{Path: "/x", TenantID: "loc-1"}); err != nil {
		t.Fatal(err)
	}
	if got := tracker.Usage("loc-1", ""); got != 1 {
		t.Errorf("usage = %d, want 1 (failed calls still count)", got)
	}
}

func TestDoDailyCapPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	limiter := ratelimit.New(ratelimit.Config{Capacity: 10, RefillPerSecond: 10, DailyCap: 1})
	c := New(config.CRM{BaseURL: srv.URL, APIVersion: "v"}, limiter,
		staticTokens{token: "t"}, usage.NewTracker(false, nil), nil, nil)

	if _, err := c.Do(context.Background(), Request{Path: "/x", TenantID: "loc-1"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Do(context.Background(), Request{Path: "/x", TenantID: "loc-1"})
	if !errors.Is(err, ratelimit.ErrDailyCapExceeded) {
		t.Fatalf("expected ErrDailyCapExceeded, got %v", err)
	}
}

func TestResponseDecode(t *testing.T) {
	resp := &Response{OK: true, Status: 200, Body: []byte(`{"object":{"id":"r1"}}`)}

	var out struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	if err := resp.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Object.ID != "r1" {
		t.Errorf("id = %q", out.Object.ID)
	}
}
