package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/0ndata/crmbridge/internal/config"
	"github.com/0ndata/crmbridge/internal/domain"
	"github.com/0ndata/crmbridge/internal/tokenstore"
)

func testManager(t *testing.T, cfg config.CRM) (*Manager, *tokenstore.FileStore) {
	t.Helper()
	store := tokenstore.NewFileStore(filepath.Join(t.TempDir(), "tokens.json"), nil)
	return NewManager(cfg, store, nil), store
}

func TestStateSingleUse(t *testing.T) {
	m, _ := testManager(t, config.CRM{})

	state := m.GenerateState()
	if !m.ValidateState(state) {
		t.Fatal("first validation must succeed")
	}
	if m.ValidateState(state) {
		t.Fatal("second validation must fail (single use)")
	}
}

func TestStateExpiry(t *testing.T) {
	m, _ := testManager(t, config.CRM{})

	state := m.GenerateState()
	m.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	if m.ValidateState(state) {
		t.Fatal("expired state must not validate")
	}
}

func TestStateUnknownToken(t *testing.T) {
	m, _ := testManager(t, config.CRM{})
	if m.ValidateState("never-issued") {
		t.Fatal("unknown state must not validate")
	}
}

func TestAuthorizationURL(t *testing.T) {
	m, _ := testManager(t, config.CRM{
		AuthURL:     "https://marketplace.example.com/oauth/chooselocation",
		ClientID:    "client-1",
		RedirectURI: "https://app.example.com/api/marketplace/callback",
	})

	raw := m.AuthorizationURL("state-xyz")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("unparseable URL: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "client-1" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("state") != "state-xyz" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if !strings.Contains(q.Get("scope"), "objects/record.write") {
		t.Errorf("scope missing record write: %q", q.Get("scope"))
	}
}

func TestExchangeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("code"); got != "code-1" {
			t.Errorf("code = %q", got)
		}
		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			ExpiresIn:    86400,
			LocationID:   "loc-1",
		})
	}))
	defer srv.Close()

	m, _ := testManager(t, config.CRM{TokenURL: srv.URL})
	tr, err := m.Exchange(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.AccessToken != "at-1" || tr.LocationID != "loc-1" {
		t.Errorf("unexpected response: %+v", tr)
	}
}

func TestExchangeErrorCarriesUpstreamBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	m, _ := testManager(t, config.CRM{TokenURL: srv.URL})
	_, err := m.Exchange(context.Background(), "bad-code")

	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *ExchangeError, got %T: %v", err, err)
	}
	if exErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d", exErr.Status)
	}
	if !strings.Contains(exErr.Body, "invalid_grant") {
		t.Errorf("body = %q", exErr.Body)
	}
}

func TestValidAccessTokenFreshCredential(t *testing.T) {
	m, store := testManager(t, config.CRM{})
	_ = store.Save(tokenstore.Credential{
		LocationID:  "loc-1",
		AccessToken: "fresh",
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	})

	token, err := m.ValidAccessToken(context.Background(), "loc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "fresh" {
		t.Errorf("token = %q, want fresh (no refresh inside buffer)", token)
	}
}

func TestValidAccessTokenRefreshesInsideBuffer(t *testing.T) {
	refreshCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q", got)
		}
		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "at-new",
			RefreshToken: "rt-new",
			ExpiresIn:    86400,
			LocationID:   "loc-1",
		})
	}))
	defer srv.Close()

	m, store := testManager(t, config.CRM{TokenURL: srv.URL})
	_ = store.Save(tokenstore.Credential{
		LocationID:   "loc-1",
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    time.Now().Add(4 * time.Minute), // inside the 5 minute buffer
	})

	token, err := m.ValidAccessToken(context.Background(), "loc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "at-new" {
		t.Errorf("token = %q, want at-new", token)
	}
	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls)
	}

	// Rotated refresh token was persisted.
	cred, _ := store.Get("loc-1")
	if cred.RefreshToken != "rt-new" {
		t.Errorf("stored refresh token = %q, want rt-new", cred.RefreshToken)
	}
}

func TestValidAccessTokenRefreshFailureDegradesToUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("revoked"))
	}))
	defer srv.Close()

	m, store := testManager(t, config.CRM{TokenURL: srv.URL})
	_ = store.Save(tokenstore.Credential{
		LocationID:   "loc-1",
		AccessToken:  "stale",
		RefreshToken: "rt-dead",
		ExpiresAt:    time.Now().Add(time.Minute),
	})

	_, err := m.ValidAccessToken(context.Background(), "loc-1")
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestValidAccessTokenPITFallback(t *testing.T) {
	m, _ := testManager(t, config.CRM{PITToken: "pit-token"})

	token, err := m.ValidAccessToken(context.Background(), "loc-unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "pit-token" {
		t.Errorf("token = %q, want pit fallback", token)
	}
}

func TestValidAccessTokenAbsentWithoutFallback(t *testing.T) {
	m, _ := testManager(t, config.CRM{})

	_, err := m.ValidAccessToken(context.Background(), "loc-unknown")
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSaveTokenResponseFallsBackToCompanyID(t *testing.T) {
	m, store := testManager(t, config.CRM{})

	loc, err := m.SaveTokenResponse(&TokenResponse{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresIn:    3600,
		CompanyID:    "comp-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != "comp-1" {
		t.Errorf("location = %q, want comp-1", loc)
	}
	if _, ok := store.Get("comp-1"); !ok {
		t.Error("expected credential saved under company id")
	}
}
