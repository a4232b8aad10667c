package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/0ndata/crmbridge/internal/bridge"
	"github.com/0ndata/crmbridge/internal/config"
	"github.com/0ndata/crmbridge/internal/domain"
	"github.com/0ndata/crmbridge/internal/ratelimit"
	"github.com/0ndata/crmbridge/internal/usage"
)

type fixedTokens struct{}

func (fixedTokens) ValidAccessToken(context.Context, string) (string, error) {
	return "test-token", nil
}

// memCache is a trivial in-memory cache.Cache for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func testBridge(t *testing.T, handler http.Handler) *bridge.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(ratelimit.Config{Capacity: 1000, RefillPerSecond: 1000, DailyCap: 1_000_000})
	return bridge.New(config.CRM{BaseURL: srv.URL, APIVersion: "v", Timeout: 5 * time.Second},
		limiter, fixedTokens{}, usage.NewTracker(false, nil), nil, nil)
}

func testAuthConfig() *config.Auth {
	// Cost 4 keeps bcrypt fast in tests.
	return &config.Auth{BcryptCost: bcrypt.MinCost, SessionExpiry: time.Hour, JWTSecret: "s"}
}

func TestCreateUserStoresPasswordHashField(t *testing.T) {
	var created map[string]any
	client := testBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/contacts/" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(`{"contact":{"id":"c1"}}`))
	}))

	svc := NewUserService(client, nil, testAuthConfig(), "loc-1", time.Minute, nil)
	u, err := svc.CreateUser(context.Background(), "jax@0ndata.io", "password123", "Jax Bot", "")
	if err != nil {
		t.Fatal(err)
	}
	if u.ContactID != "c1" || u.LocationID != "loc-1" {
		t.Errorf("user = %+v", u)
	}

	if created["firstName"] != "Jax" || created["lastName"] != "Bot" {
		t.Errorf("name split wrong: %v %v", created["firstName"], created["lastName"])
	}
	fields, _ := created["customFields"].([]any)
	if len(fields) != 1 {
		t.Fatalf("customFields = %v", created["customFields"])
	}
	field, _ := fields[0].(map[string]any)
	if field["key"] != passwordFieldKey {
		t.Errorf("field key = %v", field["key"])
	}
	hash, _ := field["field_value"].(string)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("password123")) != nil {
		t.Error("stored hash does not verify against the password")
	}
}

func TestCreateUserRejectsShortPassword(t *testing.T) {
	called := false
	client := testBridge(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	svc := NewUserService(client, nil, testAuthConfig(), "loc-1", time.Minute, nil)
	_, err := svc.CreateUser(context.Background(), "jax@0ndata.io", "short", "Jax", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if called {
		t.Error("short password must fail before any network call")
	}
}

// contactHandler serves the list + full-fetch pair used by findContact.
func contactHandler(t *testing.T, email, hash string, fullFetches *int) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contacts/":
			if got := r.URL.Query().Get("query"); got != email {
				t.Errorf("search query = %q", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"contacts": []map[string]any{{"id": "c1", "email": email}},
			})
		case "/contacts/c1":
			if fullFetches != nil {
				*fullFetches++
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"contact": map[string]any{
					"id":        "c1",
					"email":     email,
					"firstName": "Jax",
					"lastName":  "Bot",
					"customFields": []map[string]any{
						{"id": "f-1", "key": passwordFieldKey, "value": hash},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestVerifyPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	client := testBridge(t, contactHandler(t, "jax@0ndata.io", string(hash), nil))
	svc := NewUserService(client, nil, testAuthConfig(), "loc-1", time.Minute, nil)

	u, ok, err := svc.VerifyPassword(context.Background(), "jax@0ndata.io", "password123", "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected successful verification")
	}
	if u.ContactID != "c1" || u.Name != "Jax Bot" {
		t.Errorf("user = %+v", u)
	}

	_, ok, err = svc.VerifyPassword(context.Background(), "jax@0ndata.io", "wrongpass", "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("wrong password must not verify")
	}
}

func TestVerifyPasswordFuzzyMatchRejected(t *testing.T) {
	// The list endpoint's query is fuzzy; a near-miss email must not
	// authenticate.
	client := testBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"contacts": []map[string]any{{"id": "c1", "email": "jax+other@0ndata.io"}},
		})
	}))
	svc := NewUserService(client, nil, testAuthConfig(), "loc-1", time.Minute, nil)

	_, ok, err := svc.VerifyPassword(context.Background(), "jax@0ndata.io", "password123", "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("fuzzy email match must not authenticate")
	}
}

func TestVerifyPasswordMissingHashRejected(t *testing.T) {
	client := testBridge(t, contactHandler(t, "jax@0ndata.io", "", nil))
	svc := NewUserService(client, nil, testAuthConfig(), "loc-1", time.Minute, nil)

	_, ok, err := svc.VerifyPassword(context.Background(), "jax@0ndata.io", "password123", "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("contact without a hash field must not authenticate")
	}
}

func TestFindUserCachesFullContact(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	var fullFetches int
	client := testBridge(t, contactHandler(t, "jax@0ndata.io", string(hash), &fullFetches))
	svc := NewUserService(client, newMemCache(), testAuthConfig(), "loc-1", time.Minute, nil)

	for range 3 {
		if _, ok, err := svc.FindUserByEmail(context.Background(), "jax@0ndata.io", ""); err != nil || !ok {
			t.Fatalf("ok=%v err=%v", ok, err)
		}
	}
	if fullFetches != 1 {
		t.Errorf("full contact fetched %d times, want 1 (cached)", fullFetches)
	}
}
