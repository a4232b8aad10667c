// Package oauth implements the CRM OAuth 2.0 flow: CSRF state management,
// authorization-code exchange, and refresh-token rotation.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/0ndata/crmbridge/internal/config"
	"github.com/0ndata/crmbridge/internal/domain"
	"github.com/0ndata/crmbridge/internal/tokenstore"
)

// RequiredScopes is the minimal scope list requested on every install.
var RequiredScopes = []string{
	"contacts.readonly",
	"contacts.write",
	"objects/schema.readonly",
	"objects/schema.write",
	"objects/record.readonly",
	"objects/record.write",
	"locations.readonly",
	"locations/customFields.readonly",
	"locations/customFields.write",
}

const (
	stateTTL      = 10 * time.Minute
	refreshBuffer = 5 * time.Minute
)

// TokenResponse mirrors the JSON body of the CRM token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	UserType     string `json:"userType"`
	LocationID   string `json:"locationId"`
	CompanyID    string `json:"companyId"`
	UserID       string `json:"userId"`
}

// ExchangeError is returned when the token endpoint rejects a code exchange.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("oauth code exchange rejected (status %d): %s", e.Status, e.Body)
}

// RefreshError is returned when the token endpoint rejects a refresh.
type RefreshError struct {
	Status int
	Body   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("oauth token refresh rejected (status %d): %s", e.Status, e.Body)
}

// Manager owns the OAuth lifecycle for all tenants. One instance is shared
// by injection; there are no package-level globals.
type Manager struct {
	cfg        config.CRM
	store      tokenstore.Store
	httpClient *http.Client
	log        *slog.Logger

	mu     sync.Mutex
	states map[string]time.Time // state token -> expiry

	refreshGroup singleflight.Group
	now          func() time.Time // for testing
}

// NewManager creates an OAuth manager backed by the given credential store.
func NewManager(cfg config.CRM, store tokenstore.Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
		states:     make(map[string]time.Time),
		now:        time.Now,
	}
}

// GenerateState issues a single-use CSRF state token valid for ten minutes.
// Expired entries are cleaned up lazily on each call.
func (m *Manager) GenerateState() string {
	state := uuid.NewString()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for s, exp := range m.states {
		if exp.Before(now) {
			delete(m.states, s)
		}
	}
	m.states[state] = now.Add(stateTTL)
	return state
}

// ValidateState consumes a state token. It succeeds only for a known,
// unexpired token; the token is deleted regardless of outcome so replay
// always fails.
func (m *Manager) ValidateState(state string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.states[state]
	delete(m.states, state)
	return ok && !exp.Before(m.now())
}

// AuthorizationURL builds the marketplace authorization redirect URL.
func (m *Manager) AuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("client_id", m.cfg.ClientID)
	params.Set("redirect_uri", m.cfg.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(RequiredScopes, " "))
	params.Set("state", state)
	return m.cfg.AuthURL + "?" + params.Encode()
}

// Exchange trades an authorization code for a token set.
func (m *Manager) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.cfg.RedirectURI)

	tr, status, body, err := m.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, &ExchangeError{Status: status, Body: body}
	}
	return tr, nil
}

// Refresh trades a refresh token for a fresh token set.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	tr, status, body, err := m.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, &RefreshError{Status: status, Body: body}
	}
	return tr, nil
}

// postToken POSTs the form to the token endpoint. On 2xx it returns the
// parsed response; on other statuses it returns (nil, status, body, nil) so
// callers wrap the failure in their own error type.
func (m *Manager) postToken(ctx context.Context, form url.Values) (*TokenResponse, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("token endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, "", fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, string(body), nil
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, 0, "", fmt.Errorf("parse token response: %w", err)
	}
	return &tr, resp.StatusCode, "", nil
}

// SaveTokenResponse stores the credential set carried by a token response.
// The tenant id comes from locationId, falling back to companyId for agency
// installs.
func (m *Manager) SaveTokenResponse(tr *TokenResponse) (string, error) {
	locationID := tr.LocationID
	if locationID == "" {
		locationID = tr.CompanyID
	}
	if locationID == "" {
		return "", fmt.Errorf("token response carries no location id: %w", domain.ErrValidation)
	}

	return locationID, m.store.Save(tokenstore.Credential{
		LocationID:   locationID,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	})
}

// ValidAccessToken resolves a usable access token for a tenant.
//
// Absent credentials fall back to the statically configured PIT token when
// one is set (cron and internal callers), else ErrUnauthenticated. A stored
// credential within five minutes of expiry is refreshed proactively;
// refresh failure degrades to ErrUnauthenticated rather than returning a
// stale token. Concurrent refreshes for one tenant are collapsed.
func (m *Manager) ValidAccessToken(ctx context.Context, tenantID string) (string, error) {
	cred, ok := m.store.Get(tenantID)
	if !ok {
		if m.cfg.PITToken != "" {
			return m.cfg.PITToken, nil
		}
		return "", fmt.Errorf("no credential for tenant %s: %w", tenantID, domain.ErrUnauthenticated)
	}

	if cred.ExpiresAt.Sub(m.now()) >= refreshBuffer {
		return cred.AccessToken, nil
	}

	token, err, _ := m.refreshGroup.Do(tenantID, func() (any, error) {
		// Re-read inside the flight: a concurrent caller may have refreshed.
		cur, ok := m.store.Get(tenantID)
		if ok && cur.ExpiresAt.Sub(m.now()) >= refreshBuffer {
			return cur.AccessToken, nil
		}

		tr, err := m.Refresh(ctx, cred.RefreshToken)
		if err != nil {
			return "", err
		}

		updated := tokenstore.Credential{
			LocationID:   tenantID,
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
			ExpiresAt:    m.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		}
		if err := m.store.Save(updated); err != nil {
			return "", fmt.Errorf("save refreshed credential: %w", err)
		}
		return updated.AccessToken, nil
	})
	if err != nil {
		m.log.Warn("token refresh failed, treating tenant as unauthenticated",
			"tenant", tenantID, "error", err)
		return "", fmt.Errorf("refresh for tenant %s: %w", tenantID, domain.ErrUnauthenticated)
	}

	return token.(string), nil
}

// Disconnect removes a tenant's stored credentials.
func (m *Manager) Disconnect(tenantID string) error {
	return m.store.Delete(tenantID)
}
