package service

import (
	"strings"
	"testing"
	"time"

	"github.com/0ndata/crmbridge/internal/config"
)

func testSessions(t *testing.T) *SessionService {
	t.Helper()
	return NewSessionService(&config.Auth{
		JWTSecret:     "test-secret",
		SessionExpiry: time.Hour,
	})
}

func TestSessionRoundTrip(t *testing.T) {
	s := testSessions(t)

	token, err := s.Create("c1", "jax@0ndata.io", "loc-1")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := s.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.ContactID != "c1" || claims.Email != "jax@0ndata.io" || claims.LocationID != "loc-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestSessionTamperedSignatureRejected(t *testing.T) {
	s := testSessions(t)

	token, err := s.Create("c1", "jax@0ndata.io", "")
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + "forged" + parts[2][6:]
	if _, err := s.Verify(tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestSessionWrongSecretRejected(t *testing.T) {
	s := testSessions(t)
	token, err := s.Create("c1", "jax@0ndata.io", "")
	if err != nil {
		t.Fatal(err)
	}

	other := NewSessionService(&config.Auth{JWTSecret: "other-secret", SessionExpiry: time.Hour})
	if _, err := other.Verify(token); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestSessionExpiry(t *testing.T) {
	s := testSessions(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	token, err := s.Create("c1", "jax@0ndata.io", "")
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := s.Verify(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestSessionMalformed(t *testing.T) {
	s := testSessions(t)
	for _, token := range []string{"", "a", "a.b", "not a token at all"} {
		if _, err := s.Verify(token); err == nil {
			t.Errorf("Verify(%q) accepted a malformed token", token)
		}
	}
}

func TestSessionRefresh(t *testing.T) {
	s := testSessions(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	token, err := s.Create("c1", "jax@0ndata.io", "loc-1")
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	fresh, err := s.Refresh(token)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := s.Verify(fresh)
	if err != nil {
		t.Fatal(err)
	}
	if claims.ContactID != "c1" || claims.LocationID != "loc-1" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Expiry <= base.Add(time.Hour).Unix() {
		t.Error("refresh must extend the expiry")
	}
}
