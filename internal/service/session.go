package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/0ndata/crmbridge/internal/config"
)

// Session is the claim set carried in a session token.
type Session struct {
	ContactID  string `json:"sub"`
	Email      string `json:"email"`
	LocationID string `json:"loc,omitempty"`
	IssuedAt   int64  `json:"iat"`
	Expiry     int64  `json:"exp"`
}

// SessionService signs and verifies HS256 session tokens.
type SessionService struct {
	secret []byte
	expiry time.Duration

	now func() time.Time
}

// NewSessionService creates a session service from the auth config.
func NewSessionService(cfg *config.Auth) *SessionService {
	return &SessionService{
		secret: []byte(cfg.JWTSecret),
		expiry: cfg.SessionExpiry,
		now:    time.Now,
	}
}

// sessionHeader is the fixed base64url-encoded header for HS256.
var sessionHeader = encodeSegment([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Create issues a signed session token for a user.
func (s *SessionService) Create(contactID, email, locationID string) (string, error) {
	now := s.now()
	claims := Session{
		ContactID:  contactID,
		Email:      email,
		LocationID: locationID,
		IssuedAt:   now.Unix(),
		Expiry:     now.Add(s.expiry).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signingInput := sessionHeader + "." + encodeSegment(payload)

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	sig := encodeSegment(mac.Sum(nil))

	return signingInput + "." + sig, nil
}

// Verify checks a token's signature and expiry and returns its claims.
func (s *SessionService) Verify(token string) (*Session, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return nil, errors.New("malformed token")
	}

	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	expectedSig := encodeSegment(mac.Sum(nil))

	if !hmac.Equal([]byte(parts[2]), []byte(expectedSig)) {
		return nil, errors.New("invalid signature")
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var claims Session
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}

	if s.now().Unix() > claims.Expiry {
		return nil, errors.New("token expired")
	}

	return &claims, nil
}

// Refresh re-issues a token with a fresh expiry after verifying the old one.
func (s *SessionService) Refresh(token string) (string, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return "", err
	}
	return s.Create(claims.ContactID, claims.Email, claims.LocationID)
}

func encodeSegment(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func decodeSegment(s string) ([]byte, error) {
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}
