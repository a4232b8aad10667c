package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/0ndata/crmbridge/internal/bridge"
	"github.com/0ndata/crmbridge/internal/config"
	"github.com/0ndata/crmbridge/internal/domain"
	"github.com/0ndata/crmbridge/internal/port/cache"
)

// CRM contacts double as application users. The bcrypt hash lives in a
// custom field on the contact; no user data is stored locally.
const passwordFieldKey = "contact.0ndata_password_hash"

const minPasswordLength = 8

// User is the application-facing view of a CRM contact.
type User struct {
	ContactID  string `json:"contactId"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	LocationID string `json:"locationId"`
}

type crmCustomField struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	FieldValue string `json:"field_value"`
}

type crmContact struct {
	ID           string           `json:"id"`
	Email        string           `json:"email"`
	Name         string           `json:"name"`
	FirstName    string           `json:"firstName"`
	LastName     string           `json:"lastName"`
	CustomFields []crmCustomField `json:"customFields"`
}

func (c crmContact) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	parts := make([]string, 0, 2)
	if c.FirstName != "" {
		parts = append(parts, c.FirstName)
	}
	if c.LastName != "" {
		parts = append(parts, c.LastName)
	}
	return strings.Join(parts, " ")
}

// passwordHash scans custom fields for the password hash. The upstream
// surfaces the field key under "id" or "key" depending on endpoint, and the
// value under "value" or "field_value".
func (c crmContact) passwordHash() string {
	for _, f := range c.CustomFields {
		match := f.ID == passwordFieldKey || f.Key == passwordFieldKey ||
			strings.Contains(f.ID, "0ndata_password_hash") ||
			strings.Contains(f.Key, "0ndata_password_hash")
		if !match {
			continue
		}
		if f.Value != "" {
			return f.Value
		}
		return f.FieldValue
	}
	return ""
}

// UserService manages contact-backed user accounts.
type UserService struct {
	client          *bridge.Client
	cache           cache.Cache
	cfg             *config.Auth
	defaultLocation string
	contactTTL      time.Duration
	log             *slog.Logger
}

// NewUserService creates a user service. cache may be nil to disable
// contact caching.
func NewUserService(client *bridge.Client, c cache.Cache, cfg *config.Auth, defaultLocation string, contactTTL time.Duration, log *slog.Logger) *UserService {
	if log == nil {
		log = slog.Default()
	}
	return &UserService{
		client:          client,
		cache:           c,
		cfg:             cfg,
		defaultLocation: defaultLocation,
		contactTTL:      contactTTL,
		log:             log,
	}
}

func (s *UserService) location(locationID string) string {
	if locationID != "" {
		return locationID
	}
	return s.defaultLocation
}

// CreateUser creates a CRM contact carrying a bcrypt password hash in its
// custom field and returns the resulting user.
func (s *UserService) CreateUser(ctx context.Context, email, password, name, locationID string) (*User, error) {
	locID := s.location(locationID)

	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	firstName := name
	lastName := ""
	if parts := strings.SplitN(name, " ", 2); len(parts) == 2 {
		firstName, lastName = parts[0], parts[1]
	}

	resp, err := s.client.Do(ctx, bridge.Request{
		Method:   "POST",
		Path:     "/contacts/",
		TenantID: locID,
		Body: map[string]any{
			"locationId": locID,
			"email":      email,
			"firstName":  firstName,
			"lastName":   lastName,
			"name":       name,
			"customFields": []map[string]string{
				{"key": passwordFieldKey, "field_value": string(hash)},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("create user: status %d: %s", resp.Status, resp.Text())
	}

	var out struct {
		Contact crmContact `json:"contact"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("parse contact response: %w", err)
	}

	return &User{
		ContactID:  out.Contact.ID,
		Email:      email,
		Name:       name,
		LocationID: locID,
	}, nil
}

// FindUserByEmail locates a contact by email. Absence is not an error.
func (s *UserService) FindUserByEmail(ctx context.Context, email, locationID string) (*User, bool, error) {
	contact, ok, err := s.findContact(ctx, email, s.location(locationID))
	if err != nil || !ok {
		return nil, false, err
	}
	return &User{
		ContactID:  contact.ID,
		Email:      contact.Email,
		Name:       contact.displayName(),
		LocationID: s.location(locationID),
	}, true, nil
}

// VerifyPassword authenticates a user. Unknown email, missing hash, and
// wrong password all read as a plain authentication failure, never an error.
func (s *UserService) VerifyPassword(ctx context.Context, email, password, locationID string) (*User, bool, error) {
	locID := s.location(locationID)

	contact, ok, err := s.findContact(ctx, email, locID)
	if err != nil || !ok {
		return nil, false, err
	}

	hash := contact.passwordHash()
	if hash == "" {
		return nil, false, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, false, nil
	}

	return &User{
		ContactID:  contact.ID,
		Email:      contact.Email,
		Name:       contact.displayName(),
		LocationID: locID,
	}, true, nil
}

// findContact resolves an email to a full contact, custom fields included.
// The list endpoint's query match is fuzzy and omits custom fields, so the
// flow is list, exact-match check, then full fetch.
func (s *UserService) findContact(ctx context.Context, email, locID string) (*crmContact, bool, error) {
	resp, err := s.client.Do(ctx, bridge.Request{
		Method:   "GET",
		Path:     "/contacts/",
		TenantID: locID,
		Query: map[string]string{
			"locationId": locID,
			"query":      email,
			"limit":      "1",
		},
	})
	if err != nil {
		return nil, false, err
	}
	if !resp.OK {
		return nil, false, nil
	}

	var list struct {
		Contacts []crmContact `json:"contacts"`
	}
	if err := resp.Decode(&list); err != nil {
		return nil, false, fmt.Errorf("parse contact list: %w", err)
	}
	if len(list.Contacts) == 0 {
		return nil, false, nil
	}
	if !strings.EqualFold(list.Contacts[0].Email, email) {
		return nil, false, nil
	}

	return s.fetchContact(ctx, list.Contacts[0].ID, locID)
}

func (s *UserService) fetchContact(ctx context.Context, contactID, locID string) (*crmContact, bool, error) {
	cacheKey := "contact:" + locID + ":" + contactID
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
			var contact crmContact
			if json.Unmarshal(data, &contact) == nil {
				return &contact, true, nil
			}
		}
	}

	resp, err := s.client.Do(ctx, bridge.Request{
		Method:   "GET",
		Path:     "/contacts/" + contactID,
		TenantID: locID,
	})
	if err != nil {
		return nil, false, err
	}
	if !resp.OK {
		return nil, false, nil
	}

	var out struct {
		Contact crmContact `json:"contact"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, false, fmt.Errorf("parse contact: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(out.Contact); err == nil {
			if err := s.cache.Set(ctx, cacheKey, data, s.contactTTL); err != nil {
				s.log.Warn("contact cache write failed", "contactId", contactID, "error", err)
			}
		}
	}
	return &out.Contact, true, nil
}
