// Package tokenstore persists OAuth credentials per tenant (CRM location).
//
// The in-process cache is the authoritative source within a warm process;
// the JSON file underneath is best-effort durability for restarts. The
// execution environment may only offer an ephemeral writable directory, so a
// failed durable write is logged and swallowed, never surfaced as an error.
package tokenstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Credential is one tenant's stored OAuth token set. At most one exists per
// location id; ExpiresAt is the authoritative input for refresh decisions.
type Credential struct {
	LocationID   string    `json:"locationId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Store is the credential persistence port.
type Store interface {
	Save(cred Credential) error
	Get(locationID string) (Credential, bool)
	Delete(locationID string) error
	ListTenants() []string
}

// FileStore keeps credentials in memory and mirrors them to a JSON file.
// The whole map is rewritten on every save; concurrent processes sharing one
// file can clobber each other, which is an accepted limitation.
type FileStore struct {
	mu     sync.Mutex
	path   string
	cache  map[string]Credential
	loaded bool

	log *slog.Logger
}

var _ Store = (*FileStore)(nil)

// DefaultPath returns the credential file location under the user config
// directory, falling back to the system temp dir when none is resolvable.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "0ndata", "tokens.json")
}

// NewFileStore creates a store backed by the given file path.
// The file is read lazily on first access, not here.
func NewFileStore(path string, log *slog.Logger) *FileStore {
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{
		path:  path,
		cache: make(map[string]Credential),
		log:   log,
	}
}

// Save upserts the credential by location id. The cache update always
// succeeds; the file write is best-effort.
func (s *FileStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hydrateLocked()
	s.cache[cred.LocationID] = cred
	s.persistLocked()
	return nil
}

// Get returns the credential for a location. The cache is authoritative once
// populated; the file is only consulted to hydrate a cold cache.
func (s *FileStore) Get(locationID string) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hydrateLocked()
	cred, ok := s.cache[locationID]
	return cred, ok
}

// Delete removes both the cached and durable copies.
func (s *FileStore) Delete(locationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hydrateLocked()
	delete(s.cache, locationID)
	s.persistLocked()
	return nil
}

// ListTenants returns all known location ids.
func (s *FileStore) ListTenants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hydrateLocked()
	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	return ids
}

// hydrateLocked loads the file into an empty cache exactly once per process.
// Must be called with s.mu held.
func (s *FileStore) hydrateLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("token file read failed, starting with empty store", "path", s.path, "error", err)
		}
		return
	}

	var m map[string]Credential
	if err := json.Unmarshal(data, &m); err != nil {
		s.log.Warn("token file corrupt, starting with empty store", "path", s.path, "error", err)
		return
	}
	s.cache = m
}

// persistLocked writes the whole map to disk. Failures are logged, not
// returned: the cache remains correct for this process lifetime.
// Must be called with s.mu held.
func (s *FileStore) persistLocked() {
	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		s.log.Warn("token file marshal failed", "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.log.Warn("token dir create failed, credentials held in memory only", "path", s.path, "error", err)
		return
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		s.log.Warn("token file write failed, credentials held in memory only", "path", s.path, "error", err)
	}
}

// writeFileAtomic writes via a temp file and rename so a crash mid-write
// never leaves a truncated token file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
