// Package usage meters outbound CRM API calls per tenant per UTC day.
// Counters live in memory; an optional flush goroutine mirrors them into a
// durable rollup store for billing export.
package usage

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/0ndata/crmbridge/internal/port/usagestore"
)

// Tracker counts API calls keyed by "<tenant>:<YYYY-MM-DD>".
type Tracker struct {
	mu      sync.Mutex
	counts  map[string]int
	enabled bool

	log *slog.Logger
	now func() time.Time // for testing
}

// NewTracker creates a tracker. A disabled tracker ignores increments but
// still serves (empty) reads.
func NewTracker(enabled bool, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		counts:  make(map[string]int),
		enabled: enabled,
		log:     log,
		now:     time.Now,
	}
}

// Enabled reports whether metering is active.
func (t *Tracker) Enabled() bool { return t.enabled }

// Increment records one API call for a tenant on the current UTC day.
func (t *Tracker) Increment(tenantID string) {
	if !t.enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[tenantID+":"+t.today()]++
}

// Usage returns the call count for a tenant on a date (YYYY-MM-DD).
// An empty date means today.
func (t *Tracker) Usage(tenantID, date string) int {
	if date == "" {
		date = t.today()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[tenantID+":"+date]
}

// All returns a copy of every counter, keyed "<tenant>:<date>".
func (t *Tracker) All() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.counts)
}

// Reset clears counters for one tenant, or all counters when tenantID is
// empty. Used after a billing flush and in tests.
func (t *Tracker) Reset(tenantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tenantID == "" {
		clear(t.counts)
		return
	}
	for key := range t.counts {
		if strings.HasPrefix(key, tenantID+":") {
			delete(t.counts, key)
		}
	}
}

// StartFlush launches a goroutine that periodically upserts every counter
// into the rollup store. Flush failures are logged and retried on the next
// tick; counters are never lost to a failed flush. Stops when ctx is done.
func (t *Tracker) StartFlush(ctx context.Context, interval time.Duration, store usagestore.Store) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.flush(ctx, store)
			}
		}
	}()
}

func (t *Tracker) flush(ctx context.Context, store usagestore.Store) {
	for key, count := range t.All() {
		tenantID, date, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		if err := store.UpsertDaily(ctx, tenantID, date, count); err != nil {
			t.log.Warn("usage flush failed", "tenant", tenantID, "date", date, "error", err)
		}
	}
}

func (t *Tracker) today() string {
	return t.now().UTC().Format(time.DateOnly)
}
