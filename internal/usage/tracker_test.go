package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/0ndata/crmbridge/internal/port/usagestore"
)

func TestIncrementAndUsage(t *testing.T) {
	tr := NewTracker(true, nil)

	tr.Increment("loc-1")
	tr.Increment("loc-1")
	tr.Increment("loc-2")

	if got := tr.Usage("loc-1", ""); got != 2 {
		t.Errorf("loc-1 usage = %d, want 2", got)
	}
	if got := tr.Usage("loc-2", ""); got != 1 {
		t.Errorf("loc-2 usage = %d, want 1", got)
	}
	if got := tr.Usage("loc-3", ""); got != 0 {
		t.Errorf("loc-3 usage = %d, want 0", got)
	}
}

func TestDisabledTrackerIgnoresIncrements(t *testing.T) {
	tr := NewTracker(false, nil)
	tr.Increment("loc-1")

	if got := tr.Usage("loc-1", ""); got != 0 {
		t.Errorf("disabled tracker recorded %d calls", got)
	}
}

func TestCountersArePerDay(t *testing.T) {
	tr := NewTracker(true, nil)
	day1 := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return day1 }

	tr.Increment("loc-1")
	tr.now = func() time.Time { return day1.Add(2 * time.Hour) } // crosses UTC midnight
	tr.Increment("loc-1")

	if got := tr.Usage("loc-1", "2025-06-01"); got != 1 {
		t.Errorf("day 1 usage = %d, want 1", got)
	}
	if got := tr.Usage("loc-1", "2025-06-02"); got != 1 {
		t.Errorf("day 2 usage = %d, want 1", got)
	}
}

func TestResetScopedToTenant(t *testing.T) {
	tr := NewTracker(true, nil)
	tr.Increment("loc-1")
	tr.Increment("loc-2")

	tr.Reset("loc-1")
	if got := tr.Usage("loc-1", ""); got != 0 {
		t.Errorf("loc-1 usage after reset = %d", got)
	}
	if got := tr.Usage("loc-2", ""); got != 1 {
		t.Errorf("loc-2 usage must survive scoped reset, got %d", got)
	}

	tr.Reset("")
	if len(tr.All()) != 0 {
		t.Error("expected empty counters after full reset")
	}
}

type recordingStore struct {
	mu      sync.Mutex
	upserts map[string]int
}

func (s *recordingStore) UpsertDaily(_ context.Context, tenantID, date string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upserts == nil {
		s.upserts = make(map[string]int)
	}
	s.upserts[tenantID+":"+date] = count
	return nil
}

func (s *recordingStore) Daily(context.Context, string, int) ([]usagestore.DailyUsage, error) {
	return nil, nil
}

func TestFlushUpsertsEveryCounter(t *testing.T) {
	tr := NewTracker(true, nil)
	tr.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }

	tr.Increment("loc-1")
	tr.Increment("loc-1")
	tr.Increment("loc-2")

	store := &recordingStore{}
	tr.flush(context.Background(), store)

	if store.upserts["loc-1:2025-06-01"] != 2 {
		t.Errorf("loc-1 upsert = %d, want 2", store.upserts["loc-1:2025-06-01"])
	}
	if store.upserts["loc-2:2025-06-01"] != 1 {
		t.Errorf("loc-2 upsert = %d, want 1", store.upserts["loc-2:2025-06-01"])
	}
}
