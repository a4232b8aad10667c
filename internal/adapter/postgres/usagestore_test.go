package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/0ndata/crmbridge/internal/config"
)

// testStore connects to PostgreSQL or skips the test if DATABASE_URL is not
// set. Migrations run first so the rollup table exists.
func testStore(t *testing.T) *UsageStore {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	pool, err := NewPool(ctx, config.Postgres{DSN: dsn, MaxConns: 2})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(),
			`DELETE FROM usage_rollups WHERE tenant_id LIKE 'test-%'`)
	})
	return NewUsageStore(pool)
}

func TestUpsertDailyOverwrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tenant := "test-" + t.Name()

	if err := s.UpsertDaily(ctx, tenant, "2025-06-01", 10); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertDaily(ctx, tenant, "2025-06-01", 25); err != nil {
		t.Fatal(err)
	}

	rows, err := s.Daily(ctx, tenant, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Count != 25 {
		t.Errorf("count = %d, want 25 (overwrite, not accumulate)", rows[0].Count)
	}
}

func TestDailyNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tenant := "test-" + t.Name()

	for _, day := range []string{"2025-06-01", "2025-06-03", "2025-06-02"} {
		if err := s.UpsertDaily(ctx, tenant, day, 1); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.Daily(ctx, tenant, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (limit)", len(rows))
	}
	if rows[0].Date != "2025-06-03" || rows[1].Date != "2025-06-02" {
		t.Errorf("order = %s, %s", rows[0].Date, rows[1].Date)
	}
}
