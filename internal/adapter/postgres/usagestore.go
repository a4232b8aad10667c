package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0ndata/crmbridge/internal/port/usagestore"
)

// UsageStore implements usagestore.Store on the usage_rollups table.
type UsageStore struct {
	pool *pgxpool.Pool
}

var _ usagestore.Store = (*UsageStore)(nil)

// NewUsageStore creates a usage store backed by the given connection pool.
func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{pool: pool}
}

// UpsertDaily sets the call count for a tenant-day. Flushes overwrite: the
// in-memory tracker is the source of truth within a day.
func (s *UsageStore) UpsertDaily(ctx context.Context, tenantID, date string, count int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_rollups (tenant_id, day, call_count, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (tenant_id, day)
		 DO UPDATE SET call_count = EXCLUDED.call_count, updated_at = now()`,
		tenantID, date, count)
	if err != nil {
		return fmt.Errorf("upsert usage rollup: %w", err)
	}
	return nil
}

// Daily returns a tenant's most recent rollups, newest first.
func (s *UsageStore) Daily(ctx context.Context, tenantID string, limit int) ([]usagestore.DailyUsage, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, to_char(day, 'YYYY-MM-DD'), call_count
		 FROM usage_rollups WHERE tenant_id = $1
		 ORDER BY day DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage rollups: %w", err)
	}
	defer rows.Close()

	var out []usagestore.DailyUsage
	for rows.Next() {
		var u usagestore.DailyUsage
		if err := rows.Scan(&u.TenantID, &u.Date, &u.Count); err != nil {
			return nil, fmt.Errorf("scan usage rollup: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
