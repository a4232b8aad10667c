// Package usagestore defines the port interface for persisting API usage
// rollups for billing export.
package usagestore

import "context"

// DailyUsage is one tenant-day rollup row.
type DailyUsage struct {
	TenantID string `json:"tenantId"`
	Date     string `json:"date"`
	Count    int    `json:"count"`
}

// Store persists per-tenant per-day API call counts.
type Store interface {
	// UpsertDaily sets the call count for a tenant on a UTC date (YYYY-MM-DD).
	// Repeated flushes of the same counter overwrite, not accumulate.
	UpsertDaily(ctx context.Context, tenantID, date string, count int) error

	// Daily returns a tenant's most recent rollups, newest first.
	Daily(ctx context.Context, tenantID string, limit int) ([]DailyUsage, error)
}
