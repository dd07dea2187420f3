package repository

import (
	"context"

	"printcalc/internal/domain"
)

// VisitRepository persists rate-limit buckets keyed by (ip_address, page, day)
type VisitRepository interface {
	// IncrementBelow creates the bucket with a count of one, or increments it
	// while its count is below limit, as a single atomic step. When the bucket
	// is already at the limit nothing is written and recorded is false.
	IncrementBelow(ctx context.Context, key domain.VisitKey, meta domain.VisitMeta, limit int64) (count int64, recorded bool, err error)

	// GetVisit retrieves a bucket, or nil when it does not exist
	GetVisit(ctx context.Context, key domain.VisitKey) (*domain.VisitAttempt, error)

	// DeleteBefore removes buckets of days strictly before day (operator tooling only)
	DeleteBefore(ctx context.Context, day string) (int64, error)
}

// PricingRepository reads tenant price tables
type PricingRepository interface {
	// GetSettingsBySlug retrieves a tenant's settings, or nil when the tenant
	// or its settings do not exist
	GetSettingsBySlug(ctx context.Context, slug string) (*domain.TenantSettings, error)
}

// SettingsWriter stores tenant price tables. The orchestrator never writes
// settings; this is used by seeding and tests.
type SettingsWriter interface {
	// SaveSettings creates or replaces a tenant's settings and bumps its version
	SaveSettings(ctx context.Context, settings *domain.TenantSettings) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Visits   VisitRepository
	Pricing  PricingRepository
	Settings SettingsWriter
}
