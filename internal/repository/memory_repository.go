package repository

import (
	"context"
	"sync"
	"time"

	"printcalc/internal/domain"
)

// MemoryVisitRepository keeps buckets in process memory. It is used by tests
// and single-instance development runs; counts do not survive restarts.
type MemoryVisitRepository struct {
	mu     sync.Mutex
	visits map[domain.VisitKey]*domain.VisitAttempt
	nextID int64
}

// NewMemoryVisitRepository creates an empty in-memory visit repository
func NewMemoryVisitRepository() *MemoryVisitRepository {
	return &MemoryVisitRepository{
		visits: make(map[domain.VisitKey]*domain.VisitAttempt),
	}
}

func (r *MemoryVisitRepository) IncrementBelow(ctx context.Context, key domain.VisitKey, meta domain.VisitMeta, limit int64) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	visit, exists := r.visits[key]
	if !exists {
		if limit < 1 {
			return 0, false, nil
		}
		r.nextID++
		r.visits[key] = &domain.VisitAttempt{
			ID:         r.nextID,
			IPAddress:  key.IPAddress,
			Page:       key.Page,
			VisitDate:  key.Day,
			VisitorID:  meta.VisitorID,
			UserAgent:  meta.UserAgent,
			VisitCount: 1,
			CreatedAt:  meta.SeenAt,
			UpdatedAt:  meta.SeenAt,
		}
		return 1, true, nil
	}

	if visit.VisitCount >= limit {
		return visit.VisitCount, false, nil
	}

	visit.VisitCount++
	visit.UpdatedAt = meta.SeenAt
	return visit.VisitCount, true, nil
}

func (r *MemoryVisitRepository) GetVisit(ctx context.Context, key domain.VisitKey) (*domain.VisitAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	visit, exists := r.visits[key]
	if !exists {
		return nil, nil
	}
	copied := *visit
	return &copied, nil
}

func (r *MemoryVisitRepository) DeleteBefore(ctx context.Context, day string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for key := range r.visits {
		if key.Day < day {
			delete(r.visits, key)
			deleted++
		}
	}
	return deleted, nil
}

// MemoryPricingRepository keeps tenant settings in process memory
type MemoryPricingRepository struct {
	mu       sync.RWMutex
	settings map[string]domain.TenantSettings
	nextID   int64
}

// NewMemoryPricingRepository creates an empty in-memory pricing repository
func NewMemoryPricingRepository() *MemoryPricingRepository {
	return &MemoryPricingRepository{
		settings: make(map[string]domain.TenantSettings),
	}
}

func (r *MemoryPricingRepository) GetSettingsBySlug(ctx context.Context, slug string) (*domain.TenantSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settings, exists := r.settings[slug]
	if !exists {
		return nil, nil
	}
	return &settings, nil
}

func (r *MemoryPricingRepository) SaveSettings(ctx context.Context, settings *domain.TenantSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.settings[settings.TenantSlug]; exists {
		settings.TenantID = existing.TenantID
		settings.Version = existing.Version + 1
	} else {
		r.nextID++
		settings.TenantID = r.nextID
		settings.Version = 1
	}
	settings.UpdatedAt = time.Now()
	r.settings[settings.TenantSlug] = *settings
	return nil
}
