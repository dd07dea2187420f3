// Package pricing resolves the effective price table for a tenant.
package pricing

import (
	"context"
	"encoding/json"

	"printcalc/internal/domain"
	"printcalc/internal/repository"
	"printcalc/pkg/logger"
	"printcalc/pkg/redis"
)

// Resolver returns a tenant's pricing profile, or the anonymous defaults when
// the tenant is absent, unknown, unreadable or misconfigured. It never fails.
type Resolver struct {
	repo     repository.PricingRepository
	cache    *redis.Client
	defaults domain.PricingProfile
	logger   *logger.Logger
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(repo repository.PricingRepository, defaults domain.PricingProfile, cache *redis.Client, log *logger.Logger) *Resolver {
	defaults.TenantSlug = domain.AnonymousTenant
	defaults.IsDefault = true
	if log == nil {
		log = logger.NewNop()
	}

	return &Resolver{
		repo:     repo,
		cache:    cache,
		defaults: defaults,
		logger:   log,
	}
}

// Defaults returns the anonymous profile
func (r *Resolver) Defaults() domain.PricingProfile {
	return r.defaults
}

// Resolve returns the profile to quote with for the given tenant slug
func (r *Resolver) Resolve(ctx context.Context, slug string) domain.PricingProfile {
	if slug == "" || slug == domain.AnonymousTenant {
		return r.defaults
	}

	if profile, ok := r.fromCache(ctx, slug); ok {
		return profile
	}

	settings, err := r.repo.GetSettingsBySlug(ctx, slug)
	if err != nil {
		r.logger.WithError(err).WithField("tenant", slug).Warn("Failed to load tenant settings, using default pricing")
		return r.defaults
	}
	if settings == nil {
		r.logger.WithField("tenant", slug).Debug("Tenant has no settings, using default pricing")
		return r.defaults
	}

	profile := FromSettings(settings)
	if err := profile.Validate(); err != nil {
		r.logger.WithError(err).WithField("tenant", slug).Warn("Stored tenant pricing is invalid, using default pricing")
		return r.defaults
	}

	r.toCache(ctx, profile)
	return profile
}

// Invalidate drops a cached profile after its settings changed
func (r *Resolver) Invalidate(ctx context.Context, slug string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, r.cache.KeyBuilder.KeyPricingProfile(slug))
}

// FromSettings applies the column fallbacks to stored settings: a missing
// photo price uses the color price and missing thresholds use the defaults.
func FromSettings(s *domain.TenantSettings) domain.PricingProfile {
	profile := domain.PricingProfile{
		TenantSlug:     s.TenantSlug,
		BWPrice:        s.BWPrice,
		ColorPrice:     s.ColorPrice,
		PhotoPrice:     s.ColorPrice,
		ThresholdColor: domain.DefaultThresholdColor,
		ThresholdPhoto: domain.DefaultThresholdPhoto,
		Version:        s.Version,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.PhotoPrice != nil {
		profile.PhotoPrice = *s.PhotoPrice
	}
	if s.ThresholdColor != nil {
		profile.ThresholdColor = *s.ThresholdColor
	}
	if s.ThresholdPhoto != nil {
		profile.ThresholdPhoto = *s.ThresholdPhoto
	}
	return profile
}

func (r *Resolver) fromCache(ctx context.Context, slug string) (domain.PricingProfile, bool) {
	if r.cache == nil {
		return domain.PricingProfile{}, false
	}

	raw, err := r.cache.Get(ctx, r.cache.KeyBuilder.KeyPricingProfile(slug))
	if err != nil {
		if err != redis.Nil {
			r.logger.WithError(err).WithField("tenant", slug).Warn("Pricing cache read failed")
		}
		return domain.PricingProfile{}, false
	}

	var profile domain.PricingProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		r.logger.WithError(err).WithField("tenant", slug).Warn("Discarding malformed cached pricing profile")
		return domain.PricingProfile{}, false
	}
	return profile, true
}

func (r *Resolver) toCache(ctx context.Context, profile domain.PricingProfile) {
	if r.cache == nil {
		return
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	key := r.cache.KeyBuilder.KeyPricingProfile(profile.TenantSlug)
	if err := r.cache.Set(ctx, key, string(data), redis.TTLPricingProfile); err != nil {
		r.logger.WithError(err).WithField("tenant", profile.TenantSlug).Warn("Pricing cache write failed")
	}
}
