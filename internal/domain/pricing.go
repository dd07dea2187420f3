package domain

import (
	"fmt"
	"time"
)

// Anonymous pricing defaults, in currency minor units per page
const (
	DefaultBWPrice        = 500.0
	DefaultColorPrice     = 1000.0
	DefaultPhotoPrice     = 2000.0
	DefaultThresholdColor = 20.0
	DefaultThresholdPhoto = 30.0
)

// AnonymousTenant is the slug used when no tenant context is present
const AnonymousTenant = "testing"

// TenantSettings is a tenant's stored price table. Nullable columns stay nil
// so the resolver can apply the documented fallbacks.
type TenantSettings struct {
	TenantID       int64     `json:"tenant_id" db:"user_id"`
	TenantSlug     string    `json:"tenant_slug" db:"slug"`
	BWPrice        float64   `json:"bw_price" db:"bw_price"`
	ColorPrice     float64   `json:"color_price" db:"color_price"`
	PhotoPrice     *float64  `json:"photo_price,omitempty" db:"photo_price"`
	ThresholdColor *float64  `json:"threshold_color,omitempty" db:"threshold_color"`
	ThresholdPhoto *float64  `json:"threshold_photo,omitempty" db:"threshold_photo"`
	Version        int64     `json:"version" db:"version"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PricingProfile is the effective price table used to quote one document
type PricingProfile struct {
	TenantSlug     string    `json:"tenant_slug" toml:"-"`
	BWPrice        float64   `json:"bw_price" toml:"bw_price"`
	ColorPrice     float64   `json:"color_price" toml:"color_price"`
	PhotoPrice     float64   `json:"photo_price" toml:"photo_price"`
	ThresholdColor float64   `json:"threshold_color" toml:"threshold_color"`
	ThresholdPhoto float64   `json:"threshold_photo" toml:"threshold_photo"`
	Version        int64     `json:"version" toml:"-"`
	UpdatedAt      time.Time `json:"updated_at" toml:"-"`
	IsDefault      bool      `json:"is_default" toml:"-"`
}

// DefaultPricingProfile returns the profile used for anonymous visitors
func DefaultPricingProfile() PricingProfile {
	return PricingProfile{
		TenantSlug:     AnonymousTenant,
		BWPrice:        DefaultBWPrice,
		ColorPrice:     DefaultColorPrice,
		PhotoPrice:     DefaultPhotoPrice,
		ThresholdColor: DefaultThresholdColor,
		ThresholdPhoto: DefaultThresholdPhoto,
		IsDefault:      true,
	}
}

// Validate checks the profile invariants: thresholds in [0,100], prices non-negative
func (p PricingProfile) Validate() error {
	if p.BWPrice < 0 || p.ColorPrice < 0 || p.PhotoPrice < 0 {
		return fmt.Errorf("pricing profile %q: prices must be non-negative (bw=%v color=%v photo=%v)",
			p.TenantSlug, p.BWPrice, p.ColorPrice, p.PhotoPrice)
	}
	if !inPercentRange(p.ThresholdColor) || !inPercentRange(p.ThresholdPhoto) {
		return fmt.Errorf("pricing profile %q: thresholds must be within [0,100] (color=%v photo=%v)",
			p.TenantSlug, p.ThresholdColor, p.ThresholdPhoto)
	}
	return nil
}

// Thresholds returns the analysis thresholds carried by the profile
func (p PricingProfile) Thresholds() Thresholds {
	return Thresholds{Color: p.ThresholdColor, Photo: p.ThresholdPhoto}
}

func inPercentRange(v float64) bool {
	return v >= 0 && v <= 100
}

// PriceQuote is derived from a breakdown and a profile and never persisted
type PriceQuote struct {
	PriceBW    float64 `json:"price_bw"`
	PriceColor float64 `json:"price_color"`
	PricePhoto float64 `json:"price_photo"`
	TotalPrice float64 `json:"total_price"`
}
