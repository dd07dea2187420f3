package service

import (
	"context"
	"time"

	"printcalc/internal/domain"
	"printcalc/internal/service/analyzer"
	"printcalc/internal/service/visitguard"
)

// PricingResolver returns the effective pricing profile for a tenant
type PricingResolver interface {
	// Resolve never fails; unknown tenants get the anonymous defaults
	Resolve(ctx context.Context, slug string) domain.PricingProfile
}

// DocumentAnalyzer produces a page breakdown with retry and fallback applied
type DocumentAnalyzer interface {
	Execute(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisOutcome, error)
}

// UploadStore persists uploaded originals
type UploadStore interface {
	Save(ctx context.Context, tenant, fileName string, data []byte) (domain.StoredUpload, error)
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// BackendHealth reports the analyzer backends' last probe results
type BackendHealth interface {
	IsAvailable(mode domain.BackendMode) bool
	Snapshot() []analyzer.BackendStatus
}

// VisitGuard limits anonymous use of a page per day
type VisitGuard interface {
	CheckAndRecord(ctx context.Context, visit visitguard.Visit) (*domain.VisitResult, error)
	MaxAttempts() int64
}

// SessionService validates tenant session tokens
type SessionService interface {
	// ValidateSessionToken verifies the signature and expiry of a token
	ValidateSessionToken(ctx context.Context, token string) (*domain.SessionClaims, error)
}

// Services aggregates all service interfaces
type Services struct {
	Price   *PriceService
	Guard   VisitGuard
	Session SessionService
	Health  BackendHealth
	Uploads UploadStore
}
