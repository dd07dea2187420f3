package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"printcalc/internal/domain"
	"printcalc/internal/service/quote"
	"printcalc/pkg/logger"
)

// CalculateRequest is one uploaded document to be priced
type CalculateRequest struct {
	TenantSlug string
	FileName   string
	Data       []byte
}

// CalculateResult is everything the price response is built from
type CalculateResult struct {
	Quote            domain.PriceQuote
	Breakdown        domain.PageBreakdown
	Profile          domain.PricingProfile
	Decision         domain.FallbackDecision
	Upload           domain.StoredUpload
	FileType         string
	ServiceAvailable bool
}

// PriceService orchestrates a price calculation: pricing profile, upload
// storage, analysis with fallback and the quote
type PriceService struct {
	pricing     PricingResolver
	analyzer    DocumentAnalyzer
	uploads     UploadStore
	health      BackendHealth
	primaryMode domain.BackendMode
	logger      *logger.Logger
}

// NewPriceService creates a price service. health may be nil.
func NewPriceService(pricing PricingResolver, analyzer DocumentAnalyzer, uploads UploadStore, health BackendHealth, primaryMode domain.BackendMode, log *logger.Logger) *PriceService {
	if log == nil {
		log = logger.NewNop()
	}
	return &PriceService{
		pricing:     pricing,
		analyzer:    analyzer,
		uploads:     uploads,
		health:      health,
		primaryMode: primaryMode,
		logger:      log,
	}
}

// Calculate prices one document. Analyzer failures are returned unchanged so
// callers can tell an *AllBackendsFailedError from cancellation; a zero quote
// is never returned in their place.
func (s *PriceService) Calculate(ctx context.Context, req CalculateRequest) (*CalculateResult, error) {
	tenant := req.TenantSlug
	if tenant == "" {
		tenant = domain.AnonymousTenant
	}

	profile := s.pricing.Resolve(ctx, tenant)

	upload, err := s.uploads.Save(ctx, tenant, req.FileName, req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	outcome, err := s.analyzer.Execute(ctx, domain.AnalysisRequest{
		FileName:   req.FileName,
		Data:       req.Data,
		Thresholds: profile.Thresholds(),
	})
	if err != nil {
		return nil, err
	}

	result := &CalculateResult{
		Quote:            quote.Price(outcome.Breakdown, profile),
		Breakdown:        outcome.Breakdown,
		Profile:          profile,
		Decision:         outcome.Decision,
		Upload:           upload,
		FileType:         strings.TrimPrefix(strings.ToLower(filepath.Ext(req.FileName)), "."),
		ServiceAvailable: s.serviceAvailable(),
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant":        tenant,
		"file_name":     req.FileName,
		"total_pages":   result.Breakdown.TotalPages,
		"total_price":   result.Quote.TotalPrice,
		"analysis_mode": result.Decision.ModeUsed.String(),
		"fallback_used": result.Decision.FallbackUsed,
	}).Info("Price calculated")

	return result, nil
}

func (s *PriceService) serviceAvailable() bool {
	if s.health == nil {
		return true
	}
	return s.health.IsAvailable(s.primaryMode)
}
