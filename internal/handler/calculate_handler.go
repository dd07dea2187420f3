package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"printcalc/internal/domain"
	"printcalc/internal/middleware"
	"printcalc/internal/service"
	"printcalc/internal/service/analyzer"
	"printcalc/internal/service/selector"
	apperrors "printcalc/pkg/errors"
	"printcalc/pkg/logger"
)

// multipartOverhead is room for form boundaries and headers on top of the file
const multipartOverhead = 64 << 10

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".doc":  true,
}

// PriceCalculator prices an uploaded document
type PriceCalculator interface {
	Calculate(ctx context.Context, req service.CalculateRequest) (*service.CalculateResult, error)
}

// CalculateHandler handles document price calculation requests
type CalculateHandler struct {
	prices         PriceCalculator
	maxUploadBytes int64
	logger         *logger.Logger
}

// NewCalculateHandler creates a new calculate handler
func NewCalculateHandler(prices PriceCalculator, maxUploadBytes int64, logger *logger.Logger) *CalculateHandler {
	return &CalculateHandler{
		prices:         prices,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// AttemptResponse reports the outcome of one backend mode
type AttemptResponse struct {
	Mode     string `json:"mode"`
	Attempts int    `json:"attempts"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SettingsResponse echoes the prices and thresholds used for the quote
type SettingsResponse struct {
	TenantSlug     string  `json:"tenant_slug"`
	BWPrice        float64 `json:"bw_price"`
	ColorPrice     float64 `json:"color_price"`
	PhotoPrice     float64 `json:"photo_price"`
	ThresholdColor float64 `json:"threshold_color"`
	ThresholdPhoto float64 `json:"threshold_photo"`
	IsDefault      bool    `json:"is_default"`
}

// CalculateResponse is the body of a successful price calculation
type CalculateResponse struct {
	Success bool `json:"success"`

	PriceBW    float64 `json:"price_bw"`
	PriceColor float64 `json:"price_color"`
	PricePhoto float64 `json:"price_photo"`
	TotalPrice float64 `json:"total_price"`

	BWPages     int                 `json:"bw_pages"`
	ColorPages  int                 `json:"color_pages"`
	PhotoPages  int                 `json:"photo_pages"`
	TotalPages  int                 `json:"total_pages"`
	PageDetails []domain.PageDetail `json:"page_details,omitempty"`

	FileURL  string `json:"file_url"`
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`

	AnalysisMode     string            `json:"analysis_mode"`
	FallbackUsed     bool              `json:"fallback_used"`
	OriginalMode     string            `json:"original_mode"`
	FallbackMode     string            `json:"fallback_mode,omitempty"`
	Attempts         []AttemptResponse `json:"attempts"`
	ServiceAvailable bool              `json:"service_available"`

	Settings SettingsResponse `json:"settings"`
}

// CalculatePrice handles POST /calculate-price and POST /print/{slug}/calculate-price
func (h *CalculateHandler) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, apperrors.NewValidationError("File is too large", map[string]interface{}{
				"max_bytes": h.maxUploadBytes,
			}))
			return
		}
		h.writeError(w, r, apperrors.NewValidationError("Request must be multipart/form-data with a file field", nil))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, apperrors.NewValidationError("File is required", map[string]interface{}{"field": "file"}))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		h.writeError(w, r, apperrors.NewValidationError("File must be a PDF or Word document", map[string]interface{}{
			"allowed": []string{"pdf", "docx", "doc"},
		}))
		return
	}
	if header.Size > h.maxUploadBytes {
		h.writeError(w, r, apperrors.NewValidationError("File is too large", map[string]interface{}{
			"max_bytes": h.maxUploadBytes,
		}))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, apperrors.NewInternalError("Failed to read uploaded file", err))
		return
	}

	tenant := middleware.TenantSlug(r)
	result, err := h.prices.Calculate(r.Context(), service.CalculateRequest{
		TenantSlug: tenant,
		FileName:   filepath.Base(header.Filename),
		Data:       data,
	})
	if err != nil {
		h.writeError(w, r, h.mapCalculateError(err))
		return
	}

	response := newCalculateResponse(result)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode price response")
		return
	}
}

func (h *CalculateHandler) mapCalculateError(err error) *apperrors.AppError {
	var failed *selector.AllBackendsFailedError
	switch {
	case errors.As(err, &failed):
		return apperrors.NewServiceUnavailableError(
			"Document analysis is temporarily unavailable. Please try again later.",
			err,
			map[string]interface{}{"attempts": attemptResponses(failed.Attempts)},
		)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewServiceUnavailableError("Document analysis did not finish in time", err, nil)
	default:
		return apperrors.NewInternalError("Failed to calculate price", err)
	}
}

func (h *CalculateHandler) writeError(w http.ResponseWriter, r *http.Request, appErr *apperrors.AppError) {
	middleware.WriteError(w, r, appErr, h.logger)
}

func newCalculateResponse(result *service.CalculateResult) CalculateResponse {
	decision := result.Decision
	response := CalculateResponse{
		Success: true,

		PriceBW:    result.Quote.PriceBW,
		PriceColor: result.Quote.PriceColor,
		PricePhoto: result.Quote.PricePhoto,
		TotalPrice: result.Quote.TotalPrice,

		BWPages:     result.Breakdown.BWPages,
		ColorPages:  result.Breakdown.ColorPages,
		PhotoPages:  result.Breakdown.PhotoPages,
		TotalPages:  result.Breakdown.TotalPages,
		PageDetails: result.Breakdown.PageDetails,

		FileURL:  result.Upload.URL,
		FilePath: result.Upload.Path,
		FileName: result.Upload.Name,
		FileType: result.FileType,

		AnalysisMode:     decision.ModeUsed.String(),
		FallbackUsed:     decision.FallbackUsed,
		OriginalMode:     decision.OriginalMode.String(),
		Attempts:         attemptResponses(decision.Attempted),
		ServiceAvailable: result.ServiceAvailable,

		Settings: SettingsResponse{
			TenantSlug:     result.Profile.TenantSlug,
			BWPrice:        result.Profile.BWPrice,
			ColorPrice:     result.Profile.ColorPrice,
			PhotoPrice:     result.Profile.PhotoPrice,
			ThresholdColor: result.Profile.ThresholdColor,
			ThresholdPhoto: result.Profile.ThresholdPhoto,
			IsDefault:      result.Profile.IsDefault,
		},
	}
	if decision.FallbackUsed {
		response.FallbackMode = decision.ModeUsed.String()
	}
	return response
}

func attemptResponses(attempts []domain.ModeAttempt) []AttemptResponse {
	out := make([]AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		resp := AttemptResponse{
			Mode:     a.Mode.String(),
			Attempts: a.Attempts,
			Error:    a.ErrorMessage(),
		}
		if kind, ok := analyzer.KindOf(a.Err); ok {
			resp.Kind = kind.String()
		}
		out = append(out, resp)
	}
	return out
}
