package domain

import (
	"errors"
	"fmt"
	"strings"
)

// BackendMode selects the physical analysis backend
type BackendMode string

const (
	// ModeLocal runs the analyzer executable as a subprocess
	ModeLocal BackendMode = "local"
	// ModeRemote calls the analyzer web service
	ModeRemote BackendMode = "online"
)

// ParseBackendMode accepts the configuration spellings of a mode
func ParseBackendMode(s string) (BackendMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return ModeLocal, nil
	case "online", "remote":
		return ModeRemote, nil
	default:
		return "", fmt.Errorf("invalid analyzer mode %q: use \"local\" or \"online\"", s)
	}
}

// Alternate returns the other backend mode
func (m BackendMode) Alternate() BackendMode {
	if m == ModeLocal {
		return ModeRemote
	}
	return ModeLocal
}

func (m BackendMode) String() string {
	return string(m)
}

// Thresholds are percentages of a page that must be colored for the page to
// count as color or photo
type Thresholds struct {
	Color float64 `json:"color_threshold"`
	Photo float64 `json:"photo_threshold"`
}

// AnalysisRequest is the input of one backend call. Data is owned by the
// request that uploaded it and must not be retained.
type AnalysisRequest struct {
	FileName   string
	Data       []byte
	Thresholds Thresholds
}

// PageKind classifies a single page
type PageKind string

const (
	PageKindBW    PageKind = "bw"
	PageKindColor PageKind = "color"
	PageKindPhoto PageKind = "photo"
)

// PageDetail is the optional per-page classification
type PageDetail struct {
	Page            int      `json:"page"`
	Kind            PageKind `json:"kind"`
	ColorPercentage float64  `json:"color_percentage"`
}

// PageBreakdown is the normalized analysis result
type PageBreakdown struct {
	TotalPages  int          `json:"total_pages"`
	BWPages     int          `json:"bw_pages"`
	ColorPages  int          `json:"color_pages"`
	PhotoPages  int          `json:"photo_pages"`
	PageDetails []PageDetail `json:"page_details"`
}

// ErrInvalidBreakdown reports a breakdown whose counts do not add up
var ErrInvalidBreakdown = errors.New("invalid page breakdown")

// Validate enforces bw + color + photo == total with non-negative counts
func (b PageBreakdown) Validate() error {
	if b.TotalPages < 0 || b.BWPages < 0 || b.ColorPages < 0 || b.PhotoPages < 0 {
		return fmt.Errorf("%w: negative page count (total=%d bw=%d color=%d photo=%d)",
			ErrInvalidBreakdown, b.TotalPages, b.BWPages, b.ColorPages, b.PhotoPages)
	}
	if sum := b.BWPages + b.ColorPages + b.PhotoPages; sum != b.TotalPages {
		return fmt.Errorf("%w: bw(%d) + color(%d) + photo(%d) = %d, total_pages = %d",
			ErrInvalidBreakdown, b.BWPages, b.ColorPages, b.PhotoPages, sum, b.TotalPages)
	}
	return nil
}

// ModeAttempt records what happened on one backend mode
type ModeAttempt struct {
	Mode     BackendMode `json:"mode"`
	Attempts int         `json:"attempts"`
	Err      error       `json:"-"`
}

// ErrorMessage returns the final error text for the mode, or "" on success
func (a ModeAttempt) ErrorMessage() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}

// FallbackDecision is the observability record of one Execute call
type FallbackDecision struct {
	Attempted    []ModeAttempt `json:"attempted"`
	ModeUsed     BackendMode   `json:"mode_used"`
	OriginalMode BackendMode   `json:"original_mode"`
	FallbackUsed bool          `json:"fallback_used"`
}

// AnalysisOutcome is a successful analysis with the record of how it was obtained
type AnalysisOutcome struct {
	Breakdown PageBreakdown    `json:"breakdown"`
	Decision  FallbackDecision `json:"decision"`
}

// StoredUpload describes an uploaded original persisted by the upload store
type StoredUpload struct {
	Path string `json:"path"`
	URL  string `json:"url"`
	Name string `json:"name"`
}
