package analyzer

import (
	"bytes"
	"encoding/json"
	"strings"

	"printcalc/internal/domain"
)

type wireResult struct {
	TotalPages  *int             `json:"total_pages"`
	BWPages     *int             `json:"bw_pages"`
	ColorPages  *int             `json:"color_pages"`
	PhotoPages  *int             `json:"photo_pages"`
	PageDetails []wirePageDetail `json:"page_details"`
	Error       string           `json:"error"`
}

// The analyzer has shipped with both English and Indonesian detail keys
type wirePageDetail struct {
	Page            *int     `json:"page"`
	Halaman         *int     `json:"halaman"`
	Kind            string   `json:"kind"`
	Type            string   `json:"type"`
	Jenis           string   `json:"jenis"`
	ColorPercentage *float64 `json:"color_percentage"`
	PersentaseWarna *float64 `json:"persentase_warna"`
}

// decodeBreakdown parses and validates a result document. Undecodable input
// is reported with the malformed kind; a decodable result that breaks the
// contract is always KindBadResponse.
func decodeBreakdown(mode domain.BackendMode, body []byte, malformed Kind) (domain.PageBreakdown, error) {
	var res wireResult
	if err := json.Unmarshal(extractJSON(body), &res); err != nil {
		return domain.PageBreakdown{}, newError(mode, malformed, "invalid JSON result: %w", err)
	}

	// counts that come with an error are not trusted
	if res.Error != "" {
		return domain.PageBreakdown{}, newError(mode, KindBadResponse, "analyzer reported: %s", res.Error)
	}

	var missing []string
	if res.BWPages == nil {
		missing = append(missing, "bw_pages")
	}
	if res.ColorPages == nil {
		missing = append(missing, "color_pages")
	}
	if res.PhotoPages == nil {
		missing = append(missing, "photo_pages")
	}
	if len(missing) > 0 {
		return domain.PageBreakdown{}, newError(mode, KindBadResponse, "result is missing %s", strings.Join(missing, ", "))
	}

	b := domain.PageBreakdown{
		BWPages:     *res.BWPages,
		ColorPages:  *res.ColorPages,
		PhotoPages:  *res.PhotoPages,
		PageDetails: normalizeDetails(res.PageDetails),
	}
	if res.TotalPages != nil {
		b.TotalPages = *res.TotalPages
	} else {
		b.TotalPages = b.BWPages + b.ColorPages + b.PhotoPages
	}

	if err := b.Validate(); err != nil {
		return domain.PageBreakdown{}, &Error{Kind: KindBadResponse, Mode: mode, Err: err}
	}
	return b, nil
}

// extractJSON strips text printed around the JSON object, which some
// analyzer builds emit on stdout
func extractJSON(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' {
		return trimmed
	}
	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return trimmed
	}
	return trimmed[start : end+1]
}

func normalizeDetails(in []wirePageDetail) []domain.PageDetail {
	if len(in) == 0 {
		return nil
	}

	out := make([]domain.PageDetail, 0, len(in))
	for i, d := range in {
		detail := domain.PageDetail{Page: i + 1}
		switch {
		case d.Page != nil:
			detail.Page = *d.Page
		case d.Halaman != nil:
			detail.Page = *d.Halaman
		}

		detail.Kind = normalizeKind(firstNonEmpty(d.Kind, d.Type, d.Jenis))

		switch {
		case d.ColorPercentage != nil:
			detail.ColorPercentage = *d.ColorPercentage
		case d.PersentaseWarna != nil:
			detail.ColorPercentage = *d.PersentaseWarna
		}
		out = append(out, detail)
	}
	return out
}

func normalizeKind(raw string) domain.PageKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bw", "black_white", "hitam_putih", "grayscale":
		return domain.PageKindBW
	case "color", "colour", "warna":
		return domain.PageKindColor
	case "photo", "foto":
		return domain.PageKindPhoto
	default:
		return domain.PageKind(raw)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
