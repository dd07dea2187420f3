// Package analyzer talks to the document analysis backends: a remote web
// service and a local executable sharing one result contract.
package analyzer

import (
	"context"

	"printcalc/internal/domain"
)

// Backend analyzes a document in one mode. Analyze returns a validated
// breakdown or an *Error; Probe reports whether the backend looks usable.
type Backend interface {
	Mode() domain.BackendMode
	Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.PageBreakdown, error)
	Probe(ctx context.Context) error
}
