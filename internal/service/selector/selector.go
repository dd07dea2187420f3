// Package selector runs an analysis on the primary backend with bounded
// retries, then once on the alternate backend when fallback is enabled.
package selector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"printcalc/internal/domain"
	"printcalc/internal/service/analyzer"
	"printcalc/pkg/logger"
)

// Policy defaults
const (
	DefaultMaxRetryAttempts = 3
	DefaultRetryDelay       = 5 * time.Second
)

// Policy configures mode selection
type Policy struct {
	PrimaryMode      domain.BackendMode
	AutoFallback     bool
	MaxRetryAttempts int           // total attempts per mode, at least 1
	RetryDelay       time.Duration // pause between attempts on one mode
}

// AllBackendsFailedError lists every mode tried, in order, with its final error
type AllBackendsFailedError struct {
	Attempts []domain.ModeAttempt
}

func (e *AllBackendsFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s after %d attempt(s): %s", a.Mode, a.Attempts, a.ErrorMessage()))
	}
	return "all analysis backends failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes each mode's error to errors.Is and errors.As
func (e *AllBackendsFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// WaitFunc pauses between retries and returns early with ctx's error
type WaitFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Selector
type Option func(*Selector)

// WithWaitFunc replaces the retry pause, mainly for tests
func WithWaitFunc(fn WaitFunc) Option {
	return func(s *Selector) {
		s.wait = fn
	}
}

// Selector executes analyses according to a Policy
type Selector struct {
	policy   Policy
	backends map[domain.BackendMode]analyzer.Backend
	wait     WaitFunc
	logger   *logger.Logger
}

// New creates a selector. The primary mode must have a backend; the
// alternate is used only when it has one too.
func New(policy Policy, backends []analyzer.Backend, log *logger.Logger, opts ...Option) (*Selector, error) {
	if policy.MaxRetryAttempts < 1 {
		policy.MaxRetryAttempts = 1
	}
	if policy.RetryDelay < 0 {
		policy.RetryDelay = 0
	}
	if log == nil {
		log = logger.NewNop()
	}

	s := &Selector{
		policy:   policy,
		backends: make(map[domain.BackendMode]analyzer.Backend, len(backends)),
		wait:     sleep,
		logger:   log,
	}
	for _, b := range backends {
		s.backends[b.Mode()] = b
	}
	if _, ok := s.backends[policy.PrimaryMode]; !ok {
		return nil, fmt.Errorf("no analyzer backend configured for primary mode %q", policy.PrimaryMode)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the effective policy
func (s *Selector) Policy() Policy {
	return s.policy
}

// Execute analyzes the request. On success the outcome records every mode
// tried; when every mode fails the error is an *AllBackendsFailedError. A
// cancelled ctx stops the run and returns an error wrapping ctx.Err().
func (s *Selector) Execute(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisOutcome, error) {
	primary := s.policy.PrimaryMode
	order := []domain.BackendMode{primary}
	if s.policy.AutoFallback {
		if _, ok := s.backends[primary.Alternate()]; ok {
			order = append(order, primary.Alternate())
		}
	}

	decision := domain.FallbackDecision{OriginalMode: primary}

	for i, mode := range order {
		if i > 0 {
			s.logger.WithFields(map[string]interface{}{
				"original_mode": primary.String(),
				"fallback_mode": mode.String(),
				"file_name":     req.FileName,
			}).Info("Attempting fallback analyzer mode")
		}

		breakdown, attempts, err := s.runMode(ctx, s.backends[mode], req)
		decision.Attempted = append(decision.Attempted, domain.ModeAttempt{Mode: mode, Attempts: attempts, Err: err})

		if err == nil {
			decision.ModeUsed = mode
			decision.FallbackUsed = i > 0
			if decision.FallbackUsed {
				s.logger.WithFields(map[string]interface{}{
					"original_mode": primary.String(),
					"fallback_mode": mode.String(),
				}).Info("Fallback analyzer mode succeeded")
			}
			return &domain.AnalysisOutcome{Breakdown: breakdown, Decision: decision}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("analysis cancelled: %w", ctxErr)
		}
	}

	failure := &AllBackendsFailedError{Attempts: decision.Attempted}
	s.logger.WithError(failure).WithField("file_name", req.FileName).Error("All analyzer modes failed")
	return nil, failure
}

// runMode retries retryable failures on one backend. It never switches mode.
func (s *Selector) runMode(ctx context.Context, backend analyzer.Backend, req domain.AnalysisRequest) (domain.PageBreakdown, int, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		breakdown, err := backend.Analyze(ctx, req)
		if err == nil {
			if verr := breakdown.Validate(); verr != nil {
				err = &analyzer.Error{Kind: analyzer.KindBadResponse, Mode: backend.Mode(), Err: verr}
			} else {
				return breakdown, attempt, nil
			}
		}
		lastErr = err

		kind, _ := analyzer.KindOf(err)
		log := s.logger.WithError(err).WithFields(map[string]interface{}{
			"mode":       backend.Mode().String(),
			"attempt":    attempt,
			"error_kind": kind.String(),
		})

		if ctx.Err() != nil || !analyzer.IsRetryable(err) || attempt >= s.policy.MaxRetryAttempts {
			log.Warn("Analyzer attempt failed")
			return domain.PageBreakdown{}, attempt, lastErr
		}

		log.WithField("retry_in", s.policy.RetryDelay.String()).Warn("Analyzer attempt failed, retrying")
		if werr := s.wait(ctx, s.policy.RetryDelay); werr != nil {
			return domain.PageBreakdown{}, attempt, lastErr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
