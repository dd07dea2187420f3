// Package visitguard limits how many times a visitor may use a page per day.
package visitguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"printcalc/internal/domain"
	"printcalc/internal/repository"
	"printcalc/pkg/logger"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is the per (ip, page, day) ceiling
const DefaultMaxAttempts = 5

// ErrRateLimited is matched by errors.Is on every *RateLimitedError
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitedError is returned when the bucket is already at its ceiling
type RateLimitedError struct {
	Key          domain.VisitKey
	VisitorToken string
	Limit        int64
	Count        int64
	ResetAt      time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %d of %d visits used for %s today", ErrRateLimited, e.Count, e.Limit, e.Key.Page)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// Visit describes one guarded request
type Visit struct {
	IPAddress    string
	Page         string
	VisitorToken string
	UserAgent    string
}

// Guard counts visits in per-day buckets
type Guard struct {
	repo        repository.VisitRepository
	clock       domain.Clock
	location    *time.Location
	maxAttempts int64
	logger      *logger.Logger
}

// NewGuard creates a guard. Calendar days are taken in location; nil means UTC.
func NewGuard(repo repository.VisitRepository, clock domain.Clock, location *time.Location, maxAttempts int64, log *logger.Logger) *Guard {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if location == nil {
		location = time.UTC
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Guard{
		repo:        repo,
		clock:       clock,
		location:    location,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// MaxAttempts returns the configured ceiling
func (g *Guard) MaxAttempts() int64 {
	return g.maxAttempts
}

// CheckAndRecord admits the visit and increments its bucket, or fails with a
// *RateLimitedError without incrementing. A visitor token is minted when the
// visit carries none; it is returned in both outcomes.
func (g *Guard) CheckAndRecord(ctx context.Context, visit Visit) (*domain.VisitResult, error) {
	if visit.IPAddress == "" {
		return nil, errors.New("visit guard: ip address is required")
	}

	token := visit.VisitorToken
	newVisitor := false
	if token == "" {
		token = uuid.NewString()
		newVisitor = true
	}

	now := g.clock.Now().In(g.location)
	key := domain.NewVisitKey(visit.IPAddress, visit.Page, now)
	resetAt := nextMidnight(now)

	if g.maxAttempts < 1 {
		return nil, &RateLimitedError{Key: key, VisitorToken: token, Limit: g.maxAttempts, ResetAt: resetAt}
	}

	count, recorded, err := g.repo.IncrementBelow(ctx, key, domain.VisitMeta{
		VisitorID: token,
		UserAgent: visit.UserAgent,
		SeenAt:    now,
	}, g.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to record visit: %w", err)
	}

	if !recorded {
		g.logger.WithFields(map[string]interface{}{
			"ip":          visit.IPAddress,
			"page":        visit.Page,
			"visit_count": count,
			"limit":       g.maxAttempts,
		}).Warn("Visit limit reached")

		return nil, &RateLimitedError{
			Key:          key,
			VisitorToken: token,
			Limit:        g.maxAttempts,
			Count:        count,
			ResetAt:      resetAt,
		}
	}

	remaining := g.maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}

	return &domain.VisitResult{
		VisitorToken: token,
		NewVisitor:   newVisitor,
		VisitCount:   count,
		Limit:        g.maxAttempts,
		Remaining:    remaining,
		ResetAt:      resetAt,
	}, nil
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
