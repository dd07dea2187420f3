package repository

import (
	"context"
	"errors"
	"fmt"

	"printcalc/internal/domain"
	"printcalc/pkg/database"

	"github.com/jackc/pgx/v5"
)

// visitorRepository handles rate-limit buckets with PostgreSQL
type visitorRepository struct {
	db *database.PostgresDB
}

// NewVisitorRepository creates a new PostgreSQL visit repository
func NewVisitorRepository(db *database.PostgresDB) VisitRepository {
	return &visitorRepository{
		db: db,
	}
}

// The unique constraint on (ip_address, page, visit_date) turns concurrent
// first requests into one insert plus increments. The WHERE clause on the
// update leaves a full bucket untouched and makes RETURNING yield no row.
const upsertVisitQuery = `
	INSERT INTO page_visits (ip_address, page, visit_date, visitor_id, user_agent, visit_count, created_at, updated_at)
	VALUES ($1, $2, $3::date, $4, $5, 1, $6, $6)
	ON CONFLICT (ip_address, page, visit_date) DO UPDATE SET
		visit_count = page_visits.visit_count + 1,
		updated_at = EXCLUDED.updated_at
	WHERE page_visits.visit_count < $7
	RETURNING visit_count
`

// IncrementBelow inserts or increments the bucket in one statement
func (r *visitorRepository) IncrementBelow(ctx context.Context, key domain.VisitKey, meta domain.VisitMeta, limit int64) (int64, bool, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, upsertVisitQuery,
		key.IPAddress,
		key.Page,
		key.Day,
		meta.VisitorID,
		meta.UserAgent,
		meta.SeenAt,
		limit,
	).Scan(&count)

	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to record page visit: %w", err)
	}

	// Bucket is full; report its current count
	visit, err := r.GetVisit(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if visit == nil {
		return limit, false, nil
	}
	return visit.VisitCount, false, nil
}

// GetVisit retrieves the bucket for a key
func (r *visitorRepository) GetVisit(ctx context.Context, key domain.VisitKey) (*domain.VisitAttempt, error) {
	query := `
		SELECT id, ip_address, page, to_char(visit_date, 'YYYY-MM-DD'), visitor_id,
		       COALESCE(user_agent, ''), visit_count, created_at, updated_at
		FROM page_visits
		WHERE ip_address = $1 AND page = $2 AND visit_date = $3::date
	`

	visit := &domain.VisitAttempt{}
	err := r.db.Pool.QueryRow(ctx, query, key.IPAddress, key.Page, key.Day).Scan(
		&visit.ID,
		&visit.IPAddress,
		&visit.Page,
		&visit.VisitDate,
		&visit.VisitorID,
		&visit.UserAgent,
		&visit.VisitCount,
		&visit.CreatedAt,
		&visit.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page visit: %w", err)
	}

	return visit, nil
}

// DeleteBefore removes buckets older than the given day
func (r *visitorRepository) DeleteBefore(ctx context.Context, day string) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM page_visits WHERE visit_date < $1::date`, day)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old page visits: %w", err)
	}

	return result.RowsAffected(), nil
}
