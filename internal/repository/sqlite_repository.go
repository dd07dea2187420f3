package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"printcalc/internal/domain"
	"printcalc/pkg/database"
)

const sqliteTimeLayout = time.RFC3339Nano

// sqliteVisitRepository stores rate-limit buckets in the embedded database
type sqliteVisitRepository struct {
	db *database.SQLiteDB
}

// NewSQLiteVisitRepository creates a visit repository backed by SQLite
func NewSQLiteVisitRepository(db *database.SQLiteDB) VisitRepository {
	return &sqliteVisitRepository{db: db}
}

const sqliteUpsertVisitQuery = `
	INSERT INTO page_visits (ip_address, page, visit_date, visitor_id, user_agent, visit_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT (ip_address, page, visit_date) DO UPDATE SET
		visit_count = page_visits.visit_count + 1,
		updated_at = excluded.updated_at
	WHERE page_visits.visit_count < ?
	RETURNING visit_count
`

func (r *sqliteVisitRepository) IncrementBelow(ctx context.Context, key domain.VisitKey, meta domain.VisitMeta, limit int64) (int64, bool, error) {
	seenAt := meta.SeenAt.UTC().Format(sqliteTimeLayout)

	var count int64
	err := r.db.DB.QueryRowContext(ctx, sqliteUpsertVisitQuery,
		key.IPAddress, key.Page, key.Day, meta.VisitorID, meta.UserAgent, seenAt, seenAt, limit,
	).Scan(&count)

	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to record page visit: %w", err)
	}

	visit, err := r.GetVisit(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if visit == nil {
		return limit, false, nil
	}
	return visit.VisitCount, false, nil
}

func (r *sqliteVisitRepository) GetVisit(ctx context.Context, key domain.VisitKey) (*domain.VisitAttempt, error) {
	query := `
		SELECT id, ip_address, page, visit_date, visitor_id, COALESCE(user_agent, ''),
		       visit_count, created_at, updated_at
		FROM page_visits
		WHERE ip_address = ? AND page = ? AND visit_date = ?
	`

	var (
		visit                domain.VisitAttempt
		createdAt, updatedAt string
	)
	err := r.db.DB.QueryRowContext(ctx, query, key.IPAddress, key.Page, key.Day).Scan(
		&visit.ID,
		&visit.IPAddress,
		&visit.Page,
		&visit.VisitDate,
		&visit.VisitorID,
		&visit.UserAgent,
		&visit.VisitCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page visit: %w", err)
	}

	visit.CreatedAt = parseSQLiteTime(createdAt)
	visit.UpdatedAt = parseSQLiteTime(updatedAt)
	return &visit, nil
}

// DeleteBefore relies on VisitDateLayout sorting lexically
func (r *sqliteVisitRepository) DeleteBefore(ctx context.Context, day string) (int64, error) {
	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM page_visits WHERE visit_date < ?`, day)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old page visits: %w", err)
	}
	return result.RowsAffected()
}

// SQLitePricingRepository reads and writes tenant settings in SQLite
type SQLitePricingRepository struct {
	db *database.SQLiteDB
}

// NewSQLitePricingRepository creates a pricing repository backed by SQLite
func NewSQLitePricingRepository(db *database.SQLiteDB) *SQLitePricingRepository {
	return &SQLitePricingRepository{db: db}
}

func (r *SQLitePricingRepository) GetSettingsBySlug(ctx context.Context, slug string) (*domain.TenantSettings, error) {
	query := `
		SELECT u.id, u.slug, s.bw_price, s.color_price, s.photo_price,
		       s.threshold_color, s.threshold_photo, s.version, s.updated_at
		FROM users u
		JOIN settings s ON s.user_id = u.id
		WHERE u.slug = ?
	`

	var (
		settings                domain.TenantSettings
		photo, thColor, thPhoto sql.NullFloat64
		updatedAt               string
	)
	err := r.db.DB.QueryRowContext(ctx, query, slug).Scan(
		&settings.TenantID,
		&settings.TenantSlug,
		&settings.BWPrice,
		&settings.ColorPrice,
		&photo,
		&thColor,
		&thPhoto,
		&settings.Version,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant settings: %w", err)
	}

	settings.PhotoPrice = nullableFloat(photo)
	settings.ThresholdColor = nullableFloat(thColor)
	settings.ThresholdPhoto = nullableFloat(thPhoto)
	settings.UpdatedAt = parseSQLiteTime(updatedAt)
	return &settings, nil
}

func (r *SQLitePricingRepository) SaveSettings(ctx context.Context, settings *domain.TenantSettings) error {
	tx, err := r.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (slug, name) VALUES (?, ?) ON CONFLICT (slug) DO NOTHING`,
		settings.TenantSlug, settings.TenantSlug,
	); err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}

	now := time.Now().UTC().Format(sqliteTimeLayout)
	var updatedAt string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO settings (user_id, bw_price, color_price, photo_price, threshold_color, threshold_photo, updated_at)
		SELECT id, ?, ?, ?, ?, ?, ? FROM users WHERE slug = ?
		ON CONFLICT (user_id) DO UPDATE SET
			bw_price = excluded.bw_price,
			color_price = excluded.color_price,
			photo_price = excluded.photo_price,
			threshold_color = excluded.threshold_color,
			threshold_photo = excluded.threshold_photo,
			version = settings.version + 1,
			updated_at = excluded.updated_at
		RETURNING user_id, version, updated_at
	`,
		settings.BWPrice,
		settings.ColorPrice,
		settings.PhotoPrice,
		settings.ThresholdColor,
		settings.ThresholdPhoto,
		now,
		settings.TenantSlug,
	).Scan(&settings.TenantID, &settings.Version, &updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save tenant settings: %w", err)
	}
	settings.UpdatedAt = parseSQLiteTime(updatedAt)

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tenant settings: %w", err)
	}
	return nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// parseSQLiteTime accepts both RFC 3339 text written by this package and the
// second-precision strftime column default
func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
