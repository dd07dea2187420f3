package repository

import (
	"context"
	"errors"
	"fmt"

	"printcalc/internal/domain"
	"printcalc/pkg/database"

	"github.com/jackc/pgx/v5"
)

// PostgresPricingRepository reads tenant settings from PostgreSQL
type PostgresPricingRepository struct {
	db *database.PostgresDB
}

// NewPricingRepository creates a new PostgreSQL pricing repository
func NewPricingRepository(db *database.PostgresDB) *PostgresPricingRepository {
	return &PostgresPricingRepository{db: db}
}

// GetSettingsBySlug retrieves the settings of the tenant with the given slug
func (r *PostgresPricingRepository) GetSettingsBySlug(ctx context.Context, slug string) (*domain.TenantSettings, error) {
	query := `
		SELECT u.id, u.slug, s.bw_price, s.color_price, s.photo_price,
		       s.threshold_color, s.threshold_photo, s.version, s.updated_at
		FROM users u
		JOIN settings s ON s.user_id = u.id
		WHERE u.slug = $1
	`

	settings := &domain.TenantSettings{}
	err := r.db.Pool.QueryRow(ctx, query, slug).Scan(
		&settings.TenantID,
		&settings.TenantSlug,
		&settings.BWPrice,
		&settings.ColorPrice,
		&settings.PhotoPrice,
		&settings.ThresholdColor,
		&settings.ThresholdPhoto,
		&settings.Version,
		&settings.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant settings: %w", err)
	}

	return settings, nil
}

// SaveSettings creates the tenant if needed and upserts its settings
func (r *PostgresPricingRepository) SaveSettings(ctx context.Context, settings *domain.TenantSettings) error {
	query := `
		WITH tenant AS (
			INSERT INTO users (slug, name) VALUES ($1, $1)
			ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
			RETURNING id
		)
		INSERT INTO settings (user_id, bw_price, color_price, photo_price, threshold_color, threshold_photo)
		SELECT id, $2, $3, $4, $5, $6 FROM tenant
		ON CONFLICT (user_id) DO UPDATE SET
			bw_price = EXCLUDED.bw_price,
			color_price = EXCLUDED.color_price,
			photo_price = EXCLUDED.photo_price,
			threshold_color = EXCLUDED.threshold_color,
			threshold_photo = EXCLUDED.threshold_photo,
			version = settings.version + 1,
			updated_at = NOW()
		RETURNING user_id, version, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		settings.TenantSlug,
		settings.BWPrice,
		settings.ColorPrice,
		settings.PhotoPrice,
		settings.ThresholdColor,
		settings.ThresholdPhoto,
	).Scan(&settings.TenantID, &settings.Version, &settings.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save tenant settings: %w", err)
	}

	return nil
}
