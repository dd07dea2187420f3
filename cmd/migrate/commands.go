package main

import (
	"context"
	"fmt"
	"time"

	"printcalc/internal/config"
	"printcalc/internal/container"
	"printcalc/internal/domain"
	"printcalc/internal/repository"
	"printcalc/internal/service/auth"
	"printcalc/internal/storage"
	"printcalc/pkg/database"
	"printcalc/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "printcalc schema and maintenance commands",
		Long:          "Create or drop the printcalc schema, seed tenant pricing, prune visit history and uploads, and issue tenant session tokens.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newUpCmd(),
		newDropCmd(),
		newSeedCmd(),
		newPruneVisitsCmd(),
		newPruneUploadsCmd(),
		newTokenCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Create tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := execSchema(cmd.Context(), cfg, repository.PostgresSchema, repository.SQLiteSchema); err != nil {
				return fmt.Errorf("failed to create tables: %w", err)
			}
			cmd.Println("✅ All tables created successfully")
			return nil
		},
	}
}

func newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Drop every printcalc table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := execSchema(cmd.Context(), cfg, repository.PostgresDropSchema, repository.SQLiteDropSchema); err != nil {
				return fmt.Errorf("failed to drop tables: %w", err)
			}
			cmd.Println("✅ All tables dropped successfully")
			return nil
		},
	}
}

// execSchema runs the schema script matching DATABASE_DRIVER
func execSchema(ctx context.Context, cfg *config.Config, postgresSQL, sqliteSQL string) error {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is not set")
		}
		conn, err := pgx.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer conn.Close(ctx)

		_, err = conn.Exec(ctx, postgresSQL)
		return err
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, "")
		if err != nil {
			return err
		}
		defer db.Close()

		_, err = db.DB.ExecContext(ctx, sqliteSQL)
		return err
	default:
		return fmt.Errorf("DATABASE_DRIVER=%s has no schema", cfg.DatabaseDriver)
	}
}

// openContainer builds the application container for commands that need
// repositories. The in-memory driver is rejected since nothing would persist.
func openContainer(ctx context.Context) (*container.Container, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseDriver == config.DriverMemory {
		return nil, fmt.Errorf("DATABASE_DRIVER=%s does not persist; use postgres or sqlite", config.DriverMemory)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return container.New(ctx, cfg, log)
}

func newSeedCmd() *cobra.Command {
	var (
		slug           string
		bwPrice        float64
		colorPrice     float64
		photoPrice     float64
		thresholdColor float64
		thresholdPhoto float64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update a tenant's pricing settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if slug == "" {
				return fmt.Errorf("--slug is required")
			}

			settings := &domain.TenantSettings{
				TenantSlug: slug,
				BWPrice:    bwPrice,
				ColorPrice: colorPrice,
			}
			// Unset flags stay NULL so the resolver's fallbacks apply
			if cmd.Flags().Changed("photo-price") {
				settings.PhotoPrice = &photoPrice
			}
			if cmd.Flags().Changed("threshold-color") {
				settings.ThresholdColor = &thresholdColor
			}
			if cmd.Flags().Changed("threshold-photo") {
				settings.ThresholdPhoto = &thresholdPhoto
			}

			profile := domain.PricingProfile{
				TenantSlug:     slug,
				BWPrice:        bwPrice,
				ColorPrice:     colorPrice,
				PhotoPrice:     photoPrice,
				ThresholdColor: thresholdColor,
				ThresholdPhoto: thresholdPhoto,
			}
			if err := profile.Validate(); err != nil {
				return err
			}

			c, err := openContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Repositories.Settings.SaveSettings(cmd.Context(), settings); err != nil {
				return fmt.Errorf("failed to seed settings: %w", err)
			}
			if err := c.Resolver.Invalidate(cmd.Context(), slug); err != nil {
				cmd.PrintErrf("Warning: failed to invalidate cached profile: %v\n", err)
			}

			cmd.Printf("✅ Pricing for %q saved (version %d)\n", slug, settings.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&slug, "slug", "", "Tenant slug")
	cmd.Flags().Float64Var(&bwPrice, "bw-price", domain.DefaultBWPrice, "Price per black/white page")
	cmd.Flags().Float64Var(&colorPrice, "color-price", domain.DefaultColorPrice, "Price per color page")
	cmd.Flags().Float64Var(&photoPrice, "photo-price", domain.DefaultPhotoPrice, "Price per photo page (defaults to the color price when unset)")
	cmd.Flags().Float64Var(&thresholdColor, "threshold-color", domain.DefaultThresholdColor, "Percent of a page that must be colored to count as color")
	cmd.Flags().Float64Var(&thresholdPhoto, "threshold-photo", domain.DefaultThresholdPhoto, "Percent of a page that must be colored to count as photo")
	return cmd
}

func newPruneVisitsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune-visits",
		Short: "Delete visit buckets older than N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}

			c, err := openContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			cutoff := time.Now().In(c.Config.Location()).AddDate(0, 0, -days).Format(domain.VisitDateLayout)
			deleted, err := c.Repositories.Visits.DeleteBefore(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune visits: %w", err)
			}

			cmd.Printf("✅ Deleted %d visit buckets before %s\n", deleted, cutoff)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Keep this many days of visit history")
	return cmd
}

func newPruneUploadsCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "prune-uploads",
		Short: "Delete stored uploads older than N hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours < 1 {
				return fmt.Errorf("--hours must be at least 1")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := storage.NewDiskStore(cfg.UploadDir, cfg.PublicBaseURL, nil, nil)
			deleted, err := store.Prune(cmd.Context(), time.Duration(hours)*time.Hour)
			if err != nil {
				return err
			}

			cmd.Printf("✅ Deleted %d uploads older than %dh from %s\n", deleted, hours, store.Root())
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "Delete uploads older than this many hours")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		slug    string
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a tenant session token signed with SESSION_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.SessionJWTSecret == "" {
				return fmt.Errorf("SESSION_JWT_SECRET environment variable is not set")
			}

			token, err := auth.NewService(cfg.SessionJWTSecret, nil).IssueSessionToken(subject, slug, ttl)
			if err != nil {
				return err
			}

			cmd.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&slug, "slug", "", "Tenant slug carried by the token")
	cmd.Flags().StringVar(&subject, "subject", "operator", "Subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
