package container

import (
	"context"
	"fmt"
	"net/http"

	"printcalc/internal/config"
	"printcalc/internal/domain"
	"printcalc/internal/repository"
	"printcalc/internal/service"
	"printcalc/internal/service/analyzer"
	"printcalc/internal/service/auth"
	"printcalc/internal/service/pricing"
	"printcalc/internal/service/selector"
	"printcalc/internal/service/visitguard"
	"printcalc/internal/storage"
	"printcalc/pkg/database"
	"printcalc/pkg/logger"
	"printcalc/pkg/redis"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *logger.Logger
	Postgres     *database.PostgresDB
	SQLite       *database.SQLiteDB
	RedisClient  *redis.Client
	Repositories *repository.Repositories
	Resolver     *pricing.Resolver
	Monitor      *analyzer.HealthMonitor
	Services     *service.Services
}

// New creates a new dependency injection container
func New(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	// Initialize Redis client if Redis URL is configured
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(cfg.RedisURL, cfg.Environment, logger.Logger)
		if err != nil {
			if cfg.VisitStore == config.VisitStoreRedis {
				return nil, fmt.Errorf("failed to initialize Redis visit store: %w", err)
			}
			logger.WithError(err).Warn("Failed to initialize Redis client, proceeding without caching")
		} else {
			c.RedisClient = client
			logger.Info("Redis client initialized successfully")
		}
	} else {
		logger.Info("Redis URL not configured, proceeding without caching")
	}

	repos, err := c.buildRepositories(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Repositories = repos

	defaults, err := config.LoadPricingDefaults(cfg.PricingDefaultsFile)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Resolver = pricing.NewResolver(repos.Pricing, defaults, c.RedisClient, logger)

	backends := c.buildBackends()
	c.Monitor = analyzer.NewHealthMonitor(backends, cfg.AnalyzerHealthInterval, logger)

	sel, err := selector.New(selector.Policy{
		PrimaryMode:      cfg.PrimaryMode(),
		AutoFallback:     cfg.AnalyzerAutoFallback,
		MaxRetryAttempts: cfg.AnalyzerMaxRetryAttempts,
		RetryDelay:       cfg.AnalyzerRetryDelay,
	}, backends, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	uploads := storage.NewDiskStore(cfg.UploadDir, cfg.PublicBaseURL, domain.SystemClock{}, logger)
	guard := visitguard.NewGuard(repos.Visits, domain.SystemClock{}, cfg.Location(), int64(cfg.RateLimitMaxRequests), logger)

	c.Services = &service.Services{
		Price:   service.NewPriceService(c.Resolver, sel, uploads, c.Monitor, cfg.PrimaryMode(), logger),
		Guard:   guard,
		Health:  c.Monitor,
		Uploads: uploads,
	}

	if cfg.SessionJWTSecret != "" {
		c.Services.Session = auth.NewService(cfg.SessionJWTSecret, logger)
	} else {
		logger.Info("SESSION_JWT_SECRET not configured, tenant sessions disabled")
	}

	return c, nil
}

func (c *Container) buildRepositories(ctx context.Context) (*repository.Repositories, error) {
	cfg := c.Config
	repos := &repository.Repositories{}

	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		db, err := database.NewPostgresDBWithOptions(ctx, cfg.DatabaseURL, database.PoolOptions{
			MaxConns: int32(cfg.DatabaseMaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		c.Postgres = db
		pricingRepo := repository.NewPricingRepository(db)
		repos.Visits = repository.NewVisitorRepository(db)
		repos.Pricing = pricingRepo
		repos.Settings = pricingRepo
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, repository.SQLiteSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		c.SQLite = db
		pricingRepo := repository.NewSQLitePricingRepository(db)
		repos.Visits = repository.NewSQLiteVisitRepository(db)
		repos.Pricing = pricingRepo
		repos.Settings = pricingRepo
	case config.DriverMemory:
		pricingRepo := repository.NewMemoryPricingRepository()
		repos.Visits = repository.NewMemoryVisitRepository()
		repos.Pricing = pricingRepo
		repos.Settings = pricingRepo
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.VisitStore == config.VisitStoreRedis {
		if c.RedisClient == nil {
			return nil, fmt.Errorf("VISIT_STORE=redis requires a Redis connection")
		}
		repos.Visits = repository.NewRedisVisitRepository(c.RedisClient)
	}

	c.Logger.WithFields(map[string]interface{}{
		"driver":      cfg.DatabaseDriver,
		"visit_store": cfg.VisitStore,
	}).Info("Repositories initialized")

	return repos, nil
}

// buildBackends configures every mode that has its settings present. The
// selector decides which of them are actually used.
func (c *Container) buildBackends() []analyzer.Backend {
	cfg := c.Config
	var backends []analyzer.Backend

	if cfg.AnalyzerExecutablePath != "" {
		backends = append(backends, analyzer.NewLocalBackend(cfg.AnalyzerExecutablePath, cfg.AnalyzerTimeout, ""))
	}
	if cfg.AnalyzerURL != "" {
		backends = append(backends, analyzer.NewRemoteBackend(cfg.AnalyzerURL, cfg.AnalyzerTimeout, &http.Client{}))
	}
	return backends
}

// DependencyHealth pings the configured stores; a nil error means healthy
func (c *Container) DependencyHealth(ctx context.Context) map[string]error {
	checks := make(map[string]error)
	if c.Postgres != nil {
		checks["postgres"] = c.Postgres.Health(ctx)
	}
	if c.SQLite != nil {
		checks["sqlite"] = c.SQLite.Health(ctx)
	}
	if c.RedisClient != nil {
		checks["redis"] = c.RedisClient.Health(ctx)
	}
	return checks
}

// Close releases database and Redis connections
func (c *Container) Close() {
	if c.Postgres != nil {
		c.Postgres.Close()
	}
	if c.SQLite != nil {
		if err := c.SQLite.Close(); err != nil {
			c.Logger.WithError(err).Error("Failed to close SQLite database")
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.WithError(err).Error("Failed to close Redis client")
		}
	}
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.Logger
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.Config
}

// HasRedis returns true if Redis client is available
func (c *Container) HasRedis() bool {
	return c.RedisClient != nil
}
