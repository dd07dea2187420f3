package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"printcalc/internal/domain"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Supported values of DATABASE_DRIVER
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Supported values of VISIT_STORE
const (
	VisitStoreDatabase = "database"
	VisitStoreRedis    = "redis"
)

// Config holds all configuration values for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	Environment    string
	Timezone       string

	DatabaseDriver   string
	DatabaseURL      string
	DatabaseMaxConns int
	SQLitePath       string
	RedisURL         string
	VisitStore       string

	AnalyzerURL              string
	AnalyzerMode             string
	AnalyzerExecutablePath   string
	AnalyzerAutoFallback     bool
	AnalyzerTimeout          time.Duration
	AnalyzerMaxRetryAttempts int
	AnalyzerRetryDelay       time.Duration
	AnalyzerHealthInterval   time.Duration

	RateLimitMaxRequests int
	VisitorCookieTTL     time.Duration
	TrustedProxies       []*net.IPNet

	SessionJWTSecret    string
	PricingDefaultsFile string

	UploadDir       string
	PublicBaseURL   string
	MaxUploadBytes  int64
	UploadRetention time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Environment:    getEnv("ENVIRONMENT", "production"),
		Timezone:       getEnv("TIMEZONE", "UTC"),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "./data/print.db"),
		RedisURL:       getEnv("REDIS_URL", ""),
		VisitStore:     strings.ToLower(getEnv("VISIT_STORE", VisitStoreDatabase)),

		AnalyzerURL:            strings.TrimRight(getEnv("ANALYZER_URL", "http://localhost:9006"), "/"),
		AnalyzerMode:           getEnv("ANALYZER_MODE", "local"),
		AnalyzerExecutablePath: getEnv("ANALYZER_EXECUTABLE_PATH", "./fastapi/pdf_analyzer/pdf_analyzer"),
		AnalyzerAutoFallback:   getBoolEnv("ANALYZER_AUTO_FALLBACK", true),

		SessionJWTSecret:    getEnv("SESSION_JWT_SECRET", ""),
		PricingDefaultsFile: getEnv("PRICING_DEFAULTS_FILE", ""),

		UploadDir:     getEnv("UPLOAD_DIR", "./storage/temp-uploads"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
	}

	var err error
	if cfg.DatabaseMaxConns, err = getIntEnv("DATABASE_MAX_CONNS", 10); err != nil {
		return nil, err
	}
	if cfg.AnalyzerTimeout, err = getDurationEnv("ANALYZER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.AnalyzerMaxRetryAttempts, err = getIntEnv("ANALYZER_MAX_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	retryDelaySeconds, err := getIntEnv("ANALYZER_RETRY_DELAY", 5)
	if err != nil {
		return nil, err
	}
	cfg.AnalyzerRetryDelay = time.Duration(retryDelaySeconds) * time.Second
	if cfg.AnalyzerHealthInterval, err = getDurationEnv("ANALYZER_HEALTH_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitMaxRequests, err = getIntEnv("RATE_LIMIT_MAX_REQUESTS", 5); err != nil {
		return nil, err
	}
	cookieDays, err := getIntEnv("VISITOR_COOKIE_TTL_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cfg.VisitorCookieTTL = time.Duration(cookieDays) * 24 * time.Hour
	if cfg.TrustedProxies, err = parseCIDRs(getEnv("TRUSTED_PROXIES", "")); err != nil {
		return nil, err
	}
	maxUpload, err := getIntEnv("MAX_UPLOAD_BYTES", 2<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	retentionHours, err := getIntEnv("UPLOAD_RETENTION_HOURS", 24)
	if err != nil {
		return nil, err
	}
	cfg.UploadRetention = time.Duration(retentionHours) * time.Hour

	return cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if _, err := domain.ParseBackendMode(c.AnalyzerMode); err != nil {
		return err
	}

	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=%s", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER=%s", DriverSQLite)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER %q: use postgres, sqlite or memory", c.DatabaseDriver)
	}

	switch c.VisitStore {
	case VisitStoreDatabase:
	case VisitStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when VISIT_STORE=%s", VisitStoreRedis)
		}
	default:
		return fmt.Errorf("invalid VISIT_STORE %q: use database or redis", c.VisitStore)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}

	switch {
	case c.DatabaseMaxConns < 0:
		return fmt.Errorf("DATABASE_MAX_CONNS must not be negative")
	case c.AnalyzerTimeout <= 0:
		return fmt.Errorf("ANALYZER_TIMEOUT must be positive")
	case c.AnalyzerMaxRetryAttempts < 1:
		return fmt.Errorf("ANALYZER_MAX_RETRY_ATTEMPTS must be at least 1")
	case c.AnalyzerRetryDelay < 0:
		return fmt.Errorf("ANALYZER_RETRY_DELAY must not be negative")
	case c.AnalyzerHealthInterval <= 0:
		return fmt.Errorf("ANALYZER_HEALTH_INTERVAL must be positive")
	case c.RateLimitMaxRequests < 0:
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must not be negative")
	case c.VisitorCookieTTL < 0:
		return fmt.Errorf("VISITOR_COOKIE_TTL_DAYS must not be negative")
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	case c.UploadRetention <= 0:
		return fmt.Errorf("UPLOAD_RETENTION_HOURS must be positive")
	}

	return nil
}

// PrimaryMode returns the parsed ANALYZER_MODE
func (c *Config) PrimaryMode() domain.BackendMode {
	mode, err := domain.ParseBackendMode(c.AnalyzerMode)
	if err != nil {
		return domain.ModeLocal
	}
	return mode
}

// RequestTimeout bounds one price calculation: every retry on both modes
// plus the pauses between them, with headroom for upload handling
func (c *Config) RequestTimeout() time.Duration {
	attempts := time.Duration(c.AnalyzerMaxRetryAttempts)
	if attempts < 1 {
		attempts = 1
	}
	perMode := attempts*c.AnalyzerTimeout + (attempts-1)*c.AnalyzerRetryDelay
	modes := time.Duration(1)
	if c.AnalyzerAutoFallback {
		modes = 2
	}
	return modes*perMode + 15*time.Second
}

// Location returns the time zone calendar days are counted in
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadPricingDefaults returns the anonymous pricing profile. Keys present in
// the TOML file at path override the built-in defaults; an empty path yields
// the built-in defaults.
func LoadPricingDefaults(path string) (domain.PricingProfile, error) {
	profile := domain.DefaultPricingProfile()
	if path == "" {
		return profile, nil
	}

	if _, err := toml.DecodeFile(path, &profile); err != nil {
		return domain.PricingProfile{}, fmt.Errorf("failed to read pricing defaults %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return domain.PricingProfile{}, fmt.Errorf("invalid pricing defaults %s: %w", path, err)
	}
	return profile, nil
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseOrigins parses comma-separated origins into a slice
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// getBoolEnv gets a boolean environment variable with a fallback value
// parseCIDRs parses a comma-separated list of CIDRs; a bare IP is a single host
func parseCIDRs(list string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}

// getDurationEnv accepts Go durations ("45s") or a bare number of seconds
func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}
