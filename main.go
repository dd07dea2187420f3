package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"printcalc/internal/config"
	"printcalc/internal/container"
	"printcalc/internal/handler"
	"printcalc/internal/middleware"
	"printcalc/internal/service/analyzer"
	"printcalc/internal/storage"
	apperrors "printcalc/pkg/errors"
	"printcalc/pkg/logger"
)

// Resources holds all resources that need cleanup
type Resources struct {
	container *container.Container
	monitor   *analyzer.HealthMonitor
	pruner    *storage.Pruner
	server    *http.Server
	log       *logger.Logger
	mu        sync.Mutex
	closed    bool
}

// Cleanup gracefully closes all resources
func (r *Resources) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errors []error

	r.log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server first to stop accepting new requests
	if r.server != nil {
		r.log.Info("Shutting down HTTP server...")
		if err := r.server.Shutdown(ctx); err != nil {
			r.log.WithError(err).Error("Failed to shutdown HTTP server")
			errors = append(errors, fmt.Errorf("HTTP server shutdown: %w", err))
		} else {
			r.log.Info("HTTP server shutdown complete")
		}
	}

	if r.pruner != nil {
		if err := r.pruner.Stop(ctx); err != nil {
			r.log.WithError(err).Error("Failed to stop upload pruner")
			errors = append(errors, fmt.Errorf("upload pruner shutdown: %w", err))
		}
	}

	if r.monitor != nil {
		if err := r.monitor.Stop(ctx); err != nil {
			r.log.WithError(err).Error("Failed to stop analyzer health monitor")
			errors = append(errors, fmt.Errorf("health monitor shutdown: %w", err))
		}
	}

	// Close database and Redis connections
	if r.container != nil {
		r.log.Info("Closing store connections...")
		r.container.Close()
		r.log.Info("Store connections closed")
	}

	if len(errors) > 0 {
		r.log.WithField("error_count", len(errors)).Error("Cleanup completed with errors")
		return fmt.Errorf("cleanup completed with %d errors: %v", len(errors), errors)
	}

	r.log.Info("Graceful shutdown completed successfully")
	return nil
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"port":          cfg.Port,
		"log_level":     cfg.LogLevel,
		"environment":   cfg.Environment,
		"database":      cfg.DatabaseDriver,
		"analyzer_mode": cfg.PrimaryMode().String(),
		"auto_fallback": cfg.AnalyzerAutoFallback,
	}).Info("Starting printcalc server")

	ctx := context.Background()

	// Create dependency injection container
	c, err := container.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create container")
	}

	resources := &Resources{
		container: c,
		monitor:   c.Monitor,
		log:       log,
	}

	log.WithFields(map[string]interface{}{
		"redis":           c.HasRedis(),
		"trusted_proxies": len(cfg.TrustedProxies),
	}).Info("Container initialized")

	// Probe analyzer backends now and on every interval
	if err := c.Monitor.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start analyzer health monitor")
	}

	resources.pruner = storage.NewPruner(c.Services.Uploads, 24*time.Hour, cfg.UploadRetention, log)
	if err := resources.pruner.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start upload pruner")
	}

	// Setup router
	router := setupRouter(c)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   cfg.RequestTimeout() + 10*time.Second, // Must outlast a full retry and fallback cycle
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB max header size
	}
	resources.server = server

	// Setup graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	// Setup cleanup function that will be called regardless of how the program exits
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := resources.Cleanup(cleanupCtx); err != nil {
			log.WithError(err).Error("Cleanup completed with errors")
		}
	}()

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Server starting on port " + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Server error occurred")
			serverErrChan <- err
		}
	}()

	// Wait for interrupt signal or server error
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-serverErrChan:
		log.WithError(err).Error("Server failed, initiating shutdown")
	}

	log.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := resources.Cleanup(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown completed with errors")
		os.Exit(1)
	}

	log.Info("Application shutdown complete")
}

// setupRouter configures and returns the HTTP router
func setupRouter(c *container.Container) *chi.Mux {
	cfg := c.GetConfig()
	log := c.GetLogger()

	r := chi.NewRouter()

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.AllowedOrigins

	// Setup middlewares
	r.Use(middleware.CORS(corsConfig, log))
	r.Use(middleware.RequestID(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Compress(5)) // Add gzip compression with level 5 (balanced)

	// Create handlers
	healthHandler := handler.NewHealthHandler(c.Services.Health, c, log)
	calculateHandler := handler.NewCalculateHandler(c.Services.Price, cfg.MaxUploadBytes, log)

	// Health check (no guard)
	r.With(chiMiddleware.Timeout(10*time.Second)).Get("/health", healthHandler.Check)

	// Stored uploads
	r.Get(storage.PublicPrefix+"/*", uploadFileServer(cfg.UploadDir))

	// Price calculation: tenant session first so the guard can exempt tenant requests
	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(cfg.RequestTimeout()))
		r.Use(middleware.OptionalSession(c.Services.Session, log))
		r.Use(middleware.VisitGuard(c.Services.Guard, middleware.VisitGuardConfig{
			CookieTTL:      cfg.VisitorCookieTTL,
			SecureCookie:   cfg.Environment == "production",
			TrustedProxies: cfg.TrustedProxies,
		}, log))

		r.Post("/calculate-price", calculateHandler.CalculatePrice)
		r.Post("/print/{slug}/calculate-price", calculateHandler.CalculatePrice)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, apperrors.NewNotFoundError("Endpoint not found"), log)
	})

	log.Info("Router configured successfully")
	return r
}

// uploadFileServer serves stored uploads without directory listings
func uploadFileServer(root string) http.HandlerFunc {
	files := http.StripPrefix(storage.PublicPrefix, http.FileServer(http.Dir(root)))
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}
}
