package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/monscodex/spot-and-block/internal/adapter/controller/http/handlers"
	"github.com/monscodex/spot-and-block/internal/adapter/controller/http/middleware"
	"github.com/monscodex/spot-and-block/internal/adapter/external/cvedetail"
	"github.com/monscodex/spot-and-block/internal/adapter/external/gateway"
	"github.com/monscodex/spot-and-block/internal/adapter/external/geocode"
	"github.com/monscodex/spot-and-block/internal/adapter/external/shodan"
	"github.com/monscodex/spot-and-block/internal/adapter/external/urlscan"
	"github.com/monscodex/spot-and-block/internal/adapter/repository/sqlite"
	"github.com/monscodex/spot-and-block/internal/config"
	"github.com/monscodex/spot-and-block/internal/ratelimit"
	"github.com/monscodex/spot-and-block/internal/targets"
	"github.com/monscodex/spot-and-block/internal/usecase/assess"
	"github.com/monscodex/spot-and-block/internal/usecase/classify"
	"github.com/monscodex/spot-and-block/internal/usecase/evictor"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := config.SetupLogger(cfg)
	logger.Info("Starting Spot&Block API",
		"env", cfg.App.Env,
		"port", cfg.App.Port,
	)

	// Site cache
	repo, err := sqlite.New(cfg.Cache.DBPath)
	if err != nil {
		logger.Error("Failed to open site cache", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	// Provider plumbing
	gw := gateway.New(gateway.Config{
		Timeout:     cfg.Gateway.Timeout,
		BaseBackoff: cfg.Gateway.BaseBackoff,
		MaxAttempts: cfg.Gateway.MaxAttempts,
		Logger:      logger,
	})

	cveClient := cvedetail.New(gw, cvedetail.Config{
		BaseURL:           cfg.Providers.CVEBaseURL,
		RequestsPerMinute: cfg.Providers.CVEPerMinute,
	})
	geoClient := geocode.New(gw, geocode.Config{
		BaseURL: cfg.Providers.GeocodeBaseURL,
		Logger:  logger,
	})

	shodanLimiter := ratelimit.NewSlidingWindow(cfg.Providers.ShodanPerSecond)
	defer shodanLimiter.Stop()
	shodanClient := shodan.New(gw, shodanLimiter, cveClient, geoClient, shodan.Config{
		APIKey:  cfg.Providers.ShodanKey,
		BaseURL: cfg.Providers.ShodanBaseURL,
		Logger:  logger,
	})

	scanCooldown := ratelimit.NewCooldown(cfg.Providers.URLScanPerMinute, time.Minute)
	scanClient := urlscan.New(gw, scanCooldown, urlscan.Config{
		APIKey:      cfg.Providers.URLScanKey,
		BaseURL:     cfg.Providers.URLScanBaseURL,
		ScanTimeout: cfg.Rules.ScanTimeout,
		Logger:      logger,
	})

	// Target lists
	highPriority, err := targets.NewMatcher(cfg.Targets.HighPriority)
	if err != nil {
		logger.Error("Invalid high-priority target pattern", "error", err)
		os.Exit(1)
	}
	excluded, err := targets.NewMatcher(cfg.Targets.Excluded)
	if err != nil {
		logger.Error("Invalid excluded target pattern", "error", err)
		os.Exit(1)
	}

	// Usecases
	active := assess.NewActiveTargets()
	assessService := assess.NewService(repo, shodanClient, scanClient, assess.Options{
		RecheckTimeout: cfg.Cache.RecheckTimeout,
		HighPriority:   highPriority,
		Excluded:       excluded,
	}, active, logger)
	engine := classify.New()

	evictorService := evictor.NewService(repo, active, cfg.Cache.ByteBudget, logger)
	evictorService.Start(cfg.Cache.EvictionInterval)
	defer evictorService.Stop()

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Rate limiting
	r.Use(httprate.LimitByIP(100, time.Minute))

	// Health check
	r.Get("/health", handlers.HealthCheck(cfg))

	// API v1 routes
	sitesHandler := handlers.NewSitesHandler(assessService, engine, &cfg.Rules, repo)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/assess", sitesHandler.Assess)
		r.Post("/classify", sitesHandler.Classify)

		r.Route("/sites/{domain}", func(r chi.Router) {
			r.Get("/", sitesHandler.GetSite)
			r.Delete("/", sitesHandler.DeleteSite)
			r.Post("/session", sitesHandler.OpenSession)
			r.Delete("/session", sitesHandler.CloseSession)
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout: 15 * time.Second,
		// An assessment can sit in provider rate-limit queues and rescan
		// polling for a while, so the write timeout is generous.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped")
}
