package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/askwhyharsh/familycircle/internal/api"
	"github.com/askwhyharsh/familycircle/internal/config"
	"github.com/askwhyharsh/familycircle/internal/consent"
	"github.com/askwhyharsh/familycircle/internal/family"
	"github.com/askwhyharsh/familycircle/internal/live"
	"github.com/askwhyharsh/familycircle/internal/location"
	"github.com/askwhyharsh/familycircle/internal/ratelimit"
	"github.com/askwhyharsh/familycircle/internal/session"
	"github.com/askwhyharsh/familycircle/internal/sharing"
	"github.com/askwhyharsh/familycircle/internal/storage"
	"github.com/askwhyharsh/familycircle/pkg/logger"
	"github.com/askwhyharsh/familycircle/pkg/validator"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewLogger(cfg.Env, cfg.Monitoring.LogLevel)
	defer appLogger.Sync()
	appLogger.Info("Starting FamilyCircle server...")

	// Initialize Redis
	redisClient, err := storage.NewRedisClient(cfg)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis", "address", cfg.RedisAddr())

	// Initialize Postgres
	db, err := storage.NewPostgresClient(cfg.Postgres.DSN)
	if err != nil {
		appLogger.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	appLogger.Info("Connected to Postgres")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var edges sharing.Store
	switch cfg.Sharing.Store {
	case "redis":
		edges = sharing.NewRedisStore(redisClient)
	case "memory":
		edges = sharing.NewMemoryStore()
	default:
		edges = db
	}
	appLogger.Info("Sharing store selected", "store", cfg.Sharing.Store)

	// Initialize services
	sessionService := session.NewService(redisClient, cfg.Session.TTL)
	locationService := location.NewService(redisClient, cfg.Location.GeohashPrecision)

	projector := family.NewProjector(consent.NewResolver(edges), cfg.Location.StaleAfter, appLogger)
	toggler := sharing.NewToggler(edges, db, appLogger)

	rateLimiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit, appLogger)
	rateLimitMiddleware := ratelimit.NewMiddleware(rateLimiter, appLogger)

	// Initialize live updates hub
	hub := live.NewHub(redisClient, appLogger)
	go hub.Run(ctx)
	notifier := live.NewNotifier(redisClient, edges, appLogger)
	wsHandler := live.NewHandler(hub, cfg.Server.AllowedOrigins, appLogger)

	// Initialize API handler
	apiHandler := api.NewHandler(api.Dependencies{
		Sessions:  sessionService,
		Directory: db,
		Locations: locationService,
		Projector: projector,
		Toggler:   toggler,
		Limiter:   rateLimiter,
		Notifier:  notifier,
		Validator: validator.NewValidator(),
		Logger:    appLogger,
		Health: map[string]api.Pinger{
			"redis":    redisClient,
			"postgres": db,
		},
	}, api.Options{
		GeohashPrecision: cfg.Location.GeohashPrecision,
		DefaultRadiusKm:  cfg.Location.DefaultRadiusKm,
	})

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger(appLogger))

	api.SetupRoutes(router, apiHandler, wsHandler,
		api.NewSessionMiddleware(sessionService, appLogger),
		rateLimitMiddleware,
		api.RouteOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			EnableMetrics:  cfg.Monitoring.EnableMetrics,
		},
	)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLogger.Info("Server starting", "address", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down server...")

	// Cancel context to stop the live hub
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server stopped")
}
