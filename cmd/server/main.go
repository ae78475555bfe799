package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liamwears/reelstream/internal/auth"
	"github.com/liamwears/reelstream/internal/config"
	"github.com/liamwears/reelstream/internal/database"
	"github.com/liamwears/reelstream/internal/handlers"
	"github.com/liamwears/reelstream/internal/logging"
	"github.com/liamwears/reelstream/internal/media"
	"github.com/liamwears/reelstream/internal/metrics"
	"github.com/liamwears/reelstream/internal/middleware"
	"github.com/liamwears/reelstream/internal/services"
	"github.com/liamwears/reelstream/internal/store"
	"github.com/liamwears/reelstream/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const oauthStateTTL = 10 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("reelstream", cfg.Log.Level, cfg.LogFormat())

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			action := "up"
			if len(os.Args) > 2 {
				action = os.Args[2]
			}
			runMigrations(cfg, logger, action)
			return
		case "seed":
			runSeed(cfg, logger)
			return
		default:
			logger.Fatalf("Unknown command %q (expected migrate [up|down|status] or seed)", os.Args[1])
		}
	}

	if err := telemetry.Init(cfg.Server.SentryDSN, cfg.Server.Env, version); err != nil {
		logger.WithError(err).Warn("Sentry disabled")
	}
	defer telemetry.Flush()

	logger.WithFields(logrus.Fields{"env": cfg.Server.Env, "version": version}).Info("Starting ReelStream server")

	// Initialize database connection
	db, err := database.New(dbConfig(cfg), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis connection
	redisClient, err := database.NewRedisClient(database.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       0,
		TLS:      cfg.Redis.TLS,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	mediaStore, err := media.NewCloudinaryStore(media.CloudinaryConfig{
		CloudName: cfg.Cloudinary.CloudName,
		APIKey:    cfg.Cloudinary.APIKey,
		APISecret: cfg.Cloudinary.APISecret,
		Timeout:   cfg.Cloudinary.Timeout,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure media store")
	}

	// Stores
	movieStore := store.NewMovieStore(db.Pool)
	accountStore := store.NewAccountStore(db.Pool)
	revocations := database.NewTokenRevocationStore(redisClient.Client)
	oauthStates := database.NewOAuthStateStore(redisClient.Client, oauthStateTTL)

	// Auth
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)
	gate := auth.NewGate(tokens, revocations)

	// Initialize services
	movieService := services.NewMovieService(movieStore, mediaStore, cfg.Upload.MaxBytes, logger)
	accountService := services.NewAccountService(accountStore, tokens, revocations, logger)

	// Initialize middleware. Rate limiting only applies in production.
	authMiddleware := middleware.NewAuthMiddleware(gate)
	rateLimiter := middleware.NewRateLimiter(redisClient.Client, gate, cfg.Server.RateLimitPerMinute, time.Minute, cfg.IsProduction(), logger)

	// Initialize handlers
	production := cfg.IsProduction()
	mux := handlers.NewRouter(handlers.Router{
		Movies: handlers.NewMovieHandler(movieService, logger, production),
		Admin:  handlers.NewAdminHandler(movieService, cfg.Upload.MaxBytes, logger, production),
		Auth: handlers.NewAuthHandler(accountService, oauthStates, handlers.AuthConfig{
			GoogleClientID:     cfg.OAuth.GoogleClientID,
			GoogleClientSecret: cfg.OAuth.GoogleClientSecret,
			GitHubClientID:     cfg.OAuth.GitHubClientID,
			GitHubClientSecret: cfg.OAuth.GitHubClientSecret,
			CallbackHost:       cfg.OAuth.CallbackHost,
		}, logger, production),
		Health:         handlers.NewHealthHandler(db, redisClient, logger),
		Metrics:        metrics.Handler(),
		AuthMiddleware: authMiddleware,
		RateLimiter:    rateLimiter,
	})

	// metrics.Middleware reads the route pattern the mux sets, so nothing
	// between it and the mux may replace the request.
	var handler http.Handler = mux
	handler = middleware.CORS(cfg.Server.CORSOrigins)(handler)
	handler = middleware.RequestLogger(logger)(handler)
	handler = metrics.Middleware(handler)
	handler = telemetry.Recover(logger)(handler)

	// Create HTTP server
	// Movie uploads extend the read and write deadlines per request.
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("addr", addr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func dbConfig(cfg *config.Config) database.Config {
	return database.Config{
		URL:             cfg.Database.URL,
		MaxConns:        int32(cfg.Database.MaxConns),
		ConnectAttempts: cfg.Database.ConnectAttempts,
	}
}

// runMigrations applies, reverts or reports the database migrations
func runMigrations(cfg *config.Config, logger *logrus.Entry, action string) {
	db, err := database.New(dbConfig(cfg), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	migrator := database.NewMigrator(db.Pool, logger)

	ctx := context.Background()
	switch action {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		logger.Info("Migrations completed successfully")
	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to revert migration")
		}
	case "status":
		report, err := migrator.Status(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Failed to read migration status")
		}
		for _, m := range report {
			state := "pending"
			if m.AppliedAt != nil {
				state = "applied " + m.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s\t%s\n", m.Name, state)
		}
	default:
		logger.Fatalf("Unknown migrate action %q", action)
	}
}

// runSeed creates the administrator account from ADMIN_* settings
func runSeed(cfg *config.Config, logger *logrus.Entry) {
	if cfg.Admin.Password == "" {
		logger.Fatal("ADMIN_PASSWORD is required to seed the administrator")
	}

	db, err := database.New(dbConfig(cfg), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)
	accounts := services.NewAccountService(store.NewAccountStore(db.Pool), tokens, nil, logger)

	account, created, err := accounts.SeedAdmin(context.Background(), cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password)
	if err != nil {
		logger.WithError(err).Fatal("Failed to seed administrator")
	}

	entry := logger.WithFields(logrus.Fields{"account_id": account.ID, "email": account.Email})
	if created {
		entry.Info("Administrator created")
		return
	}
	entry.Info("Administrator already exists")
}
