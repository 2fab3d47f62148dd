package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"formkeep/internal/api"
	"formkeep/internal/config"
	"formkeep/internal/middleware"
	"formkeep/internal/schema"
	"formkeep/internal/storage"
	"formkeep/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func main() {
	// Settings come from .env, configs/config.yaml and the environment.
	// DB_BACKEND: "sqlite", "turso" or "file" (auto-detects turso if not set)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	mode, err := schema.ParseMode(cfg.Validation)
	if err != nil {
		logger.Fatal("Invalid validation mode", zap.String("validation", cfg.Validation), zap.Error(err))
	}

	// Initialize store
	repo, err := store.Open(cfg.Store, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer repo.Close()

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithValidator(schema.Validator{Mode: mode}),
	}

	// Export uploads are optional
	uploads, err := storage.New(context.Background(), cfg.Storage)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		logger.Info("S3 not configured, export uploads disabled")
	case err != nil:
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	default:
		logger.Info("Export uploads enabled", zap.String("bucket", cfg.Storage.Bucket))
		opts = append(opts, api.WithUploader(uploads))
	}

	a := api.New(repo, opts...)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Content-Disposition"},
		AllowCredentials: true,
	}))

	// API routes
	r.Mount("/api", a.Routes())

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("formkeep starting",
			zap.String("addr", srv.Addr),
			zap.String("backend", string(cfg.Store.Backend)),
			zap.String("validation", mode.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
