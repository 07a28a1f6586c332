package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/mediaproof/internal"
	"github.com/DukeRupert/mediaproof/internal/analysis"
	"github.com/DukeRupert/mediaproof/internal/analysis/mock"
	"github.com/DukeRupert/mediaproof/internal/analysis/remote"
	"github.com/DukeRupert/mediaproof/internal/domain"
	"github.com/DukeRupert/mediaproof/internal/handler"
	"github.com/DukeRupert/mediaproof/internal/middleware"
	"github.com/DukeRupert/mediaproof/internal/session"
	"github.com/DukeRupert/mediaproof/internal/storage"
	"github.com/DukeRupert/mediaproof/internal/store"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize state store
	stateStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("State store ready", "backend", cfg.StateBackend)

	// Initialize media storage
	uploader, err := newUploader(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	logger.Info("Media storage ready", "provider", cfg.StorageProvider)

	// Initialize analysis service
	analyzer, err := newAnalyzer(cfg, logger)
	if err != nil {
		return fmt.Errorf("analysis initialization failed: %w", err)
	}
	logger.Info("Analysis service ready", "provider", cfg.AnalysisProvider)

	// Initialize sessions
	rules := domain.NewRules(domain.DefaultCatalog(), domain.NewIdentity(cfg.OperatorIdentity))
	sessions := session.NewManager(session.Config{
		Rules:    rules,
		Store:    stateStore,
		Uploader: uploader,
		Analyzer: analyzer,
		Logger:   logger,
	})

	signInLimiter := middleware.NewRateLimiter(cfg.SignInRateLimit, cfg.SignInRateWindow)
	defer signInLimiter.Stop()

	routes := routerConfig{
		API:             handler.NewAPI(sessions, cfg.MaxUploadSize, logger),
		Sessions:        sessions,
		Logger:          logger,
		SignInLimiter:   signInLimiter,
		MetricsEnabled:  cfg.MetricsEnabled,
		MetricsUsername: cfg.MetricsUsername,
		MetricsPassword: cfg.MetricsPassword,
	}
	if cfg.StorageProvider == storage.ProviderLocal {
		if u, err := url.Parse(cfg.LocalStorageURL); err == nil && u.Path != "" {
			routes.FilesPrefix = u.Path
			routes.FilesDir = cfg.LocalStoragePath
		}
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a failed listener
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// In-flight submissions finish their finalize step before this returns.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// openStore opens the configured state backend. The returned func releases
// it.
func openStore(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StateBackend {
	case store.BackendFile:
		fileStore, err := store.OpenFile(cfg.StateFile, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("state file open failed: %w", err)
		}
		return fileStore, func() {}, nil

	case store.BackendPostgres:
		db, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("database ping failed: %w", err)
		}
		if err := internal.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
		return store.NewPostgres(db), func() { db.Close() }, nil

	default:
		return store.NewMemory(), func() {}, nil
	}
}

func newUploader(cfg *internal.Config, logger *slog.Logger) (storage.Uploader, error) {
	switch cfg.StorageProvider {
	case storage.ProviderCloudinary:
		return storage.NewCloudinaryUploader(storage.CloudinaryConfig{
			UploadURL:    cfg.CloudinaryUploadURL,
			UploadPreset: cfg.CloudinaryUploadPreset,
		}, logger)

	case storage.ProviderR2:
		r2, err := storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		return storage.NewObjectUploader(r2, cfg.MaxUploadSize, logger), nil

	default:
		local, err := storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return storage.NewObjectUploader(local, cfg.MaxUploadSize, logger), nil
	}
}

func newAnalyzer(cfg *internal.Config, logger *slog.Logger) (analysis.Service, error) {
	if cfg.AnalysisProvider == "remote" {
		return remote.New(remote.Config{
			URL:     cfg.AnalysisURL,
			Timeout: cfg.AnalysisTimeout,
		}, logger)
	}
	logger.Warn("using mock analysis service")
	return mock.New(logger), nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
