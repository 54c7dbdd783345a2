package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	chatbroker "github.com/set-night/chatbroker"
	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/handler"
	"github.com/set-night/chatbroker/internal/repository"
	"github.com/set-night/chatbroker/internal/service"
	"github.com/set-night/chatbroker/internal/telemetry"
)

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	_, closeLog := telemetry.InitLogger(cfg)
	defer closeLog()

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Chat providers have no fallback, so missing credentials stop startup.
	regular, err := service.NewRegularProvider(cfg)
	if err != nil {
		slog.Error("failed to create regular provider", "error", err)
		os.Exit(1)
	}
	uncensored, err := service.NewUncensoredProvider(cfg)
	if err != nil {
		slog.Error("failed to create uncensored provider", "error", err)
		os.Exit(1)
	}
	gemini := service.NewGeminiClient(service.GeminiConfigFrom(cfg))
	if err := gemini.Ready(); err != nil {
		slog.Warn("document and image routes disabled", "error", err)
	}

	var objects service.ObjectStore
	if cloudinaryStore, err := service.NewCloudinaryStore(cfg.CloudinaryURL); err != nil {
		slog.Warn("image uploads disabled", "error", err)
	} else {
		objects = cloudinaryStore
	}

	// Initialize services
	executor := service.NewExecutor()
	sessionService := service.NewSessionService(store)
	dispatcher := service.NewDispatcher(sessionService, service.Providers{
		Regular:    regular,
		Uncensored: uncensored,
		Documents:  gemini,
		Vision:     gemini,
	}, service.NewUploader(objects, gemini, executor), executor)

	h := handler.New(handler.Deps{
		Cfg:            cfg,
		SessionService: sessionService,
		Dispatcher:     dispatcher,
		Store:          store,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h.Router(),
		ReadHeaderTimeout: config.ReadTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server", "addr", srv.Addr, "memory_store", cfg.UseMemoryStore())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown
	slog.Info("server stopped gracefully")
}

// openStore connects to Postgres and migrates it, or falls back to process memory without DATABASE_URL.
func openStore(ctx context.Context, cfg *config.Config) (service.SessionStore, func(), error) {
	if cfg.UseMemoryStore() {
		slog.Warn("DATABASE_URL not set, sessions are kept in memory")
		return repository.NewMemoryStore(), func() {}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	migrationsFS, err := fs.Sub(chatbroker.MigrationsFS, "migrations")
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return repository.NewStore(pool), pool.Close, nil
}
