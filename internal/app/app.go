package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/sundayezeilo/shorturl/internal/config"
	"github.com/sundayezeilo/shorturl/internal/server"
	"github.com/sundayezeilo/shorturl/internal/shortener"
	"github.com/sundayezeilo/shorturl/internal/storage/cache"
	"github.com/sundayezeilo/shorturl/internal/storage/memory"
	"github.com/sundayezeilo/shorturl/internal/storage/postgres"
	"github.com/sundayezeilo/shorturl/internal/storage/redis"
	"github.com/sundayezeilo/shorturl/internal/storage/sqlite"
)

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   shortener.Store
	Server  *server.Server
	Handler *shortener.Handler
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	loadEnv()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"store", cfg.Store.Driver,
	)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	svc := shortener.NewService(store, &shortener.ServiceConfig{
		Validator: shortener.NewValidator(shortener.ValidatorConfig{
			LookupTimeout: cfg.Validator.LookupTimeout,
		}),
	})
	handler := shortener.NewHandler(shortener.HandlerConfig{
		Service: svc,
		Logger:  logger,
	})

	srv := server.New(cfg, logger, handler, store)

	logger.Info("application initialized",
		"addr", cfg.Server.Addr(),
		"base_url", cfg.Server.BaseURL,
		"cache", cfg.Cache.Enabled,
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Server:  srv,
		Handler: handler,
	}, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown releases the store.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("failed to close store", "error", err)
			return err
		}
		a.Logger.Info("store closed")
	}
	return nil
}

// loadEnv loads .env only in development and test.
func loadEnv() {
	env := os.Getenv("APP_ENV")
	if env == "" || env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
}

// setupLogger builds a JSON or text slog logger at the given level.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openStore opens the configured backend and wraps it in the lookup cache
// when enabled.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (shortener.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Store.ConnectTimeout)
	defer cancel()

	var (
		store shortener.Store
		err   error
	)

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		store, err = postgres.Open(connectCtx, postgres.Config{
			DSN:            cfg.Store.DSN,
			MaxConns:       cfg.Store.MaxConns,
			MinConns:       cfg.Store.MinConns,
			ConnectTimeout: cfg.Store.ConnectTimeout,
		})
	case config.DriverRedis:
		store, err = redis.Open(connectCtx, redis.Config{
			DSN:            cfg.Store.DSN,
			PoolSize:       int(cfg.Store.MaxConns),
			MinIdleConns:   int(cfg.Store.MinConns),
			ConnectTimeout: cfg.Store.ConnectTimeout,
		})
	case config.DriverSQLite:
		store, err = sqlite.Open(connectCtx, cfg.Store.DSN)
	case config.DriverMemory:
		logger.Warn("using in-memory store; mappings are lost on restart")
		store = memory.New()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("store connected", "driver", cfg.Store.Driver)

	if !cfg.Cache.Enabled {
		return store, nil
	}

	cached, err := cache.New(store, cache.Config{
		MaxItems: cfg.Cache.MaxItems,
		TTL:      cfg.Cache.TTL,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("lookup cache enabled",
		"max_items", cfg.Cache.MaxItems,
		"ttl", cfg.Cache.TTL,
	)
	return cached, nil
}
