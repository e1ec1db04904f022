package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sundayezeilo/shorturl/internal/config"
	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/httpx"
	"github.com/sundayezeilo/shorturl/internal/shortener"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server with all dependencies.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	handler *shortener.Handler
	store   Pinger
	server  *http.Server
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *slog.Logger, handler *shortener.Handler, store Pinger) *Server {
	return &Server{
		config:  cfg,
		logger:  logger,
		handler: handler,
		store:   store,
	}
}

// Handler returns the routed mux wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return s.applyMiddleware(s.setupRoutes())
}

// Start serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server",
			"addr", s.server.Addr,
			"env", s.config.App.Environment,
		)
		serverErrors <- s.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.logger.Info("received shutdown signal", "signal", sig.String())

	case <-ctx.Done():
		s.logger.Info("context cancelled, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /x/health", s.healthCheckHandler)
	mux.HandleFunc("GET /api/hello", s.helloHandler)

	mux.HandleFunc("POST /api/shorturl", s.handler.CreateMapping)
	mux.HandleFunc("POST /api/shorturl/new", s.handler.CreateMapping)
	mux.HandleFunc("GET /api/shorturl/{code}", s.handler.RedirectMapping)

	if s.config.Metrics.Enabled {
		mux.Handle("GET "+s.config.Metrics.Path, promhttp.Handler())
	}

	if dir := s.config.Server.StaticDir; dir != "" {
		index := filepath.Join(dir, "index.html")
		mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, index)
		})
		mux.Handle("GET /public/", http.StripPrefix("/public/", http.FileServer(http.Dir(dir))))
	}

	return mux
}

// applyMiddleware wraps the handler with middleware. Metrics sits innermost
// so it observes the pattern the mux matched.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	return httpx.Chain(
		httpx.Recovery(s.logger),
		httpx.RequestID,
		httpx.Logger(s.logger),
		httpx.CORS(s.config.Server.AllowedOrigins),
		httpx.Metrics,
	)(handler)
}

// healthCheckHandler reports 200 while the store answers and 503 otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			kind := errx.KindOf(err)
			s.logger.ErrorContext(ctx, "health check failed",
				"request_id", httpx.GetRequestID(ctx),
				"error", err.Error(),
				"error_kind", kind,
			)
			httpx.WriteError(w, httpx.ErrorKindToStatus(kind), httpx.ErrorKindToCode(kind), "store unreachable", nil)
			return
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.config.App.ServiceName,
		"version": s.config.App.Version,
	})
}

func (s *Server) helloHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"greeting": "hello API"})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded, forcing close")
			return s.server.Close()
		}
		return err
	}

	return nil
}
