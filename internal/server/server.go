// Package server exposes bridge health, stats and datafile refresh over HTTP,
// plus a webhook that lets the datafile publisher trigger a sync.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
)

// Bridge is what the server needs from the bridge
type Bridge interface {
	Ready() (client, user bool)
	Stats() (sdk.Stats, bool)
	Refresh(ctx context.Context) error
}

// Config configures the admin server
type Config struct {
	// Addr is the listen address, e.g. ":8080"
	Addr string

	// WebhookSecret enables HMAC-SHA256 signature checks when set
	WebhookSecret string

	// RequestTimeout bounds each request, including forced refreshes
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// Server serves admin and webhook endpoints
type Server struct {
	bridge Bridge
	config Config
	logger *slog.Logger
}

// New creates a server for bridge
func New(bridge Bridge, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		bridge: bridge,
		config: cfg,
		logger: logger.With("component", "admin"),
	}
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Timeout(s.config.RequestTimeout))

	r.Get("/health", s.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Post("/refresh", s.handleRefresh)
	})

	r.Post("/webhook", s.handleWebhook)

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", "addr", s.config.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin server shutdown: %w", err)
		}
		return nil
	}
}
