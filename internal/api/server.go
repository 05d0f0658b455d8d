// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the watchdog's HTTP surface: probes, status, manual
// emergency control and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/streamguard/internal/api/middleware"
	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Emergency is the controller surface the API drives.
type Emergency interface {
	Current(ctx context.Context) (emergency.State, error)
	History() []emergency.Transition
	LoopRunning() bool
	Activate(ctx context.Context, reason string) (emergency.State, error)
	Clear(ctx context.Context, by string) (emergency.State, error)
}

// FailureCounter reports the consecutive critical count.
type FailureCounter interface {
	Count(ctx context.Context) (int, error)
	MaxFailures() int
}

// Config configures the server.
type Config struct {
	ListenAddr string
	// Token guards the mutating endpoints. Empty leaves them open.
	Token string
	// RateLimit is the number of mutating requests per minute per client.
	RateLimit   int
	ServiceName string
	Version     string
}

// Deps are the components the handlers read from.
type Deps struct {
	Health    *health.Manager
	Last      func() (health.Evaluation, bool)
	Failures  FailureCounter
	Emergency Emergency
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
}

// New creates a server.
func New(cfg Config, deps Deps) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "streamguard"
	}
	if deps.Health == nil {
		deps.Health = health.NewManager(cfg.Version)
	}
	return &Server{cfg: cfg, deps: deps, logger: xglog.WithComponent("api")}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return middleware.OTelHTTP(s.cfg.ServiceName)(s.routes())
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logging)

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Group(func(r chi.Router) {
			r.Use(middleware.MutationRateLimit(s.cfg.RateLimit))
			r.Use(s.authMiddleware)
			r.Post("/emergency/activate", s.handleActivate)
			r.Post("/emergency/clear", s.handleClear)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str(xglog.FieldEvent, "api.listening").
			Str("addr", ln.Addr().String()).
			Msg("HTTP API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "api.shutdown_error").Msg("graceful shutdown incomplete")
		_ = srv.Close()
	}
	<-errCh
	s.logger.Info().Str(xglog.FieldEvent, "api.stopped").Msg("HTTP API stopped")
	return nil
}
