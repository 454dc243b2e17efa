// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes a fleet of agents over an admin HTTP API and a gRPC
// health service.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jllopis/perpetua/pkg/agent"
	"github.com/jllopis/perpetua/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultSyncInterval    = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	maxBodyBytes           = 1 << 20
)

// Server serves the admin API for a fleet.
type Server struct {
	fleet           *agent.Fleet
	logger          *slog.Logger
	metrics         http.Handler
	health          *health.Server
	router          chi.Router
	syncInterval    time.Duration
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthSyncInterval sets how often gRPC health statuses are refreshed.
func WithHealthSyncInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.syncInterval = d
		}
	}
}

// WithShutdownTimeout bounds graceful shutdown of the listeners.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New builds the router for fleet.
func New(fleet *agent.Fleet, opts ...Option) *Server {
	s := &Server{
		fleet:           fleet,
		logger:          slog.Default(),
		health:          health.NewServer(),
		syncInterval:    defaultSyncInterval,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", s.handleListAgents)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAgent)
			r.Post("/events", s.handlePostEvent)
			r.Post("/decisions", s.handlePostDecision)
			r.Get("/context", s.handleGetAllContext)
			r.Get("/context/{key}", s.handleGetContext)
			r.Get("/events", s.handleGetEvents)
			r.Get("/memory", s.handleGetMemory)
		})
	})
	return r
}

// Run serves HTTP on httpAddr and gRPC health on grpcAddr until ctx is
// canceled. An empty address disables that listener.
func (s *Server) Run(ctx context.Context, httpAddr, grpcAddr string) error {
	g, ctx := errgroup.WithContext(ctx)

	var httpSrv *http.Server
	if httpAddr != "" {
		httpSrv = &http.Server{
			Addr:              httpAddr,
			Handler:           s.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			s.logger.InfoContext(ctx, "server.http.listen", slog.String("addr", httpAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return errors.New(errors.CodeUnavailable, "http server failed", err).
					WithAttribute("addr", httpAddr)
			}
			return nil
		})
	}

	var grpcSrv *grpc.Server
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return errors.New(errors.CodeUnavailable, "grpc listen failed", err).
				WithAttribute("addr", grpcAddr)
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, s.health)
		g.Go(func() error {
			s.logger.InfoContext(ctx, "server.grpc.listen", slog.String("addr", grpcAddr))
			if err := grpcSrv.Serve(lis); err != nil && !stderrors.Is(err, grpc.ErrServerStopped) {
				return errors.New(errors.CodeUnavailable, "grpc server failed", err).
					WithAttribute("addr", grpcAddr)
			}
			return nil
		})
	}

	g.Go(func() error {
		s.syncHealthLoop(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		if httpSrv != nil {
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				s.logger.WarnContext(shutdownCtx, "server.http.shutdown", slog.String("error", err.Error()))
			}
		}
		s.logger.InfoContext(shutdownCtx, "server.stopped")
		return nil
	})

	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results, overall := s.fleet.Health().CheckAll(r.Context())
	status := http.StatusOK
	if overall.Level() == 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": results,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, errors.New(errors.CodeNotFound, "metrics exporter is not prometheus", nil))
		return
	}
	s.metrics.ServeHTTP(w, r)
}

// observe wraps each request in a span and logs it once finished.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), "http.request")
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		annotate(span, r.Method, route, ww.Status())
		s.logger.DebugContext(ctx, "server.http.request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as an RFC 7807 problem document.
func writeError(w http.ResponseWriter, err error) {
	pe := errors.AsPerpetuaError(err)
	code := pe.StatusCode
	if code == 0 {
		code = http.StatusInternalServerError
	}
	body := map[string]any{
		"type":   "about:blank",
		"title":  string(pe.Code),
		"status": code,
		"detail": pe.Error(),
	}
	if len(pe.Attributes) > 0 {
		body["attributes"] = pe.Attributes
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
