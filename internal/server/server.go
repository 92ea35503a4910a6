// Package server wires the HTTP API for the orchestration service.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"procplane/internal/dispatch"
	"procplane/internal/orchestrator"
	"procplane/internal/server/handlers"
	"procplane/internal/server/middleware"
	"procplane/internal/store"
)

// Server is the HTTP server for the orchestration API.
type Server struct {
	httpServer *http.Server
}

// Options carries the server's dependencies.
type Options struct {
	Addr           string
	Orchestrator   *orchestrator.Orchestrator
	Orgs           store.OrgStore
	Units          *dispatch.Buffer
	Pinger         handlers.Pinger
	InternalSecret string
	// Metrics serves the Prometheus scrape endpoint when set.
	Metrics http.Handler
	Log     *slog.Logger
}

// New creates the API server.
func New(opts Options) *Server {
	h := handlers.New(opts.Orchestrator, opts.Orgs, opts.Units, opts.Pinger, opts.Log)
	authMW := middleware.OrgAuth(opts.Orgs)
	rateMW := middleware.RateLimit()
	internalMW := middleware.RequireInternalAuth(opts.InternalSecret)

	authed := func(next http.HandlerFunc) http.Handler {
		return authMW(rateMW(next))
	}
	internal := func(next http.HandlerFunc) http.Handler {
		return internalMW(next)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.HandleFunc("POST /orgs", h.CreateOrganization)

	// Public authenticated apis
	mux.Handle("POST /processes", authed(h.StartProcess))
	mux.Handle("GET /processes/{id}", authed(h.GetProcess))
	mux.Handle("POST /processes/{id}/fork", authed(h.ForkProcess))
	mux.Handle("POST /processes/{id}/resume", authed(h.ResumeProcess))
	mux.Handle("POST /processes/{id}/kill", authed(h.KillProcess))
	mux.Handle("GET /metrics/queue", authed(h.QueueMetrics))

	// Internal endpoints
	// These are called by the runner agent and the task client running
	// inside workflows. They share a deployment-level secret and should
	// run behind strict network rules.
	mux.Handle("POST /internal/task", internal(h.HandleTask))
	mux.Handle("POST /internal/wait", internal(h.WaitProcesses))
	mux.Handle("POST /internal/suspend", internal(h.SuspendProcess))
	mux.Handle("GET /internal/units/lease", internal(h.LeaseUnit))
	mux.Handle("POST /internal/processes/{id}/status", internal(h.StatusCallback))

	return &Server{
		httpServer: &http.Server{
			Addr:    opts.Addr,
			Handler: mux,
			// Lease and wait endpoints long-poll, so no write timeout.
			ReadTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
