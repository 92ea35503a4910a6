// Package main is the entry point for the procplane server: the HTTP
// API, the orchestration pipelines and the resume watcher live here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"procplane/internal/config"
	"procplane/internal/dispatch"
	"procplane/internal/logger"
	"procplane/internal/observability"
	"procplane/internal/orchestrator"
	"procplane/internal/policy"
	"procplane/internal/repo"
	"procplane/internal/server"
	"procplane/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx := context.Background()
	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer st.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "procplane-server", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slogger.Error("failed to shutdown tracer", "err", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slogger.Error("failed to shutdown metrics", "err", err)
		}
	}()

	if err := observability.RegisterQueueGauges(st); err != nil {
		slogger.Error("failed to register queue gauges", "err", err)
	}

	units := dispatch.NewBuffer(cfg.DispatchBuffer)
	resolver := repo.NewGitResolver(filepath.Join(cfg.WorkspaceDir, ".repo-cache"))

	orch := orchestrator.New(st, policy.NoSource, resolver, units, orchestrator.Config{
		ForkWorkers:  cfg.ForkWorkers,
		WorkspaceDir: cfg.WorkspaceDir,
		PollInterval: cfg.PollInterval,
	}, slogger)
	defer orch.Close()

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := server.New(server.Options{
		Addr:           addr,
		Orchestrator:   orch,
		Orgs:           st,
		Units:          units,
		Pinger:         st,
		InternalSecret: cfg.InternalSecret,
		Metrics:        metricsHandler,
		Log:            slogger,
	})

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		slogger.Info("procplane server starting", "addr", addr)
		return srv.Run(egCtx)
	})
	eg.Go(func() error {
		// The watcher resumes suspended processes when their awaited
		// processes finish.
		orch.Watcher().Run(egCtx)
		return nil
	})
	if err := eg.Wait(); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	slogger.Info("server exited properly")
}
