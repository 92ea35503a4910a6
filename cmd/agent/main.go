// Package main is the entry point for the procplane runner agent.
// The agent leases dispatched execution units from the server, runs
// them on the configured runtime and reports status callbacks.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"procplane/internal/agent"
	"procplane/internal/agent/runtime"
	"procplane/internal/config"
	"procplane/internal/logger"
	"procplane/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "procplane-agent", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slogger.Error("failed to shutdown tracer", "err", err)
		}
	}()

	// Select runtime based on configuration
	var rt runtime.Runtime
	switch cfg.Runtime {
	case "docker":
		dockerRT, err := runtime.NewDockerRuntime()
		if err != nil {
			log.Fatalf("Failed to create Docker runtime: %v", err)
		}
		rt = dockerRT
		slogger.Info("using docker runtime", "image", cfg.RuntimeImage)
	case "kubernetes":
		k8sRT, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace: cfg.RuntimeNamespace,
		})
		if err != nil {
			log.Fatalf("Failed to create Kubernetes runtime: %v", err)
		}
		rt = k8sRT
		slogger.Info("using kubernetes runtime", "namespace", cfg.RuntimeNamespace)
	default:
		rt = runtime.NewExecRuntime()
		slogger.Info("using exec runtime")
	}

	hostname, _ := os.Hostname()
	a := agent.New(rt, agent.Config{
		ID:             hostname,
		Concurrency:    cfg.AgentConcurrency,
		PollInterval:   cfg.AgentPollInterval,
		ServerURL:      cfg.ServerURL,
		InternalSecret: cfg.InternalSecret,
		Image:          cfg.RuntimeImage,
	}, slogger)

	go a.Run(ctx)

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

	// Dedicated metrics server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		slogger.Info("agent metrics listening", "addr", ":6162")
		if err := http.ListenAndServe(":6162", mux); err != nil {
			slogger.Error("metrics server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slogger.Info("shutting down agent")
	cancel()

	<-a.Done()
}
