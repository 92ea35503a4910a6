// Package config handles configuration loading from files and
// environment variables. Environment variables take precedence over
// the config file; both fall back to built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port
	HTTPPort int

	// Shared secret protecting the internal API surface
	InternalSecret string

	// URL of the orchestration server, used by the agent and the CLI
	ServerURL string

	// Fork coordinator pool size
	ForkWorkers int

	// Directory where per-process workspaces are staged
	WorkspaceDir string

	// Completion poll interval for waits and the resume watcher
	PollInterval time.Duration

	// Capacity of the in-memory dispatch buffer
	DispatchBuffer int

	// Agent-specific configuration
	AgentConcurrency  int
	AgentPollInterval time.Duration

	// Execution runtime: exec, docker or kubernetes
	Runtime string

	// Working directory for the exec runtime
	RuntimeWorkDir string

	// Container image for the docker and kubernetes runtimes
	RuntimeImage string

	// Namespace for the kubernetes runtime
	RuntimeNamespace string

	// OpenTelemetry collector endpoint for traces
	OTELEndpoint string
}

// Load reads configuration from an optional YAML file and the
// environment. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", 6161)
	v.SetDefault("server_url", "http://localhost:6161")
	v.SetDefault("fork_workers", 4)
	v.SetDefault("workspace_dir", "/var/lib/procplane/workspaces")
	v.SetDefault("poll_interval", "5s")
	v.SetDefault("dispatch_buffer", 64)
	v.SetDefault("agent_concurrency", 1)
	v.SetDefault("agent_poll_interval", "1s")
	v.SetDefault("runtime", "exec")
	v.SetDefault("runtime_workdir", "")
	v.SetDefault("runtime_image", "")
	v.SetDefault("runtime_namespace", "default")
	v.SetDefault("otel_endpoint", "localhost:4317")

	bindings := map[string]string{
		"database_url":        "DATABASE_URL",
		"http_port":           "PORT",
		"internal_secret":     "INTERNAL_SECRET",
		"server_url":          "SERVER_URL",
		"fork_workers":        "FORK_WORKERS",
		"workspace_dir":       "WORKSPACE_DIR",
		"poll_interval":       "POLL_INTERVAL",
		"dispatch_buffer":     "DISPATCH_BUFFER",
		"agent_concurrency":   "AGENT_CONCURRENCY",
		"agent_poll_interval": "AGENT_POLL_INTERVAL",
		"runtime":             "RUNTIME",
		"runtime_workdir":     "RUNTIME_WORKDIR",
		"runtime_image":       "RUNTIME_IMAGE",
		"runtime_namespace":   "RUNTIME_NAMESPACE",
		"otel_endpoint":       "OTEL_EXPORTER_OTLP_ENDPOINT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if v.GetString("database_url") == "" {
		return nil, fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}

	pollInterval, err := time.ParseDuration(v.GetString("poll_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval: %w", err)
	}
	agentPollInterval, err := time.ParseDuration(v.GetString("agent_poll_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid agent_poll_interval: %w", err)
	}

	runtime := v.GetString("runtime")
	switch runtime {
	case "exec", "docker", "kubernetes":
	default:
		return nil, fmt.Errorf("invalid runtime %q: must be exec, docker or kubernetes", runtime)
	}

	return &Config{
		DatabaseURL:       v.GetString("database_url"),
		HTTPPort:          v.GetInt("http_port"),
		InternalSecret:    v.GetString("internal_secret"),
		ServerURL:         v.GetString("server_url"),
		ForkWorkers:       v.GetInt("fork_workers"),
		WorkspaceDir:      v.GetString("workspace_dir"),
		PollInterval:      pollInterval,
		DispatchBuffer:    v.GetInt("dispatch_buffer"),
		AgentConcurrency:  v.GetInt("agent_concurrency"),
		AgentPollInterval: agentPollInterval,
		Runtime:           runtime,
		RuntimeWorkDir:    v.GetString("runtime_workdir"),
		RuntimeImage:      v.GetString("runtime_image"),
		RuntimeNamespace:  v.GetString("runtime_namespace"),
		OTELEndpoint:      v.GetString("otel_endpoint"),
	}, nil
}
