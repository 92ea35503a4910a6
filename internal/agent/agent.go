// Package agent contains the runner agent: a pull-loop that leases
// dispatched execution units from the server, runs them on a
// configured runtime and reports status callbacks.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"procplane/internal/agent/runtime"
	"procplane/internal/dispatch"
	"procplane/internal/store"
	"procplane/pkg/api"
)

// stateDir is created inside each workspace for runner bookkeeping:
// the request file going in, the out-variables file coming back and
// the captured log.
const stateDir = "_procplane"

// Config holds configuration for the runner agent.
type Config struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
	ServerURL    string
	// InternalSecret authenticates against the internal API.
	InternalSecret string
	// MaxBackoff caps the poll backoff when no work is available.
	MaxBackoff time.Duration
	// Image is the runner image for container runtimes.
	Image string
	// ExecTimeout bounds a single execution.
	ExecTimeout time.Duration
}

// Agent is the runner agent main loop.
type Agent struct {
	runtime    runtime.Runtime
	config     Config
	log        *slog.Logger
	httpClient *http.Client
	done       chan struct{}
}

// New creates a new runner agent.
func New(rt runtime.Runtime, config Config, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.ExecTimeout <= 0 {
		config.ExecTimeout = 30 * time.Minute
	}
	config.ServerURL = strings.TrimSuffix(config.ServerURL, "/")

	return &Agent{
		runtime: rt,
		config:  config,
		log:     log,
		done:    make(chan struct{}),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On SIGTERM, it stops leasing new work and allows in-flight executions to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent starting", "id", a.config.ID, "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty polls, resets on work found)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("context cancelled, waiting for running processes to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			if len(sem) >= a.config.Concurrency {
				continue
			}

			unit, err := a.lease(ctx)
			if err != nil {
				a.log.Error("lease error", "err", err)
				continue
			}

			if unit == nil {
				// Nothing dispatched - increase backoff, capped at MaxBackoff
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			// Found work - reset backoff to minimum
			currentBackoff = a.config.PollInterval

			sem <- struct{}{}
			wg.Add(1)
			go func(u dispatch.Unit) {
				defer wg.Done()
				defer func() {
					<-sem
					// A slot opened up - trigger immediate re-poll
					triggerPoll()
				}()
				a.execute(ctx, u)
			}(*unit)

			// There may be more units and free slots
			triggerPoll()
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// lease asks the server for the next dispatched unit. A nil unit means
// nothing was available.
func (a *Agent) lease(ctx context.Context) (*dispatch.Unit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.ServerURL+"/internal/units/lease", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.config.InternalSecret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var unit dispatch.Unit
		if err := json.NewDecoder(resp.Body).Decode(&unit); err != nil {
			return nil, fmt.Errorf("failed to decode unit: %w", err)
		}
		return &unit, nil
	default:
		return nil, fmt.Errorf("lease returned status %d", resp.StatusCode)
	}
}

// execute runs a single leased unit end to end.
func (a *Agent) execute(ctx context.Context, unit dispatch.Unit) {
	tracer := otel.Tracer("runner-agent")
	spanCtx, span := tracer.Start(ctx, "execute_process",
		trace.WithAttributes(
			attribute.String("process.instance_id", unit.InstanceID.String()),
			attribute.String("process.entry_point", unit.EntryPoint),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	a.log.Info("executing process", "instance_id", unit.InstanceID)

	if err := a.reportStatus(spanCtx, unit.InstanceID, api.StatusCallbackRequest{
		Status: string(store.StatusRunning),
	}); err != nil {
		// Likely lost a race against a kill; give up on the unit.
		a.log.Warn("process refused running transition, dropping unit",
			"instance_id", unit.InstanceID, "err", err)
		return
	}

	if err := a.writeRequestFile(unit); err != nil {
		span.RecordError(err)
		a.fail(unit.InstanceID, fmt.Sprintf("Failed to prepare workspace: %v", err))
		return
	}

	// The execution context is independent of the poll context so a
	// SIGTERM drains gracefully instead of killing in-flight work.
	execCtx, cancel := context.WithTimeout(spanCtx, a.config.ExecTimeout)
	defer cancel()

	handle, err := a.runtime.Start(execCtx, runtime.StartOptions{
		Workspace: unit.Workspace,
		Image:     a.config.Image,
		Command:   runnerCommand(unit),
		Env:       runnerEnv(a.config, unit),
	})
	if err != nil {
		span.RecordError(err)
		a.fail(unit.InstanceID, fmt.Sprintf("Failed to start runtime: %v", err))
		return
	}

	var logWG sync.WaitGroup
	logWG.Add(1)
	go func() {
		defer logWG.Done()
		a.captureLogs(execCtx, unit, handle)
	}()

	result, err := handle.Wait(execCtx)
	logWG.Wait()

	if err != nil {
		span.RecordError(err)

		if execCtx.Err() == context.DeadlineExceeded {
			a.log.Warn("execution timed out", "instance_id", unit.InstanceID, "timeout", a.config.ExecTimeout)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			handle.Stop(stopCtx)

			a.reportTerminal(unit.InstanceID, api.StatusCallbackRequest{
				Status: string(store.StatusTimedOut),
				Error:  fmt.Sprintf("Execution timed out after %v", a.config.ExecTimeout),
			})
			return
		}

		a.fail(unit.InstanceID, fmt.Sprintf("Runtime error: %v", err))
		return
	}

	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))

	if result.ExitCode != 0 {
		errorMessage := fmt.Sprintf("Exit code %d", result.ExitCode)
		if result.Error != nil {
			errorMessage = result.Error.Error()
			span.RecordError(result.Error)
		}
		a.fail(unit.InstanceID, errorMessage)
		return
	}

	outVars, err := a.collectOutVars(unit)
	if err != nil {
		a.log.Warn("failed to collect out variables", "instance_id", unit.InstanceID, "err", err)
	}

	a.log.Info("execution finished", "instance_id", unit.InstanceID)
	a.reportTerminal(unit.InstanceID, api.StatusCallbackRequest{
		Status:  string(store.StatusFinished),
		OutVars: outVars,
	})
}

func (a *Agent) fail(instanceID uuid.UUID, message string) {
	a.reportTerminal(instanceID, api.StatusCallbackRequest{
		Status: string(store.StatusFailed),
		Error:  message,
	})
}

// reportTerminal sends a terminal callback on a fresh context so that
// results survive agent shutdown.
func (a *Agent) reportTerminal(instanceID uuid.UUID, cb api.StatusCallbackRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.reportStatus(ctx, instanceID, cb); err != nil {
		a.log.Error("status callback failed", "instance_id", instanceID, "status", cb.Status, "err", err)
	}
}

func (a *Agent) reportStatus(ctx context.Context, instanceID uuid.UUID, cb api.StatusCallbackRequest) error {
	url := fmt.Sprintf("%s/internal/processes/%s/status", a.config.ServerURL, instanceID)

	body, err := json.Marshal(cb)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.InternalSecret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	return nil
}

// writeRequestFile stages the unit's request data into the workspace
// so the runner process can read its own configuration.
func (a *Agent) writeRequestFile(unit dispatch.Unit) error {
	if unit.Workspace == "" {
		return fmt.Errorf("unit has no workspace")
	}

	dir := filepath.Join(unit.Workspace, stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(unit, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "request.json"), data, 0o644)
}

// collectOutVars reads the out-variables file the runner left behind,
// filtered down to the requested expressions.
func (a *Agent) collectOutVars(unit dispatch.Unit) (map[string]interface{}, error) {
	data, err := os.ReadFile(filepath.Join(unit.Workspace, stateDir, "out.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var vars map[string]interface{}
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("invalid out variables file: %w", err)
	}

	if len(unit.OutExpressions) == 0 {
		return vars, nil
	}

	filtered := make(map[string]interface{}, len(unit.OutExpressions))
	for _, name := range unit.OutExpressions {
		if v, ok := vars[name]; ok {
			filtered[name] = v
		}
	}
	return filtered, nil
}

// captureLogs drains the execution's output into a log file inside the
// workspace state directory.
func (a *Agent) captureLogs(ctx context.Context, unit dispatch.Unit, handle runtime.Handle) {
	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		a.log.Warn("failed to get log stream", "instance_id", unit.InstanceID, "err", err)
		return
	}
	defer rc.Close()

	path := filepath.Join(unit.Workspace, stateDir, "runner.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		a.log.Warn("failed to open log file", "instance_id", unit.InstanceID, "err", err)
		io.Copy(io.Discard, rc)
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()
	io.Copy(w, rc)
}

// runnerCommand builds the command executing the workspace's entry
// point. The entry point is a script path relative to the workspace
// root.
func runnerCommand(unit dispatch.Unit) []string {
	entryPoint := unit.EntryPoint
	if entryPoint == "" {
		entryPoint = "main.sh"
	}
	return []string{"/bin/sh", "-e", entryPoint}
}

func runnerEnv(cfg Config, unit dispatch.Unit) map[string]string {
	env := map[string]string{
		"PROCPLANE_INSTANCE_ID": unit.InstanceID.String(),
		"PROCPLANE_SERVER_URL":  cfg.ServerURL,
	}
	if unit.ResumeEvent != "" {
		env["PROCPLANE_RESUME_EVENT"] = unit.ResumeEvent
	}
	if len(unit.ActiveProfiles) > 0 {
		env["PROCPLANE_ACTIVE_PROFILES"] = strings.Join(unit.ActiveProfiles, ",")
	}
	return env
}
