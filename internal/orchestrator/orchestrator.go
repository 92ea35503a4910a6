// Package orchestrator wires the named pipelines, the fork
// coordinator and the suspend/resume waiter into the operations the
// HTTP surface and the task endpoint expose: start, fork, resume,
// kill.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"procplane/internal/fork"
	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/pipeline/processors"
	"procplane/internal/policy"
	"procplane/internal/store"
	"procplane/internal/waiter"
)

// Pipeline registry names. The registry is assembled once at startup;
// nothing is looked up dynamically beyond these keys.
const (
	PipelineNewProcess    = "newProcess"
	PipelineForkProcess   = "forkProcess"
	PipelineResumeProcess = "resumeProcess"
	PipelineKillProcess   = "killProcess"
)

// Store bundles the persistence interfaces one orchestrator needs.
// Both the postgres and the inmem stores satisfy it.
type Store interface {
	store.ProcessQueue
	store.GroupLocker
	store.WaitStore
}

// Config carries the orchestrator's tunables.
type Config struct {
	// ForkWorkers bounds concurrent child submissions.
	ForkWorkers int
	// WorkspaceDir is the root for per-process workspaces.
	WorkspaceDir string
	// DefaultProfiles applies when a request names no profiles.
	DefaultProfiles []string
	// ConfigurationDefaults is the lowest configuration layer.
	ConfigurationDefaults map[string]interface{}
	// PollInterval is the child-status poll cadence for synchronous
	// waits and the background watcher.
	PollInterval time.Duration
}

// Orchestrator is the process-orchestration core.
type Orchestrator struct {
	store     Store
	policies  policy.Source
	forks     *fork.Coordinator
	pipelines map[string]*pipeline.Pipeline
	cfg       Config
	log       *slog.Logger
}

// New assembles the orchestrator and its static pipeline registry.
func New(st Store, policies policy.Source, resolver processors.RepositoryResolver, dispatcher processors.Dispatcher, cfg Config, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		policies: policies,
		forks:    fork.NewCoordinator(cfg.ForkWorkers),
		cfg:      cfg,
		log:      log,
	}

	// The exception processor is the pipelines' only structured
	// cleanup: mark FAILED, record the error, rethrow.
	onError := pipeline.ExceptionFunc(func(ctx context.Context, p payload.Payload, err error) {
		log.Error("pipeline fault", "instance_id", p.InstanceID(), "err", err)

		// A fault before the initial row exists has nothing to mark.
		if serr := st.SetError(ctx, nil, p.InstanceID(), err.Error()); serr != nil {
			if errors.Is(serr, store.ErrNotFound) {
				return
			}
			log.Error("failed to record process error", "instance_id", p.InstanceID(), "err", serr)
		}
		if serr := st.UpdateStatus(ctx, nil, p.InstanceID(), store.StatusFailed); serr != nil {
			log.Error("failed to mark process FAILED", "instance_id", p.InstanceID(), "err", serr)
		}
	})

	// Rejected resumes are not process failures: the processors restore
	// SUSPENDED and the wait condition stays armed, so only genuine
	// faults fall through to the shared cleanup.
	onResumeError := pipeline.ExceptionFunc(func(ctx context.Context, p payload.Payload, err error) {
		var validation *pipeline.ValidationError
		switch {
		case errors.Is(err, processors.ErrConcurrentResume):
			log.Warn("duplicate resume rejected", "instance_id", p.InstanceID())
		case errors.Is(err, processors.ErrWaitUnsatisfied):
			log.Warn("premature resume rejected", "instance_id", p.InstanceID(), "err", err)
		case errors.As(err, &validation):
			log.Warn("resume rejected", "instance_id", p.InstanceID(), "err", err)
		default:
			onError(ctx, p, err)
		}
	})

	o.pipelines = map[string]*pipeline.Pipeline{
		PipelineNewProcess: pipeline.New(PipelineNewProcess, onError,
			processors.MergeConfiguration{Defaults: cfg.ConfigurationDefaults},
			processors.Validate{},
			processors.InitialQueueEntry{Queue: st, Kind: store.KindDefault},
			processors.AttachPolicy{Source: policies},
			processors.RawPayloadSizePolicy{},
			processors.ActiveProfiles{DefaultProfiles: cfg.DefaultProfiles},
			processors.ExclusiveGroup{Queue: st, Locker: st, Log: log},
			processors.QueueAdmissionPolicy{Queue: st},
			processors.FetchRepository{Resolver: resolver},
			processors.StageWorkspace{BaseDir: cfg.WorkspaceDir},
			processors.Enqueue{Queue: st},
			processors.Dispatch{Queue: st, Dispatcher: dispatcher, Log: log},
		),

		PipelineForkProcess: pipeline.New(PipelineForkProcess, onError,
			processors.MergeConfiguration{Defaults: cfg.ConfigurationDefaults},
			processors.Validate{},
			processors.InitialQueueEntry{Queue: st, Kind: store.KindFork},
			processors.AttachPolicy{Source: policies},
			processors.ForkDepthPolicy{Queue: st},
			processors.ActiveProfiles{DefaultProfiles: cfg.DefaultProfiles},
			processors.ExclusiveGroup{Queue: st, Locker: st, Log: log},
			processors.QueueAdmissionPolicy{Queue: st},
			processors.FetchRepository{Resolver: resolver},
			processors.StageWorkspace{BaseDir: cfg.WorkspaceDir},
			processors.Enqueue{Queue: st},
			processors.Dispatch{Queue: st, Dispatcher: dispatcher, Log: log},
		),

		PipelineResumeProcess: pipeline.New(PipelineResumeProcess, onResumeError,
			processors.ResumeStarting{Queue: st},
			processors.CollectWaitResults{Queue: st, Waits: st},
			processors.ConsumeWait{Waits: st},
			processors.ResumeRunning{Queue: st},
			processors.DispatchResume{Dispatcher: dispatcher, Log: log},
		),

		PipelineKillProcess: pipeline.New(PipelineKillProcess, nil,
			processors.Kill{Queue: st, Log: log},
		),
	}

	return o
}

// Close drains the fork worker pool.
func (o *Orchestrator) Close() {
	o.forks.Close()
}

// Queue exposes read access to the underlying process queue.
func (o *Orchestrator) Queue() store.ProcessQueue {
	return o.store
}

// Watcher builds the background waiter for this orchestrator.
func (o *Orchestrator) Watcher() *waiter.Watcher {
	return &waiter.Watcher{
		Queue:    o.store,
		Waits:    o.store,
		Interval: o.cfg.PollInterval,
		Log:      o.log,
		Resume: func(ctx context.Context, instanceID uuid.UUID, event string) error {
			return o.Resume(ctx, instanceID, event)
		},
	}
}
