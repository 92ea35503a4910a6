package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"procplane/internal/fork"
	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/store"
	"procplane/internal/waiter"
)

// StartRequest describes a new top-level process submission.
type StartRequest struct {
	OrgID         *uuid.UUID
	ProjectID     *uuid.UUID
	RepoID        *uuid.UUID
	RepoURL       string
	CommitID      string
	CommitBranch  string
	Initiator     string
	EntryPoint    string
	Configuration map[string]interface{}
	// Attachments maps names to staged file paths.
	Attachments map[string]string
}

// Start runs the new-process pipeline and returns the assigned key.
// The pipeline ends at "dispatched" for asynchronous starts; the
// returned entry may well still be STARTING.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (store.ProcessKey, error) {
	key := store.NewProcessKey()

	p := payload.New(key).
		WithHeader(payload.KeyInitiator, req.Initiator).
		WithConfiguration(req.Configuration)
	p = withOptionalUUID(p, payload.KeyOrgID, req.OrgID)
	p = withOptionalUUID(p, payload.KeyProjectID, req.ProjectID)
	p = withOptionalUUID(p, payload.KeyRepoID, req.RepoID)
	p = withOptionalString(p, payload.KeyRepoURL, req.RepoURL)
	p = withOptionalString(p, payload.KeyCommitID, req.CommitID)
	p = withOptionalString(p, payload.KeyCommitBranch, req.CommitBranch)
	p = withOptionalString(p, payload.KeyEntryPoint, req.EntryPoint)
	for name, path := range req.Attachments {
		p = p.WithAttachment(name, path)
	}

	if _, err := o.pipelines[PipelineNewProcess].Process(ctx, p); err != nil {
		return key, err
	}

	return key, nil
}

// ForkRequest describes a fork of a running parent into one or more
// named groups of children.
type ForkRequest struct {
	ParentID uuid.UUID
	Groups   []fork.Group
	// Sync waits for all children's terminal status before returning.
	Sync bool
	// Suspend releases the parent's execution slot instead of blocking:
	// a wait condition is persisted and the parent resumes by event.
	// Only meaningful with Sync.
	Suspend        bool
	IgnoreFailures bool
	// OutExpressions requests child output collection on resume.
	CollectOutputs bool
}

// ForkResult reports the outcome of a fork request.
type ForkResult struct {
	Children []store.ProcessKey
	// ResumeEvent is set when the parent was suspended.
	ResumeEvent string
	// Entries holds the children's terminal entries for synchronous,
	// blocking forks.
	Entries map[uuid.UUID]*store.ProcessEntry
	// Outputs is the shaped output of a synchronous, blocking fork:
	// flattened for one child, keyed by instance ID for several.
	Outputs map[string]interface{}
}

// Fork starts the requested children with bounded fan-out. Submission
// and completion are separate: the fork coordinator always waits for
// every submission (so the caller learns every assigned child key)
// and only then, for Sync requests, waits on or suspends for the
// children's completion. A suspending fork returns the result together
// with a pipeline.SuspendSignal; the caller detaches the parent and
// the resume event brings it back.
func (o *Orchestrator) Fork(ctx context.Context, req ForkRequest) (*ForkResult, error) {
	parent, err := o.store.Get(ctx, req.ParentID)
	if err != nil {
		return nil, err
	}

	keys, err := o.forks.StartChildren(ctx, req.Groups, func(ctx context.Context, g fork.Group, instance int) (store.ProcessKey, error) {
		return o.startChild(ctx, parent, g)
	})
	if err != nil {
		return &ForkResult{Children: keys}, err
	}

	result := &ForkResult{Children: keys}
	if !req.Sync {
		return result, nil
	}

	targets := make([]uuid.UUID, len(keys))
	for i, k := range keys {
		targets[i] = k.InstanceID
	}

	if req.Suspend {
		event, err := waiter.Suspend(ctx, o.store, o.store, req.ParentID, targets, waiter.Options{
			Reason:             fmt.Sprintf("waiting for %d forked processes", len(targets)),
			IgnoreFailures:     req.IgnoreFailures,
			CollectOutputs:     req.CollectOutputs,
			ResumeFromSameStep: true,
		})
		if err != nil {
			return result, err
		}
		result.ResumeEvent = event
		// The suspend signal tells the caller to release the parent's
		// execution slot; resumption comes later by event.
		return result, &pipeline.SuspendSignal{ResumeEvent: event}
	}

	entries, err := waiter.WaitForCompletion(ctx, o.store, targets, o.cfg.PollInterval, 0)
	if err != nil {
		return result, err
	}
	result.Entries = entries
	if err := waiter.Classify(entries, req.IgnoreFailures); err != nil {
		return result, err
	}
	if req.CollectOutputs {
		result.Outputs = waiter.ShapeOutputs(entries)
	}

	return result, nil
}

// startChild runs the fork pipeline for one child, inheriting the
// parent's provenance and project scope.
func (o *Orchestrator) startChild(ctx context.Context, parent *store.ProcessEntry, g fork.Group) (store.ProcessKey, error) {
	key := store.NewProcessKey()

	p := payload.New(key).
		WithHeader(payload.KeyParentInstanceID, parent.InstanceID).
		WithHeader(payload.KeyInitiator, parent.Initiator).
		WithConfiguration(g.Configuration)
	p = withOptionalUUID(p, payload.KeyOrgID, parent.OrgID)
	p = withOptionalUUID(p, payload.KeyProjectID, parent.ProjectID)
	p = withOptionalUUID(p, payload.KeyRepoID, parent.RepoID)
	if parent.RepoURL != nil {
		p = p.WithHeader(payload.KeyRepoURL, *parent.RepoURL)
	}
	if parent.CommitID != nil {
		p = p.WithHeader(payload.KeyCommitID, *parent.CommitID)
	}
	if parent.CommitBranch != nil {
		p = p.WithHeader(payload.KeyCommitBranch, *parent.CommitBranch)
	}

	if _, err := o.pipelines[PipelineForkProcess].Process(ctx, p); err != nil {
		return key, err
	}

	return key, nil
}

// Resume fires the resume pipeline for a suspended process. A racing
// duplicate for the same suspension loses the SUSPENDED -> RESUMING
// CAS inside the pipeline and is rejected.
func (o *Orchestrator) Resume(ctx context.Context, instanceID uuid.UUID, resumeEvent string) error {
	entry, err := o.store.Get(ctx, instanceID)
	if err != nil {
		return err
	}

	p := payload.New(store.ProcessKey{InstanceID: entry.InstanceID, CreatedAt: entry.CreatedAt})
	if resumeEvent != "" {
		p = p.WithHeader(payload.KeyResumeEvent, resumeEvent)
	}

	_, err = o.pipelines[PipelineResumeProcess].Process(ctx, p)
	return err
}

// Kill cancels the given processes. With sync set it blocks until all
// of them are terminal.
func (o *Orchestrator) Kill(ctx context.Context, ids []uuid.UUID, sync bool) error {
	for _, id := range ids {
		entry, err := o.store.Get(ctx, id)
		if err != nil {
			return err
		}

		p := payload.New(store.ProcessKey{InstanceID: entry.InstanceID, CreatedAt: entry.CreatedAt})
		if _, err := o.pipelines[PipelineKillProcess].Process(ctx, p); err != nil {
			return err
		}
	}

	if !sync {
		return nil
	}

	_, err := waiter.WaitForCompletion(ctx, o.store, ids, o.cfg.PollInterval, 0)
	return err
}

// SuspendForCompletion persists a wait condition for a running
// process and suspends it, returning the resume event name. This backs
// the task surface's suspend call.
func (o *Orchestrator) SuspendForCompletion(ctx context.Context, instanceID uuid.UUID, targets []uuid.UUID, ignoreFailures bool) (string, error) {
	return waiter.Suspend(ctx, o.store, o.store, instanceID, targets, waiter.Options{
		Reason:             fmt.Sprintf("waiting for %d processes", len(targets)),
		IgnoreFailures:     ignoreFailures,
		CollectOutputs:     true,
		ResumeFromSameStep: true,
	})
}

// WaitForCompletion blocks until the given processes are terminal and
// returns their entries. This backs the task surface's blocking wait.
func (o *Orchestrator) WaitForCompletion(ctx context.Context, targets []uuid.UUID, timeout time.Duration) (map[uuid.UUID]*store.ProcessEntry, error) {
	return waiter.WaitForCompletion(ctx, o.store, targets, o.cfg.PollInterval, timeout)
}

func withOptionalUUID(p payload.Payload, k payload.Key, v *uuid.UUID) payload.Payload {
	if v == nil {
		return p
	}
	return p.WithHeader(k, *v)
}

func withOptionalString(p payload.Payload, k payload.Key, v string) payload.Payload {
	if v == "" {
		return p
	}
	return p.WithHeader(k, v)
}
