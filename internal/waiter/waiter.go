// Package waiter implements the suspend/resume-by-event protocol:
// persisting wait conditions, polling awaited processes until they are
// terminal, classifying their results and shaping the resume payload.
//
// The protocol is poll-driven. No child-side push is required, which
// keeps it robust to the waiter being offline while children run.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"procplane/internal/store"
)

// Polling and retry parameters. Transient store errors are retried a
// fixed small number of times with a fixed delay before surfacing.
const (
	DefaultPollInterval = 5 * time.Second
	retryAttempts       = 3
	retryDelay          = 5 * time.Second
)

// Options configure one suspension.
type Options struct {
	// Reason is a human-readable description persisted with the wait.
	Reason string
	// IgnoreFailures downgrades failed children from a resume-aborting
	// fault to an entry in the resume result.
	IgnoreFailures bool
	// CollectOutputs requests the children's out variables in the
	// resume result.
	CollectOutputs bool
	// ResumeFromSameStep restarts the pipeline step that requested the
	// wait instead of advancing past it.
	ResumeFromSameStep bool
}

// Suspend persists a wait condition for the given targets and moves
// the process RUNNING -> SUSPENDED. It returns the generated resume
// event name. The CAS rejects a process that is not currently running.
func Suspend(ctx context.Context, queue store.ProcessQueue, waits store.WaitStore, instanceID uuid.UUID, targets []uuid.UUID, opts Options) (string, error) {
	event := uuid.New().String()

	cond := &store.WaitCondition{
		Type:               store.WaitProcessCompletion,
		Reason:             opts.Reason,
		Processes:          targets,
		ResumeEvent:        event,
		IgnoreFailures:     opts.IgnoreFailures,
		CollectOutputs:     opts.CollectOutputs,
		ResumeFromSameStep: opts.ResumeFromSameStep,
	}

	if err := waits.SaveWait(ctx, nil, instanceID, cond); err != nil {
		return "", err
	}

	ok, err := queue.UpdateExpectedStatus(ctx, nil, instanceID, store.StatusRunning, store.StatusSuspended)
	if err == nil && !ok {
		err = fmt.Errorf("process %s is not RUNNING, cannot suspend", instanceID)
	}
	if err != nil {
		// The wait row was written optimistically; a refused suspension
		// must not leave it behind for the watcher to chew on forever.
		_ = waits.DeleteWait(ctx, nil, instanceID)
		return "", err
	}

	return event, nil
}

// WaitForCompletion blocks until every target reaches a terminal
// status, polling on a cancellable timer. A zero timeout waits
// indefinitely (bounded only by ctx).
func WaitForCompletion(ctx context.Context, queue store.ProcessQueue, targets []uuid.UUID, pollInterval, timeout time.Duration) (map[uuid.UUID]*store.ProcessEntry, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		entries, done, err := pollOnce(ctx, queue, targets)
		if err != nil {
			return nil, err
		}
		if done {
			return entries, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollOnce fetches every target once, with bounded retries per fetch.
func pollOnce(ctx context.Context, queue store.ProcessQueue, targets []uuid.UUID) (map[uuid.UUID]*store.ProcessEntry, bool, error) {
	entries := make(map[uuid.UUID]*store.ProcessEntry, len(targets))
	done := true

	for _, id := range targets {
		entry, err := getWithRetry(ctx, queue, id)
		if err != nil {
			return nil, false, err
		}
		entries[id] = entry
		if !entry.Status.IsTerminal() {
			done = false
		}
	}

	return entries, done, nil
}

func getWithRetry(ctx context.Context, queue store.ProcessQueue, id uuid.UUID) (*store.ProcessEntry, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		entry, err := queue.Get(ctx, id)
		if err == nil {
			return entry, nil
		}
		// A missing row is not transient; fail immediately.
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		lastErr = err
		if attempt < retryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("failed to poll process %s after %d attempts: %w", id, retryAttempts, lastErr)
}

// ChildFailure names one awaited child that finished unsuccessfully.
type ChildFailure struct {
	InstanceID uuid.UUID
	Status     store.ProcessStatus
	Message    string
}

// AggregateError reports every failed child of one wait in a single
// fault.
type AggregateError struct {
	Failures []ChildFailure
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		if f.Message != "" {
			parts[i] = fmt.Sprintf("%s (%s): %s", f.InstanceID, f.Status, f.Message)
		} else {
			parts[i] = fmt.Sprintf("%s (%s)", f.InstanceID, f.Status)
		}
	}
	return "child process failure: " + strings.Join(parts, "; ")
}

// Classify inspects terminal child entries and returns an
// AggregateError naming every unsuccessful child, unless failures are
// ignored. FINISHED counts as success; FAILED, CANCELLED and TIMED_OUT
// count as failure.
func Classify(entries map[uuid.UUID]*store.ProcessEntry, ignoreFailures bool) error {
	if ignoreFailures {
		return nil
	}

	var failures []ChildFailure
	for id, entry := range entries {
		if entry.Status == store.StatusFinished {
			continue
		}
		msg := ""
		if entry.ErrorMessage != nil {
			msg = *entry.ErrorMessage
		}
		failures = append(failures, ChildFailure{InstanceID: id, Status: entry.Status, Message: msg})
	}
	if len(failures) == 0 {
		return nil
	}

	sort.Slice(failures, func(i, j int) bool {
		return failures[i].InstanceID.String() < failures[j].InstanceID.String()
	})
	return &AggregateError{Failures: failures}
}

// ShapeOutputs builds the resume result from the awaited children's
// out variables. With exactly one target the variables are flattened
// at the top level; with several they are nested under each target's
// ID. Callers branch on the target count, so the two shapes must never
// mix.
func ShapeOutputs(entries map[uuid.UUID]*store.ProcessEntry) map[string]interface{} {
	if len(entries) == 1 {
		for _, entry := range entries {
			if entry.OutVars == nil {
				return map[string]interface{}{}
			}
			return entry.OutVars
		}
	}

	out := make(map[string]interface{}, len(entries))
	for id, entry := range entries {
		vars := entry.OutVars
		if vars == nil {
			vars = map[string]interface{}{}
		}
		out[id.String()] = vars
	}
	return out
}
