package processors

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/store"
	"procplane/internal/waiter"
)

// ErrWaitUnsatisfied is returned when a resume arrives while awaited
// processes are still active. The wait condition is not consumed; the
// process goes back to SUSPENDED and resumes when the targets finish.
var ErrWaitUnsatisfied = errors.New("awaited processes are still active, resume rejected")

// CollectWaitResults guards the wait condition and gathers the awaited
// children's terminal entries before the condition is consumed. A
// resume carrying the wrong event, or arriving before every target is
// terminal, is rejected with the suspension restored intact. Unignored
// failures abort the resume with an aggregate fault naming every
// failed child; otherwise the children's out variables are shaped into
// the resume arguments (flattened for a single target, keyed by ID for
// several).
type CollectWaitResults struct {
	Queue store.ProcessQueue
	Waits store.WaitStore
}

func (pr CollectWaitResults) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	cond, err := pr.Waits.GetWait(ctx, p.InstanceID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return next.Process(ctx, p)
		}
		return p, err
	}

	// The event is the capability to consume this wait: it must match
	// whenever the condition names one.
	if event := p.StringHeader(payload.KeyResumeEvent); cond.ResumeEvent != "" && event != cond.ResumeEvent {
		pr.restoreSuspended(ctx, p.InstanceID())
		if event == "" {
			return p, pipeline.Validationf("resume event required, process %s is waiting on one", p.InstanceID())
		}
		return p, pipeline.Validationf("unexpected resume event %q, waiting for %q", event, cond.ResumeEvent)
	}

	if cond.Type != store.WaitProcessCompletion || len(cond.Processes) == 0 {
		return next.Process(ctx, p)
	}

	entries := make(map[uuid.UUID]*store.ProcessEntry, len(cond.Processes))
	for _, id := range cond.Processes {
		entry, err := pr.Queue.Get(ctx, id)
		if err != nil {
			return p, err
		}
		if !entry.Status.IsTerminal() {
			pr.restoreSuspended(ctx, p.InstanceID())
			return p, fmt.Errorf("process %s: target %s is %s: %w", p.InstanceID(), id, entry.Status, ErrWaitUnsatisfied)
		}
		entries[id] = entry
	}

	if err := waiter.Classify(entries, cond.IgnoreFailures); err != nil {
		return p, err
	}

	if cond.CollectOutputs {
		p = p.MergeConfiguration(map[string]interface{}{
			cfgArguments: waiter.ShapeOutputs(entries),
		})
	}

	return next.Process(ctx, p)
}

// restoreSuspended undoes ResumeStarting's transition for rejected
// resumes so the wait condition stays armed. Best effort: a concurrent
// kill may already own the row.
func (pr CollectWaitResults) restoreSuspended(ctx context.Context, id uuid.UUID) {
	_, _ = pr.Queue.UpdateExpectedStatus(ctx, nil, id, store.StatusResuming, store.StatusSuspended)
}
