package processors

import (
	"context"
	"log/slog"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/store"
)

// Kill cancels a process. Cancellation of a non-terminal process is an
// unconditional transition; it does not interrupt work already
// dispatched to the runner, which observes the new status and stops on
// its own. Killing an already-terminal process is a no-op, and forked
// children are left alone.
type Kill struct {
	Queue store.ProcessQueue
	Log   *slog.Logger
}

func (pr Kill) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	entry, err := pr.Queue.Get(ctx, p.InstanceID())
	if err != nil {
		return p, err
	}

	if entry.Status.IsTerminal() {
		return p, nil
	}

	if err := pr.Queue.UpdateStatus(ctx, nil, p.InstanceID(), store.StatusCancelled); err != nil {
		return p, err
	}

	pr.Log.Info("process cancelled", "instance_id", p.InstanceID(), "was", entry.Status)
	return next.Process(ctx, p)
}
