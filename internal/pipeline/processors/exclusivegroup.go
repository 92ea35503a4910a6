package processors

import (
	"context"
	"log/slog"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/store"
)

// ExclusiveGroup enforces the at-most-one-runnable-process invariant
// per (project, group) tuple. The existence check and the resulting
// decision run atomically under a short-lived lock scoped to the group
// namespace; the lock is never held across the rest of the pipeline.
//
// Losing the race is an expected outcome, not a fault: the current
// process is cancelled and the chain stops cleanly.
type ExclusiveGroup struct {
	Queue  store.ProcessQueue
	Locker store.GroupLocker
	Log    *slog.Logger
}

func (pr ExclusiveGroup) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	group := p.StringHeader(payload.KeyExclusiveGroup)
	projectID := p.UUIDHeader(payload.KeyProjectID)

	// The feature is opt-in; processes without a group or project
	// always continue.
	if group == "" || projectID == nil {
		return next.Process(ctx, p)
	}

	cancelled := false
	err := pr.Locker.WithGroupLock(ctx, *projectID, group, func(tx store.DBTransaction) error {
		busy, err := pr.Locker.AnyActiveInGroup(ctx, tx, *projectID, group, p.InstanceID())
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}

		cancelled = true
		return pr.Queue.UpdateStatus(ctx, tx, p.InstanceID(), store.StatusCancelled)
	})
	if err != nil {
		return p, err
	}

	if cancelled {
		pr.Log.Warn("process cancelled, exclusive group is busy",
			"instance_id", p.InstanceID(),
			"project_id", *projectID,
			"group", group)
		return p, nil
	}

	return next.Process(ctx, p)
}
