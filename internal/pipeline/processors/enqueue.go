package processors

import (
	"context"
	"fmt"
	"log/slog"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/store"
)

// Enqueue promotes the queue entry NEW -> ENQUEUED once the payload is
// fully resolved and durably staged. The compare-and-swap form rejects
// a replayed pipeline whose entry already moved on.
type Enqueue struct {
	Queue store.ProcessQueue
}

func (pr Enqueue) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	ok, err := pr.Queue.UpdateExpectedStatus(ctx, nil, p.InstanceID(), store.StatusNew, store.StatusEnqueued)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("process %s is no longer NEW, refusing to enqueue", p.InstanceID())
	}

	return next.Process(ctx, p)
}

// Dispatch hands the resolved unit to the external runner and marks it
// STARTING. For asynchronous starts the pipeline returns here;
// completion is reported later through status callbacks.
type Dispatch struct {
	Queue      store.ProcessQueue
	Dispatcher Dispatcher
	Log        *slog.Logger
}

func (pr Dispatch) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	ok, err := pr.Queue.UpdateExpectedStatus(ctx, nil, p.InstanceID(), store.StatusEnqueued, store.StatusStarting)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("process %s is no longer ENQUEUED, refusing to dispatch", p.InstanceID())
	}

	if err := pr.Dispatcher.Dispatch(ctx, p); err != nil {
		return p, fmt.Errorf("failed to dispatch process %s: %w", p.InstanceID(), err)
	}

	pr.Log.Info("process dispatched", "instance_id", p.InstanceID())
	return next.Process(ctx, p)
}

// DispatchResume hands a resumed process back to the runner. The
// process is already RUNNING at this point, so no status transition is
// involved.
type DispatchResume struct {
	Dispatcher Dispatcher
	Log        *slog.Logger
}

func (pr DispatchResume) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	if err := pr.Dispatcher.Dispatch(ctx, p); err != nil {
		return p, fmt.Errorf("failed to dispatch resumed process %s: %w", p.InstanceID(), err)
	}

	pr.Log.Info("process resumed", "instance_id", p.InstanceID(),
		"event", p.StringHeader(payload.KeyResumeEvent))
	return next.Process(ctx, p)
}
