package processors

import (
	"context"
	"errors"
	"fmt"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/store"
)

// ErrConcurrentResume is returned when a resume request loses the
// SUSPENDED -> RESUMING race. A racing duplicate is rejected rather
// than double-applied.
var ErrConcurrentResume = errors.New("process is not suspended, duplicate resume rejected")

// ResumeStarting performs the first half of the two-step resume
// transition. The CAS makes a duplicate resume signal harmless: only
// the first one observes SUSPENDED.
type ResumeStarting struct {
	Queue store.ProcessQueue
}

func (pr ResumeStarting) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	ok, err := pr.Queue.UpdateExpectedStatus(ctx, nil, p.InstanceID(), store.StatusSuspended, store.StatusResuming)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("process %s: %w", p.InstanceID(), ErrConcurrentResume)
	}

	return next.Process(ctx, p)
}

// ConsumeWait deletes the wait condition. CollectWaitResults already
// validated the event and the targets upstream; consumption happens
// exactly once per suspension because ResumeStarting serialized us.
// The condition's same-step flag is carried into the payload so the
// runner re-enters the step that requested the wait.
type ConsumeWait struct {
	Waits store.WaitStore
}

func (pr ConsumeWait) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	cond, err := pr.Waits.GetWait(ctx, p.InstanceID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Suspended without a wait condition: a plain external
			// resume, nothing to consume.
			return next.Process(ctx, p)
		}
		return p, err
	}

	if cond.ResumeFromSameStep {
		p = p.WithHeader(payload.KeyResumeFromSameStep, true)
	}

	if err := pr.Waits.DeleteWait(ctx, nil, p.InstanceID()); err != nil {
		return p, err
	}

	return next.Process(ctx, p)
}

// ResumeRunning completes the two-step resume transition.
type ResumeRunning struct {
	Queue store.ProcessQueue
}

func (pr ResumeRunning) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	ok, err := pr.Queue.UpdateExpectedStatus(ctx, nil, p.InstanceID(), store.StatusResuming, store.StatusRunning)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("process %s is no longer RESUMING, resume aborted", p.InstanceID())
	}

	return next.Process(ctx, p)
}
