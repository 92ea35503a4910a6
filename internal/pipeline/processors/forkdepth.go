package processors

import (
	"context"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/policy"
	"procplane/internal/store"
)

// ForkDepthPolicy bounds recursive fork depth to stop runaway
// self-forking workflows. The ancestor depth is computed from the
// parent links in the queue table only when a limit is configured.
type ForkDepthPolicy struct {
	Queue store.ProcessQueue
}

func (pr ForkDepthPolicy) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	doc := attachedPolicy(p)
	if doc == nil || doc.ForkDepth == nil {
		return next.Process(ctx, p)
	}

	parent := p.UUIDHeader(payload.KeyParentInstanceID)
	if parent == nil {
		return next.Process(ctx, p)
	}

	result, err := doc.ForkDepth.Check(func() (int, error) {
		depth, err := pr.Queue.ForkDepth(ctx, nil, *parent)
		if err != nil {
			return 0, err
		}
		// The new fork adds one level below its parent.
		return depth + 1, nil
	})
	if err != nil {
		return p, err
	}

	if !result.OK() {
		return p, &policy.ViolationError{Matches: result.Deny}
	}

	return next.Process(ctx, p)
}
