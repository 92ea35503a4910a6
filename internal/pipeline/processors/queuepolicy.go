package processors

import (
	"context"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/policy"
	"procplane/internal/store"
)

// QueueAdmissionPolicy caps the number of concurrently queued and
// running processes globally, per organization and per project. A
// process denied admission never gets past NEW.
type QueueAdmissionPolicy struct {
	Queue store.ProcessQueue
}

func (pr QueueAdmissionPolicy) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	doc := attachedPolicy(p)
	if doc == nil || doc.QueueProcess == nil {
		return next.Process(ctx, p)
	}

	statuses := doc.QueueProcess.CountedStatuses()
	result, err := doc.QueueProcess.Check(
		func(scope store.QueueScope) (store.QueueMetrics, error) {
			return pr.Queue.Metrics(ctx, scope, statuses)
		},
		p.UUIDHeader(payload.KeyOrgID),
		p.UUIDHeader(payload.KeyProjectID),
	)
	if err != nil {
		return p, err
	}

	if !result.OK() {
		return p, &policy.ViolationError{Matches: result.Deny}
	}

	return next.Process(ctx, p)
}
