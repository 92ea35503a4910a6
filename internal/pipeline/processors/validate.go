package processors

import (
	"context"

	"github.com/google/uuid"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
)

// Validate rejects malformed submissions before anything is persisted.
type Validate struct{}

func (Validate) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	if p.InstanceID() == uuid.Nil {
		return p, pipeline.Validationf("missing process instance ID")
	}
	if p.ProcessKey().CreatedAt.IsZero() {
		return p, pipeline.Validationf("missing process creation timestamp")
	}

	// A project-scoped exclusive group without a project is a request
	// the exclusive-group protocol cannot honor.
	if group := p.StringHeader(payload.KeyExclusiveGroup); group != "" {
		if p.UUIDHeader(payload.KeyProjectID) == nil {
			return p, pipeline.Validationf("exclusive group %q requires a project", group)
		}
	}

	return next.Process(ctx, p)
}
