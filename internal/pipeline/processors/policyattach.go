package processors

import (
	"context"
	"fmt"
	"os"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
	"procplane/internal/policy"
)

// AttachPolicy resolves the org/project policy document and carries it
// on the payload for the enforcement processors downstream. No
// document means no policy applies.
type AttachPolicy struct {
	Source policy.Source
}

func (pr AttachPolicy) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	doc, err := pr.Source.Get(ctx, p.UUIDHeader(payload.KeyOrgID), p.UUIDHeader(payload.KeyProjectID))
	if err != nil {
		return p, fmt.Errorf("failed to resolve policy: %w", err)
	}
	if doc == nil {
		return next.Process(ctx, p)
	}

	return next.Process(ctx, p.WithHeader(payload.KeyPolicy, doc))
}

// attachedPolicy returns the policy carried on the payload, if any.
func attachedPolicy(p payload.Payload) *policy.Document {
	if v, ok := p.Header(payload.KeyPolicy); ok {
		if doc, ok := v.(*policy.Document); ok {
			return doc
		}
	}
	return nil
}

// RawPayloadSizePolicy enforces the payload-size rule against the
// staged attachments.
type RawPayloadSizePolicy struct{}

func (RawPayloadSizePolicy) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	doc := attachedPolicy(p)
	if doc == nil || doc.RawPayloadSize == nil {
		return next.Process(ctx, p)
	}

	var total int64
	for name, path := range p.Attachments() {
		info, err := os.Stat(path)
		if err != nil {
			return p, fmt.Errorf("failed to stat attachment %q: %w", name, err)
		}
		total += info.Size()
	}

	if result := doc.RawPayloadSize.Check(total); !result.OK() {
		return p, &policy.ViolationError{Matches: result.Deny}
	}

	return next.Process(ctx, p)
}
