// Package pipeline implements the chain-of-responsibility that
// assembles process start, fork, resume and kill requests into fully
// resolved execution units. Pipelines are composed once at startup
// from an explicit ordered list of processors; there is no runtime
// registry lookup inside a request.
package pipeline

import (
	"context"

	"procplane/internal/payload"
)

// Chain is the remainder of a pipeline as seen from one processor.
type Chain interface {
	Process(ctx context.Context, p payload.Payload) (payload.Payload, error)
}

// Processor is a single-responsibility pipeline step. It receives the
// remaining chain and decides whether to continue (call next), return
// without calling next (short-circuit), or return an error (fault).
// Processors hold no per-invocation state; everything lives in the
// payload.
type Processor interface {
	Process(ctx context.Context, next Chain, p payload.Payload) (payload.Payload, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, next Chain, p payload.Payload) (payload.Payload, error)

func (f ProcessorFunc) Process(ctx context.Context, next Chain, p payload.Payload) (payload.Payload, error) {
	return f(ctx, next, p)
}

// chain walks an ordered processor list. Each step sees the tail of
// the list as its next chain, so a step that never calls next stops
// the walk cleanly.
type chain struct {
	processors []Processor
	index      int
}

// NewChain composes processors into a Chain.
func NewChain(processors ...Processor) Chain {
	return &chain{processors: processors}
}

func (c *chain) Process(ctx context.Context, p payload.Payload) (payload.Payload, error) {
	if c.index >= len(c.processors) {
		return p, nil
	}
	next := &chain{processors: c.processors, index: c.index + 1}
	return c.processors[c.index].Process(ctx, next, p)
}
