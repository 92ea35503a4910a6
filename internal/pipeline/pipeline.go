package pipeline

import (
	"context"

	"procplane/internal/payload"
)

// ExceptionProcessor is invoked when a chain faults. It performs the
// pipeline's structured cleanup (marking the queue entry FAILED,
// releasing anything acquired earlier) before the fault is rethrown to
// the caller. It must not swallow the fault.
type ExceptionProcessor interface {
	OnError(ctx context.Context, p payload.Payload, err error)
}

// ExceptionFunc adapts a function to the ExceptionProcessor interface.
type ExceptionFunc func(ctx context.Context, p payload.Payload, err error)

func (f ExceptionFunc) OnError(ctx context.Context, p payload.Payload, err error) {
	f(ctx, p, err)
}

// Pipeline wraps a chain with a name and an exception processor.
type Pipeline struct {
	name    string
	chain   Chain
	onError ExceptionProcessor
}

// New builds a named pipeline. onError may be nil for pipelines with
// no cleanup obligations.
func New(name string, onError ExceptionProcessor, processors ...Processor) *Pipeline {
	return &Pipeline{
		name:    name,
		chain:   NewChain(processors...),
		onError: onError,
	}
}

// Name returns the pipeline's registry name.
func (pl *Pipeline) Name() string {
	return pl.name
}

// Process pushes the payload through the chain. Every fault flows
// through the exception processor exactly once and is then returned to
// the caller; a SuspendSignal is passed through untouched because
// suspension is a normal outcome, not a fault.
func (pl *Pipeline) Process(ctx context.Context, p payload.Payload) (payload.Payload, error) {
	out, err := pl.chain.Process(ctx, p)
	if err == nil {
		return out, nil
	}

	if _, ok := IsSuspend(err); ok {
		return out, err
	}

	if pl.onError != nil {
		pl.onError.OnError(ctx, p, err)
	}
	return p, err
}
