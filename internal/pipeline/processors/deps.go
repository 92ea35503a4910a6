// Package processors contains the single-responsibility units composed
// into the named pipelines: queue writes, policy enforcement,
// configuration merging, repository staging and dispatch.
package processors

import (
	"context"

	"procplane/internal/payload"
)

// RepositoryResolver fetches a filesystem snapshot of a process's
// source repository. Implementations live outside the orchestration
// core.
type RepositoryResolver interface {
	// Fetch returns a local path containing the repository content for
	// the payload's repo coordinates.
	Fetch(ctx context.Context, p payload.Payload) (string, error)

	// WithLock serializes concurrent fetches of the same repository.
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Dispatcher hands a fully resolved execution unit to the external
// runner. The pipeline's job ends at "dispatched"; completion arrives
// later through asynchronous status callbacks.
type Dispatcher interface {
	Dispatch(ctx context.Context, p payload.Payload) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, p payload.Payload) error

func (f DispatcherFunc) Dispatch(ctx context.Context, p payload.Payload) error {
	return f(ctx, p)
}
