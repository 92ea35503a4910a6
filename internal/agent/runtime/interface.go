// Package runtime provides the Runtime interface for process execution
// backends.
package runtime

import (
	"context"
	"io"
)

// Runtime defines the interface for executing process workspaces.
// Implementations include raw process execution, Docker containers and
// Kubernetes Jobs.
type Runtime interface {
	// Start begins execution and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting an execution.
type StartOptions struct {
	// Workspace is the staged process directory on the host.
	Workspace string
	// Image is the container image, ignored by the exec runtime.
	Image   string
	Command []string
	Env     map[string]string
}

// ExitResult reports how an execution ended.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running execution.
type Handle interface {
	// Wait blocks until the execution completes.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the execution.
	Stop(ctx context.Context) error

	// StreamLogs returns a follow reader for stdout/stderr.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}
