package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// ExecRuntime implements the Runtime interface using raw OS processes.
// The command runs directly in the staged workspace, so it is only
// suitable for single-node and development setups.
type ExecRuntime struct{}

// NewExecRuntime creates a new process-based runtime.
func NewExecRuntime() *ExecRuntime {
	return &ExecRuntime{}
}

// ExecHandle represents a running OS process.
type ExecHandle struct {
	cmd  *exec.Cmd
	logR io.ReadCloser

	waitOnce sync.Once
	waitErr  error
	exitCode int
}

// Start implements Runtime.Start using os/exec. Stdout and stderr are
// combined into a single pipe consumed via StreamLogs.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("exec runtime requires a command")
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Workspace
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	return &ExecHandle{cmd: cmd, logR: pr}, nil
}

// Wait blocks until the process exits.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	done := make(chan struct{})
	go func() {
		h.waitOnce.Do(func() {
			err := h.cmd.Wait()
			h.exitCode = h.cmd.ProcessState.ExitCode()
			if err != nil && h.exitCode < 0 {
				h.waitErr = err
			}
		})
		close(done)
	}()

	select {
	case <-done:
		return ExitResult{ExitCode: h.exitCode, Error: h.waitErr}, h.waitErr
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop terminates the process.
func (h *ExecHandle) Stop(ctx context.Context) error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGKILL)
}

// StreamLogs returns a reader over the combined stdout/stderr pipe.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.logR, nil
}
