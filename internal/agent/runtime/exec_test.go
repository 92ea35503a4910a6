package runtime

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestExecStart_Success(t *testing.T) {
	rt := NewExecRuntime()

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Workspace: t.TempDir(),
		Command:   []string{"echo", "hello"},
		Env:       map[string]string{"PROCPLANE_INSTANCE_ID": "test-instance-123"},
	})

	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if handle == nil {
		t.Fatal("expected handle to be non-nil")
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestExecStart_EmptyCommand(t *testing.T) {
	rt := NewExecRuntime()

	_, err := rt.Start(context.Background(), StartOptions{
		Workspace: t.TempDir(),
		Command:   []string{},
	})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecWait_NonZeroExit(t *testing.T) {
	rt := NewExecRuntime()

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Workspace: t.TempDir(),
		Command:   []string{"/bin/sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestExecStreamLogs(t *testing.T) {
	rt := NewExecRuntime()

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Workspace: t.TempDir(),
		Command:   []string{"/bin/sh", "-c", "echo out; echo err 1>&2"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		t.Fatalf("StreamLogs failed: %v", err)
	}
	output, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("failed to read logs: %v", err)
	}

	if _, err := handle.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	logs := string(output)
	if !strings.Contains(logs, "out") || !strings.Contains(logs, "err") {
		t.Errorf("expected combined stdout/stderr, got %q", logs)
	}
}

func TestExecWait_ContextCancelled(t *testing.T) {
	rt := NewExecRuntime()

	handle, err := rt.Start(context.Background(), StartOptions{
		Workspace: t.TempDir(),
		Command:   []string{"sleep", "60"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer handle.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = handle.Wait(ctx)
	if err == nil {
		t.Fatal("expected error when context expires before exit")
	}
}
