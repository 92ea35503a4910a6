package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"procplane/internal/agent/runtime"
	"procplane/internal/dispatch"
	"procplane/pkg/api"
)

// MockRuntime implements runtime.Runtime for testing.
type MockRuntime struct {
	StartFunc func(ctx context.Context, opts runtime.StartOptions) (runtime.Handle, error)
}

func (m *MockRuntime) Start(ctx context.Context, opts runtime.StartOptions) (runtime.Handle, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, opts)
	}
	return &MockHandle{}, nil
}

// MockHandle implements runtime.Handle for testing.
type MockHandle struct {
	WaitFunc func(ctx context.Context) (runtime.ExitResult, error)
}

func (m *MockHandle) Wait(ctx context.Context) (runtime.ExitResult, error) {
	if m.WaitFunc != nil {
		return m.WaitFunc(ctx)
	}
	return runtime.ExitResult{ExitCode: 0}, nil
}

func (m *MockHandle) Stop(ctx context.Context) error {
	return nil
}

func (m *MockHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

// fakeServer records status callbacks and serves one unit per test.
type fakeServer struct {
	mu        sync.Mutex
	callbacks []api.StatusCallbackRequest
	unit      *dispatch.Unit
	leased    bool
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /internal/units/lease", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.leased || f.unit == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		f.leased = true
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.unit)
	})
	mux.HandleFunc("POST /internal/processes/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var cb api.StatusCallbackRequest
		if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (f *fakeServer) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.callbacks))
	for i, cb := range f.callbacks {
		out[i] = cb.Status
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecute_Success(t *testing.T) {
	workspace := t.TempDir()

	// The runner leaves out variables behind on success.
	outDir := filepath.Join(workspace, stateDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	outVars := `{"result": "ok", "ignored": 42}`
	if err := os.WriteFile(filepath.Join(outDir, "out.json"), []byte(outVars), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := &fakeServer{unit: &dispatch.Unit{
		InstanceID:     uuid.New(),
		Workspace:      workspace,
		EntryPoint:     "main.sh",
		OutExpressions: []string{"result"},
	}}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	a := New(&MockRuntime{}, Config{ServerURL: srv.URL}, testLogger())
	a.execute(context.Background(), *fs.unit)

	statuses := fs.statuses()
	if len(statuses) != 2 || statuses[0] != "RUNNING" || statuses[1] != "FINISHED" {
		t.Fatalf("unexpected status sequence: %v", statuses)
	}

	final := fs.callbacks[1]
	if final.OutVars["result"] != "ok" {
		t.Errorf("expected out var result=ok, got %v", final.OutVars)
	}
	if _, ok := final.OutVars["ignored"]; ok {
		t.Error("expected out vars filtered by expressions")
	}

	// The request file must have been staged for the runner.
	if _, err := os.Stat(filepath.Join(outDir, "request.json")); err != nil {
		t.Errorf("expected request.json in workspace: %v", err)
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	fs := &fakeServer{unit: &dispatch.Unit{
		InstanceID: uuid.New(),
		Workspace:  t.TempDir(),
	}}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	rt := &MockRuntime{
		StartFunc: func(ctx context.Context, opts runtime.StartOptions) (runtime.Handle, error) {
			return &MockHandle{
				WaitFunc: func(ctx context.Context) (runtime.ExitResult, error) {
					return runtime.ExitResult{ExitCode: 2}, nil
				},
			}, nil
		},
	}

	a := New(rt, Config{ServerURL: srv.URL}, testLogger())
	a.execute(context.Background(), *fs.unit)

	statuses := fs.statuses()
	if len(statuses) != 2 || statuses[1] != "FAILED" {
		t.Fatalf("unexpected status sequence: %v", statuses)
	}
	if fs.callbacks[1].Error != "Exit code 2" {
		t.Errorf("unexpected error message: %q", fs.callbacks[1].Error)
	}
}

func TestExecute_RunningRefused(t *testing.T) {
	// A server that rejects every status transition, as it would after
	// a concurrent kill.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	started := false
	rt := &MockRuntime{
		StartFunc: func(ctx context.Context, opts runtime.StartOptions) (runtime.Handle, error) {
			started = true
			return &MockHandle{}, nil
		},
	}

	a := New(rt, Config{ServerURL: srv.URL}, testLogger())
	a.execute(context.Background(), dispatch.Unit{InstanceID: uuid.New(), Workspace: t.TempDir()})

	if started {
		t.Error("expected execution to be dropped when RUNNING transition is refused")
	}
}

func TestRun_LeasesAndExecutes(t *testing.T) {
	fs := &fakeServer{unit: &dispatch.Unit{
		InstanceID: uuid.New(),
		Workspace:  t.TempDir(),
	}}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	a := New(&MockRuntime{}, Config{
		ServerURL:    srv.URL,
		PollInterval: 10 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	deadline := time.After(5 * time.Second)
	for {
		if len(fs.statuses()) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for callbacks, got %v", fs.statuses())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not drain after cancellation")
	}

	statuses := fs.statuses()
	if statuses[0] != "RUNNING" || statuses[1] != "FINISHED" {
		t.Errorf("unexpected status sequence: %v", statuses)
	}
}

func TestLease_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := New(&MockRuntime{}, Config{ServerURL: srv.URL}, testLogger())

	unit, err := a.lease(context.Background())
	if err != nil {
		t.Fatalf("lease failed: %v", err)
	}
	if unit != nil {
		t.Errorf("expected nil unit on 204, got %+v", unit)
	}
}
