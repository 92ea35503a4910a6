package waiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"procplane/internal/store"
	"procplane/internal/store/inmem"
)

func seedProcess(t *testing.T, st *inmem.Store, status store.ProcessStatus) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := st.InsertInitial(context.Background(), nil, &store.ProcessEntry{
		InstanceID: id,
		Kind:       store.KindDefault,
		Initiator:  "test",
	}); err != nil {
		t.Fatalf("failed to seed process: %v", err)
	}
	if status != store.StatusNew {
		if err := st.UpdateStatus(context.Background(), nil, id, status); err != nil {
			t.Fatalf("failed to set status: %v", err)
		}
	}
	return id
}

func TestSuspend(t *testing.T) {
	st := inmem.New()
	parent := seedProcess(t, st, store.StatusRunning)
	child := seedProcess(t, st, store.StatusEnqueued)

	event, err := Suspend(context.Background(), st, st, parent, []uuid.UUID{child}, Options{
		Reason:         "waiting for 1 process",
		CollectOutputs: true,
	})
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if event == "" {
		t.Fatal("expected a generated resume event")
	}

	entry, _ := st.Get(context.Background(), parent)
	if entry.Status != store.StatusSuspended {
		t.Errorf("got status %s, want SUSPENDED", entry.Status)
	}

	cond, err := st.GetWait(context.Background(), parent)
	if err != nil {
		t.Fatalf("wait condition not persisted: %v", err)
	}
	if cond.ResumeEvent != event {
		t.Errorf("persisted event %q, returned %q", cond.ResumeEvent, event)
	}
	if !cond.CollectOutputs {
		t.Error("CollectOutputs not persisted")
	}
	if len(cond.Processes) != 1 || cond.Processes[0] != child {
		t.Errorf("got targets %v", cond.Processes)
	}
}

func TestSuspend_RefusedWhenNotRunning(t *testing.T) {
	st := inmem.New()
	parent := seedProcess(t, st, store.StatusFinished)

	_, err := Suspend(context.Background(), st, st, parent, []uuid.UUID{uuid.New()}, Options{})
	if err == nil {
		t.Fatal("expected suspension of a terminal process to fail")
	}
	if !strings.Contains(err.Error(), "not RUNNING") {
		t.Errorf("got %q", err.Error())
	}

	// The optimistic wait row must not survive a refused suspension:
	// an orphan would keep the watcher polling forever.
	if _, err := st.GetWait(context.Background(), parent); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("orphan wait condition left behind: %v", err)
	}
}

func TestWaitForCompletion(t *testing.T) {
	st := inmem.New()
	child := seedProcess(t, st, store.StatusRunning)

	go func() {
		time.Sleep(20 * time.Millisecond)
		st.SetOutVars(context.Background(), nil, child, map[string]interface{}{"result": "ok"})
		st.UpdateStatus(context.Background(), nil, child, store.StatusFinished)
	}()

	entries, err := WaitForCompletion(context.Background(), st, []uuid.UUID{child}, 5*time.Millisecond, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if entries[child].Status != store.StatusFinished {
		t.Errorf("got status %s, want FINISHED", entries[child].Status)
	}
	if entries[child].OutVars["result"] != "ok" {
		t.Errorf("got out vars %v", entries[child].OutVars)
	}
}

func TestWaitForCompletion_Timeout(t *testing.T) {
	st := inmem.New()
	child := seedProcess(t, st, store.StatusRunning)

	_, err := WaitForCompletion(context.Background(), st, []uuid.UUID{child}, 5*time.Millisecond, 30*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestWaitForCompletion_MissingTarget(t *testing.T) {
	st := inmem.New()

	_, err := WaitForCompletion(context.Background(), st, []uuid.UUID{uuid.New()}, 5*time.Millisecond, time.Second)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want store.ErrNotFound", err)
	}
}

func TestClassify(t *testing.T) {
	okID := uuid.New()
	failedID := uuid.New()
	msg := "Exit code 2"

	entries := map[uuid.UUID]*store.ProcessEntry{
		okID:     {InstanceID: okID, Status: store.StatusFinished},
		failedID: {InstanceID: failedID, Status: store.StatusFailed, ErrorMessage: &msg},
	}

	err := Classify(entries, false)
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("got %v, want *AggregateError", err)
	}
	if len(agg.Failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(agg.Failures))
	}
	f := agg.Failures[0]
	if f.InstanceID != failedID || f.Status != store.StatusFailed || f.Message != msg {
		t.Errorf("got failure %+v", f)
	}
}

func TestClassify_IgnoreFailures(t *testing.T) {
	id := uuid.New()
	entries := map[uuid.UUID]*store.ProcessEntry{
		id: {InstanceID: id, Status: store.StatusCancelled},
	}
	if err := Classify(entries, true); err != nil {
		t.Errorf("ignored failures still surfaced: %v", err)
	}
}

func TestClassify_AllFinished(t *testing.T) {
	id := uuid.New()
	entries := map[uuid.UUID]*store.ProcessEntry{
		id: {InstanceID: id, Status: store.StatusFinished},
	}
	if err := Classify(entries, false); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}

func TestShapeOutputs_SingleTargetFlattens(t *testing.T) {
	id := uuid.New()
	entries := map[uuid.UUID]*store.ProcessEntry{
		id: {InstanceID: id, OutVars: map[string]interface{}{"version": "1.2.3"}},
	}

	out := ShapeOutputs(entries)
	if out["version"] != "1.2.3" {
		t.Errorf("single-target outputs must be flattened, got %v", out)
	}
}

func TestShapeOutputs_MultipleTargetsNest(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	entries := map[uuid.UUID]*store.ProcessEntry{
		a: {InstanceID: a, OutVars: map[string]interface{}{"n": 1}},
		b: {InstanceID: b}, // no out vars reported
	}

	out := ShapeOutputs(entries)
	nested, ok := out[a.String()].(map[string]interface{})
	if !ok || nested["n"] != 1 {
		t.Errorf("got %v", out)
	}
	empty, ok := out[b.String()].(map[string]interface{})
	if !ok || len(empty) != 0 {
		t.Errorf("missing out vars must shape as an empty map, got %v", out[b.String()])
	}
}
