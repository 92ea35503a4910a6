package waiter

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"procplane/internal/store"
	"procplane/internal/store/inmem"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWatcher_ResumesWhenTargetsTerminal(t *testing.T) {
	st := inmem.New()
	parent := seedProcess(t, st, store.StatusRunning)
	child := seedProcess(t, st, store.StatusRunning)

	event, err := Suspend(context.Background(), st, st, parent, []uuid.UUID{child}, Options{})
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if err := st.UpdateStatus(context.Background(), nil, child, store.StatusFinished); err != nil {
		t.Fatalf("failed to finish child: %v", err)
	}

	var mu sync.Mutex
	resumed := map[uuid.UUID]string{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &Watcher{
		Queue:    st,
		Waits:    st,
		Interval: 5 * time.Millisecond,
		Log:      discardLogger(),
		Resume: func(ctx context.Context, instanceID uuid.UUID, resumeEvent string) error {
			mu.Lock()
			resumed[instanceID] = resumeEvent
			mu.Unlock()
			// The real resume pipeline consumes the wait condition.
			st.DeleteWait(ctx, nil, instanceID)
			cancel()
			return nil
		},
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never resumed the process")
	}

	mu.Lock()
	defer mu.Unlock()
	if resumed[parent] != event {
		t.Errorf("got resume event %q, want %q", resumed[parent], event)
	}
}

func TestWatcher_DoesNotResumeWhileRunning(t *testing.T) {
	st := inmem.New()
	parent := seedProcess(t, st, store.StatusRunning)
	child := seedProcess(t, st, store.StatusRunning)

	if _, err := Suspend(context.Background(), st, st, parent, []uuid.UUID{child}, Options{}); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	resumed := make(chan uuid.UUID, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w := &Watcher{
		Queue:    st,
		Waits:    st,
		Interval: 5 * time.Millisecond,
		Log:      discardLogger(),
		Resume: func(ctx context.Context, instanceID uuid.UUID, resumeEvent string) error {
			resumed <- instanceID
			return nil
		},
	}
	w.Run(ctx)

	select {
	case id := <-resumed:
		t.Errorf("process %s resumed while its target was still running", id)
	default:
	}
}
