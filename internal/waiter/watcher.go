package waiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"procplane/internal/store"
)

// ResumeFunc fires the resume pipeline for a process whose wait
// condition is satisfied.
type ResumeFunc func(ctx context.Context, instanceID uuid.UUID, resumeEvent string) error

// Watcher periodically re-evaluates outstanding wait conditions and
// resumes processes whose awaited targets are all terminal. Running
// more than one watcher is safe: the SUSPENDED -> RESUMING CAS inside
// the resume pipeline lets exactly one trigger win.
type Watcher struct {
	Queue    store.ProcessQueue
	Waits    store.WaitStore
	Resume   ResumeFunc
	Interval time.Duration
	Log      *slog.Logger
}

// Run blocks until ctx is done, scanning on a timer.
func (w *Watcher) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	waits, err := w.Waits.ListWaits(ctx)
	if err != nil {
		w.Log.Error("failed to list wait conditions", "err", err)
		return
	}

	for instanceID, cond := range waits {
		if cond.Type != store.WaitProcessCompletion {
			continue
		}

		_, done, err := pollOnce(ctx, w.Queue, cond.Processes)
		if err != nil {
			w.Log.Error("failed to poll awaited processes",
				"instance_id", instanceID, "err", err)
			continue
		}
		if !done {
			continue
		}

		if err := w.Resume(ctx, instanceID, cond.ResumeEvent); err != nil {
			// The resume pipeline already handled bookkeeping for
			// real faults; a lost CAS race just means another watcher
			// or an explicit resume got there first.
			w.Log.Warn("resume attempt did not complete",
				"instance_id", instanceID, "err", err)
		}
	}
}
