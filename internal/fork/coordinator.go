// Package fork implements bounded-concurrency fan-out for forking
// child processes. One coordinator with one fixed-size worker pool is
// created at startup and shared by every fork request; a fork-many
// request can never create unbounded goroutines.
package fork

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"procplane/internal/store"
)

// Group is one named fork group of a fork request.
type Group struct {
	// Name identifies the group inside the parent's request.
	Name string
	// Instances is how many children the group starts (minimum 1).
	Instances int
	// Configuration is layered over the parent's configuration for
	// each child of the group.
	Configuration map[string]interface{}
}

// Submission starts one child process and returns its assigned key.
// The coordinator treats submission and completion separately: a
// submission is done once the child is enqueued, not once it finishes.
type Submission func(ctx context.Context, group Group, instance int) (store.ProcessKey, error)

// Future is the handle for one child submission.
type Future struct {
	done chan struct{}
	key  store.ProcessKey
	err  error
}

// Wait blocks until the submission finished or ctx is done.
func (f *Future) Wait(ctx context.Context) (store.ProcessKey, error) {
	select {
	case <-f.done:
		return f.key, f.err
	case <-ctx.Done():
		return store.ProcessKey{}, ctx.Err()
	}
}

type task struct {
	run    func() (store.ProcessKey, error)
	future *Future
}

// Coordinator owns the worker pool. The queue in front of the pool is
// unbounded, so Submit never blocks the caller; only execution is
// bounded.
type Coordinator struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []task
	closed  bool
	wg      sync.WaitGroup
	workers int
}

// NewCoordinator starts a coordinator with a fixed number of workers.
func NewCoordinator(workers int) *Coordinator {
	if workers <= 0 {
		workers = 1
	}

	c := &Coordinator{workers: workers}
	c.cond = sync.NewCond(&c.mu)

	c.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go c.worker()
	}

	return c
}

// Close stops accepting work and waits for in-flight tasks to drain.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Coordinator) worker() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 && c.closed {
			c.mu.Unlock()
			return
		}
		t := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		t.future.key, t.future.err = t.run()
		close(t.future.done)
	}
}

// Submit queues one child submission and returns its future.
func (c *Coordinator) Submit(run func() (store.ProcessKey, error)) (*Future, error) {
	f := &Future{done: make(chan struct{})}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("fork coordinator is closed")
	}
	c.queue = append(c.queue, task{run: run, future: f})
	c.cond.Signal()

	return f, nil
}

// StartChildren dispatches every child of every group to the pool and
// waits for all submissions. The caller always learns every assigned
// child key, even under partial failure: results are collected from
// all futures first, and only then is any failure surfaced, as one
// aggregate error.
func (c *Coordinator) StartChildren(ctx context.Context, groups []Group, submit Submission) ([]store.ProcessKey, error) {
	var futures []*Future
	var meta []string

	for _, g := range groups {
		instances := g.Instances
		if instances < 1 {
			instances = 1
		}
		for i := 0; i < instances; i++ {
			g, i := g, i
			f, err := c.Submit(func() (store.ProcessKey, error) {
				return submit(ctx, g, i)
			})
			if err != nil {
				return nil, err
			}
			futures = append(futures, f)
			meta = append(meta, fmt.Sprintf("%s[%d]", g.Name, i))
		}
	}

	var keys []store.ProcessKey
	var errs []error
	for i, f := range futures {
		key, err := f.Wait(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("child %s: %w", meta[i], err))
			continue
		}
		keys = append(keys, key)
	}

	if len(errs) > 0 {
		return keys, fmt.Errorf("%d of %d child submissions failed: %w",
			len(errs), len(futures), errors.Join(errs...))
	}

	return keys, nil
}
