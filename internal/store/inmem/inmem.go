// Package inmem provides an in-memory store implementation, used by
// tests and single-node development setups.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"procplane/internal/store"

	"github.com/google/uuid"
)

// Store keeps all queue state in process memory. All operations are
// linearized through a single mutex, which is enough to give the same
// atomicity guarantees the SQL statements give in the postgres store.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*store.ProcessEntry
	waits   map[uuid.UUID]*store.WaitCondition

	groupMu groupMutexMap
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[uuid.UUID]*store.ProcessEntry),
		waits:   make(map[uuid.UUID]*store.WaitCondition),
		groupMu: groupMutexMap{mutexes: make(map[string]*sync.Mutex)},
	}
}

// Ping always succeeds, there is no backing connection to verify.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) InsertInitial(ctx context.Context, _ store.DBTransaction, entry *store.ProcessEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.InstanceID]; ok {
		return fmt.Errorf("process %s: %w", entry.InstanceID, store.ErrDuplicateKey)
	}

	cp := *entry
	cp.Status = store.StatusNew
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.LastUpdatedAt = cp.CreatedAt
	s.entries[entry.InstanceID] = &cp

	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, _ store.DBTransaction, instanceID uuid.UUID, status store.ProcessStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[instanceID]
	if !ok {
		return fmt.Errorf("process %s: %w", instanceID, store.ErrNotFound)
	}

	entry.Status = status
	entry.LastUpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateExpectedStatus(ctx context.Context, _ store.DBTransaction, instanceID uuid.UUID, expected, next store.ProcessStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[instanceID]
	if !ok || entry.Status != expected {
		return false, nil
	}

	entry.Status = next
	entry.LastUpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) SetError(ctx context.Context, _ store.DBTransaction, instanceID uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[instanceID]
	if !ok {
		return fmt.Errorf("process %s: %w", instanceID, store.ErrNotFound)
	}

	entry.ErrorMessage = &msg
	return nil
}

func (s *Store) SetOutVars(ctx context.Context, _ store.DBTransaction, instanceID uuid.UUID, vars map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[instanceID]
	if !ok {
		return fmt.Errorf("process %s: %w", instanceID, store.ErrNotFound)
	}

	entry.OutVars = vars
	return nil
}

func (s *Store) Get(ctx context.Context, instanceID uuid.UUID) (*store.ProcessEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[instanceID]
	if !ok {
		return nil, fmt.Errorf("process %s: %w", instanceID, store.ErrNotFound)
	}

	cp := *entry
	return &cp, nil
}

// ForkDepth walks the parent pointers. The walk is bounded by the
// number of stored entries, so a corrupt cycle cannot hang it.
func (s *Store) ForkDepth(ctx context.Context, _ store.DBTransaction, instanceID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth := 0
	current, ok := s.entries[instanceID]
	if !ok {
		return 0, fmt.Errorf("process %s: %w", instanceID, store.ErrNotFound)
	}

	for i := 0; i < len(s.entries) && current.ParentInstanceID != nil; i++ {
		parent, ok := s.entries[*current.ParentInstanceID]
		if !ok {
			break
		}
		depth++
		current = parent
	}

	return depth, nil
}

func (s *Store) Metrics(ctx context.Context, scope store.QueueScope, statuses []store.ProcessStatus) (store.QueueMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[store.ProcessStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	metrics := store.QueueMetrics{CountByStatus: make(map[store.ProcessStatus]int64)}
	for _, entry := range s.entries {
		if !wanted[entry.Status] {
			continue
		}
		if scope.OrgID != nil && (entry.OrgID == nil || *entry.OrgID != *scope.OrgID) {
			continue
		}
		if scope.ProjectID != nil && (entry.ProjectID == nil || *entry.ProjectID != *scope.ProjectID) {
			continue
		}
		metrics.CountByStatus[entry.Status]++
	}

	return metrics, nil
}

// WithGroupLock serializes fn against other callers of the same
// (projectID, group) pair using a keyed mutex.
func (s *Store) WithGroupLock(ctx context.Context, projectID uuid.UUID, group string, fn func(tx store.DBTransaction) error) error {
	key := projectID.String() + "/" + group
	s.groupMu.Lock(key)
	defer s.groupMu.Unlock(key)

	return fn(nil)
}

func (s *Store) AnyActiveInGroup(ctx context.Context, _ store.DBTransaction, projectID uuid.UUID, group string, excludeID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.InstanceID == excludeID || entry.Status.IsTerminal() {
			continue
		}
		if entry.ProjectID == nil || *entry.ProjectID != projectID {
			continue
		}
		if entry.ExclusiveGroup != nil && *entry.ExclusiveGroup == group {
			return true, nil
		}
	}

	return false, nil
}

func (s *Store) SaveWait(ctx context.Context, _ store.DBTransaction, instanceID uuid.UUID, cond *store.WaitCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cond
	cp.Processes = append([]uuid.UUID(nil), cond.Processes...)
	s.waits[instanceID] = &cp
	return nil
}

func (s *Store) GetWait(ctx context.Context, instanceID uuid.UUID) (*store.WaitCondition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cond, ok := s.waits[instanceID]
	if !ok {
		return nil, fmt.Errorf("wait condition for %s: %w", instanceID, store.ErrNotFound)
	}

	cp := *cond
	return &cp, nil
}

func (s *Store) ListWaits(ctx context.Context) (map[uuid.UUID]*store.WaitCondition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waits := make(map[uuid.UUID]*store.WaitCondition, len(s.waits))
	for id, cond := range s.waits {
		cp := *cond
		waits[id] = &cp
	}
	return waits, nil
}

func (s *Store) DeleteWait(ctx context.Context, _ store.DBTransaction, instanceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.waits, instanceID)
	return nil
}

// groupMutexMap hands out one mutex per key, created on demand.
type groupMutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func (m *groupMutexMap) Lock(key string) {
	m.get(key).Lock()
}

func (m *groupMutexMap) Unlock(key string) {
	m.get(key).Unlock()
}

func (m *groupMutexMap) get(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}
