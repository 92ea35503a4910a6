package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateKey is returned when a ProcessKey is inserted twice.
// ProcessKey uniqueness is the basis for idempotent recovery, so a
// duplicate insert is a programming error and must fail loudly.
var ErrDuplicateKey = errors.New("store: duplicate process key")

// ErrNotFound is returned when a process or wait condition does not exist.
var ErrNotFound = errors.New("store: not found")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active
// transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// ProcessQueue is the durable, transactional record of every process.
type ProcessQueue interface {
	// InsertInitial creates the NEW row for a freshly minted ProcessKey.
	// Must be called exactly once per key, before any status transition;
	// a second call returns ErrDuplicateKey.
	InsertInitial(ctx context.Context, tx DBTransaction, entry *ProcessEntry) error

	// UpdateStatus performs an unconditional status transition, used
	// for terminal and administrative moves.
	UpdateStatus(ctx context.Context, tx DBTransaction, instanceID uuid.UUID, status ProcessStatus) error

	// UpdateExpectedStatus is the compare-and-swap primitive. It
	// returns false, without transitioning, when the current status
	// does not match expected. All resume and cancel style transitions
	// go through this form so a racing duplicate is rejected rather
	// than double-applied.
	UpdateExpectedStatus(ctx context.Context, tx DBTransaction, instanceID uuid.UUID, expected, next ProcessStatus) (bool, error)

	// Get returns the queue entry for the given instance, or ErrNotFound.
	Get(ctx context.Context, instanceID uuid.UUID) (*ProcessEntry, error)

	// ForkDepth returns the ancestor depth of the given instance,
	// following parentInstanceID links. A process with no parent has
	// depth 0.
	ForkDepth(ctx context.Context, tx DBTransaction, instanceID uuid.UUID) (int, error)

	// Metrics returns status counts for the given scope and statuses.
	Metrics(ctx context.Context, scope QueueScope, statuses []ProcessStatus) (QueueMetrics, error)

	// SetOutVars records the output variables a process reported on
	// completion, for collection by a resuming waiter.
	SetOutVars(ctx context.Context, tx DBTransaction, instanceID uuid.UUID, vars map[string]interface{}) error

	// SetError records a process's failure message alongside its row.
	SetError(ctx context.Context, tx DBTransaction, instanceID uuid.UUID, msg string) error
}

// GroupLocker serializes exclusive-group admission decisions.
type GroupLocker interface {
	// WithGroupLock runs fn under a short-lived lock scoped to the
	// (projectID, group) namespace. The lock makes the existence-check
	// and the resulting decision atomic against concurrent submissions
	// of the same group; it is never held across the rest of the
	// pipeline.
	WithGroupLock(ctx context.Context, projectID uuid.UUID, group string, fn func(tx DBTransaction) error) error

	// AnyActiveInGroup reports whether any non-terminal entry other
	// than excludeID exists for (projectID, group).
	AnyActiveInGroup(ctx context.Context, tx DBTransaction, projectID uuid.UUID, group string, excludeID uuid.UUID) (bool, error)
}

// WaitStore persists wait conditions for suspended processes.
type WaitStore interface {
	// SaveWait records what instanceID is waiting for. At most one
	// wait condition exists per process; saving replaces any previous.
	SaveWait(ctx context.Context, tx DBTransaction, instanceID uuid.UUID, cond *WaitCondition) error

	// GetWait returns the wait condition for instanceID, or ErrNotFound.
	GetWait(ctx context.Context, instanceID uuid.UUID) (*WaitCondition, error)

	// DeleteWait consumes the wait condition. Deleting a missing
	// condition is not an error; consumption is exactly-once at the
	// status-transition level, not here.
	DeleteWait(ctx context.Context, tx DBTransaction, instanceID uuid.UUID) error

	// ListWaits returns all outstanding wait conditions, keyed by the
	// waiting process. The watcher uses this to re-evaluate waiters.
	ListWaits(ctx context.Context) (map[uuid.UUID]*WaitCondition, error)
}

// OrgStore handles organization records for authentication and
// admission scoping.
type OrgStore interface {
	// CreateOrganization inserts a new organization with its API key hash.
	CreateOrganization(ctx context.Context, org *Organization, hashedKey string) error

	// GetOrganizationByID returns an organization by its ID.
	GetOrganizationByID(ctx context.Context, id uuid.UUID) (*Organization, error)

	// GetOrganizationByAPIKeyHash returns an organization by its API key hash.
	GetOrganizationByAPIKeyHash(ctx context.Context, hash string) (*Organization, error)
}

// TxBeginner starts a database transaction spanning several queue
// operations, typically one pipeline commit.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}
