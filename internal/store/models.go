// Package store contains the database layer for procplane.
package store

import (
	"time"

	"github.com/google/uuid"
)

// ProcessStatus represents the state of a process in the queue.
type ProcessStatus string

const (
	StatusNew       ProcessStatus = "NEW"
	StatusEnqueued  ProcessStatus = "ENQUEUED"
	StatusStarting  ProcessStatus = "STARTING"
	StatusRunning   ProcessStatus = "RUNNING"
	StatusResuming  ProcessStatus = "RESUMING"
	StatusSuspended ProcessStatus = "SUSPENDED"
	StatusFinished  ProcessStatus = "FINISHED"
	StatusFailed    ProcessStatus = "FAILED"
	StatusCancelled ProcessStatus = "CANCELLED"
	StatusTimedOut  ProcessStatus = "TIMED_OUT"
)

// IsTerminal reports whether the status is final. Terminal rows are
// retained for audit and never transition again.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// ActiveStatuses is the set of non-terminal statuses, used by admission
// and exclusive-group queries.
var ActiveStatuses = []ProcessStatus{
	StatusNew, StatusEnqueued, StatusStarting,
	StatusRunning, StatusResuming, StatusSuspended,
}

// ProcessKind distinguishes how a process entered the queue.
type ProcessKind string

const (
	KindDefault ProcessKind = "DEFAULT"
	KindFork    ProcessKind = "FORK"
)

// ProcessKey is the globally unique identity of one process instance.
// It is assigned once, when the process is first enqueued or forked,
// and never reused.
type ProcessKey struct {
	InstanceID uuid.UUID
	CreatedAt  time.Time
}

// NewProcessKey mints a fresh identity.
func NewProcessKey() ProcessKey {
	return ProcessKey{
		InstanceID: uuid.New(),
		CreatedAt:  time.Now().UTC(),
	}
}

// ProcessEntry is the durable projection of a process: one row per
// ProcessKey, mutated only through status transitions.
type ProcessEntry struct {
	InstanceID       uuid.UUID
	Kind             ProcessKind
	ParentInstanceID *uuid.UUID
	OrgID            *uuid.UUID
	ProjectID        *uuid.UUID
	RepoID           *uuid.UUID
	RepoURL          *string
	RepoPath         *string
	CommitID         *string
	CommitBranch     *string
	Initiator        string
	Status           ProcessStatus
	ExclusiveGroup   *string
	Tags             []string
	ErrorMessage     *string
	OutVars          map[string]interface{}
	CreatedAt        time.Time
	LastUpdatedAt    time.Time
}

// WaitType classifies what a suspended process is waiting for.
type WaitType string

// WaitProcessCompletion waits for a set of processes to reach a
// terminal status.
const WaitProcessCompletion WaitType = "PROCESS_COMPLETION"

// WaitCondition is the persisted record of what a suspended process is
// waiting for and how to resume it. Created on suspension, consumed
// (deleted) exactly once on resume.
type WaitCondition struct {
	Type               WaitType    `json:"type"`
	Reason             string      `json:"reason"`
	Processes          []uuid.UUID `json:"processes"`
	ResumeEvent        string      `json:"resumeEvent"`
	IgnoreFailures     bool        `json:"ignoreFailures,omitempty"`
	CollectOutputs     bool        `json:"collectOutputs,omitempty"`
	ResumeFromSameStep bool        `json:"resumeFromSameStep,omitempty"`
}

// QueueScope narrows an aggregate count query. Nil fields mean "all".
type QueueScope struct {
	OrgID     *uuid.UUID
	ProjectID *uuid.UUID
}

// QueueMetrics holds status counts for one scope, as consumed by the
// queue admission policy.
type QueueMetrics struct {
	CountByStatus map[ProcessStatus]int64
}

// Total sums the counts over the given statuses.
func (m QueueMetrics) Total(statuses ...ProcessStatus) int64 {
	var n int64
	for _, s := range statuses {
		n += m.CountByStatus[s]
	}
	return n
}

// Organization is an authenticated submitter of processes. Queue
// admission limits can be scoped by OrgID.
type Organization struct {
	ID             uuid.UUID
	Name           string
	RateLimit      int
	RateLimitBurst int
	CreatedAt      time.Time
}
