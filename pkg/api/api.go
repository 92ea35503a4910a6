// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the task client and the server.
package api

import "time"

// Task actions. Action selection is a single field; this is the only
// wire-level surface the orchestration core keeps stable for workflow
// code.
const (
	ActionStart         = "START"
	ActionStartExternal = "STARTEXTERNAL"
	ActionFork          = "FORK"
	ActionKill          = "KILL"
)

// CreateOrgRequest is the request body for creating an organization.
type CreateOrgRequest struct {
	Name string `json:"name"`
}

// CreateOrgResponse returns the freshly issued API key. The key is
// shown once; only its hash is stored.
type CreateOrgResponse struct {
	ID     string `json:"org_id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// StartProcessRequest is the request body for submitting a process.
type StartProcessRequest struct {
	ProjectID     string                 `json:"project_id,omitempty"`
	RepoID        string                 `json:"repo_id,omitempty"`
	RepoURL       string                 `json:"repo_url,omitempty"`
	CommitID      string                 `json:"commit_id,omitempty"`
	CommitBranch  string                 `json:"commit_branch,omitempty"`
	EntryPoint    string                 `json:"entry_point,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// StartProcessResponse is the response body after submitting a process.
type StartProcessResponse struct {
	InstanceID string `json:"instance_id"`
}

// ForkGroup describes one named group of a fork request.
type ForkGroup struct {
	Name          string                 `json:"name"`
	Instances     int                    `json:"instances,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// ForkProcessRequest is the request body for forking children off a
// running process.
type ForkProcessRequest struct {
	Groups         []ForkGroup `json:"groups"`
	Sync           bool        `json:"sync,omitempty"`
	Suspend        bool        `json:"suspend,omitempty"`
	IgnoreFailures bool        `json:"ignore_failures,omitempty"`
	CollectOutputs bool        `json:"collect_outputs,omitempty"`
}

// ForkProcessResponse reports every assigned child ID; for suspending
// forks it carries the resume event, for blocking forks the shaped
// outputs.
type ForkProcessResponse struct {
	InstanceIDs []string                   `json:"instance_ids"`
	ResumeEvent string                     `json:"resume_event,omitempty"`
	Outputs     map[string]interface{}     `json:"outputs,omitempty"`
	Entries     map[string]ProcessResponse `json:"entries,omitempty"`
}

// ResumeProcessRequest is the request body for resuming a suspended
// process.
type ResumeProcessRequest struct {
	ResumeEvent string `json:"resume_event,omitempty"`
}

// KillProcessRequest cancels one or more processes.
type KillProcessRequest struct {
	InstanceIDs []string `json:"instance_ids"`
	Sync        bool     `json:"sync,omitempty"`
}

// ProcessResponse represents a queue entry in API responses.
type ProcessResponse struct {
	InstanceID       string                 `json:"instance_id"`
	Kind             string                 `json:"kind"`
	ParentInstanceID string                 `json:"parent_instance_id,omitempty"`
	ProjectID        string                 `json:"project_id,omitempty"`
	Status           string                 `json:"status"`
	ExclusiveGroup   string                 `json:"exclusive_group,omitempty"`
	Initiator        string                 `json:"initiator,omitempty"`
	Error            string                 `json:"error,omitempty"`
	OutVars          map[string]interface{} `json:"out_vars,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	LastUpdatedAt    time.Time              `json:"last_updated_at"`
}

// WaitRequest blocks until the listed processes are terminal.
type WaitRequest struct {
	InstanceIDs []string `json:"instance_ids"`
	// Timeout bounds the wait, in seconds. Zero waits indefinitely.
	Timeout int `json:"timeout,omitempty"`
}

// WaitResponse maps each awaited instance ID to its terminal entry.
type WaitResponse struct {
	Entries map[string]ProcessResponse `json:"entries"`
}

// SuspendRequest suspends the calling process until the listed
// processes are terminal.
type SuspendRequest struct {
	InstanceID     string   `json:"instance_id"`
	WaitFor        []string `json:"wait_for"`
	IgnoreFailures bool     `json:"ignore_failures,omitempty"`
}

// SuspendResponse carries the generated resume event name.
type SuspendResponse struct {
	ResumeEvent string `json:"resume_event"`
}

// TaskRequest is the action-dispatch envelope used by the client task
// library from inside running workflows.
type TaskRequest struct {
	Action string `json:"action"`
	// InstanceID identifies the calling process, required for FORK.
	InstanceID string `json:"instance_id,omitempty"`

	// START / STARTEXTERNAL
	Start *StartProcessRequest `json:"start,omitempty"`

	// FORK
	Fork *ForkProcessRequest `json:"fork,omitempty"`

	// KILL
	Kill *KillProcessRequest `json:"kill,omitempty"`
}

// TaskResponse is the action-dispatch reply.
type TaskResponse struct {
	InstanceID  string                 `json:"instance_id,omitempty"`
	InstanceIDs []string               `json:"instance_ids,omitempty"`
	ResumeEvent string                 `json:"resume_event,omitempty"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
}

// StatusCallbackRequest is sent by the runner agent to report a
// process's status change, with output variables on completion.
type StatusCallbackRequest struct {
	Status  string                 `json:"status"`
	Error   string                 `json:"error,omitempty"`
	OutVars map[string]interface{} `json:"out_vars,omitempty"`
}

// MetricsResponse reports queue status counts.
type MetricsResponse struct {
	CountByStatus map[string]int64 `json:"count_by_status"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
