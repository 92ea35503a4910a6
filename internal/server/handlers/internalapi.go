package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"procplane/internal/fork"
	"procplane/internal/orchestrator"
	"procplane/internal/pipeline"
	"procplane/internal/store"
	"procplane/pkg/api"
)

// HandleTask handles POST /internal/task, the action-dispatch envelope
// used by the task client from inside running workflows.
func (h *Handlers) HandleTask(w http.ResponseWriter, r *http.Request) {
	var req api.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case api.ActionStart, api.ActionStartExternal:
		h.taskStart(w, r, req)
	case api.ActionFork:
		h.taskFork(w, r, req)
	case api.ActionKill:
		h.taskKill(w, r, req)
	default:
		h.httpError(w, "Unknown action: "+req.Action, http.StatusBadRequest)
	}
}

func (h *Handlers) taskStart(w http.ResponseWriter, r *http.Request, req api.TaskRequest) {
	if req.Start == nil {
		h.httpError(w, "Missing start payload", http.StatusBadRequest)
		return
	}

	start := orchestrator.StartRequest{
		RepoURL:       req.Start.RepoURL,
		CommitID:      req.Start.CommitID,
		CommitBranch:  req.Start.CommitBranch,
		EntryPoint:    req.Start.EntryPoint,
		Configuration: req.Start.Configuration,
	}
	// A calling process lends its scope to the started process.
	if req.InstanceID != "" {
		callerID, err := uuid.Parse(req.InstanceID)
		if err != nil {
			h.httpError(w, "Invalid instance id", http.StatusBadRequest)
			return
		}
		caller, err := h.queue.Get(r.Context(), callerID)
		if err != nil {
			h.httpError(w, "Calling process not found", http.StatusNotFound)
			return
		}
		start.OrgID = caller.OrgID
		start.ProjectID = caller.ProjectID
		start.Initiator = caller.Initiator
	}
	if req.Start.ProjectID != "" {
		id, err := uuid.Parse(req.Start.ProjectID)
		if err != nil {
			h.httpError(w, "Invalid project id", http.StatusBadRequest)
			return
		}
		start.ProjectID = &id
	}

	key, err := h.orch.Start(r.Context(), start)
	if err != nil {
		h.pipelineError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.TaskResponse{InstanceID: key.InstanceID.String()})
}

func (h *Handlers) taskFork(w http.ResponseWriter, r *http.Request, req api.TaskRequest) {
	if req.Fork == nil || req.InstanceID == "" {
		h.httpError(w, "Fork requires an instance id and a fork payload", http.StatusBadRequest)
		return
	}
	parentID, err := uuid.Parse(req.InstanceID)
	if err != nil {
		h.httpError(w, "Invalid instance id", http.StatusBadRequest)
		return
	}

	groups := make([]fork.Group, len(req.Fork.Groups))
	for i, g := range req.Fork.Groups {
		groups[i] = fork.Group{
			Name:          g.Name,
			Instances:     g.Instances,
			Configuration: g.Configuration,
		}
	}

	result, err := h.orch.Fork(r.Context(), orchestrator.ForkRequest{
		ParentID:       parentID,
		Groups:         groups,
		Sync:           req.Fork.Sync,
		Suspend:        req.Fork.Suspend,
		IgnoreFailures: req.Fork.IgnoreFailures,
		CollectOutputs: req.Fork.CollectOutputs,
	})
	if err != nil {
		// A suspending fork signals success: the parent is parked and
		// the response hands the resume event to the task client.
		if _, ok := pipeline.IsSuspend(err); !ok {
			h.pipelineError(w, err)
			return
		}
	}

	resp := api.TaskResponse{
		InstanceIDs: make([]string, len(result.Children)),
		ResumeEvent: result.ResumeEvent,
		Outputs:     result.Outputs,
	}
	for i, k := range result.Children {
		resp.InstanceIDs[i] = k.InstanceID.String()
	}

	h.respondJson(w, http.StatusOK, resp)
}

func (h *Handlers) taskKill(w http.ResponseWriter, r *http.Request, req api.TaskRequest) {
	if req.Kill == nil || len(req.Kill.InstanceIDs) == 0 {
		h.httpError(w, "Kill requires at least one instance id", http.StatusBadRequest)
		return
	}

	ids, err := parseIDs(req.Kill.InstanceIDs)
	if err != nil {
		h.httpError(w, "Invalid instance id", http.StatusBadRequest)
		return
	}

	if err := h.orch.Kill(r.Context(), ids, req.Kill.Sync); err != nil {
		h.pipelineError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.TaskResponse{})
}

// WaitProcesses handles POST /internal/wait: block until the listed
// processes are terminal.
func (h *Handlers) WaitProcesses(w http.ResponseWriter, r *http.Request) {
	var req api.WaitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ids, err := parseIDs(req.InstanceIDs)
	if err != nil {
		h.httpError(w, "Invalid instance id", http.StatusBadRequest)
		return
	}

	entries, err := h.orch.WaitForCompletion(r.Context(), ids, time.Duration(req.Timeout)*time.Second)
	if err != nil {
		h.pipelineError(w, err)
		return
	}

	resp := api.WaitResponse{Entries: make(map[string]api.ProcessResponse, len(entries))}
	for id, entry := range entries {
		resp.Entries[id.String()] = toProcessResponse(entry)
	}

	h.respondJson(w, http.StatusOK, resp)
}

// SuspendProcess handles POST /internal/suspend: persist a wait
// condition for the calling process and release its execution slot.
func (h *Handlers) SuspendProcess(w http.ResponseWriter, r *http.Request) {
	var req api.SuspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	instanceID, err := uuid.Parse(req.InstanceID)
	if err != nil {
		h.httpError(w, "Invalid instance id", http.StatusBadRequest)
		return
	}
	targets, err := parseIDs(req.WaitFor)
	if err != nil {
		h.httpError(w, "Invalid instance id", http.StatusBadRequest)
		return
	}
	if len(targets) == 0 {
		h.httpError(w, "At least one target process is required", http.StatusBadRequest)
		return
	}

	event, err := h.orch.SuspendForCompletion(r.Context(), instanceID, targets, req.IgnoreFailures)
	if err != nil {
		h.pipelineError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.SuspendResponse{ResumeEvent: event})
}

// LeaseUnit handles GET /internal/units/lease: long-poll for the next
// dispatched execution unit. Returns 204 when nothing was dispatched
// within the request's deadline.
func (h *Handlers) LeaseUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := h.units.Lease(r.Context())
	if err != nil {
		h.httpError(w, "Lease failed", http.StatusInternalServerError)
		return
	}
	if unit == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.respondJson(w, http.StatusOK, unit)
}

// StatusCallback handles POST /internal/processes/{id}/status: the
// runner agent reports execution progress. Terminal reports carry the
// process's output variables.
func (h *Handlers) StatusCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid process id", http.StatusBadRequest)
		return
	}

	var req api.StatusCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	status := store.ProcessStatus(req.Status)
	switch status {
	case store.StatusRunning:
		// Only a freshly dispatched or resumed process moves to
		// RUNNING; a concurrent kill must not be overwritten.
		ok, err := h.queue.UpdateExpectedStatus(ctx, nil, id, store.StatusStarting, store.StatusRunning)
		if err != nil {
			h.pipelineError(w, err)
			return
		}
		if !ok {
			h.httpError(w, "Process is not starting", http.StatusConflict)
			return
		}
	case store.StatusFinished, store.StatusFailed, store.StatusTimedOut:
		if len(req.OutVars) > 0 {
			if err := h.queue.SetOutVars(ctx, nil, id, req.OutVars); err != nil {
				h.pipelineError(w, err)
				return
			}
		}
		if req.Error != "" {
			if err := h.queue.SetError(ctx, nil, id, req.Error); err != nil {
				h.pipelineError(w, err)
				return
			}
		}
		ok, err := h.queue.UpdateExpectedStatus(ctx, nil, id, store.StatusRunning, status)
		if err != nil {
			h.pipelineError(w, err)
			return
		}
		if !ok {
			// The process may have been cancelled while executing;
			// report the conflict, the agent gives up on the unit.
			h.httpError(w, "Process is not running", http.StatusConflict)
			return
		}
	default:
		h.httpError(w, "Unsupported status: "+req.Status, http.StatusBadRequest)
		return
	}

	h.respondJson(w, http.StatusOK, nil)
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
