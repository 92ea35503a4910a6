package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"procplane/internal/fork"
	"procplane/internal/orchestrator"
	"procplane/internal/pipeline"
	"procplane/internal/pipeline/processors"
	"procplane/internal/policy"
	"procplane/internal/server/middleware"
	"procplane/internal/store"
	"procplane/pkg/api"
)

// StartProcess handles POST /processes. The response carries the
// assigned instance ID; for asynchronous starts the process may still
// be STARTING when the caller sees it.
func (h *Handlers) StartProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.StartProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	org, ok := middleware.OrgFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	start := orchestrator.StartRequest{
		OrgID:         &org.ID,
		RepoURL:       req.RepoURL,
		CommitID:      req.CommitID,
		CommitBranch:  req.CommitBranch,
		EntryPoint:    req.EntryPoint,
		Initiator:     org.Name,
		Configuration: req.Configuration,
	}
	if req.ProjectID != "" {
		id, err := uuid.Parse(req.ProjectID)
		if err != nil {
			h.httpError(w, "Invalid project id", http.StatusBadRequest)
			return
		}
		start.ProjectID = &id
	}
	if req.RepoID != "" {
		id, err := uuid.Parse(req.RepoID)
		if err != nil {
			h.httpError(w, "Invalid repo id", http.StatusBadRequest)
			return
		}
		start.RepoID = &id
	}

	key, err := h.orch.Start(ctx, start)
	if err != nil {
		h.pipelineError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.StartProcessResponse{
		InstanceID: key.InstanceID.String(),
	})
}

// GetProcess handles GET /processes/{id}.
func (h *Handlers) GetProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid process id", http.StatusBadRequest)
		return
	}

	entry, err := h.queue.Get(r.Context(), id)
	if err != nil {
		h.httpError(w, "Process not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, toProcessResponse(entry))
}

// ForkProcess handles POST /processes/{id}/fork.
func (h *Handlers) ForkProcess(w http.ResponseWriter, r *http.Request) {
	parentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid process id", http.StatusBadRequest)
		return
	}

	var req api.ForkProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Groups) == 0 {
		h.httpError(w, "At least one fork group is required", http.StatusBadRequest)
		return
	}

	groups := make([]fork.Group, len(req.Groups))
	for i, g := range req.Groups {
		groups[i] = fork.Group{
			Name:          g.Name,
			Instances:     g.Instances,
			Configuration: g.Configuration,
		}
	}

	result, err := h.orch.Fork(r.Context(), orchestrator.ForkRequest{
		ParentID:       parentID,
		Groups:         groups,
		Sync:           req.Sync,
		Suspend:        req.Suspend,
		IgnoreFailures: req.IgnoreFailures,
		CollectOutputs: req.CollectOutputs,
	})
	if err != nil {
		// A suspending fork signals success: the parent is parked and
		// the response carries the resume event.
		if _, ok := pipeline.IsSuspend(err); !ok {
			h.pipelineError(w, err)
			return
		}
	}

	resp := api.ForkProcessResponse{
		InstanceIDs: make([]string, len(result.Children)),
		ResumeEvent: result.ResumeEvent,
		Outputs:     result.Outputs,
	}
	for i, k := range result.Children {
		resp.InstanceIDs[i] = k.InstanceID.String()
	}
	if result.Entries != nil {
		resp.Entries = make(map[string]api.ProcessResponse, len(result.Entries))
		for id, entry := range result.Entries {
			resp.Entries[id.String()] = toProcessResponse(entry)
		}
	}

	h.respondJson(w, http.StatusOK, resp)
}

// ResumeProcess handles POST /processes/{id}/resume.
func (h *Handlers) ResumeProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid process id", http.StatusBadRequest)
		return
	}

	var req api.ResumeProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.orch.Resume(r.Context(), id, req.ResumeEvent); err != nil {
		h.pipelineError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, nil)
}

// KillProcess handles POST /processes/{id}/kill.
func (h *Handlers) KillProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid process id", http.StatusBadRequest)
		return
	}

	if err := h.orch.Kill(r.Context(), []uuid.UUID{id}, false); err != nil {
		h.pipelineError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, nil)
}

// QueueMetrics handles GET /metrics/queue.
func (h *Handlers) QueueMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.queue.Metrics(r.Context(), store.QueueScope{}, store.ActiveStatuses)
	if err != nil {
		h.httpError(w, "Failed to query metrics", http.StatusInternalServerError)
		return
	}

	resp := api.MetricsResponse{CountByStatus: make(map[string]int64, len(metrics.CountByStatus))}
	for status, count := range metrics.CountByStatus {
		resp.CountByStatus[string(status)] = count
	}

	h.respondJson(w, http.StatusOK, resp)
}

// pipelineError maps the fault taxonomy onto HTTP statuses: validation
// to 400, policy violations to 429, missing rows to 404, rejected
// resumes to 409, everything else to 500.
func (h *Handlers) pipelineError(w http.ResponseWriter, err error) {
	var validation *pipeline.ValidationError
	var violation *policy.ViolationError

	switch {
	case errors.As(err, &validation):
		h.httpError(w, validation.Error(), http.StatusBadRequest)
	case errors.As(err, &violation):
		h.httpError(w, violation.Error(), http.StatusTooManyRequests)
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Process not found", http.StatusNotFound)
	case errors.Is(err, processors.ErrConcurrentResume), errors.Is(err, processors.ErrWaitUnsatisfied):
		h.httpError(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("request failed", "err", err)
		h.httpError(w, "Internal error", http.StatusInternalServerError)
	}
}
