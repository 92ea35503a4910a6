// Package handlers contains HTTP handlers for the API server.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"procplane/internal/dispatch"
	"procplane/internal/orchestrator"
	"procplane/internal/store"
	"procplane/pkg/api"
)

// Pinger reports backing-store connectivity for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	orch   *orchestrator.Orchestrator
	queue  store.ProcessQueue
	orgs   store.OrgStore
	units  *dispatch.Buffer
	pinger Pinger
	log    *slog.Logger
}

// New creates a Handlers instance.
func New(orch *orchestrator.Orchestrator, orgs store.OrgStore, units *dispatch.Buffer, pinger Pinger, log *slog.Logger) *Handlers {
	return &Handlers{
		orch:   orch,
		queue:  orch.Queue(),
		orgs:   orgs,
		units:  units,
		pinger: pinger,
		log:    log,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// toProcessResponse projects a queue entry into its API shape.
func toProcessResponse(entry *store.ProcessEntry) api.ProcessResponse {
	resp := api.ProcessResponse{
		InstanceID:    entry.InstanceID.String(),
		Kind:          string(entry.Kind),
		Status:        string(entry.Status),
		Initiator:     entry.Initiator,
		OutVars:       entry.OutVars,
		CreatedAt:     entry.CreatedAt,
		LastUpdatedAt: entry.LastUpdatedAt,
	}
	if entry.ParentInstanceID != nil {
		resp.ParentInstanceID = entry.ParentInstanceID.String()
	}
	if entry.ProjectID != nil {
		resp.ProjectID = entry.ProjectID.String()
	}
	if entry.ExclusiveGroup != nil {
		resp.ExclusiveGroup = *entry.ExclusiveGroup
	}
	if entry.ErrorMessage != nil {
		resp.Error = *entry.ErrorMessage
	}
	return resp
}
