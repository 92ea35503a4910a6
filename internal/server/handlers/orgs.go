package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"procplane/internal/auth"
	"procplane/internal/store"
	"procplane/pkg/api"
)

// CreateOrganization handles POST /orgs. The generated API key is
// returned exactly once; only its hash is persisted.
func (h *Handlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req api.CreateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}

	key, err := auth.GenerateKey()
	if err != nil {
		h.httpError(w, "Failed to generate API key", http.StatusInternalServerError)
		return
	}

	org := &store.Organization{
		ID:        uuid.New(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.orgs.CreateOrganization(r.Context(), org, auth.HashKey(key)); err != nil {
		h.httpError(w, "Failed to create organization", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.CreateOrgResponse{
		ID:     org.ID.String(),
		Name:   org.Name,
		APIKey: key,
	})
}
