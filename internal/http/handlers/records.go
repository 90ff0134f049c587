package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/iago/content-router/internal/repository"
)

type reprocessRequest struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

type reprocessResponse struct {
	Identifier string   `json:"identifier"`
	Updated    []string `json:"updated"`
	Count      int      `json:"count"`
	Error      string   `json:"error,omitempty"`
}

func (api *API) Record(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	fingerprint := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/records/"))
	if fingerprint == "" || strings.Contains(fingerprint, "/") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "fingerprint is required")
		return
	}

	record, err := api.router.Lookup(r.Context(), fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "record not found")
			return
		}
		api.logf("lookup fingerprint=%s failed: %v", fingerprint, err)
		writeError(w, r, http.StatusServiceUnavailable, "storage_unavailable", "failed to load record")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Reprocess flags every record matching identifier. Partial storage
// failures still report the records that were flagged.
func (api *API) Reprocess(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req reprocessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "identifier is required")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "manual"
	}

	updated, err := api.router.ForceReprocess(r.Context(), req.Identifier, req.Reason)
	if err != nil && len(updated) == 0 {
		api.logf("force reprocess identifier=%s failed: %v", req.Identifier, err)
		writeError(w, r, http.StatusServiceUnavailable, "storage_unavailable", "failed to flag records")
		return
	}

	response := reprocessResponse{Identifier: req.Identifier, Updated: updated, Count: len(updated)}
	if response.Updated == nil {
		response.Updated = []string{}
	}
	if err != nil {
		response.Error = "some records could not be persisted"
	}
	writeJSON(w, http.StatusOK, response)
}

func (api *API) Stats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, api.router.Stats())
}
