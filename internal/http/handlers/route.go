package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/content-router/internal/domain"
	"github.com/iago/content-router/internal/service"
)

type batchRequest struct {
	Items []routeRequest `json:"items"`
}

type batchResponse struct {
	Results []service.BatchResult `json:"results"`
	Total   int                   `json:"total"`
}

type asyncResponse struct {
	JobID       string `json:"job_id"`
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
}

// Route handles POST /v1/route. Routing failures are reported in the body
// status with a 200; only malformed requests are rejected.
func (api *API) Route(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req routeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, api.router.Route(r.Context(), req.toService()))
}

func (api *API) RouteBatch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "items must not be empty")
		return
	}
	if len(req.Items) > api.maxBatchItems {
		writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("at most %d items per batch", api.maxBatchItems))
		return
	}

	items := make([]service.BatchItem, len(req.Items))
	for i, item := range req.Items {
		if err := item.validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("items[%d]: %v", i, err))
			return
		}
		id := strings.TrimSpace(item.ID)
		if id == "" {
			id = uuid.NewString()
		}
		items[i] = service.BatchItem{ID: id, RouteRequest: item.toService()}
	}

	results := api.router.RouteBatch(r.Context(), items)
	writeJSON(w, http.StatusOK, batchResponse{Results: results, Total: len(results)})
}

func (api *API) RouteAsync(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if api.producer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "queue_unavailable", "async routing is disabled")
		return
	}

	var req routeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	request := req.toService()
	message := domain.RouteMessage{
		JobID:       uuid.NewString(),
		Item:        request.Item,
		ContentType: request.ContentType,
		Options:     request.Options,
		RequestedAt: time.Now().UTC(),
	}
	if err := api.producer.Enqueue(r.Context(), message); err != nil {
		api.logf("enqueue job_id=%s failed: %v", message.JobID, err)
		writeError(w, r, http.StatusServiceUnavailable, "queue_unavailable", "failed to enqueue route request")
		return
	}

	fp := api.router.FingerprintOf(request)
	writeJSON(w, http.StatusAccepted, asyncResponse{
		JobID:       message.JobID,
		Fingerprint: fp,
		Status:      "queued",
		StatusURL:   "/v1/records/" + fp,
	})
}
