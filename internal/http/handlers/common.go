package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/iago/content-router/internal/domain"
	"github.com/iago/content-router/internal/http/middleware"
	"github.com/iago/content-router/internal/queue"
	"github.com/iago/content-router/internal/service"
)

const (
	defaultMaxBatchItems = 100
	maxBodyBytes         = 8 << 20
)

var errInvalidPayload = errors.New("invalid payload")

type Dependencies struct {
	Router        *service.Router
	Producer      queue.Producer
	Logger        *log.Logger
	MaxBatchItems int
}

type API struct {
	router        *service.Router
	producer      queue.Producer
	logger        *log.Logger
	maxBatchItems int
}

func NewAPI(deps Dependencies) *API {
	if deps.MaxBatchItems <= 0 {
		deps.MaxBatchItems = defaultMaxBatchItems
	}
	return &API{
		router:        deps.Router,
		producer:      deps.Producer,
		logger:        deps.Logger,
		maxBatchItems: deps.MaxBatchItems,
	}
}

// routeRequest is the wire form of one item: content fields at the top
// level next to content_type and options.
type routeRequest struct {
	ID string `json:"id,omitempty"`
	domain.ContentItem
	ContentType string              `json:"content_type,omitempty"`
	Options     domain.RouteOptions `json:"options"`
}

func (req routeRequest) toService() service.RouteRequest {
	return service.RouteRequest{
		Item:        req.ContentItem,
		ContentType: domain.ParseContentType(req.ContentType),
		Options:     req.Options,
	}
}

func (req routeRequest) validate() error {
	if strings.TrimSpace(req.Text) == "" {
		return errors.New("content is required")
	}
	switch req.Options.Priority {
	case "", domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
	default:
		return errors.New("options.priority must be high, medium or low")
	}
	if req.Options.MaxTokens < 0 {
		return errors.New("options.max_tokens must not be negative")
	}
	if t := req.Options.Temperature; t != nil && (*t < 0 || *t > 2) {
		return errors.New("options.temperature must be between 0 and 2")
	}
	return nil
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	return false
}

func (api *API) logf(format string, args ...any) {
	if api.logger == nil {
		return
	}
	api.logger.Printf(format, args...)
}
