package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"

	"cluster-chaos/internal/chaos"
	"cluster-chaos/internal/logging"
)

// RESTHandler serves the action API over an executor
type RESTHandler struct {
	executor *chaos.Executor
	history  *History
	metrics  http.Handler
	mpath    string
	logger   *logging.Logger
	started  time.Time
}

type Option func(*RESTHandler)

// WithHistory persists finished runs so they outlive the process
func WithHistory(h *History) Option {
	return func(r *RESTHandler) { r.history = h }
}

// WithMetrics mounts a Prometheus handler at path, /metrics when empty
func WithMetrics(path string, h http.Handler) Option {
	return func(r *RESTHandler) {
		if path == "" {
			path = "/metrics"
		}
		r.mpath, r.metrics = path, h
	}
}

// NewRESTHandler creates a new REST API handler
func NewRESTHandler(executor *chaos.Executor, logger *logging.Logger, opts ...Option) *RESTHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	h := &RESTHandler{
		executor: executor,
		logger:   logger.WithComponent("api"),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubmitRequest asks for one action. Params are decoded into the action
// type named by Kind; durations may be given as strings like "30s".
type SubmitRequest struct {
	Kind   chaos.Kind             `json:"kind"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type SubmitResponse struct {
	ID    string      `json:"id"`
	Kind  chaos.Kind  `json:"kind"`
	State chaos.State `json:"state"`
}

type ListResponse struct {
	Runs  []RunRecord `json:"runs"`
	Count int         `json:"count"`
}

type KindsResponse struct {
	Kinds []chaos.Kind `json:"kinds"`
}

type HealthResponse struct {
	Healthy       bool   `json:"healthy"`
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Running       int    `json:"running"`
	Timestamp     int64  `json:"timestamp"`
}

// ErrorResponse represents a generic error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// POST /api/v1/actions
func (h *RESTHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Submit request with invalid JSON", "error", err.Error())
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON request", "")
		return
	}
	if req.Kind == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "kind is required", string(chaos.CodeInvalidParameters))
		return
	}

	action, err := chaos.Decode(req.Kind, req.Params)
	if err != nil {
		h.writeActionError(w, err)
		return
	}

	run, err := h.executor.Start(ctx, action)
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "Action submitted", "action_id", run.ID, "kind", run.Kind)

	if h.history != nil {
		// once stored, the run is served from history
		h.history.Track(run, func(id string) { h.executor.Forget(id) })
	}

	w.Header().Set("Location", "/api/v1/actions/"+run.ID)
	h.writeJSONResponse(w, http.StatusAccepted, SubmitResponse{
		ID:    run.ID,
		Kind:  run.Kind,
		State: run.State(),
	})
}

// GET /api/v1/actions/{id}
func (h *RESTHandler) GetAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if run, ok := h.executor.Get(id); ok {
		h.writeJSONResponse(w, http.StatusOK, recordOf(run.Status()))
		return
	}
	if h.history != nil {
		rec, err := h.history.Get(id)
		if err == nil {
			h.writeJSONResponse(w, http.StatusOK, rec)
			return
		}
		if !errors.Is(err, ErrRunNotFound) {
			h.logger.ErrorContext(r.Context(), "Failed to read run history", "action_id", id, "error", err)
			h.writeErrorResponse(w, http.StatusInternalServerError, "history unavailable", "")
			return
		}
	}
	h.writeErrorResponse(w, http.StatusNotFound, "no such action "+id, "")
}

// DELETE /api/v1/actions/{id}
func (h *RESTHandler) CancelAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, ok := h.executor.Get(id)
	if !ok {
		if h.history != nil {
			if rec, err := h.history.Get(id); err == nil {
				h.writeErrorResponse(w, http.StatusConflict, "action already finished", string(rec.State))
				return
			}
		}
		h.writeErrorResponse(w, http.StatusNotFound, "no such action "+id, "")
		return
	}
	if run.State() != chaos.StateRunning {
		h.writeErrorResponse(w, http.StatusConflict, "action already finished", string(run.State()))
		return
	}

	run.Cancel()
	h.logger.InfoContext(r.Context(), "Action cancelled", "action_id", id, "kind", run.Kind)
	h.writeJSONResponse(w, http.StatusAccepted, SubmitResponse{ID: run.ID, Kind: run.Kind, State: run.State()})
}

// GET /api/v1/actions?state={state}&limit={limit}
func (h *RESTHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := chaos.State(query.Get("state"))

	limit := 0
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, "Invalid limit parameter", "")
			return
		}
		limit = n
	}

	seen := make(map[string]bool)
	var records []RunRecord
	for _, run := range h.executor.Runs() {
		seen[run.ID] = true
		records = append(records, recordOf(run.Status()))
	}
	if h.history != nil {
		older, err := h.history.List()
		if err != nil {
			h.logger.WarnContext(r.Context(), "Failed to list run history", "error", err)
		}
		for _, rec := range older {
			if !seen[rec.ID] {
				records = append(records, rec)
			}
		}
		sort.SliceStable(records, func(i, j int) bool { return records[i].StartedAt.After(records[j].StartedAt) })
	}

	filtered := make([]RunRecord, 0, len(records))
	for _, rec := range records {
		if state != "" && rec.State != state {
			continue
		}
		filtered = append(filtered, rec)
		if limit > 0 && len(filtered) == limit {
			break
		}
	}

	h.writeJSONResponse(w, http.StatusOK, ListResponse{Runs: filtered, Count: len(filtered)})
}

// GET /api/v1/kinds
func (h *RESTHandler) ListKinds(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, KindsResponse{Kinds: h.executor.Kinds()})
}

// GET /healthz
func (h *RESTHandler) Health(w http.ResponseWriter, r *http.Request) {
	running := 0
	for _, run := range h.executor.Runs() {
		if run.State() == chaos.StateRunning {
			running++
		}
	}

	h.writeJSONResponse(w, http.StatusOK, HealthResponse{
		Healthy:       true,
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Running:       running,
		Timestamp:     time.Now().Unix(),
	})
}

func (h *RESTHandler) writeActionError(w http.ResponseWriter, err error) {
	var ae *chaos.ActionError
	if errors.As(err, &ae) {
		status := http.StatusUnprocessableEntity
		switch ae.Code {
		case chaos.CodeUnknownAction, chaos.CodeInvalidParameters:
			status = http.StatusBadRequest
		case chaos.CodeActionInProgress:
			status = http.StatusConflict
		}
		h.writeErrorResponse(w, status, err.Error(), string(ae.Code))
		return
	}
	h.logger.WithError(err).Error("Failed to start action")
	h.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "")
}

func (h *RESTHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (h *RESTHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message, reason string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    statusCode,
		Message: http.StatusText(statusCode),
		Reason:  reason,
	})
}

// CORS middleware
func (h *RESTHandler) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
