package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"cluster-chaos/internal/logging"
)

// SetupRoutes configures all REST API routes
func (h *RESTHandler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(logging.CorrelationIDMiddleware(h.logger))
	router.Use(logging.LoggingMiddleware(h.logger))
	router.Use(h.CORSMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/actions", h.SubmitAction).Methods(http.MethodPost)
	v1.HandleFunc("/actions", h.ListActions).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{id}", h.GetAction).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{id}", h.CancelAction).Methods(http.MethodDelete)
	v1.HandleFunc("/kinds", h.ListKinds).Methods(http.MethodGet)

	// CORS preflight
	v1.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	if h.metrics != nil {
		router.Handle(h.mpath, h.metrics).Methods(http.MethodGet)
	}
	router.HandleFunc("/", h.RootHandler).Methods(http.MethodGet)

	return router
}

// RootHandler handles requests to the root path
func (h *RESTHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service":     "cluster-chaos",
		"api_version": "v1",
		"endpoints": map[string]string{
			"submit": "POST /api/v1/actions",
			"list":   "GET /api/v1/actions?state={state}&limit={limit}",
			"get":    "GET /api/v1/actions/{id}",
			"cancel": "DELETE /api/v1/actions/{id}",
			"kinds":  "GET /api/v1/kinds",
			"health": "GET /healthz",
		},
	}
	if h.metrics != nil {
		response["metrics"] = h.mpath
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}
