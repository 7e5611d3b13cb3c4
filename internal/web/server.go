// Package web is the pipeline's admin HTTP surface: the intake boundary's
// override, re-review, deployment-control, and stats operations (spec.md
// §6), plus an SSE event stream and goldmark-rendered solution views.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgepipeline/core/pipeline"
	"github.com/forgepipeline/core/store"
)

// Server is the admin dashboard/API server fronting a pipeline.Manager.
type Server struct {
	manager *pipeline.Manager
	db      store.Store
	logger  *slog.Logger
	server  *http.Server

	sseClients map[chan string]bool
	sseMu      sync.RWMutex
}

// NewServer builds a Server listening on addr, routing through manager and
// db.
func NewServer(manager *pipeline.Manager, db store.Store, addr string) *Server {
	s := &Server{
		manager:    manager,
		db:         db,
		logger:     slog.Default().With("component", "web"),
		sseClients: make(map[chan string]bool),
	}

	r := mux.NewRouter()
	s.routes(r)
	s.server = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) routes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/requests/{id}/queue-triage", s.handleQueueTriage).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/queue-architect", s.handleQueueArchitect).Methods(http.MethodPost)
	api.HandleFunc("/architect-reviews/{id}/approve", s.handleApproveArchitect).Methods(http.MethodPost)
	api.HandleFunc("/architect-reviews/{id}/reject", s.handleRejectArchitect).Methods(http.MethodPost)
	api.HandleFunc("/architect-reviews/{id}/feedback", s.handleFeedbackArchitect).Methods(http.MethodPost)
	api.HandleFunc("/triage-reviews/{id}/override", s.handleOverrideTriage).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/trigger-implementation", s.handleTriggerImplementation).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/reject-implementation", s.handleRejectImplementation).Methods(http.MethodPost)
	api.HandleFunc("/deploy/staged", s.handleDeployStaged).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/retry-deployment", s.handleRetryDeployment).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	api.HandleFunc("/workers/{name}/pause", s.handleWorkerPause).Methods(http.MethodPost)
	api.HandleFunc("/workers/{name}/resume", s.handleWorkerResume).Methods(http.MethodPost)

	api.HandleFunc("/requests/{id}/architect-review", s.handleRenderArchitectReview).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/instructions", s.handleRenderInstructions).Methods(http.MethodGet)

	r.HandleFunc("/events", s.handleSSE).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%s", mustMarshal(v))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
