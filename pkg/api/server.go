package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mxngoc2104/thumbd/pkg/jobstore"
)

// HealthFunc reports whether the job source is reachable
type HealthFunc func() bool

// StatesFunc reports how many workers are in each loop state
type StatesFunc func() map[string]int

// Server exposes health and job status over HTTP
type Server struct {
	store   jobstore.Store
	healthy HealthFunc
	states  StatesFunc
	logger  *slog.Logger
}

// NewServer creates the HTTP handlers
func NewServer(store jobstore.Store, healthy HealthFunc, states StatesFunc, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		healthy: healthy,
		states:  states,
		logger:  logger,
	}
}

// Router returns the routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{job_id}", s.handleJob).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.healthy() {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	body := map[string]interface{}{"status": status}
	if s.states != nil {
		body["workers"] = s.states()
	}
	s.writeJSON(w, code, body)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	rec, ok, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("api: job lookup failed", "job_id", jobID, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "job lookup failed"})
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("api: failed to write response", "err", err)
	}
}
