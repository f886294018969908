package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/fentz26/presencesim/internal/connectors"
	"github.com/fentz26/presencesim/internal/metrics"
	"github.com/fentz26/presencesim/internal/models"
)

// Version is reported by /health. Overridden at build time.
var Version = "dev"

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server provides the HTTP API for presencesim.
type Server struct {
	service *Service
	metrics *metrics.Metrics
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server. m may be nil.
func NewServer(service *Service, m *metrics.Metrics, addr string) *Server {
	return &Server{
		service: service,
		metrics: m,
		addr:    addr,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	route := func(path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, s.metrics.WrapHandler(path, h)).Methods(methods...)
	}

	// Health accepts every method and rejects non-GET itself.
	r.Handle("/health", s.metrics.WrapHandler("/health", http.HandlerFunc(s.handleHealth)))
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// Simulation
	route("/api/status", s.handleStatus, http.MethodGet)
	route("/api/start", s.handleStart, http.MethodPost)
	route("/api/stop", s.handleStop, http.MethodPost)
	route("/api/step", s.handleStep, http.MethodPost)

	// Configuration
	route("/api/config", s.handleGetConfig, http.MethodGet)
	route("/api/config", s.handleUpdateConfig, http.MethodPost)

	// Projections
	route("/api/preview", s.handlePreview, http.MethodGet)
	route("/api/timeline", s.handleTimeline, http.MethodGet)
	route("/api/heatmap", s.handleHeatmap, http.MethodGet)
	route("/api/history", s.handleHistory, http.MethodGet)

	// Home Assistant
	route("/api/entities", s.handleEntities, http.MethodGet)
	route("/api/train", s.handleTrain, http.MethodPost)

	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handlers.CombinedLoggingHandler(os.Stderr, s.Router()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	log.Printf("Starting presencesim daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// --- Simulation Handlers ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Start()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Stop()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Step(r.Context()))
}

// --- Config Handlers ---

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Config())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	cfg, err := s.service.UpdateConfig(patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// --- Projection Handlers ---

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	count, ok := intParam(w, r, "count")
	if !ok {
		return
	}
	actions := s.service.Preview(count)
	if actions == nil {
		actions = []models.PlannedAction{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Timeline())
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	heatmap, err := s.service.Heatmap()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heatmap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	records, err := s.service.History(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []models.ActionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Home Assistant Handlers ---

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.service.Entities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Train(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Helpers ---

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var callErr *connectors.CallError
	switch {
	case errors.Is(err, ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &callErr):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}
