// Package api exposes the cache and pipeline over a small REST surface.
// The view layer reads these endpoints; it never computes pipeline state or
// quality scores itself.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jordanlewiz/atlas-xray/internal/models"
	"github.com/jordanlewiz/atlas-xray/internal/pipeline"
	"github.com/jordanlewiz/atlas-xray/internal/quality"
	"github.com/jordanlewiz/atlas-xray/internal/store"
)

// PipelineRunner runs the complete pipeline against one page URL and
// returns the final state. Wired in by the serve command.
type PipelineRunner func(r *http.Request, pageURL string) (pipeline.State, error)

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	analyzer *quality.Analyzer
	run      PipelineRunner
	logger   *slog.Logger

	mu        sync.Mutex
	lastState pipeline.State
}

// NewServer creates a new API server. run may be nil when the server is
// cache-read-only.
func NewServer(s store.Store, run PipelineRunner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     s,
		analyzer:  quality.NewAnalyzer(),
		run:       run,
		logger:    logger,
		lastState: pipeline.State{CurrentStage: pipeline.StageIdle},
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/state", s.getState)
	mux.HandleFunc("GET /api/v1/stats", s.getStats)

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("GET /api/v1/projects/{key}", s.getProject)
	mux.HandleFunc("GET /api/v1/projects/{key}/updates", s.listProjectUpdates)
	mux.HandleFunc("GET /api/v1/projects/{key}/history", s.listProjectHistory)

	mux.HandleFunc("GET /api/v1/updates", s.listUpdates)

	mux.HandleFunc("POST /api/v1/scan", s.runScan)
	mux.HandleFunc("POST /api/v1/analyze", s.analyzeText)

	mux.HandleFunc("DELETE /api/v1/cache", s.clearCache)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Pipeline state ---

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	state := s.lastState
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CacheStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) runScan(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		writeError(w, http.StatusNotImplemented, "scanning is not enabled on this server")
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"url\": \"...\"}")
		return
	}

	state, err := s.run(r, req.URL)
	s.mu.Lock()
	s.lastState = state
	s.mu.Unlock()

	if err != nil && state.ProjectsStored == 0 {
		s.logger.Warn("scan run failed", "url", req.URL, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("scan failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// --- Cache reads ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjectSnapshots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if projects == nil {
		projects = []*models.ProjectSnapshot{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProjectSnapshot(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) listProjectUpdates(w http.ResponseWriter, r *http.Request) {
	s.writeUpdates(w, r, r.PathValue("key"))
}

func (s *Server) listUpdates(w http.ResponseWriter, r *http.Request) {
	s.writeUpdates(w, r, "")
}

func (s *Server) writeUpdates(w http.ResponseWriter, r *http.Request, projectKey string) {
	updates, err := s.store.ListProjectUpdates(r.Context(), projectKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if updates == nil {
		updates = []*models.ProjectUpdate{}
	}
	writeJSON(w, http.StatusOK, updates)
}

func (s *Server) listProjectHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListStatusHistory(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*models.StatusHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Analysis ---

func (s *Server) analyzeText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text       string `json:"text"`
		UpdateType string `json:"updateType"`
		State      string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result := s.analyzer.Analyze(req.Text, models.UpdateType(req.UpdateType), req.State)
	writeJSON(w, http.StatusOK, result)
}

// --- Cache lifecycle ---

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearCache(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
