// Package api exposes the WebSocket endpoints and the JSON control
// plane used by operators and search producers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carscope/carscope/internal/realtime"
	"github.com/carscope/carscope/internal/search"
	"github.com/carscope/carscope/internal/store"
	"github.com/carscope/carscope/internal/task"
)

const defaultCleanupMaxAge = 24 * time.Hour

// Server wires the realtime subsystem and the orchestrator to HTTP.
type Server struct {
	reg     *realtime.Registry
	disp    *realtime.Dispatcher
	handler *realtime.MessageHandler
	orch    *task.Orchestrator
	store   store.Store // nil disables the history endpoints
}

// NewServer creates a Server. st may be nil.
func NewServer(reg *realtime.Registry, disp *realtime.Dispatcher, handler *realtime.MessageHandler, orch *task.Orchestrator, st store.Store) *Server {
	return &Server{
		reg:     reg,
		disp:    disp,
		handler: handler,
		orch:    orch,
		store:   st,
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/ws", s.handleWebSocket)
	r.Get("/ws/{clientID}", s.handleWebSocket)

	r.Post("/ws/search", s.handleStartSearch)
	r.Get("/ws/task/{taskID}/status", s.handleTaskStatus)
	r.Post("/ws/task/{taskID}/cancel", s.handleCancelTask)
	r.Get("/ws/tasks", s.handleListTasks)
	r.Get("/ws/connections", s.handleConnections)
	r.Post("/ws/system/status", s.handleSystemStatus)
	r.Post("/ws/cleanup", s.handleCleanup)
	r.Post("/ws/ping", s.handlePingAll)

	r.Get("/api/searches/recent", s.handleRecentSearches)
	r.Get("/api/listings/recent", s.handleRecentListings)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}

// startSearchRequest is the control-plane request to launch a task.
// client_id, when present, attaches that connection to the new task
// before the first event can fire.
type startSearchRequest struct {
	Query    string `json:"query"`
	ClientID string `json:"client_id,omitempty"`
}

func (s *Server) handleStartSearch(w http.ResponseWriter, r *http.Request) {
	var req startSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	taskID := s.orch.StartSearch(search.Request{Query: req.Query}, clientIP(r))

	if req.ClientID != "" {
		s.reg.SubscribeToTask(req.ClientID, taskID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"task_id": taskID,
		"message": "search task started",
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	snap, ok := s.orch.GetTaskStatus(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"task_status": snap,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if !s.orch.CancelTask(taskID) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "task cancelled",
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := s.orch.ListActiveTasks()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"tasks":       tasks,
		"total_count": len(tasks),
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"active_connections": s.reg.ActiveCount(),
		"connections":        s.reg.AllConnectionsInfo(),
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	s.orch.BroadcastSystemStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "system status broadcast",
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	maxAge := defaultCleanupMaxAge
	if v := r.URL.Query().Get("max_age_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			writeError(w, http.StatusBadRequest, "max_age_hours must be a non-negative integer")
			return
		}
		maxAge = time.Duration(hours) * time.Hour
	}

	cleaned := s.orch.CleanupCompleted(maxAge)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"cleaned_count": cleaned,
		"message":       strconv.Itoa(cleaned) + " finished tasks cleaned up",
	})
}

func (s *Server) handlePingAll(w http.ResponseWriter, _ *http.Request) {
	sent := s.reg.PingAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"sent_count": sent,
	})
}

func (s *Server) handleRecentSearches(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "search history disabled")
		return
	}
	searches, err := s.store.RecentSearches(queryLimit(r))
	if err != nil {
		slog.Error("failed to list recent searches", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list searches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"searches": searches,
	})
}

func (s *Server) handleRecentListings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "listing history disabled")
		return
	}
	listings, err := s.store.RecentListings(queryLimit(r))
	if err != nil {
		slog.Error("failed to list recent listings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"listings": listings,
	})
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// clientIP resolves the peer address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if ip != "" && ip != "unknown" {
			return ip
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" && real != "unknown" {
		return real
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
