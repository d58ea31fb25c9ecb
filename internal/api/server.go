// Package api exposes the ticket store over HTTP. It is a thin seam:
// request/response marshalling and error mapping only, with all ticket
// semantics living in the store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskforce-io/taskforce/internal/activity"
	"github.com/taskforce-io/taskforce/internal/logring"
	"github.com/taskforce-io/taskforce/internal/store"
	"github.com/taskforce-io/taskforce/pkg/board"
)

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // optional Bearer auth key
}

// Server is the TaskForce REST API server.
type Server struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
	ring   *logring.Ring
	srv    *http.Server
}

// NewServer creates the API server. ring may be nil.
func NewServer(st store.Store, cfg Config, logger *slog.Logger, ring *logring.Ring) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: st, cfg: cfg, logger: logger, ring: ring}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/dashboard", s.requireAuth(s.handleDashboard))
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("POST /api/tickets", s.requireAuth(s.handleCreateTicket))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("PUT /api/tickets/{id}", s.requireAuth(s.handleUpdateTicket))
	mux.HandleFunc("DELETE /api/tickets/{id}", s.requireAuth(s.handleDeleteTicket))
	mux.HandleFunc("GET /api/tickets/{id}/log", s.requireAuth(s.handleGetLog))
	mux.HandleFunc("POST /api/tickets/{id}/log", s.requireAuth(s.handleAppendLog))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleServerLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(s.requestLog(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetDashboardStats(r.Context())
	if err == nil {
		var tickets []*board.Ticket
		tickets, err = s.store.GetAllTickets(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "tickets": tickets})
			return
		}
	}

	// An unreachable or unconfigured backend yields an empty board, not
	// an error, so the UI still renders.
	s.logger.Warn("dashboard degraded", "error", err)
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": board.Stats{
			LastUpdated: time.Now(),
			Agents:      []string{},
		},
		"tickets":       []*board.Ticket{},
		"_storageError": err.Error(),
	})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.store.GetAllTickets(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	if tickets == nil {
		tickets = []*board.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var payload board.CreatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if payload.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}

	ticket, err := s.store.CreateTicket(r.Context(), payload)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ticket": ticket})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.store.GetTicketByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	var payload board.UpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	ticket, err := s.store.UpdateTicket(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTicket(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	text, err := s.store.GetActivityLog(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	resp := map[string]any{"log": text}
	if r.URL.Query().Get("format") == "parsed" {
		resp["lines"] = activity.Parse(text)
	}
	writeJSON(w, http.StatusOK, resp)
}

type appendLogRequest struct {
	Agent   string `json:"agent"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	var req appendLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Agent == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent and message are required"})
		return
	}

	err := s.store.AppendActivityLog(r.Context(), r.PathValue("id"), req.Agent, board.EntryType(req.Type), req.Message, req.Details)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleServerLogs(w http.ResponseWriter, r *http.Request) {
	if s.ring == nil {
		writeJSON(w, http.StatusOK, []logring.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	minLevel := slog.LevelDebug
	switch strings.ToLower(r.URL.Query().Get("level")) {
	case "info":
		minLevel = slog.LevelInfo
	case "warn":
		minLevel = slog.LevelWarn
	case "error":
		minLevel = slog.LevelError
	}

	entries := s.ring.Recent(minLevel, limit)
	if entries == nil {
		entries = []logring.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	case errors.Is(err, store.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
