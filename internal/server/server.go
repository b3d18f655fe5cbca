// Package server exposes the recorder's control API over HTTP and mounts the
// websocket hub that remote contexts connect to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vincentbai/browsetrace-recorder/internal/coordinator"
	"github.com/vincentbai/browsetrace-recorder/internal/database"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
)

// Sessions is the coordinator surface the API drives.
type Sessions interface {
	StartSession(ctx context.Context, req protocol.StartSessionRequest, origin string) (string, error)
	Stop(ctx context.Context) (protocol.StopSessionResponse, error)
	GetState(ctx context.Context, requester string) (protocol.RecordingState, error)
	Capture(ctx context.Context, sessionID string, events []models.InteractionEvent) error
}

type Server struct {
	db       *database.Database
	sessions Sessions
	hub      http.Handler
	address  string
	logger   *slog.Logger
	server   *http.Server
}

// NewServer wires the API. hub may be nil when no remote contexts are served.
func NewServer(db *database.Database, sessions Sessions, hub http.Handler, address string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:       db,
		sessions: sessions,
		hub:      hub,
		address:  address,
		logger:   logger,
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("server: write response", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	id, err := s.sessions.StartSession(r.Context(), req, r.URL.Query().Get("context"))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, protocol.StartSessionResponse{SessionID: id})
	case errors.Is(err, coordinator.ErrUserAborted):
		s.writeJSON(w, http.StatusOK, protocol.StartSessionResponse{Aborted: true})
	case errors.Is(err, coordinator.ErrSessionActive):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, coordinator.ErrConfigurationInvalid):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Reason: coordinator.ReasonInvalid})
	default:
		s.logger.Warn("server: start session", "error", err)
		s.writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Reason: coordinator.Reason(err)})
	}
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.sessions.Stop(r.Context())
	if err != nil {
		s.logger.Warn("server: stop session", "session_id", resp.SessionID, "error", err)
		s.writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.GetState(r.Context(), r.URL.Query().Get("context"))
	if err != nil {
		s.logger.Error("server: get state", "error", err)
		http.Error(w, "Failed to load state", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var batch models.Batch
	if err := json.NewDecoder(request.Body).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(batch.Events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	for i, event := range batch.Events {
		if err := s.db.ValidateEvent(event); err != nil {
			s.logger.Warn("server: invalid event", "index", i, "error", err)
			http.Error(w, "Failed to store events", http.StatusInternalServerError)
			return
		}
	}
	if err := s.sessions.Capture(request.Context(), batch.SessionID, batch.Events); err != nil {
		if errors.Is(err, coordinator.ErrNoActiveSession) {
			http.Error(w, "No recording session", http.StatusConflict)
			return
		}
		s.logger.Error("server: capture events", "session_id", batch.SessionID, "error", err)
		http.Error(w, "Failed to store events", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent) // success, no body
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.Recording(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("server: load recording", "error", err)
		http.Error(w, "Failed to load recording", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) setupRoutes() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealthz)
	router.Post("/sessions", s.handleStartSession)
	router.Post("/sessions/stop", s.handleStopSession)
	router.Get("/state", s.handleState)
	router.Post("/events", s.handleEvents)
	router.Get("/recordings/{sessionID}", s.handleRecording)
	router.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		router.Get("/ws", s.hub.ServeHTTP)
	}
	return router
}

func (s *Server) Start() error {
	router := s.setupRoutes()
	s.server = &http.Server{
		Addr:        s.address,
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: /ws connections and starts that wait on the user
		// outlive any fixed bound.
	}

	// Graceful shutdown
	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server: browsetrace recorder listening", "address", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-shutdownChannel:
	case err := <-errc:
		return err
	}
	s.logger.Info("server: shutting down")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return err
	}

	s.logger.Info("server: exited")
	return nil
}
