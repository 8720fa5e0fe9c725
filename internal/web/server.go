// Package web serves the local event feed: a WebSocket stream of supervisor
// and watcher events plus a small status API. Bound to loopback by default.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/trellico/trellico/internal/events"
	"github.com/trellico/trellico/internal/logging"
)

// RunStatus reports running process IDs. Satisfied by supervisor.Registry.
type RunStatus interface {
	Running() []string
}

// WatchStatus reports watched folder paths. Satisfied by watch.Registry.
type WatchStatus interface {
	Watched() []string
}

// RunControl cancels running processes. Satisfied by supervisor.Registry.
type RunControl interface {
	Stop(id string)
	StopAll()
}

// Config defines runtime options for the event feed server.
type Config struct {
	ListenAddr string
	Token      string

	// EventsPerSecond rate-limits events forwarded to each client.
	// Zero means 50.
	EventsPerSecond int

	Bus     *events.Bus
	Runs    RunStatus
	Watches WatchStatus

	// Control, when set, enables POST /api/stop.
	Control RunControl
}

// Server wraps an HTTP server for the Trellico event feed.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer creates a new event feed server with base routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:7420"
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 50
	}

	s := &Server{cfg: cfg}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":   true,
			"time": time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/ws/events", s.handleEventsWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived WS handlers to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Open WebSocket connections may still block graceful shutdown. Force
	// close as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}

	return err
}

type statusResponse struct {
	Running []string `json:"running"`
	Watched []string `json:"watched"`
	Clients int      `json:"clients"`
	Time    string   `json:"time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	resp := statusResponse{
		Running: []string{},
		Watched: []string{},
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.cfg.Runs != nil {
		resp.Running = s.cfg.Runs.Running()
	}
	if s.cfg.Watches != nil {
		resp.Watched = s.cfg.Watches.Watched()
	}
	sort.Strings(resp.Running)
	sort.Strings(resp.Watched)
	if s.cfg.Bus != nil {
		resp.Clients = s.cfg.Bus.SubscriberCount()
	}

	writeJSON(w, http.StatusOK, resp)
}

type stopRequest struct {
	// ID of the process to stop; empty stops everything.
	ID string `json:"id"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.Control == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NO_RUN_CONTROL", "process control is not enabled")
		return
	}

	var req stopRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
			return
		}
	}

	// Stop is idempotent; an unknown id is a no-op, so this always succeeds.
	if req.ID == "" {
		s.cfg.Control.StopAll()
	} else {
		s.cfg.Control.Stop(req.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true, "id": req.ID})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ForComponent(logging.CompWeb).Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
