package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/filbertlab/twoverlay/internal/config"
	"github.com/filbertlab/twoverlay/internal/engine"
	"github.com/filbertlab/twoverlay/internal/logger"
	"github.com/filbertlab/twoverlay/internal/overlay"
	"github.com/filbertlab/twoverlay/internal/sched"
	"github.com/filbertlab/twoverlay/internal/window"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// Engine is the control surface the shell drives.
type Engine interface {
	QueryTarget(ctx context.Context) (window.QueryResult, error)
	FocusTarget(ctx context.Context) error
	Boost(ctx context.Context) (window.BoostResult, error)
	Status(ctx context.Context) (engine.Status, error)
	Windows(ctx context.Context) ([]overlay.WindowState, error)
	RegisterWindow(ctx context.Context, key string, h window.Handle) error
	UnregisterWindow(ctx context.Context, key string) error
	ActivateWindow(ctx context.Context, key string) error
	ToggleOverlay(ctx context.Context) (bool, error)
	SetResizing(ctx context.Context, active bool) error
	Config() *config.Config
	Subscribe() chan engine.Event
	Unsubscribe(ch chan engine.Event)
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	engine   Engine
	upgrader websocket.Upgrader

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// NewServer creates a new API server
func NewServer(e Engine) *Server {
	s := &Server{
		router: mux.NewRouter(),
		engine: e,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the shell loads from a file:// origin
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes. They are registered on the root
// router so a method mismatch answers 405 rather than 404.
func (s *Server) setupRoutes() {
	r := s.router

	// Target window
	r.HandleFunc("/api/target", s.handleGetTarget).Methods("GET")
	r.HandleFunc("/api/target/focus", s.handleFocusTarget).Methods("POST")
	r.HandleFunc("/api/target/boost", s.handleBoostTarget).Methods("POST")

	// Managed windows
	r.HandleFunc("/api/windows", s.handleGetWindows).Methods("GET")
	r.HandleFunc("/api/windows", s.handleRegisterWindow).Methods("POST")
	r.HandleFunc("/api/windows/{key}", s.handleUnregisterWindow).Methods("DELETE")
	r.HandleFunc("/api/windows/{key}/focus", s.handleActivateWindow).Methods("POST")

	// Overlay
	r.HandleFunc("/api/overlay/toggle", s.handleToggleOverlay).Methods("POST")
	r.HandleFunc("/api/overlay/resize", s.handleResize).Methods("POST")

	// State
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/config", s.handleGetConfig).Methods("GET")
	r.HandleFunc("/api/events", s.handleEvents)

	// Health check
	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called. It returns nil at once if
// Shutdown already ran.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.http = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully and keeps a later Start from
// listening.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, window.ErrNotFound), errors.Is(err, overlay.ErrUnknownWindow):
		status = http.StatusNotFound
	case errors.Is(err, overlay.ErrAlreadyRegistered):
		status = http.StatusConflict
	case errors.Is(err, window.ErrTransient), errors.Is(err, sched.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var success = map[string]string{"status": "success"}

// HTTP Handlers

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.QueryTarget(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFocusTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.FocusTarget(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleBoostTarget(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Boost(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": res.String()})
}

func (s *Server) handleGetWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.engine.Windows(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

func (s *Server) handleRegisterWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key    string `json:"key"`
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h, err := window.ParseHandle(req.Handle)
	if err != nil || req.Key == "" {
		http.Error(w, "key and a decimal handle are required", http.StatusBadRequest)
		return
	}

	if err := s.engine.RegisterWindow(r.Context(), req.Key, h); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, success)
}

func (s *Server) handleUnregisterWindow(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.engine.UnregisterWindow(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleActivateWindow(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.engine.ActivateWindow(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleToggleOverlay(w http.ResponseWriter, r *http.Request) {
	visible, err := s.engine.ToggleOverlay(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"visible": visible})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.SetResizing(r.Context(), req.Active); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Config())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Subscribe to engine events
	updates := s.engine.Subscribe()
	defer s.engine.Unsubscribe(updates)

	// Send the current status first
	if st, err := s.engine.Status(r.Context()); err == nil {
		if err := conn.WriteJSON(engine.Event{Type: "status", Data: st, Time: time.Now()}); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}

	// Detect client disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}
