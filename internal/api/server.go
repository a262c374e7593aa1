// Package api exposes the daemon's control and observation surface over
// HTTP, plus a websocket stream of reconcile-batch state updates.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/softdim/softdim/internal/config"
	"github.com/softdim/softdim/internal/logger"
	"github.com/softdim/softdim/internal/overlay"
	"github.com/softdim/softdim/internal/scheduler"
	"github.com/softdim/softdim/internal/window"
)

// Server is the HTTP API server.
type Server struct {
	router    *mux.Router
	sched     *scheduler.Scheduler
	configMgr *config.Manager
	windows   window.Provider
	upgrader  websocket.Upgrader
}

// NewServer creates an API server around a scheduler.
func NewServer(sched *scheduler.Scheduler, configMgr *config.Manager, windows window.Provider) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		sched:     sched,
		configMgr: configMgr,
		windows:   windows,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local control surface
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/windows", s.handleWindows).Methods("GET")
	api.HandleFunc("/overlays", s.handleOverlays).Methods("GET")

	api.HandleFunc("/start", s.handleStart).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	api.HandleFunc("/state/stream", s.handleStateStream)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the HTTP server.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("API server starting")
	return http.ListenAndServe(addr, s.enableCORS(s.router))
}

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

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sched.Status())
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.windows.ListVisibleWindows()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, windows)
}

func (s *Server) handleOverlays(w http.ResponseWriter, r *http.Request) {
	overlays := s.sched.Overlays()
	if overlays == nil {
		overlays = []overlay.RecordInfo{}
	}
	writeJSON(w, overlays)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.sched.Start()
	writeJSON(w, s.sched.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.sched.Stop()
	writeJSON(w, s.sched.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.configMgr.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.configMgr.Update(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.configMgr.Get())
}

// handleStateStream upgrades to a websocket and pushes a state snapshot
// after every reconcile batch.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.sched.Subscribe()
	defer s.sched.Unsubscribe(updates)

	initial := scheduler.StateUpdate{
		Status:   s.sched.Status(),
		Overlays: s.sched.Overlays(),
	}
	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	for update := range updates {
		if err := conn.WriteJSON(update); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed, closing stream")
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
