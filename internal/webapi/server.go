// Package webapi serves the vehicle manager's state over HTTP and pushes
// live telemetry to browser clients over a websocket, the same shape the
// diagnostic daemon's original hand-rolled router used.
package webapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/datastore"
	"github.com/baconwaifu/vwdiag/internal/vehicle"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server wires a vehicle.Manager and an optional datastore.Store to an
// HTTP+websocket API. Call Broadcast whenever a vehicle's state changes to
// push it to connected clients.
type Server struct {
	router  *mux.Router
	manager *vehicle.Manager
	store   datastore.Store
	log     *log.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewServer builds a router with the telemetry websocket, REST endpoints
// and a static file handler, ready to be handed to http.ListenAndServe.
func NewServer(manager *vehicle.Manager, store datastore.Store, staticDir string, logger *log.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		manager: manager,
		store:   store,
		log:     logger,
		clients: make(map[*websocket.Conn]bool),
	}

	s.router.HandleFunc("/ws", s.handleWS)
	s.router.HandleFunc("/api/vehicles", s.handleListVehicles).Methods(http.MethodGet)
	s.router.HandleFunc("/api/vehicles/{vin}", s.handleGetVehicle).Methods(http.MethodGet)
	s.router.HandleFunc("/api/vehicles/{vin}/alerts", s.handleGetAlerts).Methods(http.MethodGet)
	s.router.HandleFunc("/api/vehicles/{vin}/telemetry", s.handleGetTelemetry).Methods(http.MethodGet)
	if staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return s
}

// ListenAndServe starts the HTTP server on addr, blocking until it fails.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("webapi: starting server", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("webapi: websocket upgrade failed", "err", err)
		return
	}

	s.mu.Lock()
	s.clients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, ws)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast pushes a telemetry snapshot to every connected websocket
// client, dropping clients whose write fails.
func (s *Server) Broadcast(data *datastore.TelemetryData) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Error("webapi: marshal telemetry failed", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			client.Close()
			delete(s.clients, client)
		}
	}
}

// Close disconnects all websocket clients.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "datastore not configured"})
		return
	}
	vehicles, err := s.store.ListVehicles()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	vin := mux.Vars(r)["vin"]
	v, err := s.manager.GetVehicle(vin)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	vin := mux.Vars(r)["vin"]
	alerts, err := s.manager.DetectAnomalies(vin)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "datastore not configured"})
		return
	}
	vin := mux.Vars(r)["vin"]

	end := time.Now()
	start := end.Add(-1 * time.Hour)
	if q := r.URL.Query().Get("since"); q != "" {
		if d, err := time.ParseDuration(q); err == nil {
			start = end.Add(-d)
		}
	}

	data, err := s.store.GetTelemetry(vin, start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error": %q}`, err.Error())
	}
}
