// Package server provides the HTTP server for the Parallax feature
// matching service.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/parallax/internal/registry"
	"github.com/ayusman/parallax/internal/server/api"
	"github.com/ayusman/parallax/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Registry  *registry.Registry
	Factory   api.ModelFactory
}

// Server represents the HTTP server for the Parallax application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// Register model API handlers if Store and Registry are configured
	if s.config.Store != nil && s.config.Registry != nil {
		modelsHandler := api.NewModelsHandler(s.config.Store, s.config.Registry, s.config.Factory)
		s.mux.Handle("/api/models", modelsHandler)
		s.mux.Handle("/api/models/", modelsHandler)
	}

	// Device policy and cache endpoints only need the registry
	if s.config.Registry != nil {
		devicesHandler := api.NewDevicesHandler(s.config.Registry)
		s.mux.Handle("/api/devices", devicesHandler)
		s.mux.Handle("/api/devices/", devicesHandler)

		s.mux.Handle("/api/cache", api.NewCacheHandler(s.config.Registry))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
