package api

import (
	"net/http"

	"github.com/ayusman/parallax/internal/registry"
)

// CacheHandler handles HTTP requests for the model cache directory.
type CacheHandler struct {
	registry *registry.Registry
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(r *registry.Registry) *CacheHandler {
	return &CacheHandler{registry: r}
}

type cacheResponse struct {
	Dir       string `json:"dir"`
	SizeBytes int64  `json:"size_bytes"`
}

// ServeHTTP implements the http.Handler interface.
func (h *CacheHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, cacheResponse{
			Dir:       h.registry.CacheDir(),
			SizeBytes: h.registry.CacheSize(),
		})
	case http.MethodDelete:
		h.registry.ClearCache()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
