// Package api provides HTTP API handlers for the Parallax feature
// matching service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/parallax/internal/model"
	"github.com/ayusman/parallax/internal/registry"
	"github.com/ayusman/parallax/internal/store"
)

// ModelFactory builds an unloaded model instance for a model type.
type ModelFactory func(t model.Type) (model.Model, error)

// ModelsHandler handles HTTP requests for model resources.
type ModelsHandler struct {
	store    *store.Store
	registry *registry.Registry
	factory  ModelFactory
}

// NewModelsHandler creates a new ModelsHandler.
func NewModelsHandler(s *store.Store, r *registry.Registry, factory ModelFactory) *ModelsHandler {
	return &ModelsHandler{store: s, registry: r, factory: factory}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/models, /api/models/{name},
	// /api/models/{name}/load and /api/models/{name}/unload
	path := strings.TrimPrefix(r.URL.Path, "/api/models")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		// Collection endpoint: /api/models
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if name, ok := strings.CutSuffix(path, "/load"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.load(w, r, name)
		return
	}
	if name, ok := strings.CutSuffix(path, "/unload"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.unload(w, r, name)
		return
	}

	// Item endpoint: /api/models/{name}
	name := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, name)
	case http.MethodPut:
		h.update(w, r, name)
	case http.MethodDelete:
		h.delete(w, r, name)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request and response types

type createModelRequest struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	ModelPath string            `json:"model_path"`
	Backend   string            `json:"backend"`
	Device    string            `json:"device"`
	Params    map[string]string `json:"params"`
	Enabled   bool              `json:"enabled"`
}

type updateModelRequest struct {
	ModelPath string            `json:"model_path"`
	Backend   string            `json:"backend"`
	Device    string            `json:"device"`
	Params    map[string]string `json:"params"`
	Enabled   *bool             `json:"enabled"`
}

type modelResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	ModelPath string            `json:"model_path"`
	Backend   string            `json:"backend"`
	Device    string            `json:"device"`
	Params    map[string]string `json:"params,omitempty"`
	Enabled   bool              `json:"enabled"`
	Loaded    bool              `json:"loaded"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

type listModelsResponse struct {
	Models []modelResponse `json:"models"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// toResponse converts a store.ModelRecord to a modelResponse, filling
// the live loaded state from the registry.
func (h *ModelsHandler) toResponse(m *store.ModelRecord) modelResponse {
	return modelResponse{
		ID:        m.ID,
		Name:      m.Name,
		Type:      string(m.Type),
		ModelPath: m.ModelPath,
		Backend:   m.Backend.String(),
		Device:    m.Device.String(),
		Params:    m.Params,
		Enabled:   m.Enabled,
		Loaded:    h.registry.IsModelLoaded(m.Name),
		CreatedAt: m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: m.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// validTypes enumerates the model types accepted by the API.
var validTypes = map[model.Type]bool{
	model.TypeSuperPointDetector: true,
	model.TypeDISKDetector:       true,
	model.TypeSuperGlueMatcher:   true,
	model.TypeLoFTRMatcher:       true,
}

// list handles GET /api/models and returns all model definitions.
func (h *ModelsHandler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Models().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}

	response := listModelsResponse{
		Models: make([]modelResponse, 0, len(records)),
	}
	for _, m := range records {
		response.Models = append(response.Models, h.toResponse(m))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/models/{name} and returns a single model.
func (h *ModelsHandler) get(w http.ResponseWriter, r *http.Request, name string) {
	record, err := h.store.Models().GetByName(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Model not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get model")
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(record))
}

// create handles POST /api/models: it stores the definition and
// registers an unloaded instance for it.
func (h *ModelsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	modelType := model.Type(req.Type)
	if !validTypes[modelType] {
		writeError(w, http.StatusBadRequest, "Invalid model type")
		return
	}

	record := &store.ModelRecord{
		Name:      req.Name,
		Type:      modelType,
		ModelPath: req.ModelPath,
		Backend:   model.ParseBackend(req.Backend),
		Device:    model.ParseDevice(req.Device),
		Params:    req.Params,
		Enabled:   req.Enabled,
	}

	if err := h.store.Models().Create(record); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create model")
		return
	}

	instance, err := h.factory(modelType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to instantiate model")
		return
	}
	if err := h.registry.RegisterModel(record.Name, instance); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register model")
		return
	}

	writeJSON(w, http.StatusCreated, h.toResponse(record))
}

// update handles PUT /api/models/{name} and updates a model definition.
func (h *ModelsHandler) update(w http.ResponseWriter, r *http.Request, name string) {
	record, err := h.store.Models().GetByName(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Model not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get model")
		return
	}

	var req updateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.ModelPath != "" {
		record.ModelPath = req.ModelPath
	}
	if req.Backend != "" {
		record.Backend = model.ParseBackend(req.Backend)
	}
	if req.Device != "" {
		record.Device = model.ParseDevice(req.Device)
	}
	if req.Params != nil {
		record.Params = req.Params
	}
	if req.Enabled != nil {
		record.Enabled = *req.Enabled
	}

	if err := h.store.Models().Update(record); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update model")
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(record))
}

// delete handles DELETE /api/models/{name}: it unregisters the instance
// and removes the definition.
func (h *ModelsHandler) delete(w http.ResponseWriter, r *http.Request, name string) {
	record, err := h.store.Models().GetByName(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Model not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get model")
		return
	}

	if err := h.registry.UnregisterModel(name); err != nil && !errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to unregister model")
		return
	}
	if err := h.store.Models().Delete(record.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete model")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// load handles POST /api/models/{name}/load.
func (h *ModelsHandler) load(w http.ResponseWriter, r *http.Request, name string) {
	record, err := h.store.Models().GetByName(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Model not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get model")
		return
	}

	if err := h.registry.LoadModel(name, record.Config()); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Model not registered")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "Failed to load model: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(record))
}

// unload handles POST /api/models/{name}/unload.
func (h *ModelsHandler) unload(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.registry.UnloadModel(name); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Model not registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to unload model")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
