package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/parallax/internal/model"
	"github.com/ayusman/parallax/internal/registry"
)

// DevicesHandler handles HTTP requests for compute device policy.
type DevicesHandler struct {
	registry *registry.Registry
}

// NewDevicesHandler creates a new DevicesHandler.
func NewDevicesHandler(r *registry.Registry) *DevicesHandler {
	return &DevicesHandler{registry: r}
}

type devicesResponse struct {
	Devices []string `json:"devices"`
	Default string   `json:"default"`
}

type setDefaultDeviceRequest struct {
	Device string `json:"device"`
}

// ServeHTTP implements the http.Handler interface.
func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/devices and /api/devices/default
	path := strings.TrimPrefix(r.URL.Path, "/api/devices")
	path = strings.TrimPrefix(path, "/")

	switch {
	case path == "" && r.Method == http.MethodGet:
		h.list(w, r)
	case path == "default" && r.Method == http.MethodPut:
		h.setDefault(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// list handles GET /api/devices and returns the probed device set.
func (h *DevicesHandler) list(w http.ResponseWriter, r *http.Request) {
	devices := h.registry.AvailableDevices()
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.String())
	}

	writeJSON(w, http.StatusOK, devicesResponse{
		Devices: names,
		Default: h.registry.DefaultDevice().String(),
	})
}

// setDefault handles PUT /api/devices/default.
func (h *DevicesHandler) setDefault(w http.ResponseWriter, r *http.Request) {
	var req setDefaultDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Device == "" {
		writeError(w, http.StatusBadRequest, "Device is required")
		return
	}

	device := model.ParseDevice(req.Device)
	if err := h.registry.SetDefaultDevice(device); err != nil {
		if errors.Is(err, registry.ErrDeviceUnavailable) {
			writeError(w, http.StatusUnprocessableEntity, "Device unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to set default device")
		return
	}

	h.list(w, r)
}
