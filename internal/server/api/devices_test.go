package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ayusman/parallax/internal/model"
	"github.com/ayusman/parallax/internal/registry"
)

func newTestDevicesHandler() *DevicesHandler {
	probe := func() []model.Device {
		return []model.Device{model.DeviceCPU, model.DeviceCUDA}
	}
	return NewDevicesHandler(registry.NewWithProbe(probe))
}

func TestDevicesHandler_List(t *testing.T) {
	handler := newTestDevicesHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response devicesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Devices) != 2 || response.Devices[0] != "cpu" || response.Devices[1] != "cuda" {
		t.Errorf("devices = %v, want [cpu cuda]", response.Devices)
	}
	if response.Default != "cpu" {
		t.Errorf("default = %s, want cpu", response.Default)
	}
}

func TestDevicesHandler_SetDefault(t *testing.T) {
	handler := newTestDevicesHandler()

	body, _ := json.Marshal(setDefaultDeviceRequest{Device: "cuda"})
	req := httptest.NewRequest(http.MethodPut, "/api/devices/default", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var response devicesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Default != "cuda" {
		t.Errorf("default = %s after switch, want cuda", response.Default)
	}
}

func TestDevicesHandler_SetUnavailableDefault(t *testing.T) {
	handler := newTestDevicesHandler()

	body, _ := json.Marshal(setDefaultDeviceRequest{Device: "vulkan"})
	req := httptest.NewRequest(http.MethodPut, "/api/devices/default", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status %d, got %d", http.StatusUnprocessableEntity, rec.Code)
	}
}

func TestDevicesHandler_MethodNotAllowed(t *testing.T) {
	handler := newTestDevicesHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/devices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
