package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/parallax/internal/registry"
)

func TestCacheHandler_SizeAndClear(t *testing.T) {
	reg := registry.New()
	dir := filepath.Join(t.TempDir(), "cache")
	if err := reg.SetCacheDir(dir); err != nil {
		t.Fatalf("SetCacheDir() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "weights.onnx"), make([]byte, 64), 0o644); err != nil {
		t.Fatal(err)
	}

	handler := NewCacheHandler(reg)

	req := httptest.NewRequest(http.MethodGet, "/api/cache", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response cacheResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Dir != dir || response.SizeBytes != 64 {
		t.Errorf("cache response = %+v, want dir %s with 64 bytes", response, dir)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/cache", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if size := reg.CacheSize(); size != 0 {
		t.Errorf("cache size = %d after clear, want 0", size)
	}
}

func TestCacheHandler_MethodNotAllowed(t *testing.T) {
	handler := NewCacheHandler(registry.New())

	req := httptest.NewRequest(http.MethodPost, "/api/cache", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
