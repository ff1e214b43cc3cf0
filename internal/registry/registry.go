// Package registry manages the lifecycle of detector and matcher
// instances: registration, loading, unloading, device policy and the
// model cache directory.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ayusman/parallax/internal/model"
)

// ErrNotFound is returned when no model is registered under a name.
var ErrNotFound = errors.New("model not found")

// ErrDeviceUnavailable is returned when a requested device is not in
// the probed device set.
var ErrDeviceUnavailable = errors.New("device unavailable")

// DeviceProbe enumerates the compute devices available on this host.
type DeviceProbe func() []model.Device

// DefaultDeviceProbe reports the CPU, which is always available, plus
// any devices named in the PARALLAX_DEVICES environment variable as a
// comma-separated list.
func DefaultDeviceProbe() []model.Device {
	devices := []model.Device{model.DeviceCPU}
	for _, name := range strings.Split(os.Getenv("PARALLAX_DEVICES"), ",") {
		name = strings.TrimSpace(name)
		if name == "" || name == "cpu" {
			continue
		}
		devices = append(devices, model.ParseDevice(name))
	}
	return devices
}

// Registry is a thread-safe catalog of model instances keyed by name,
// with a secondary index from model type to the most recently
// registered name of that type.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]model.Model
	typeIndex map[model.Type]string

	cacheDir        string
	downloadEnabled bool
	defaultDevice   model.Device
	probe           DeviceProbe
}

// New creates an empty registry with the default device probe.
func New() *Registry {
	return NewWithProbe(DefaultDeviceProbe)
}

// NewWithProbe creates an empty registry using a custom device probe.
func NewWithProbe(probe DeviceProbe) *Registry {
	return &Registry{
		models:        make(map[string]model.Model),
		typeIndex:     make(map[model.Type]string),
		defaultDevice: model.DeviceCPU,
		probe:         probe,
	}
}

// RegisterModel adds a model instance under a name. Registering over an
// existing name replaces the previous instance with a warning. The type
// index always points at the most recent registration of each type.
func (r *Registry) RegisterModel(name string, m model.Model) error {
	if m == nil {
		log.Printf("Rejecting nil model registration for %q", name)
		return fmt.Errorf("registering %q: nil model", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[name]; exists {
		log.Printf("Replacing already-registered model %q", name)
	}
	r.models[name] = m
	r.typeIndex[m.Type()] = name
	return nil
}

// UnregisterModel removes a model, unloading it first if needed.
// Removing an unknown name returns ErrNotFound.
func (r *Registry) UnregisterModel(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[name]
	if !ok {
		return fmt.Errorf("unregistering %q: %w", name, ErrNotFound)
	}
	if m.IsLoaded() {
		m.Unload()
	}
	delete(r.models, name)
	if r.typeIndex[m.Type()] == name {
		delete(r.typeIndex, m.Type())
	}
	return nil
}

// GetModel returns the model registered under a name.
func (r *Registry) GetModel(name string) (model.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	return m, nil
}

// GetModelByType returns the most recently registered model of a type.
func (r *Registry) GetModelByType(t model.Type) (model.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.typeIndex[t]
	if !ok {
		return nil, fmt.Errorf("model type %q: %w", t, ErrNotFound)
	}
	return r.models[name], nil
}

// ListModels returns the registered model names in no particular order.
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// ListModelTypes returns the model types with a registered instance,
// in no particular order.
func (r *Registry) ListModelTypes() []model.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]model.Type, 0, len(r.typeIndex))
	for t := range r.typeIndex {
		types = append(types, t)
	}
	return types
}

// IsModelTypeAvailable reports whether any registered model has the
// given type.
func (r *Registry) IsModelTypeAvailable(t model.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.typeIndex[t]
	return ok
}

// LoadModel loads the named model with the given configuration.
// Loading an already-loaded model succeeds without reloading.
func (r *Registry) LoadModel(name string, config model.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[name]
	if !ok {
		return fmt.Errorf("loading %q: %w", name, ErrNotFound)
	}
	if m.IsLoaded() {
		return nil
	}
	if err := m.Load(config); err != nil {
		return fmt.Errorf("loading %q: %w", name, err)
	}
	log.Printf("Loaded model %q on %s via %s", name, config.Device, config.Backend)
	return nil
}

// IsModelLoaded reports whether the named model is registered and
// currently loaded.
func (r *Registry) IsModelLoaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	return ok && m.IsLoaded()
}

// UnloadModel unloads the named model. Unloading an unloaded model is
// a no-op.
func (r *Registry) UnloadModel(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[name]
	if !ok {
		return fmt.Errorf("unloading %q: %w", name, ErrNotFound)
	}
	m.Unload()
	return nil
}

// UnloadAllModels unloads every registered model.
func (r *Registry) UnloadAllModels() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, m := range r.models {
		if m.IsLoaded() {
			m.Unload()
			log.Printf("Unloaded model %q", name)
		}
	}
}

// AvailableDevices returns the probed device set.
func (r *Registry) AvailableDevices() []model.Device {
	return r.probe()
}

// DefaultDevice returns the device newly loaded models default to.
func (r *Registry) DefaultDevice() model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultDevice
}

// SetDefaultDevice selects the default device, validated against the
// probed device set.
func (r *Registry) SetDefaultDevice(d model.Device) error {
	for _, available := range r.probe() {
		if available == d {
			r.mu.Lock()
			r.defaultDevice = d
			r.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("device %s: %w", d, ErrDeviceUnavailable)
}

// CacheDir returns the model cache directory, empty if unset.
func (r *Registry) CacheDir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cacheDir
}

// SetCacheDir sets the model cache directory, creating it if missing.
func (r *Registry) SetCacheDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	r.mu.Lock()
	r.cacheDir = dir
	r.mu.Unlock()
	return nil
}

// ClearCache empties the cache directory and recreates it. Filesystem
// errors are logged rather than returned; a missing or unset cache
// directory is not an error.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	dir := r.cacheDir
	r.mu.Unlock()

	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("Clearing cache %s: %v", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("Recreating cache %s: %v", dir, err)
	}
}

// CacheSize returns the total size in bytes of regular files under the
// cache directory, recursively. An unset or unreadable cache directory
// reports zero.
func (r *Registry) CacheSize() int64 {
	r.mu.RLock()
	dir := r.cacheDir
	r.mu.RUnlock()

	if dir == "" {
		return 0
	}

	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		log.Printf("Sizing cache %s: %v", dir, err)
		return 0
	}
	return total
}

// DownloadEnabled reports whether missing model weights may be fetched.
func (r *Registry) DownloadEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.downloadEnabled
}

// SetDownloadEnabled toggles model weight downloading. Fetching itself
// is not implemented; the flag is recorded for callers that stage
// weights out of band.
func (r *Registry) SetDownloadEnabled(enabled bool) {
	r.mu.Lock()
	r.downloadEnabled = enabled
	r.mu.Unlock()
}

// ModelInfo is a snapshot of one registered model.
type ModelInfo struct {
	Name    string     `json:"name"`
	Type    model.Type `json:"type"`
	Loaded  bool       `json:"loaded"`
	Backend string     `json:"backend"`
	Device  string     `json:"device"`
}

// Info returns a snapshot of every registered model.
func (r *Registry) Info() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ModelInfo, 0, len(r.models))
	for name, m := range r.models {
		infos = append(infos, ModelInfo{
			Name:    name,
			Type:    m.Type(),
			Loaded:  m.IsLoaded(),
			Backend: m.Backend().String(),
			Device:  m.Device().String(),
		})
	}
	return infos
}

// PrintModelInfo logs a line per registered model.
func (r *Registry) PrintModelInfo() {
	for _, info := range r.Info() {
		state := "unloaded"
		if info.Loaded {
			state = "loaded"
		}
		log.Printf("model %q type=%s backend=%s device=%s %s",
			info.Name, info.Type, info.Backend, info.Device, state)
	}
}
