// Package app provides the main application logic for the Parallax
// feature matching service: it owns the model registry, registers the
// built-in models and restores persisted catalog state.
package app

import (
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/ayusman/parallax/internal/backend"
	"github.com/ayusman/parallax/internal/detector"
	"github.com/ayusman/parallax/internal/matcher"
	"github.com/ayusman/parallax/internal/model"
	"github.com/ayusman/parallax/internal/registry"
	"github.com/ayusman/parallax/internal/store"
)

// Built-in model names registered at startup.
const (
	// BuiltinSuperPoint is the default dense score-map detector.
	BuiltinSuperPoint = "superpoint"
	// BuiltinDISK is the grid-based detector.
	BuiltinDISK = "disk"
	// BuiltinSuperGlue is the pairwise descriptor matcher.
	BuiltinSuperGlue = "superglue"
	// BuiltinLoFTR is the coarse-to-fine image matcher.
	BuiltinLoFTR = "loftr"
)

// Config holds configuration options for the application.
type Config struct {
	Store    *store.Store
	CacheDir string
	// Opener overrides the inference session opener; nil selects the
	// real DNN backend.
	Opener backend.OpenFunc
}

// App is the main application that owns the model registry and wires
// the persisted catalog to live model instances.
type App struct {
	config   Config
	registry *registry.Registry
	opener   backend.OpenFunc

	mu      sync.Mutex
	started bool
}

// New creates a new App instance with the given configuration and
// registers the built-in models, unloaded.
func New(config Config) *App {
	opener := config.Opener
	if opener == nil {
		opener = backend.Open
	} else {
		log.Println("Using injected inference backend")
	}

	a := &App{
		config:   config,
		registry: registry.New(),
		opener:   opener,
	}

	if config.CacheDir != "" {
		if err := a.registry.SetCacheDir(config.CacheDir); err != nil {
			log.Printf("Cache directory unavailable: %v", err)
		}
	}

	builtins := map[string]model.Type{
		BuiltinSuperPoint: model.TypeSuperPointDetector,
		BuiltinDISK:       model.TypeDISKDetector,
		BuiltinSuperGlue:  model.TypeSuperGlueMatcher,
		BuiltinLoFTR:      model.TypeLoFTRMatcher,
	}
	for name, t := range builtins {
		instance, err := a.NewModel(t)
		if err != nil {
			log.Printf("Skipping built-in model %q: %v", name, err)
			continue
		}
		if err := a.registry.RegisterModel(name, instance); err != nil {
			log.Printf("Failed to register built-in model %q: %v", name, err)
		}
	}

	return a
}

// NewModel builds an unloaded model instance for a model type using
// the application's session opener.
func (a *App) NewModel(t model.Type) (model.Model, error) {
	switch t {
	case model.TypeSuperPointDetector:
		return detector.NewSuperPointWithOpener(a.opener), nil
	case model.TypeDISKDetector:
		return detector.NewDISKWithOpener(a.opener), nil
	case model.TypeSuperGlueMatcher:
		return matcher.NewSuperGlueWithOpener(a.opener), nil
	case model.TypeLoFTRMatcher:
		return matcher.NewLoFTRWithOpener(a.opener), nil
	default:
		return nil, fmt.Errorf("unknown model type %q", t)
	}
}

// Start restores persisted settings and loads the models flagged as
// enabled in the catalog. Starting an already-started app is a no-op.
// Individual model load failures are logged and skipped rather than
// aborting startup.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	if a.config.Store != nil {
		a.restoreSettings()
		if err := a.loadEnabledModels(); err != nil {
			return err
		}
	}

	a.started = true
	log.Println("Model service started")
	return nil
}

// Stop unloads every model. Stopping an unstarted app is a no-op.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return
	}

	a.registry.UnloadAllModels()
	a.started = false
	log.Println("Model service stopped")
}

// restoreSettings applies persisted settings to the registry.
func (a *App) restoreSettings() {
	settings := a.config.Store.Settings()

	if dir, err := settings.Get(store.SettingCacheDir); err == nil && dir != "" {
		if err := a.registry.SetCacheDir(dir); err != nil {
			log.Printf("Persisted cache directory unavailable: %v", err)
		}
	}
	if name, err := settings.Get(store.SettingDefaultDevice); err == nil && name != "" {
		if err := a.registry.SetDefaultDevice(model.ParseDevice(name)); err != nil {
			log.Printf("Persisted default device unavailable: %v", err)
		}
	}
	if value, err := settings.Get(store.SettingDownloadEnabled); err == nil {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("Ignoring malformed %s setting %q", store.SettingDownloadEnabled, value)
		} else {
			a.registry.SetDownloadEnabled(enabled)
		}
	}
}

// loadEnabledModels registers and loads every catalog record flagged
// as enabled.
func (a *App) loadEnabledModels() error {
	records, err := a.config.Store.Models().ListEnabled()
	if err != nil {
		return fmt.Errorf("reading model catalog: %w", err)
	}

	loaded := 0
	for _, record := range records {
		if _, err := a.registry.GetModel(record.Name); err != nil {
			instance, err := a.NewModel(record.Type)
			if err != nil {
				log.Printf("Skipping catalog model %q: %v", record.Name, err)
				continue
			}
			if err := a.registry.RegisterModel(record.Name, instance); err != nil {
				log.Printf("Failed to register catalog model %q: %v", record.Name, err)
				continue
			}
		}

		if err := a.registry.LoadModel(record.Name, record.Config()); err != nil {
			log.Printf("Failed to load model %q: %v", record.Name, err)
			continue
		}
		loaded++
	}

	log.Printf("Loaded %d of %d enabled models from catalog", loaded, len(records))
	return nil
}

// SetDefaultDevice switches the registry default device and persists
// the choice when a store is configured.
func (a *App) SetDefaultDevice(d model.Device) error {
	if err := a.registry.SetDefaultDevice(d); err != nil {
		return err
	}
	if a.config.Store != nil {
		if err := a.config.Store.Settings().Set(store.SettingDefaultDevice, d.String()); err != nil {
			log.Printf("Failed to persist default device: %v", err)
		}
	}
	return nil
}

// Registry returns the model registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Store returns the backing store, nil when the app runs without
// persistence.
func (a *App) Store() *store.Store {
	return a.config.Store
}
