package app

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/parallax/internal/backend"
	"github.com/ayusman/parallax/internal/model"
	"github.com/ayusman/parallax/internal/registry"
	"github.com/ayusman/parallax/internal/store"
)

func newTestApp(t *testing.T) (*App, *store.Store) {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	a := New(Config{
		Store:    s,
		CacheDir: filepath.Join(t.TempDir(), "cache"),
		Opener:   backend.StubOpener(256, 8),
	})
	return a, s
}

// writeDottedPNG writes a black image with isolated white dots, enough
// texture for the detectors to find keypoints.
func writeDottedPNG(t *testing.T, path string) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 8; y < 128; y += 16 {
		for x := 8; x < 128; x += 16 {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestApp_RegistersBuiltinModels(t *testing.T) {
	a, _ := newTestApp(t)

	for _, name := range []string{BuiltinSuperPoint, BuiltinDISK, BuiltinSuperGlue, BuiltinLoFTR} {
		m, err := a.Registry().GetModel(name)
		if err != nil {
			t.Fatalf("GetModel(%q) error = %v", name, err)
		}
		if m.IsLoaded() {
			t.Errorf("built-in model %q reports loaded before Start", name)
		}
	}

	if _, err := a.Registry().GetModelByType(model.TypeSuperPointDetector); err != nil {
		t.Errorf("GetModelByType(superpoint) error = %v", err)
	}
}

func TestApp_NewModelUnknownType(t *testing.T) {
	a, _ := newTestApp(t)

	if _, err := a.NewModel(model.Type("pose_regressor")); err == nil {
		t.Error("NewModel() with unknown type did not return error")
	}
}

func TestApp_StartLoadsEnabledCatalog(t *testing.T) {
	a, s := newTestApp(t)

	records := []store.ModelRecord{
		{Name: BuiltinSuperPoint, Type: model.TypeSuperPointDetector, Enabled: true},
		{Name: BuiltinSuperGlue, Type: model.TypeSuperGlueMatcher, Enabled: true},
		{Name: BuiltinDISK, Type: model.TypeDISKDetector, Enabled: false},
	}
	for i := range records {
		if err := s.Models().Create(&records[i]); err != nil {
			t.Fatalf("Create(%s) error = %v", records[i].Name, err)
		}
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for name, want := range map[string]bool{
		BuiltinSuperPoint: true,
		BuiltinSuperGlue:  true,
		BuiltinDISK:       false,
	} {
		m, err := a.Registry().GetModel(name)
		if err != nil {
			t.Fatalf("GetModel(%q) error = %v", name, err)
		}
		if m.IsLoaded() != want {
			t.Errorf("model %q loaded = %v after Start, want %v", name, m.IsLoaded(), want)
		}
	}

	// Starting again is a no-op
	if err := a.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	a.Stop()
	m, _ := a.Registry().GetModel(BuiltinSuperPoint)
	if m.IsLoaded() {
		t.Error("model still loaded after Stop")
	}
}

func TestApp_StartRestoresSettings(t *testing.T) {
	a, s := newTestApp(t)

	cacheDir := filepath.Join(t.TempDir(), "restored-cache")
	if err := s.Settings().Set(store.SettingCacheDir, cacheDir); err != nil {
		t.Fatal(err)
	}
	if err := s.Settings().Set(store.SettingDownloadEnabled, "false"); err != nil {
		t.Fatal(err)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := a.Registry().CacheDir(); got != cacheDir {
		t.Errorf("cache dir = %s after Start, want %s", got, cacheDir)
	}
	if a.Registry().DownloadEnabled() {
		t.Error("downloads still enabled after restoring disabled setting")
	}
}

func TestApp_SetDefaultDevicePersists(t *testing.T) {
	a, s := newTestApp(t)

	if err := a.SetDefaultDevice(model.DeviceCPU); err != nil {
		t.Fatalf("SetDefaultDevice(cpu) error = %v", err)
	}
	value, err := s.Settings().Get(store.SettingDefaultDevice)
	if err != nil {
		t.Fatalf("Get(default_device) error = %v", err)
	}
	if value != "cpu" {
		t.Errorf("persisted default device = %s, want cpu", value)
	}

	if err := a.SetDefaultDevice(model.DeviceCUDA); !errors.Is(err, registry.ErrDeviceUnavailable) {
		t.Errorf("SetDefaultDevice(cuda) error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestApp_MatchImagesWithoutLoadedModels(t *testing.T) {
	a, _ := newTestApp(t)

	if _, err := a.MatchImages("a.png", "b.png"); !errors.Is(err, ErrNoModel) {
		t.Errorf("MatchImages() error = %v, want ErrNoModel", err)
	}
	if _, err := a.MatchImagesDense("a.png", "b.png"); !errors.Is(err, ErrNoModel) {
		t.Errorf("MatchImagesDense() error = %v, want ErrNoModel", err)
	}
}

func TestApp_MatchImagesPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping image decode test in short mode")
	}

	a, s := newTestApp(t)

	records := []store.ModelRecord{
		{Name: BuiltinSuperPoint, Type: model.TypeSuperPointDetector, Enabled: true},
		{Name: BuiltinSuperGlue, Type: model.TypeSuperGlueMatcher, Enabled: true},
	}
	for i := range records {
		if err := s.Models().Create(&records[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Stop()

	dir := t.TempDir()
	path1 := filepath.Join(dir, "left.png")
	path2 := filepath.Join(dir, "right.png")
	writeDottedPNG(t, path1)
	writeDottedPNG(t, path2)

	result, err := a.MatchImages(path1, path2)
	if err != nil {
		t.Fatalf("MatchImages() error = %v", err)
	}
	if result.NumMatches == 0 {
		t.Error("identical images produced no matches")
	}
	if result.NumMatches != len(result.Matches) || len(result.Scores) != len(result.Matches) {
		t.Errorf("inconsistent result: NumMatches=%d len(Matches)=%d len(Scores)=%d",
			result.NumMatches, len(result.Matches), len(result.Scores))
	}
}
