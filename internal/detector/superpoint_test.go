package detector

import (
	"math"
	"testing"

	"github.com/ayusman/parallax/internal/backend"
	"github.com/ayusman/parallax/internal/imageio"
	"github.com/ayusman/parallax/internal/model"
)

// dottedImage returns an image with isolated bright dots on a black
// background, spaced stepX by stepY pixels. Each dot produces strong
// gradient responses at its four neighbors.
func dottedImage(width, height, stepX, stepY int) *imageio.MemImage {
	img := imageio.NewMemImage(width, height)
	for y := stepY / 2; y < height; y += stepY {
		for x := stepX / 2; x < width; x += stepX {
			img.SetRGB(x, y, 255, 255, 255)
		}
	}
	return img
}

func loadedSuperPoint(t *testing.T, params map[string]string) *SuperPoint {
	t.Helper()

	sp := NewSuperPointWithOpener(backend.StubOpener(256, 8))
	cfg := model.DefaultConfig()
	cfg.Params = params
	if err := sp.Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return sp
}

func TestSuperPoint_LoadUnload(t *testing.T) {
	sp := NewSuperPointWithOpener(backend.StubOpener(256, 8))
	if sp.IsLoaded() {
		t.Fatal("new detector reports loaded")
	}

	if err := sp.Load(model.DefaultConfig()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !sp.IsLoaded() {
		t.Fatal("detector not loaded after Load")
	}

	// Loading again is a no-op.
	if err := sp.Load(model.DefaultConfig()); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}

	sp.Unload()
	if sp.IsLoaded() {
		t.Fatal("detector still loaded after Unload")
	}
	sp.Unload() // idempotent
}

func TestSuperPoint_LoadFailureLeavesUnloaded(t *testing.T) {
	sp := NewSuperPoint()
	cfg := model.DefaultConfig()
	cfg.Backend = model.BackendPyTorch
	cfg.ModelPath = "weights.pt"

	if err := sp.Load(cfg); err == nil {
		t.Fatal("Load() with an unexecutable backend succeeded")
	}
	if sp.IsLoaded() {
		t.Error("detector reports loaded after failed Load")
	}
}

func TestSuperPoint_ParamOverrides(t *testing.T) {
	sp := loadedSuperPoint(t, map[string]string{
		"max_keypoints":      "100",
		"keypoint_threshold": "0.25",
		"nms_radius":         "bogus",
	})

	cfg := sp.Config()
	if cfg.MaxKeypoints != 100 {
		t.Errorf("MaxKeypoints = %d, want 100", cfg.MaxKeypoints)
	}
	if cfg.KeypointThreshold != 0.25 {
		t.Errorf("KeypointThreshold = %f, want 0.25", cfg.KeypointThreshold)
	}
	// Malformed values keep the default.
	if cfg.NMSRadius != 4 {
		t.Errorf("NMSRadius = %f, want default 4", cfg.NMSRadius)
	}
}

func TestSuperPoint_DetectWithParams(t *testing.T) {
	sp := loadedSuperPoint(t, nil)
	img := dottedImage(640, 480, 32, 24)

	capped := sp.DetectWithParams(img, map[string]string{"max_keypoints": "10"})
	if len(capped.Keypoints) != 10 {
		t.Fatalf("override detect returned %d keypoints, want 10", len(capped.Keypoints))
	}

	// The loaded tuning is untouched: a plain Detect still uses it.
	if cfg := sp.Config(); cfg.MaxKeypoints != 1024 {
		t.Errorf("MaxKeypoints = %d after override detect, want 1024", cfg.MaxKeypoints)
	}
	full := sp.Detect(img)
	if len(full.Keypoints) <= 10 {
		t.Errorf("plain Detect returned %d keypoints, want more than the per-call cap", len(full.Keypoints))
	}
}

func TestSuperPoint_DetectBeforeLoad(t *testing.T) {
	sp := NewSuperPointWithOpener(backend.StubOpener(256, 8))
	result := sp.Detect(dottedImage(64, 64, 16, 16))
	if !result.Empty() {
		t.Errorf("unloaded Detect returned %d keypoints, want empty", len(result.Keypoints))
	}
}

func TestSuperPoint_DetectCapsAndRejectsBorders(t *testing.T) {
	sp := loadedSuperPoint(t, map[string]string{
		"max_keypoints": "50",
	})

	result := sp.Detect(dottedImage(640, 480, 32, 24))
	if len(result.Keypoints) != 50 {
		t.Fatalf("got %d keypoints, want exactly 50", len(result.Keypoints))
	}

	for _, kp := range result.Keypoints {
		if kp.X < 4 || kp.X >= 636 || kp.Y < 4 || kp.Y >= 476 {
			t.Errorf("keypoint (%f, %f) inside the 4px border band", kp.X, kp.Y)
		}
	}

	for i := 1; i < len(result.Scores); i++ {
		if result.Scores[i] > result.Scores[i-1] {
			t.Errorf("scores not descending at %d", i)
		}
	}

	if result.ProcessingTimeMs < 0 {
		t.Errorf("ProcessingTimeMs = %f, want non-negative", result.ProcessingTimeMs)
	}
}

func TestSuperPoint_Descriptors(t *testing.T) {
	sp := loadedSuperPoint(t, nil)

	result := sp.Detect(dottedImage(128, 128, 16, 16))
	if result.Empty() {
		t.Fatal("no keypoints detected")
	}
	if len(result.Descriptors) != len(result.Keypoints) {
		t.Fatalf("%d descriptors for %d keypoints", len(result.Descriptors), len(result.Keypoints))
	}

	for i, desc := range result.Descriptors {
		if len(desc) != 256 {
			t.Fatalf("descriptor %d has %d dimensions, want 256", i, len(desc))
		}
		norm := float64(desc.Norm())
		if norm != 0 && math.Abs(norm-1) > 1e-5 {
			t.Errorf("descriptor %d norm = %f, want 1 or 0", i, norm)
		}
	}
}

func TestSuperPoint_DescriptorsDisabled(t *testing.T) {
	sp := loadedSuperPoint(t, map[string]string{
		"compute_descriptors": "false",
	})

	result := sp.Detect(dottedImage(128, 128, 16, 16))
	if result.Empty() {
		t.Fatal("no keypoints detected")
	}
	if len(result.Descriptors) != 0 {
		t.Errorf("got %d descriptors with computation disabled", len(result.Descriptors))
	}
}

func TestSuperPoint_DetectFileMissing(t *testing.T) {
	sp := loadedSuperPoint(t, nil)
	result := sp.DetectFile("does/not/exist.png")
	if !result.Empty() {
		t.Error("DetectFile on a missing path should return an empty result")
	}
}

func TestSuperPoint_Identity(t *testing.T) {
	sp := NewSuperPointWithOpener(backend.StubOpener(256, 8))
	if sp.Type() != model.TypeSuperPointDetector {
		t.Errorf("Type() = %s", sp.Type())
	}
	if sp.Name() != "superpoint" {
		t.Errorf("Name() = %s", sp.Name())
	}
}
