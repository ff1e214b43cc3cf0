package imageio

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestMemImage_SetAndGet(t *testing.T) {
	img := NewMemImage(4, 3)

	if img.Width() != 4 || img.Height() != 3 {
		t.Fatalf("size = %dx%d, want 4x3", img.Width(), img.Height())
	}

	img.SetRGB(2, 1, 10, 20, 30)
	r, g, b := img.RGBAt(2, 1)
	if r != 10 || g != 20 || b != 30 {
		t.Errorf("RGBAt(2,1) = (%d,%d,%d), want (10,20,30)", r, g, b)
	}

	// Untouched pixels stay black
	r, g, b = img.RGBAt(0, 0)
	if r != 0 || g != 0 || b != 0 {
		t.Errorf("RGBAt(0,0) = (%d,%d,%d), want black", r, g, b)
	}
}

func TestMemImage_OutOfBounds(t *testing.T) {
	img := NewMemImage(2, 2)
	img.SetRGB(5, 5, 255, 255, 255)  // ignored
	img.SetRGB(-1, 0, 255, 255, 255) // ignored

	for _, pt := range [][2]int{{-1, 0}, {0, -1}, {2, 0}, {0, 2}, {5, 5}} {
		r, g, b := img.RGBAt(pt[0], pt[1])
		if r != 0 || g != 0 || b != 0 {
			t.Errorf("RGBAt(%d,%d) = (%d,%d,%d), want black", pt[0], pt[1], r, g, b)
		}
	}
}

func TestGrayscale(t *testing.T) {
	img := NewMemImage(3, 1)
	img.SetRGB(0, 0, 255, 255, 255)
	img.SetRGB(1, 0, 255, 0, 0)
	// (2,0) stays black

	out := Grayscale(img)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}

	want := []float64{1.0, 0.299, 0.0}
	for i, w := range want {
		if math.Abs(float64(out[i])-w) > 1e-3 {
			t.Errorf("out[%d] = %f, want %f", i, out[i], w)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping image decode test in short mode")
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.png"))
	if !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("Load() error = %v, want ErrDecodeFailed", err)
	}
}
