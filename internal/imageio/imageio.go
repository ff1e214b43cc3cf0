// Package imageio provides the raster abstraction consumed by detectors
// and matchers, backed either by a GoCV Mat or by an in-memory buffer.
package imageio

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrDecodeFailed is returned when an image file cannot be decoded.
var ErrDecodeFailed = errors.New("image decode failed")

// Image is a decoded raster with per-pixel RGB sampling.
type Image interface {
	Width() int
	Height() int
	// RGBAt returns the color at pixel (x, y). Out-of-bounds coordinates
	// return black.
	RGBAt(x, y int) (r, g, b uint8)
}

// MatImage wraps a GoCV Mat as an Image. The Mat is expected to hold
// 8-bit BGR data, which is what gocv.IMRead produces for color images.
type MatImage struct {
	mat gocv.Mat
}

// NewMatImage wraps an existing Mat. The caller retains ownership of the
// Mat and must keep it alive for the lifetime of the image.
func NewMatImage(mat gocv.Mat) *MatImage {
	return &MatImage{mat: mat}
}

// Width returns the image width in pixels.
func (m *MatImage) Width() int {
	return m.mat.Cols()
}

// Height returns the image height in pixels.
func (m *MatImage) Height() int {
	return m.mat.Rows()
}

// RGBAt returns the color at pixel (x, y).
func (m *MatImage) RGBAt(x, y int) (r, g, b uint8) {
	if x < 0 || y < 0 || x >= m.mat.Cols() || y >= m.mat.Rows() {
		return 0, 0, 0
	}
	// Mats decoded by OpenCV are BGR ordered.
	vec := m.mat.GetVecbAt(y, x)
	if len(vec) < 3 {
		if len(vec) == 1 {
			return vec[0], vec[0], vec[0]
		}
		return 0, 0, 0
	}
	return vec[2], vec[1], vec[0]
}

// Close releases the underlying Mat.
func (m *MatImage) Close() error {
	return m.mat.Close()
}

// Load decodes an image file into a MatImage.
func Load(path string) (*MatImage, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrDecodeFailed, path)
	}
	return &MatImage{mat: mat}, nil
}

// MemImage is a pure-Go raster backed by an RGB byte buffer, used by
// tests and synthetic inputs.
type MemImage struct {
	width  int
	height int
	pixels []uint8 // packed RGB, row-major
}

// NewMemImage creates a black image of the given size.
func NewMemImage(width, height int) *MemImage {
	return &MemImage{
		width:  width,
		height: height,
		pixels: make([]uint8, width*height*3),
	}
}

// Width returns the image width in pixels.
func (m *MemImage) Width() int {
	return m.width
}

// Height returns the image height in pixels.
func (m *MemImage) Height() int {
	return m.height
}

// RGBAt returns the color at pixel (x, y).
func (m *MemImage) RGBAt(x, y int) (r, g, b uint8) {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return 0, 0, 0
	}
	idx := (y*m.width + x) * 3
	return m.pixels[idx], m.pixels[idx+1], m.pixels[idx+2]
}

// SetRGB sets the color at pixel (x, y). Out-of-bounds writes are ignored.
func (m *MemImage) SetRGB(x, y int, r, g, b uint8) {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return
	}
	idx := (y*m.width + x) * 3
	m.pixels[idx] = r
	m.pixels[idx+1] = g
	m.pixels[idx+2] = b
}

// Grayscale returns the image as a row-major float32 luminance buffer
// normalized to [0, 1], the input layout expected by detector backends.
func Grayscale(img Image) []float32 {
	width := img.Width()
	height := img.Height()

	out := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := img.RGBAt(x, y)
			// ITU-R BT.601 luma weights.
			luma := 0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)
			out[y*width+x] = luma / 255
		}
	}
	return out
}
