// Package testdata provides synthetic images shared by integration and
// end-to-end tests.
package testdata

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/ayusman/parallax/internal/imageio"
)

// Checkerboard returns a checkerboard image with the given cell size in
// pixels. Checkerboards give detectors strong, evenly spread gradients.
func Checkerboard(width, height, cell int) *imageio.MemImage {
	img := imageio.NewMemImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetRGB(x, y, 255, 255, 255)
			}
		}
	}
	return img
}

// DotGrid returns a black image with isolated white dots every step
// pixels, offset by step/2 from the border.
func DotGrid(width, height, step int) *imageio.MemImage {
	img := imageio.NewMemImage(width, height)
	for y := step / 2; y < height; y += step {
		for x := step / 2; x < width; x += step {
			img.SetRGB(x, y, 255, 255, 255)
		}
	}
	return img
}

// WritePNG encodes an image to a PNG file so file-based pipelines can
// decode it back.
func WritePNG(path string, img imageio.Image) error {
	out := image.NewRGBA(image.Rect(0, 0, img.Width(), img.Height()))
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			r, g, b := img.RGBAt(x, y)
			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, out)
}
