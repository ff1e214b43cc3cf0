// Package detector implements the keypoint detector variants. Each
// detector runs a backend inference session over a grayscale image and
// applies the shared post-processing chain to the raw candidates.
package detector

import (
	"log"

	"github.com/ayusman/parallax/internal/backend"
	"github.com/ayusman/parallax/internal/feature"
	"github.com/ayusman/parallax/internal/imageio"
	"github.com/ayusman/parallax/internal/model"
)

// Detector extracts keypoints and descriptors from single images.
// Detect never fails loudly: every failure path logs and returns an
// empty result. DetectWithParams applies per-call overrides on top of
// the loaded tuning without reloading.
type Detector interface {
	model.Model
	Detect(img imageio.Image) feature.DetectionResult
	DetectWithParams(img imageio.Image, params map[string]string) feature.DetectionResult
	DetectFile(path string) feature.DetectionResult
}

// imageTensor converts an image into the [height, width] grayscale
// tensor consumed by detector sessions.
func imageTensor(img imageio.Image) backend.Tensor {
	tensor := backend.Tensor{
		Shape: []int{img.Height(), img.Width()},
		Data:  imageio.Grayscale(img),
	}
	return tensor
}

// sampleDescriptor looks up the raw descriptor for a pixel location in
// a coarse descriptor field of shape [dim, coarseH, coarseW] covering an
// image of the given dimensions. Callers normalize after deciding
// whether the raw magnitude is strong enough to trust.
func sampleDescriptor(field backend.Tensor, x, y float32, width, height int) feature.Descriptor {
	dim := field.Dim(0)
	coarseH := field.Dim(1)
	coarseW := field.Dim(2)
	if dim == 0 || coarseH == 0 || coarseW == 0 {
		return nil
	}

	cx := int(x) * coarseW / max(width, 1)
	cy := int(y) * coarseH / max(height, 1)
	if cx >= coarseW {
		cx = coarseW - 1
	}
	if cy >= coarseH {
		cy = coarseH - 1
	}
	if cx < 0 {
		cx = 0
	}
	if cy < 0 {
		cy = 0
	}

	desc := make(feature.Descriptor, dim)
	for d := 0; d < dim; d++ {
		desc[d] = field.At3(d, cy, cx)
	}
	return desc
}

// detectFile decodes an image file and runs the given detect function
// on it. Decode failures log and yield an empty result.
func detectFile(name, path string, detect func(imageio.Image) feature.DetectionResult) feature.DetectionResult {
	img, err := imageio.Load(path)
	if err != nil {
		log.Printf("%s: cannot read %s: %v", name, path, err)
		return feature.DetectionResult{}
	}
	defer img.Close()
	return detect(img)
}
