package backend

import (
	"math"

	"github.com/ayusman/parallax/internal/model"
)

// StubSession is a deterministic pure-Go inference session used by tests
// and as a CPU fallback when no model weights are installed. It scores
// pixels by local gradient magnitude and derives descriptors from the
// intensity statistics of the surrounding cell, so identical inputs
// always produce identical outputs.
type StubSession struct {
	descriptorDim int
	stride        int
	closed        bool
}

// NewStubSession creates a stub session producing descriptors of the
// given dimension over a descriptor field with the given stride.
func NewStubSession(descriptorDim, stride int) *StubSession {
	if descriptorDim <= 0 {
		descriptorDim = 256
	}
	if stride <= 0 {
		stride = 8
	}
	return &StubSession{descriptorDim: descriptorDim, stride: stride}
}

// StubOpener returns an OpenFunc that always opens a stub session,
// ignoring the model path. The descriptor dimension and stride follow
// the given defaults.
func StubOpener(descriptorDim, stride int) OpenFunc {
	return func(_ model.Config) (Session, error) {
		return NewStubSession(descriptorDim, stride), nil
	}
}

// Forward scores a [height, width] grayscale tensor.
func (s *StubSession) Forward(input Tensor) ([]Tensor, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	height := input.Dim(0)
	width := input.Dim(1)

	scores := NewTensor(height, width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			scores.Set2(y, x, s.scoreAt(input, x, y))
		}
	}

	coarseH := (height + s.stride - 1) / s.stride
	coarseW := (width + s.stride - 1) / s.stride
	descriptors := NewTensor(s.descriptorDim, coarseH, coarseW)

	for cy := 0; cy < coarseH; cy++ {
		for cx := 0; cx < coarseW; cx++ {
			desc := s.cellDescriptor(input, cx, cy)
			for d, v := range desc {
				descriptors.Set3(d, cy, cx, v)
			}
		}
	}

	return []Tensor{scores, descriptors}, nil
}

// Close marks the session closed.
func (s *StubSession) Close() error {
	s.closed = true
	return nil
}

// scoreAt computes the central-difference gradient magnitude at (x, y),
// clamped to [0, 1].
func (s *StubSession) scoreAt(input Tensor, x, y int) float32 {
	height := input.Dim(0)
	width := input.Dim(1)

	at := func(px, py int) float32 {
		if px < 0 {
			px = 0
		}
		if py < 0 {
			py = 0
		}
		if px >= width {
			px = width - 1
		}
		if py >= height {
			py = height - 1
		}
		return input.At2(py, px)
	}

	gx := float64(at(x+1, y)-at(x-1, y)) / 2
	gy := float64(at(x, y+1)-at(x, y-1)) / 2
	mag := math.Sqrt(gx*gx + gy*gy)
	if mag > 1 {
		mag = 1
	}
	return float32(mag)
}

// cellDescriptor derives an L2-normalized descriptor for a coarse cell
// from the mean intensity and cell position. The sinusoidal expansion
// keeps nearby cells with similar content close in descriptor space.
func (s *StubSession) cellDescriptor(input Tensor, cx, cy int) []float32 {
	height := input.Dim(0)
	width := input.Dim(1)

	var sum float64
	var count int
	for y := cy * s.stride; y < (cy+1)*s.stride && y < height; y++ {
		for x := cx * s.stride; x < (cx+1)*s.stride && x < width; x++ {
			sum += float64(input.At2(y, x))
			count++
		}
	}

	mean := 0.0
	if count > 0 {
		mean = sum / float64(count)
	}

	desc := make([]float32, s.descriptorDim)
	var norm float64
	for d := range desc {
		phase := float64(d+1) * (mean + 0.13*float64(cx) + 0.07*float64(cy))
		v := math.Cos(phase)
		desc[d] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for d := range desc {
			desc[d] *= inv
		}
	}
	return desc
}
