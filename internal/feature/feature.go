// Package feature defines the value types shared by all detector and
// matcher implementations: keypoints, descriptors and result containers.
package feature

import "math"

// Keypoint is a salient image location in pixel coordinates together with
// a 2x2 affine shape matrix describing local orientation and scale.
// The shape matrix is the identity when orientation is unknown.
type Keypoint struct {
	X float32
	Y float32

	A11 float32
	A12 float32
	A21 float32
	A22 float32
}

// NewKeypoint creates a keypoint at (x, y) with an identity shape matrix.
func NewKeypoint(x, y float32) Keypoint {
	return Keypoint{X: x, Y: y, A11: 1, A12: 0, A21: 0, A22: 1}
}

// DistanceTo returns the Euclidean pixel distance to another keypoint.
func (k Keypoint) DistanceTo(other Keypoint) float32 {
	dx := float64(k.X - other.X)
	dy := float64(k.Y - other.Y)
	return float32(math.Sqrt(dx*dx + dy*dy))
}

// Descriptor is a fixed-length floating-point fingerprint of the local
// appearance around a keypoint. A zero-length descriptor is invalid.
type Descriptor []float32

// Norm returns the L2 norm of the descriptor.
func (d Descriptor) Norm() float32 {
	var sum float64
	for _, v := range d {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum))
}

// Normalized returns an L2-normalized copy of the descriptor.
// Zero-norm descriptors are returned unchanged rather than producing NaN.
func (d Descriptor) Normalized() Descriptor {
	norm := d.Norm()
	if norm == 0 {
		out := make(Descriptor, len(d))
		copy(out, d)
		return out
	}

	out := make(Descriptor, len(d))
	inv := 1 / norm
	for i, v := range d {
		out[i] = v * inv
	}
	return out
}

// Dot returns the dot product with another descriptor.
// Descriptors of different lengths are compared over the shorter prefix.
func (d Descriptor) Dot(other Descriptor) float32 {
	n := len(d)
	if len(other) < n {
		n = len(other)
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(d[i]) * float64(other[i])
	}
	return float32(sum)
}

// NormalizeDescriptors returns L2-normalized copies of all descriptors.
func NormalizeDescriptors(descriptors []Descriptor) []Descriptor {
	normalized := make([]Descriptor, len(descriptors))
	for i, d := range descriptors {
		normalized[i] = d.Normalized()
	}
	return normalized
}

// DetectionResult holds the output of a single Detect call. The keypoint,
// descriptor and score slices are parallel; Descriptors is empty when
// descriptor computation is disabled. The dense fields preserve the
// pre-filter candidate set for diagnostics and visualization.
type DetectionResult struct {
	Keypoints   []Keypoint
	Descriptors []Descriptor
	Scores      []float32

	DenseKeypoints   []Keypoint
	DenseDescriptors []Descriptor
	SoftScores       []float32

	ProcessingTimeMs float64
}

// Empty reports whether the result carries no keypoints.
// Every failure path yields an empty result, so callers can rely on this
// as the uniform failure signal alongside the logged message.
func (r *DetectionResult) Empty() bool {
	return len(r.Keypoints) == 0
}

// MatchPair references one correspondence between two keypoint sequences:
// index I into the first sequence and index J into the second.
type MatchPair struct {
	I int
	J int
}

// MatchResult holds the output of a single Match call. Matches, Scores and
// Mutual are parallel sequences.
type MatchResult struct {
	Matches []MatchPair
	Scores  []float32
	Mutual  []bool

	// Dense keypoints for matchers that generate their own candidates
	// from image pairs rather than consuming precomputed keypoints.
	Keypoints1 []Keypoint
	Keypoints2 []Keypoint

	NumMatches       int
	MatchRatio       float32
	ProcessingTimeMs float64
}

// Empty reports whether the result carries no matches.
func (r *MatchResult) Empty() bool {
	return len(r.Matches) == 0
}

// Finalize fills the summary statistics from the match slice.
// candidates is the number of candidate correspondences from the first
// set; the ratio denominator is clamped to 1 so an empty candidate set
// yields a ratio of 0 rather than NaN.
func (r *MatchResult) Finalize(candidates int) {
	r.NumMatches = len(r.Matches)
	if candidates < 1 {
		candidates = 1
	}
	r.MatchRatio = float32(r.NumMatches) / float32(candidates)
}
