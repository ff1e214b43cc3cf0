// Package matcher implements the correspondence matcher variants.
// SuperGlue consumes precomputed keypoints and descriptors; LoFTR
// generates its own correspondences directly from an image pair.
package matcher

import (
	"github.com/ayusman/parallax/internal/feature"
	"github.com/ayusman/parallax/internal/imageio"
	"github.com/ayusman/parallax/internal/model"

	"gonum.org/v1/gonum/mat"
)

// DescriptorMatcher matches two precomputed keypoint sets. Match never
// fails loudly: every failure path logs and returns an empty result.
// MatchWithParams applies per-call overrides on top of the loaded
// tuning without reloading.
type DescriptorMatcher interface {
	model.Model
	Match(kps1 []feature.Keypoint, descs1 []feature.Descriptor, kps2 []feature.Keypoint, descs2 []feature.Descriptor) feature.MatchResult
	MatchWithParams(kps1 []feature.Keypoint, descs1 []feature.Descriptor, kps2 []feature.Keypoint, descs2 []feature.Descriptor, params map[string]string) feature.MatchResult
}

// ImageMatcher matches an image pair end to end, generating its own
// keypoints. The result carries the generated keypoints alongside the
// match indices.
type ImageMatcher interface {
	model.Model
	Match(img1, img2 imageio.Image) feature.MatchResult
	MatchWithParams(img1, img2 imageio.Image, params map[string]string) feature.MatchResult
	MatchFiles(path1, path2 string) feature.MatchResult
}

// affinityMatrix builds the pairwise descriptor similarity matrix,
// mapping cosine similarity from [-1, 1] into [0, 1] so downstream
// Sinkhorn normalization operates on non-negative mass.
func affinityMatrix(descs1, descs2 []feature.Descriptor) *mat.Dense {
	n1 := len(descs1)
	n2 := len(descs2)

	affinity := mat.NewDense(n1, n2, nil)
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			sim := float64(descs1[i].Dot(descs2[j]))
			affinity.Set(i, j, (sim+1)/2)
		}
	}
	return affinity
}
