// Package postprocess implements the filtering and matching algorithms
// shared by every detector and matcher variant: score thresholding,
// border rejection, stable top-K selection, soft non-maximum suppression,
// mutual-consistency checking, the ratio test and Sinkhorn assignment.
package postprocess

import (
	"math"
	"sort"

	"github.com/ayusman/parallax/internal/feature"
)

// FilterConfig controls FilterKeypoints.
type FilterConfig struct {
	// KeypointThreshold drops candidates scoring below it.
	KeypointThreshold float32
	// MaxKeypoints caps the number of survivors; zero or negative means
	// no cap.
	MaxKeypoints int
	// RemoveBorders enables border-margin rejection.
	RemoveBorders bool
	// BorderMargin is the rejected band in pixels along each image edge.
	BorderMargin int
}

// FilterKeypoints applies the shared candidate filter: score threshold,
// then border rejection against the actual image dimensions, then a
// stable sort by descending score truncated to MaxKeypoints. Candidates
// with equal scores keep their input order.
func FilterKeypoints(keypoints []feature.Keypoint, scores []float32, width, height int, config FilterConfig) ([]feature.Keypoint, []float32) {
	filtered := make([]feature.Keypoint, 0, len(keypoints))
	filteredScores := make([]float32, 0, len(keypoints))

	for i, kp := range keypoints {
		if scores[i] < config.KeypointThreshold {
			continue
		}
		if config.RemoveBorders && !InsideBorder(kp, width, height, config.BorderMargin) {
			continue
		}
		filtered = append(filtered, kp)
		filteredScores = append(filteredScores, scores[i])
	}

	// Stable sort keeps the input order of equal-score candidates.
	indices := make([]int, len(filtered))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return filteredScores[indices[a]] > filteredScores[indices[b]]
	})

	limit := len(indices)
	if config.MaxKeypoints > 0 && config.MaxKeypoints < limit {
		limit = config.MaxKeypoints
	}

	outKeypoints := make([]feature.Keypoint, limit)
	outScores := make([]float32, limit)
	for i := 0; i < limit; i++ {
		outKeypoints[i] = filtered[indices[i]]
		outScores[i] = filteredScores[indices[i]]
	}
	return outKeypoints, outScores
}

// InsideBorder reports whether the keypoint lies strictly inside the
// border margin of an image with the given dimensions.
func InsideBorder(kp feature.Keypoint, width, height, margin int) bool {
	m := float32(margin)
	return kp.X >= m && kp.X < float32(width)-m &&
		kp.Y >= m && kp.Y < float32(height)-m
}

// SoftNMS applies soft non-maximum suppression: candidates are visited in
// descending score order, and each kept candidate attenuates the scores
// of its unvisited neighbors within radius by a Gaussian decay factor.
// Attenuated candidates survive if their decayed score still clears the
// threshold, unlike hard NMS which removes them outright. The survivors
// are returned in selection order (descending decayed score).
func SoftNMS(keypoints []feature.Keypoint, scores []float32, radius, threshold float32) ([]feature.Keypoint, []float32) {
	if radius <= 0 || len(keypoints) == 0 {
		return keypoints, scores
	}

	decayed := make([]float32, len(scores))
	copy(decayed, scores)
	visited := make([]bool, len(keypoints))

	outKeypoints := make([]feature.Keypoint, 0, len(keypoints))
	outScores := make([]float32, 0, len(keypoints))

	sigma2 := float64(radius) * float64(radius)

	for {
		best := -1
		for i := range keypoints {
			if visited[i] || decayed[i] < threshold {
				continue
			}
			if best < 0 || decayed[i] > decayed[best] {
				best = i
			}
		}
		if best < 0 {
			break
		}

		visited[best] = true
		outKeypoints = append(outKeypoints, keypoints[best])
		outScores = append(outScores, decayed[best])

		for i := range keypoints {
			if visited[i] {
				continue
			}
			dist := keypoints[best].DistanceTo(keypoints[i])
			if dist > radius {
				continue
			}
			decay := math.Exp(-float64(dist) * float64(dist) / sigma2)
			decayed[i] *= float32(decay)
		}
	}

	return outKeypoints, outScores
}

// MutualCheck reports, for each forward assignment i -> forward[i],
// whether the backward assignment agrees: backward[forward[i]] == i.
// A forward entry of -1 (no assignment) is never mutual.
func MutualCheck(forward, backward []int) []bool {
	mutual := make([]bool, len(forward))
	for i, j := range forward {
		if j < 0 || j >= len(backward) {
			continue
		}
		mutual[i] = backward[j] == i
	}
	return mutual
}

// RatioTest reports, for each candidate, whether the best score is
// sufficiently separated from the second-best: second <= ratio * best.
// Candidates without a second-best (second < 0) pass.
func RatioTest(best, second []float32, ratio float32) []bool {
	pass := make([]bool, len(best))
	for i := range best {
		if second[i] < 0 {
			pass[i] = true
			continue
		}
		pass[i] = second[i] <= ratio*best[i]
	}
	return pass
}
