package matcher

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/ayusman/parallax/internal/backend"
	"github.com/ayusman/parallax/internal/feature"
	"github.com/ayusman/parallax/internal/imageio"
	"github.com/ayusman/parallax/internal/model"
	"github.com/ayusman/parallax/internal/postprocess"

	"gonum.org/v1/gonum/mat"
)

// LoFTRConfig holds the tunables of the coarse-to-fine image matcher.
// Every field can be overridden through the Params map at load time
// using its snake_case key.
type LoFTRConfig struct {
	MatchThreshold float32
	MaxKeypoints   int
	// MutualThreshold admits a non-mutual match whose confidence still
	// clears it.
	MutualThreshold float32
	// CoarseWindow is the coarse cell size in grid units.
	CoarseWindow int
	// FineWindow bounds, in grid units, how far the intra-cell offsets
	// of a fine candidate pair may diverge.
	FineWindow      int
	CoarseThreshold float32
	FineThreshold   float32
	FeatureDim      int
	// Temperature sharpens the dual-softmax confidence; lower values
	// concentrate mass on the dominant pairing.
	Temperature float32
}

// DefaultLoFTRConfig returns the standard matcher tuning.
func DefaultLoFTRConfig() LoFTRConfig {
	return LoFTRConfig{
		MatchThreshold:  0.2,
		MaxKeypoints:    2048,
		MutualThreshold: 0.8,
		CoarseWindow:    8,
		FineWindow:      2,
		CoarseThreshold: 0.2,
		FineThreshold:   0.1,
		FeatureDim:      256,
		Temperature:     0.1,
	}
}

// override applies snake_case parameter overrides on top of the
// current values. Malformed values log and keep the current value.
func (c *LoFTRConfig) override(params map[string]string) {
	model.FloatParam(params, "match_threshold", &c.MatchThreshold)
	model.IntParam(params, "max_keypoints", &c.MaxKeypoints)
	model.FloatParam(params, "mutual_threshold", &c.MutualThreshold)
	model.IntParam(params, "coarse_window", &c.CoarseWindow)
	model.IntParam(params, "fine_window", &c.FineWindow)
	model.FloatParam(params, "coarse_threshold", &c.CoarseThreshold)
	model.FloatParam(params, "fine_threshold", &c.FineThreshold)
	model.IntParam(params, "feature_dim", &c.FeatureDim)
	model.FloatParam(params, "temperature", &c.Temperature)
}

// LoFTR matches an image pair without precomputed keypoints: it lays a
// grid over both images, matches coarse cells by mean descriptor, then
// refines each matched cell pair to grid-point correspondences with a
// dual-softmax confidence.
type LoFTR struct {
	mu      sync.Mutex
	config  model.Config
	params  LoFTRConfig
	session backend.Session
	loaded  bool

	open backend.OpenFunc
}

// NewLoFTR creates an unloaded matcher using the default inference
// backend.
func NewLoFTR() *LoFTR {
	return NewLoFTRWithOpener(backend.Open)
}

// NewLoFTRWithOpener creates an unloaded matcher with a custom session
// opener.
func NewLoFTRWithOpener(open backend.OpenFunc) *LoFTR {
	return &LoFTR{params: DefaultLoFTRConfig(), open: open}
}

// Load opens the inference session and parses parameter overrides.
// Loading an already-loaded matcher is a no-op; on failure the matcher
// stays unloaded.
func (l *LoFTR) Load(config model.Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return nil
	}

	params := DefaultLoFTRConfig()
	params.override(config.Params)

	session, err := l.open(config)
	if err != nil {
		return fmt.Errorf("loftr: %w", err)
	}

	l.config = config
	l.params = params
	l.session = session
	l.loaded = true
	return nil
}

// IsLoaded reports whether the matcher holds an open session.
func (l *LoFTR) IsLoaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Unload closes the session. Unloading an unloaded matcher is a no-op.
func (l *LoFTR) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return
	}
	if err := l.session.Close(); err != nil {
		log.Printf("loftr: closing session: %v", err)
	}
	l.session = nil
	l.loaded = false
}

// Type returns the matcher type.
func (l *LoFTR) Type() model.Type {
	return model.TypeLoFTRMatcher
}

// Name returns the matcher name.
func (l *LoFTR) Name() string {
	return "loftr"
}

// Backend returns the configured inference backend.
func (l *LoFTR) Backend() model.Backend {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config.Backend
}

// Device returns the configured compute device.
func (l *LoFTR) Device() model.Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config.Device
}

// Config returns the effective matcher tuning after Params overrides.
func (l *LoFTR) Config() LoFTRConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params
}

// MatchGridStep returns the grid spacing for an image of the given
// size: one thirty-second of the shorter side, never below one pixel.
func MatchGridStep(width, height int) int {
	short := width
	if height < short {
		short = height
	}
	step := short / 32
	if step < 1 {
		step = 1
	}
	return step
}

// gridFeatures is one image's grid keypoints, their descriptors, and
// the coarse-cell grouping.
type gridFeatures struct {
	keypoints []feature.Keypoint
	descs     []feature.Descriptor
	// gridX and gridY are grid-unit coordinates parallel to keypoints.
	gridX []int
	gridY []int
	// cells maps a coarse cell to the indices of its grid points.
	cells     map[[2]int][]int
	cellKeys  [][2]int
	cellDescs []feature.Descriptor
}

// Match finds correspondences between two images using the loaded
// tuning. Failures and empty inputs log and return an empty result
// rather than an error.
func (l *LoFTR) Match(img1, img2 imageio.Image) feature.MatchResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.match(img1, img2, l.params)
}

// MatchWithParams runs a single match with snake_case parameter
// overrides applied on top of the loaded tuning. The loaded tuning is
// not changed.
func (l *LoFTR) MatchWithParams(img1, img2 imageio.Image, params map[string]string) feature.MatchResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	tuned := l.params
	tuned.override(params)
	return l.match(img1, img2, tuned)
}

func (l *LoFTR) match(img1, img2 imageio.Image, params LoFTRConfig) feature.MatchResult {
	start := time.Now()

	if !l.loaded {
		log.Printf("loftr: match called before load")
		return feature.MatchResult{}
	}
	if img1.Width() == 0 || img1.Height() == 0 || img2.Width() == 0 || img2.Height() == 0 {
		log.Printf("loftr: empty input image")
		return feature.MatchResult{}
	}

	grid1, err := l.extractGrid(img1, params)
	if err != nil {
		log.Printf("loftr: first image inference failed: %v", err)
		return feature.MatchResult{}
	}
	grid2, err := l.extractGrid(img2, params)
	if err != nil {
		log.Printf("loftr: second image inference failed: %v", err)
		return feature.MatchResult{}
	}
	if len(grid1.keypoints) == 0 || len(grid2.keypoints) == 0 {
		log.Printf("loftr: no grid candidates, %d and %d", len(grid1.keypoints), len(grid2.keypoints))
		return feature.MatchResult{}
	}

	result := feature.MatchResult{
		Keypoints1: grid1.keypoints,
		Keypoints2: grid2.keypoints,
	}

	for _, pair := range l.coarseMatches(grid1, grid2, params) {
		l.fineMatches(grid1, grid2, pair[0], pair[1], params, &result)
	}

	result.Finalize(len(grid1.keypoints))
	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return result
}

// MatchFiles decodes two image files and matches them.
func (l *LoFTR) MatchFiles(path1, path2 string) feature.MatchResult {
	img1, err := imageio.Load(path1)
	if err != nil {
		log.Printf("loftr: cannot read %s: %v", path1, err)
		return feature.MatchResult{}
	}
	defer img1.Close()

	img2, err := imageio.Load(path2)
	if err != nil {
		log.Printf("loftr: cannot read %s: %v", path2, err)
		return feature.MatchResult{}
	}
	defer img2.Close()

	return l.Match(img1, img2)
}

// extractGrid runs inference on one image and samples a descriptor for
// every grid point, grouped into coarse cells.
func (l *LoFTR) extractGrid(img imageio.Image, params LoFTRConfig) (*gridFeatures, error) {
	width := img.Width()
	height := img.Height()

	input := backend.Tensor{
		Shape: []int{height, width},
		Data:  imageio.Grayscale(img),
	}
	outputs, err := l.session.Forward(input)
	if err != nil {
		return nil, err
	}
	if len(outputs) < 2 {
		return nil, fmt.Errorf("inference produced %d outputs, need score map and descriptor field", len(outputs))
	}

	field := outputs[1]
	if field.Dim(0) != params.FeatureDim {
		log.Printf("loftr: descriptor field has %d dimensions, expected %d", field.Dim(0), params.FeatureDim)
	}

	step := MatchGridStep(width, height)
	grid := &gridFeatures{cells: make(map[[2]int][]int)}

scan:
	for y, gy := step, 0; y < height-step; y, gy = y+step, gy+1 {
		for x, gx := step, 0; x < width-step; x, gx = x+step, gx+1 {
			if params.MaxKeypoints > 0 && len(grid.keypoints) >= params.MaxKeypoints {
				break scan
			}

			idx := len(grid.keypoints)
			grid.keypoints = append(grid.keypoints, feature.NewKeypoint(float32(x), float32(y)))
			grid.descs = append(grid.descs, sampleField(field, float32(x), float32(y), width, height))
			grid.gridX = append(grid.gridX, gx)
			grid.gridY = append(grid.gridY, gy)

			cell := [2]int{gx / params.CoarseWindow, gy / params.CoarseWindow}
			if _, ok := grid.cells[cell]; !ok {
				grid.cellKeys = append(grid.cellKeys, cell)
			}
			grid.cells[cell] = append(grid.cells[cell], idx)
		}
	}

	// Mean descriptor per coarse cell, renormalized.
	for _, key := range grid.cellKeys {
		members := grid.cells[key]
		mean := make(feature.Descriptor, len(grid.descs[members[0]]))
		for _, idx := range members {
			for d, v := range grid.descs[idx] {
				mean[d] += v
			}
		}
		inv := 1 / float32(len(members))
		for d := range mean {
			mean[d] *= inv
		}
		grid.cellDescs = append(grid.cellDescs, mean.Normalized())
	}

	return grid, nil
}

// coarseMatches pairs coarse cells of the two grids by mean-descriptor
// similarity, keeping forward argmax picks that clear the coarse
// threshold.
func (l *LoFTR) coarseMatches(grid1, grid2 *gridFeatures, params LoFTRConfig) [][2]int {
	affinity := affinityMatrix(grid1.cellDescs, grid2.cellDescs)
	forward, bestVal := postprocess.ArgmaxRows(affinity)

	var pairs [][2]int
	for c1, c2 := range forward {
		if c2 < 0 || float32(bestVal[c1]) < params.CoarseThreshold {
			continue
		}
		pairs = append(pairs, [2]int{c1, c2})
	}
	return pairs
}

// fineMatches refines one matched coarse cell pair into grid-point
// correspondences and appends them to the result.
func (l *LoFTR) fineMatches(grid1, grid2 *gridFeatures, c1, c2 int, params LoFTRConfig, result *feature.MatchResult) {
	members1 := grid1.cells[grid1.cellKeys[c1]]
	members2 := grid2.cells[grid2.cellKeys[c2]]

	confidence := l.dualSoftmax(grid1, grid2, members1, members2, params)

	forward, _ := postprocess.ArgmaxRows(confidence)
	backward, _ := postprocess.ArgmaxCols(confidence)
	mutual := postprocess.MutualCheck(forward, backward)

	for a, b := range forward {
		if b < 0 {
			continue
		}
		conf := float32(confidence.At(a, b))
		if conf < params.FineThreshold || conf < params.MatchThreshold {
			continue
		}
		if !mutual[a] && conf < params.MutualThreshold {
			continue
		}

		result.Matches = append(result.Matches, feature.MatchPair{I: members1[a], J: members2[b]})
		result.Scores = append(result.Scores, conf)
		result.Mutual = append(result.Mutual, mutual[a])
	}
}

// dualSoftmax builds the fine confidence matrix: descriptor similarity
// sharpened by temperature, row-softmaxed and column-softmaxed, with the
// two distributions multiplied elementwise. Pairs whose intra-cell
// offsets diverge by more than the fine window are masked out.
func (l *LoFTR) dualSoftmax(grid1, grid2 *gridFeatures, members1, members2 []int, params LoFTRConfig) *mat.Dense {
	n1 := len(members1)
	n2 := len(members2)

	const masked = math.Inf(-1)

	logits := mat.NewDense(n1, n2, nil)
	for a, i := range members1 {
		for b, j := range members2 {
			dx := offsetIn(grid1.gridX[i], params.CoarseWindow) - offsetIn(grid2.gridX[j], params.CoarseWindow)
			dy := offsetIn(grid1.gridY[i], params.CoarseWindow) - offsetIn(grid2.gridY[j], params.CoarseWindow)
			if abs(dx) > params.FineWindow || abs(dy) > params.FineWindow {
				logits.Set(a, b, masked)
				continue
			}

			sim := float64(grid1.descs[i].Dot(grid2.descs[j]))
			logits.Set(a, b, sim/float64(params.Temperature))
		}
	}

	rowSoft := softmaxRows(logits)
	colSoft := softmaxCols(logits)

	confidence := mat.NewDense(n1, n2, nil)
	for a := 0; a < n1; a++ {
		for b := 0; b < n2; b++ {
			confidence.Set(a, b, rowSoft.At(a, b)*colSoft.At(a, b))
		}
	}
	return confidence
}

// offsetIn returns the intra-cell offset of a grid coordinate.
func offsetIn(g, window int) int {
	if window <= 0 {
		return g
	}
	return g % window
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// softmaxRows applies a numerically stable softmax along each row.
// Rows that are fully masked come out all zero.
func softmaxRows(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)

	for i := 0; i < rows; i++ {
		maxVal := math.Inf(-1)
		for j := 0; j < cols; j++ {
			if v := logits.At(i, j); v > maxVal {
				maxVal = v
			}
		}
		if math.IsInf(maxVal, -1) {
			continue
		}

		var sum float64
		for j := 0; j < cols; j++ {
			v := math.Exp(logits.At(i, j) - maxVal)
			out.Set(i, j, v)
			sum += v
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}

// softmaxCols applies a numerically stable softmax along each column.
func softmaxCols(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)

	for j := 0; j < cols; j++ {
		maxVal := math.Inf(-1)
		for i := 0; i < rows; i++ {
			if v := logits.At(i, j); v > maxVal {
				maxVal = v
			}
		}
		if math.IsInf(maxVal, -1) {
			continue
		}

		var sum float64
		for i := 0; i < rows; i++ {
			v := math.Exp(logits.At(i, j) - maxVal)
			out.Set(i, j, v)
			sum += v
		}
		for i := 0; i < rows; i++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}

// sampleField looks up the normalized descriptor for a pixel location
// in a coarse descriptor field of shape [dim, coarseH, coarseW].
func sampleField(field backend.Tensor, x, y float32, width, height int) feature.Descriptor {
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

	desc := make(feature.Descriptor, dim)
	for d := 0; d < dim; d++ {
		desc[d] = field.At3(d, cy, cx)
	}
	return desc.Normalized()
}
