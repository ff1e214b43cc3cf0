package detector

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
)

// DISKConfig holds the tunables of the grid-based detector. Every field
// can be overridden through the Params map at load time using its
// snake_case key.
type DISKConfig struct {
	MaxKeypoints      int
	KeypointThreshold float32
	RemoveBorders     bool
	BorderMargin      int
	DescriptorDim     int
	// SoftThreshold zeroes soft scores whose raw descriptor magnitude
	// falls below it.
	SoftThreshold float32
	PatchSize     int

	RotationInvariance bool
	RotationThreshold  float32
	ScaleInvariance    bool
	ScaleThreshold     float32
}

// DefaultDISKConfig returns the standard detector tuning.
func DefaultDISKConfig() DISKConfig {
	return DISKConfig{
		MaxKeypoints:       2048,
		KeypointThreshold:  0.005,
		RemoveBorders:      true,
		BorderMargin:       4,
		DescriptorDim:      128,
		SoftThreshold:      0.1,
		PatchSize:          32,
		RotationInvariance: true,
		RotationThreshold:  0.1,
		ScaleInvariance:    true,
		ScaleThreshold:     0.1,
	}
}

// override applies snake_case parameter overrides on top of the
// current values. Malformed values log and keep the current value.
func (c *DISKConfig) override(params map[string]string) {
	model.IntParam(params, "max_keypoints", &c.MaxKeypoints)
	model.FloatParam(params, "keypoint_threshold", &c.KeypointThreshold)
	model.BoolParam(params, "remove_borders", &c.RemoveBorders)
	model.IntParam(params, "border_margin", &c.BorderMargin)
	model.IntParam(params, "descriptor_dim", &c.DescriptorDim)
	model.FloatParam(params, "soft_threshold", &c.SoftThreshold)
	model.IntParam(params, "patch_size", &c.PatchSize)
	model.BoolParam(params, "rotation_invariance", &c.RotationInvariance)
	model.FloatParam(params, "rotation_threshold", &c.RotationThreshold)
	model.BoolParam(params, "scale_invariance", &c.ScaleInvariance)
	model.FloatParam(params, "scale_threshold", &c.ScaleThreshold)
}

// DISK detects keypoints on a regular grid whose spacing adapts to the
// image size, scoring each grid point from the dense score map. The
// full grid survives in the result's dense fields for diagnostics.
type DISK struct {
	mu      sync.Mutex
	config  model.Config
	params  DISKConfig
	session backend.Session
	loaded  bool

	open backend.OpenFunc
}

// NewDISK creates an unloaded detector using the default inference
// backend.
func NewDISK() *DISK {
	return NewDISKWithOpener(backend.Open)
}

// NewDISKWithOpener creates an unloaded detector with a custom session
// opener.
func NewDISKWithOpener(open backend.OpenFunc) *DISK {
	return &DISK{params: DefaultDISKConfig(), open: open}
}

// Load opens the inference session. Loading an already-loaded detector
// is a no-op; on failure the detector stays unloaded.
func (d *DISK) Load(config model.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return nil
	}

	params := DefaultDISKConfig()
	params.override(config.Params)

	session, err := d.open(config)
	if err != nil {
		return fmt.Errorf("disk: %w", err)
	}

	d.config = config
	d.params = params
	d.session = session
	d.loaded = true
	return nil
}

// IsLoaded reports whether the detector holds an open session.
func (d *DISK) IsLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Unload closes the session. Unloading an unloaded detector is a no-op.
func (d *DISK) Unload() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		return
	}
	if err := d.session.Close(); err != nil {
		log.Printf("disk: closing session: %v", err)
	}
	d.session = nil
	d.loaded = false
}

// Type returns the detector type.
func (d *DISK) Type() model.Type {
	return model.TypeDISKDetector
}

// Name returns the detector name.
func (d *DISK) Name() string {
	return "disk"
}

// Backend returns the configured inference backend.
func (d *DISK) Backend() model.Backend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config.Backend
}

// Device returns the configured compute device.
func (d *DISK) Device() model.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config.Device
}

// Config returns the effective detector tuning after Params overrides.
func (d *DISK) Config() DISKConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// GridStep returns the grid spacing for an image of the given size:
// one sixteenth of the shorter side, never below one pixel.
func GridStep(width, height int) int {
	short := width
	if height < short {
		short = height
	}
	step := short / 16
	if step < 1 {
		step = 1
	}
	return step
}

// Detect extracts keypoints at grid locations using the loaded tuning.
// Failures log and return an empty result rather than an error.
func (d *DISK) Detect(img imageio.Image) feature.DetectionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detect(img, d.params)
}

// DetectWithParams runs a single detection with snake_case parameter
// overrides applied on top of the loaded tuning. The loaded tuning is
// not changed.
func (d *DISK) DetectWithParams(img imageio.Image, params map[string]string) feature.DetectionResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	tuned := d.params
	tuned.override(params)
	return d.detect(img, tuned)
}

func (d *DISK) detect(img imageio.Image, params DISKConfig) feature.DetectionResult {
	start := time.Now()

	if !d.loaded {
		log.Printf("disk: detect called before load")
		return feature.DetectionResult{}
	}

	width := img.Width()
	height := img.Height()
	if width == 0 || height == 0 {
		log.Printf("disk: empty input image")
		return feature.DetectionResult{}
	}

	input := imageTensor(img)
	outputs, err := d.session.Forward(input)
	if err != nil {
		log.Printf("disk: inference failed: %v", err)
		return feature.DetectionResult{}
	}
	if len(outputs) < 2 {
		log.Printf("disk: inference produced %d outputs, need score map and descriptor field", len(outputs))
		return feature.DetectionResult{}
	}

	scoreMap := outputs[0]
	descField := outputs[1]
	step := GridStep(width, height)

	result := feature.DetectionResult{}

	var keypoints []feature.Keypoint
	var scores []float32
	for y := step; y < height-step; y += step {
		for x := step; x < width-step; x += step {
			kp := feature.NewKeypoint(float32(x), float32(y))
			applyInvariance(&kp, input, params)

			raw := sampleDescriptor(descField, kp.X, kp.Y, width, height)
			soft := raw.Norm()
			if soft < params.SoftThreshold {
				soft = 0
			}

			result.DenseKeypoints = append(result.DenseKeypoints, kp)
			result.DenseDescriptors = append(result.DenseDescriptors, raw.Normalized())
			result.SoftScores = append(result.SoftScores, soft)

			keypoints = append(keypoints, kp)
			scores = append(scores, scoreMap.At2(y, x))
		}
	}

	keypoints, scores = postprocess.FilterKeypoints(keypoints, scores, width, height, postprocess.FilterConfig{
		KeypointThreshold: params.KeypointThreshold,
		MaxKeypoints:      params.MaxKeypoints,
		RemoveBorders:     params.RemoveBorders,
		BorderMargin:      params.BorderMargin,
	})

	result.Keypoints = keypoints
	result.Scores = scores
	result.Descriptors = make([]feature.Descriptor, len(keypoints))
	for i, kp := range keypoints {
		result.Descriptors[i] = sampleDescriptor(descField, kp.X, kp.Y, width, height).Normalized()
	}

	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return result
}

// DetectFile decodes an image file and detects keypoints in it.
func (d *DISK) DetectFile(path string) feature.DetectionResult {
	return detectFile("disk", path, d.Detect)
}

// applyInvariance fills the keypoint shape matrix from the local image
// gradient when the respective invariance modes are enabled. A gradient
// too weak to orient the patch leaves the identity shape in place.
func applyInvariance(kp *feature.Keypoint, input backend.Tensor, params DISKConfig) {
	if !params.RotationInvariance && !params.ScaleInvariance {
		return
	}

	gx, gy := gradientAt(input, int(kp.X), int(kp.Y))
	mag := float32(math.Sqrt(float64(gx*gx + gy*gy)))

	scale := float32(1)
	if params.ScaleInvariance && mag > params.ScaleThreshold {
		scale = 1 + mag
	}

	if params.RotationInvariance && mag > params.RotationThreshold {
		theta := math.Atan2(float64(gy), float64(gx))
		cos := float32(math.Cos(theta))
		sin := float32(math.Sin(theta))
		kp.A11 = scale * cos
		kp.A12 = -scale * sin
		kp.A21 = scale * sin
		kp.A22 = scale * cos
		return
	}

	kp.A11 = scale
	kp.A22 = scale
}

// gradientAt computes the central-difference gradient of a [height,
// width] tensor at (x, y), clamping reads at the edges.
func gradientAt(input backend.Tensor, x, y int) (gx, gy float32) {
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

	gx = (at(x+1, y) - at(x-1, y)) / 2
	gy = (at(x, y+1) - at(x, y-1)) / 2
	return gx, gy
}
