package detector

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/parallax/internal/backend"
	"github.com/ayusman/parallax/internal/feature"
	"github.com/ayusman/parallax/internal/imageio"
	"github.com/ayusman/parallax/internal/model"
	"github.com/ayusman/parallax/internal/postprocess"
)

// SuperPointConfig holds the tunables of the dense score-map detector.
// Every field can be overridden through the Params map at load time
// using its snake_case key.
type SuperPointConfig struct {
	MaxKeypoints        int
	KeypointThreshold   float32
	RemoveBorders       bool
	BorderMargin        int
	UseNMS              bool
	NMSRadius           float32
	ComputeDescriptors  bool
	DescriptorDim       int
	DescriptorThreshold float32
}

// DefaultSuperPointConfig returns the standard detector tuning.
func DefaultSuperPointConfig() SuperPointConfig {
	return SuperPointConfig{
		MaxKeypoints:        1024,
		KeypointThreshold:   0.005,
		RemoveBorders:       true,
		BorderMargin:        4,
		UseNMS:              true,
		NMSRadius:           4,
		ComputeDescriptors:  true,
		DescriptorDim:       256,
		DescriptorThreshold: 0.1,
	}
}

// override applies snake_case parameter overrides on top of the
// current values. Malformed values log and keep the current value.
func (c *SuperPointConfig) override(params map[string]string) {
	model.IntParam(params, "max_keypoints", &c.MaxKeypoints)
	model.FloatParam(params, "keypoint_threshold", &c.KeypointThreshold)
	model.BoolParam(params, "remove_borders", &c.RemoveBorders)
	model.IntParam(params, "border_margin", &c.BorderMargin)
	model.BoolParam(params, "use_nms", &c.UseNMS)
	model.FloatParam(params, "nms_radius", &c.NMSRadius)
	model.BoolParam(params, "compute_descriptors", &c.ComputeDescriptors)
	model.IntParam(params, "descriptor_dim", &c.DescriptorDim)
	model.FloatParam(params, "descriptor_threshold", &c.DescriptorThreshold)
}

// SuperPoint detects keypoints from a dense per-pixel score map produced
// by the inference session, then filters them through the shared
// post-processing chain.
type SuperPoint struct {
	mu      sync.Mutex
	config  model.Config
	params  SuperPointConfig
	session backend.Session
	loaded  bool

	open backend.OpenFunc
}

// NewSuperPoint creates an unloaded detector using the default inference
// backend.
func NewSuperPoint() *SuperPoint {
	return NewSuperPointWithOpener(backend.Open)
}

// NewSuperPointWithOpener creates an unloaded detector with a custom
// session opener, used to substitute the deterministic stub backend.
func NewSuperPointWithOpener(open backend.OpenFunc) *SuperPoint {
	return &SuperPoint{params: DefaultSuperPointConfig(), open: open}
}

// Load opens the inference session. Loading an already-loaded detector
// is a no-op; on failure the detector stays unloaded.
func (s *SuperPoint) Load(config model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}

	params := DefaultSuperPointConfig()
	params.override(config.Params)

	session, err := s.open(config)
	if err != nil {
		return fmt.Errorf("superpoint: %w", err)
	}

	s.config = config
	s.params = params
	s.session = session
	s.loaded = true
	return nil
}

// IsLoaded reports whether the detector holds an open session.
func (s *SuperPoint) IsLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Unload closes the session. Unloading an unloaded detector is a no-op.
func (s *SuperPoint) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return
	}
	if err := s.session.Close(); err != nil {
		log.Printf("superpoint: closing session: %v", err)
	}
	s.session = nil
	s.loaded = false
}

// Type returns the detector type.
func (s *SuperPoint) Type() model.Type {
	return model.TypeSuperPointDetector
}

// Name returns the detector name.
func (s *SuperPoint) Name() string {
	return "superpoint"
}

// Backend returns the configured inference backend.
func (s *SuperPoint) Backend() model.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Backend
}

// Device returns the configured compute device.
func (s *SuperPoint) Device() model.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Device
}

// Config returns the effective detector tuning after Params overrides.
func (s *SuperPoint) Config() SuperPointConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Detect extracts keypoints from the image using the loaded tuning.
// Failures log and return an empty result rather than an error.
func (s *SuperPoint) Detect(img imageio.Image) feature.DetectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detect(img, s.params)
}

// DetectWithParams runs a single detection with snake_case parameter
// overrides applied on top of the loaded tuning. The loaded tuning is
// not changed.
func (s *SuperPoint) DetectWithParams(img imageio.Image, params map[string]string) feature.DetectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	tuned := s.params
	tuned.override(params)
	return s.detect(img, tuned)
}

func (s *SuperPoint) detect(img imageio.Image, params SuperPointConfig) feature.DetectionResult {
	start := time.Now()

	if !s.loaded {
		log.Printf("superpoint: detect called before load")
		return feature.DetectionResult{}
	}

	width := img.Width()
	height := img.Height()
	if width == 0 || height == 0 {
		log.Printf("superpoint: empty input image")
		return feature.DetectionResult{}
	}

	outputs, err := s.session.Forward(imageTensor(img))
	if err != nil {
		log.Printf("superpoint: inference failed: %v", err)
		return feature.DetectionResult{}
	}
	if len(outputs) < 1 {
		log.Printf("superpoint: inference produced no outputs")
		return feature.DetectionResult{}
	}

	scoreMap := outputs[0]
	keypoints, scores := scanScoreMap(scoreMap, params.KeypointThreshold)

	if params.UseNMS {
		keypoints, scores = postprocess.SoftNMS(keypoints, scores, params.NMSRadius, params.KeypointThreshold)
	}

	keypoints, scores = postprocess.FilterKeypoints(keypoints, scores, width, height, postprocess.FilterConfig{
		KeypointThreshold: params.KeypointThreshold,
		MaxKeypoints:      params.MaxKeypoints,
		RemoveBorders:     params.RemoveBorders,
		BorderMargin:      params.BorderMargin,
	})

	result := feature.DetectionResult{
		Keypoints: keypoints,
		Scores:    scores,
	}

	if params.ComputeDescriptors && len(outputs) > 1 {
		result.Descriptors = make([]feature.Descriptor, len(keypoints))
		for i, kp := range keypoints {
			raw := sampleDescriptor(outputs[1], kp.X, kp.Y, width, height)
			// Cells with too little structure yield unreliable
			// descriptors; zero them instead of returning noise.
			if raw.Norm() < params.DescriptorThreshold {
				result.Descriptors[i] = make(feature.Descriptor, len(raw))
				continue
			}
			result.Descriptors[i] = raw.Normalized()
		}
	}

	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return result
}

// DetectFile decodes an image file and detects keypoints in it.
func (s *SuperPoint) DetectFile(path string) feature.DetectionResult {
	return detectFile("superpoint", path, s.Detect)
}

// scanScoreMap collects every score-map pixel at or above the threshold
// as a candidate keypoint, in row-major order.
func scanScoreMap(scoreMap backend.Tensor, threshold float32) ([]feature.Keypoint, []float32) {
	height := scoreMap.Dim(0)
	width := scoreMap.Dim(1)

	var keypoints []feature.Keypoint
	var scores []float32
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			score := scoreMap.At2(y, x)
			if score < threshold {
				continue
			}
			keypoints = append(keypoints, feature.NewKeypoint(float32(x), float32(y)))
			scores = append(scores, score)
		}
	}
	return keypoints, scores
}
