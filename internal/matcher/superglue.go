package matcher

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/parallax/internal/backend"
	"github.com/ayusman/parallax/internal/feature"
	"github.com/ayusman/parallax/internal/model"
	"github.com/ayusman/parallax/internal/postprocess"
)

// SuperGlueConfig holds the tunables of the pairwise descriptor matcher.
// Every field can be overridden through the Params map at load time
// using its snake_case key.
type SuperGlueConfig struct {
	MatchThreshold float32
	// MutualThreshold admits a non-mutual match whose similarity still
	// clears it.
	MutualThreshold float32
	UseRatioTest    bool
	RatioThreshold  float32
	// SinkhornIterations of zero disables assignment normalization and
	// matches on raw similarity.
	SinkhornIterations int
	SinkhornThreshold  float64
}

// DefaultSuperGlueConfig returns the standard matcher tuning.
func DefaultSuperGlueConfig() SuperGlueConfig {
	return SuperGlueConfig{
		MatchThreshold:     0.2,
		MutualThreshold:    0.8,
		UseRatioTest:       true,
		RatioThreshold:     0.8,
		SinkhornIterations: 20,
		SinkhornThreshold:  1e-4,
	}
}

// override applies snake_case parameter overrides on top of the
// current values. Malformed values log and keep the current value.
func (c *SuperGlueConfig) override(params map[string]string) {
	model.FloatParam(params, "match_threshold", &c.MatchThreshold)
	model.FloatParam(params, "mutual_threshold", &c.MutualThreshold)
	model.BoolParam(params, "use_ratio_test", &c.UseRatioTest)
	model.FloatParam(params, "ratio_threshold", &c.RatioThreshold)
	model.IntParam(params, "sinkhorn_iterations", &c.SinkhornIterations)
	sinkhornThreshold := float32(c.SinkhornThreshold)
	model.FloatParam(params, "sinkhorn_threshold", &sinkhornThreshold)
	c.SinkhornThreshold = float64(sinkhornThreshold)
}

// SuperGlue matches two precomputed keypoint sets through a dense
// descriptor affinity matrix, Sinkhorn assignment and mutual-consistency
// filtering.
type SuperGlue struct {
	mu      sync.Mutex
	config  model.Config
	params  SuperGlueConfig
	session backend.Session
	loaded  bool

	open backend.OpenFunc
}

// NewSuperGlue creates an unloaded matcher using the default inference
// backend.
func NewSuperGlue() *SuperGlue {
	return NewSuperGlueWithOpener(backend.Open)
}

// NewSuperGlueWithOpener creates an unloaded matcher with a custom
// session opener.
func NewSuperGlueWithOpener(open backend.OpenFunc) *SuperGlue {
	return &SuperGlue{params: DefaultSuperGlueConfig(), open: open}
}

// Load opens the inference session and parses parameter overrides.
// Loading an already-loaded matcher is a no-op; on failure the matcher
// stays unloaded.
func (s *SuperGlue) Load(config model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}

	params := DefaultSuperGlueConfig()
	params.override(config.Params)

	session, err := s.open(config)
	if err != nil {
		return fmt.Errorf("superglue: %w", err)
	}

	s.config = config
	s.params = params
	s.session = session
	s.loaded = true
	return nil
}

// IsLoaded reports whether the matcher holds an open session.
func (s *SuperGlue) IsLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Unload closes the session. Unloading an unloaded matcher is a no-op.
func (s *SuperGlue) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return
	}
	if err := s.session.Close(); err != nil {
		log.Printf("superglue: closing session: %v", err)
	}
	s.session = nil
	s.loaded = false
}

// Type returns the matcher type.
func (s *SuperGlue) Type() model.Type {
	return model.TypeSuperGlueMatcher
}

// Name returns the matcher name.
func (s *SuperGlue) Name() string {
	return "superglue"
}

// Backend returns the configured inference backend.
func (s *SuperGlue) Backend() model.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Backend
}

// Device returns the configured compute device.
func (s *SuperGlue) Device() model.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Device
}

// Config returns the effective matcher tuning after Params overrides.
func (s *SuperGlue) Config() SuperGlueConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Match finds correspondences between two keypoint sets using the
// loaded tuning. Failures and empty inputs log and return an empty
// result rather than an error.
func (s *SuperGlue) Match(kps1 []feature.Keypoint, descs1 []feature.Descriptor, kps2 []feature.Keypoint, descs2 []feature.Descriptor) feature.MatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match(kps1, descs1, kps2, descs2, s.params)
}

// MatchWithParams runs a single match with snake_case parameter
// overrides applied on top of the loaded tuning. The loaded tuning is
// not changed.
func (s *SuperGlue) MatchWithParams(kps1 []feature.Keypoint, descs1 []feature.Descriptor, kps2 []feature.Keypoint, descs2 []feature.Descriptor, params map[string]string) feature.MatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	tuned := s.params
	tuned.override(params)
	return s.match(kps1, descs1, kps2, descs2, tuned)
}

func (s *SuperGlue) match(kps1 []feature.Keypoint, descs1 []feature.Descriptor, kps2 []feature.Keypoint, descs2 []feature.Descriptor, params SuperGlueConfig) feature.MatchResult {
	start := time.Now()

	if !s.loaded {
		log.Printf("superglue: match called before load")
		return feature.MatchResult{}
	}
	if len(kps1) == 0 || len(kps2) == 0 {
		log.Printf("superglue: nothing to match, %d and %d keypoints", len(kps1), len(kps2))
		return feature.MatchResult{}
	}
	if len(descs1) != len(kps1) || len(descs2) != len(kps2) {
		log.Printf("superglue: descriptor counts %d/%d do not match keypoint counts %d/%d",
			len(descs1), len(descs2), len(kps1), len(kps2))
		return feature.MatchResult{}
	}

	similarity := affinityMatrix(feature.NormalizeDescriptors(descs1), feature.NormalizeDescriptors(descs2))

	assignment := similarity
	if params.SinkhornIterations > 0 {
		assignment = postprocess.Sinkhorn(similarity, params.SinkhornIterations, params.SinkhornThreshold)
	}

	forward, _ := postprocess.ArgmaxRows(assignment)
	backward, _ := postprocess.ArgmaxCols(assignment)
	mutual := postprocess.MutualCheck(forward, backward)

	var ratioPass []bool
	if params.UseRatioTest {
		best := make([]float32, len(forward))
		for i, j := range forward {
			if j >= 0 {
				best[i] = float32(assignment.At(i, j))
			}
		}
		second := postprocess.SecondBestRows(assignment)
		second32 := make([]float32, len(second))
		for i, v := range second {
			second32[i] = float32(v)
		}
		ratioPass = postprocess.RatioTest(best, second32, params.RatioThreshold)
	}

	result := feature.MatchResult{}
	for i, j := range forward {
		if j < 0 {
			continue
		}

		// Match confidence comes from the raw similarity; the Sinkhorn
		// assignment only arbitrates which pairing wins.
		score := float32(similarity.At(i, j))
		if score < params.MatchThreshold {
			continue
		}
		if !mutual[i] && score < params.MutualThreshold {
			continue
		}
		if ratioPass != nil && !ratioPass[i] {
			continue
		}

		result.Matches = append(result.Matches, feature.MatchPair{I: i, J: j})
		result.Scores = append(result.Scores, score)
		result.Mutual = append(result.Mutual, mutual[i])
	}

	result.Finalize(len(kps1))
	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return result
}
