package app

import (
	"errors"

	"github.com/ayusman/parallax/internal/detector"
	"github.com/ayusman/parallax/internal/feature"
	"github.com/ayusman/parallax/internal/matcher"
	"github.com/ayusman/parallax/internal/model"
)

// ErrNoModel is returned when a pipeline stage has no loaded model to
// run on.
var ErrNoModel = errors.New("app: no loaded model for pipeline stage")

// MatchImages runs the sparse pipeline over two image files: detect
// keypoints and descriptors in each image, then match the descriptor
// sets. The detector is resolved from the registry by type, preferring
// the dense score-map detector over the grid detector.
func (a *App) MatchImages(path1, path2 string) (feature.MatchResult, error) {
	det, err := a.pipelineDetector()
	if err != nil {
		return feature.MatchResult{}, err
	}
	m, err := a.pipelineMatcher()
	if err != nil {
		return feature.MatchResult{}, err
	}

	r1 := det.DetectFile(path1)
	r2 := det.DetectFile(path2)
	if r1.Empty() || r2.Empty() {
		return feature.MatchResult{}, nil
	}

	return m.Match(r1.Keypoints, r1.Descriptors, r2.Keypoints, r2.Descriptors), nil
}

// MatchImagesDense runs the detector-free pipeline over two image
// files using the registered coarse-to-fine matcher.
func (a *App) MatchImagesDense(path1, path2 string) (feature.MatchResult, error) {
	instance, err := a.registry.GetModelByType(model.TypeLoFTRMatcher)
	if err != nil {
		return feature.MatchResult{}, ErrNoModel
	}
	m, ok := instance.(matcher.ImageMatcher)
	if !ok || !m.IsLoaded() {
		return feature.MatchResult{}, ErrNoModel
	}
	return m.MatchFiles(path1, path2), nil
}

// pipelineDetector resolves the loaded detector for the sparse
// pipeline.
func (a *App) pipelineDetector() (detector.Detector, error) {
	for _, t := range []model.Type{model.TypeSuperPointDetector, model.TypeDISKDetector} {
		instance, err := a.registry.GetModelByType(t)
		if err != nil {
			continue
		}
		if det, ok := instance.(detector.Detector); ok && det.IsLoaded() {
			return det, nil
		}
	}
	return nil, ErrNoModel
}

// pipelineMatcher resolves the loaded descriptor matcher for the
// sparse pipeline.
func (a *App) pipelineMatcher() (matcher.DescriptorMatcher, error) {
	instance, err := a.registry.GetModelByType(model.TypeSuperGlueMatcher)
	if err != nil {
		return nil, ErrNoModel
	}
	m, ok := instance.(matcher.DescriptorMatcher)
	if !ok || !m.IsLoaded() {
		return nil, ErrNoModel
	}
	return m, nil
}
