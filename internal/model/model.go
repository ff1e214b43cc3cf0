// Package model defines the common interface implemented by every
// detector and matcher variant, together with the configuration passed
// to Load.
package model

import (
	"log"
	"strconv"
)

// Type identifies the kind of model an instance implements.
type Type string

const (
	// TypeSuperPointDetector is the dense score-map keypoint detector.
	TypeSuperPointDetector Type = "superpoint_detector"
	// TypeDISKDetector is the grid-based keypoint detector.
	TypeDISKDetector Type = "disk_detector"
	// TypeSuperGlueMatcher is the pairwise dense descriptor matcher.
	TypeSuperGlueMatcher Type = "superglue_matcher"
	// TypeLoFTRMatcher is the coarse-to-fine image pair matcher.
	TypeLoFTRMatcher Type = "loftr_matcher"
)

// Backend selects the inference engine used to execute a model.
type Backend int

const (
	// BackendPyTorch executes TorchScript checkpoints.
	BackendPyTorch Backend = iota
	// BackendTensorFlow executes frozen TensorFlow graphs.
	BackendTensorFlow
	// BackendONNX executes ONNX models.
	BackendONNX
	// BackendOpenVINO executes OpenVINO IR models.
	BackendOpenVINO
)

// String returns a human-readable backend name.
func (b Backend) String() string {
	switch b {
	case BackendPyTorch:
		return "pytorch"
	case BackendTensorFlow:
		return "tensorflow"
	case BackendONNX:
		return "onnx"
	case BackendOpenVINO:
		return "openvino"
	default:
		return "unknown"
	}
}

// Device selects the compute device a model runs on.
type Device int

const (
	// DeviceCPU is the always-available CPU fallback.
	DeviceCPU Device = iota
	// DeviceCUDA is an NVIDIA GPU.
	DeviceCUDA
	// DeviceOpenCL is an OpenCL-capable GPU.
	DeviceOpenCL
	// DeviceVulkan is a Vulkan-capable GPU.
	DeviceVulkan
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceCUDA:
		return "cuda"
	case DeviceOpenCL:
		return "opencl"
	case DeviceVulkan:
		return "vulkan"
	default:
		return "unknown"
	}
}

// ParseDevice converts a device name to a Device.
// Unrecognized names fall back to the CPU device.
func ParseDevice(s string) Device {
	switch s {
	case "cuda":
		return DeviceCUDA
	case "opencl":
		return DeviceOpenCL
	case "vulkan":
		return DeviceVulkan
	default:
		return DeviceCPU
	}
}

// ParseBackend converts a backend name to a Backend.
// Unrecognized names fall back to the PyTorch backend.
func ParseBackend(s string) Backend {
	switch s {
	case "tensorflow":
		return BackendTensorFlow
	case "onnx":
		return BackendONNX
	case "openvino":
		return BackendOpenVINO
	default:
		return BackendPyTorch
	}
}

// Config holds the load-time configuration for a model instance.
// Params carries free-form string-keyed overrides for per-model defaults;
// unrecognized keys are ignored by the receiving model.
type Config struct {
	ModelPath           string
	Backend             Backend
	Device              Device
	UseFP16             bool
	BatchSize           int
	ConfidenceThreshold float32
	Params              map[string]string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Backend:             BackendPyTorch,
		Device:              DeviceCPU,
		UseFP16:             false,
		BatchSize:           1,
		ConfidenceThreshold: 0.5,
	}
}

// Model is the capability set shared by all detector and matcher
// variants. Load must be idempotent and must leave IsLoaded false on
// failure; Unload is idempotent.
type Model interface {
	Load(config Config) error
	IsLoaded() bool
	Unload()
	Type() Type
	Name() string
	Backend() Backend
	Device() Device
}

// IntParam parses an integer override from the params map into dst.
// A missing key leaves dst untouched; a malformed value is logged and
// leaves the default in place.
func IntParam(params map[string]string, key string, dst *int) {
	value, ok := params[key]
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Ignoring malformed parameter %s=%q: %v", key, value, err)
		return
	}
	*dst = parsed
}

// FloatParam parses a float32 override from the params map into dst.
// A missing key leaves dst untouched; a malformed value is logged and
// leaves the default in place.
func FloatParam(params map[string]string, key string, dst *float32) {
	value, ok := params[key]
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(value, 32)
	if err != nil {
		log.Printf("Ignoring malformed parameter %s=%q: %v", key, value, err)
		return
	}
	*dst = float32(parsed)
}

// BoolParam parses a boolean override from the params map into dst.
// A missing key leaves dst untouched; a malformed value is logged and
// leaves the default in place.
func BoolParam(params map[string]string, key string, dst *bool) {
	value, ok := params[key]
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Ignoring malformed parameter %s=%q: %v", key, value, err)
		return
	}
	*dst = parsed
}
