package backend

import (
	"errors"
	"fmt"

	"github.com/ayusman/parallax/internal/model"
)

// ErrUnsupportedBackend is returned when no inference engine can execute
// the configured backend.
var ErrUnsupportedBackend = errors.New("unsupported backend")

// ErrLoadFailed is returned when the model weights cannot be loaded.
var ErrLoadFailed = errors.New("model load failed")

// Session is a loaded inference engine. For detector models the input is
// a grayscale image tensor of shape [height, width]; the outputs are a
// score map tensor [height, width] followed by a descriptor field tensor
// [dim, height/stride, width/stride]. Matcher sessions follow the same
// layout per image.
//
// A Session is not safe for concurrent Forward calls; that exclusion is
// the caller's responsibility.
type Session interface {
	Forward(input Tensor) ([]Tensor, error)
	Close() error
}

// OpenFunc opens a Session for the given configuration. A failing open
// must not leak resources.
type OpenFunc func(config model.Config) (Session, error)

// Open opens the inference session described by the configuration,
// dispatching on the configured backend. TorchScript checkpoints are not
// executable through the DNN module and must be exported to ONNX first.
func Open(config model.Config) (Session, error) {
	switch config.Backend {
	case model.BackendONNX, model.BackendTensorFlow, model.BackendOpenVINO:
		return openDNN(config)
	case model.BackendPyTorch:
		return nil, fmt.Errorf("%w: pytorch checkpoints require export to onnx", ErrUnsupportedBackend)
	default:
		return nil, ErrUnsupportedBackend
	}
}
