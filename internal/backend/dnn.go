package backend

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"gocv.io/x/gocv"

	"github.com/ayusman/parallax/internal/model"
)

// Default output layer names for exported detector networks. Exports of
// SuperPoint/DISK-style models conventionally name their heads this way;
// both can be overridden through config params.
const (
	defaultScoresLayer      = "scores"
	defaultDescriptorsLayer = "descriptors"
)

// dnnSession executes a network through the GoCV DNN module.
type dnnSession struct {
	net         gocv.Net
	scoresLayer string
	descLayer   string
}

// openDNN loads the network weights and binds them to the configured
// backend and device.
func openDNN(config model.Config) (Session, error) {
	if config.ModelPath == "" {
		return nil, fmt.Errorf("%w: empty model path", ErrLoadFailed)
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	net := gocv.ReadNet(config.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot read network from %s", ErrLoadFailed, config.ModelPath)
	}

	if err := net.SetPreferableBackend(preferableBackend(config)); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: backend selection: %v", ErrLoadFailed, err)
	}
	if err := net.SetPreferableTarget(preferableTarget(config)); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: target selection: %v", ErrLoadFailed, err)
	}

	s := &dnnSession{
		net:         net,
		scoresLayer: defaultScoresLayer,
		descLayer:   defaultDescriptorsLayer,
	}
	if name, ok := config.Params["scores_layer"]; ok {
		s.scoresLayer = name
	}
	if name, ok := config.Params["descriptors_layer"]; ok {
		s.descLayer = name
	}
	return s, nil
}

// preferableBackend maps the configured backend/device pair onto a DNN
// compute backend.
func preferableBackend(config model.Config) gocv.NetBackendType {
	if config.Device == model.DeviceCUDA {
		return gocv.NetBackendCUDA
	}
	if config.Device == model.DeviceVulkan {
		return gocv.NetBackendVKCOM
	}
	if config.Backend == model.BackendOpenVINO {
		return gocv.NetBackendOpenVINO
	}
	return gocv.NetBackendDefault
}

// preferableTarget maps the configured device and precision flag onto a
// DNN compute target.
func preferableTarget(config model.Config) gocv.NetTargetType {
	switch config.Device {
	case model.DeviceCUDA:
		if config.UseFP16 {
			return gocv.NetTargetCUDAFP16
		}
		return gocv.NetTargetCUDA
	case model.DeviceOpenCL:
		if config.UseFP16 {
			return gocv.NetTargetFP16
		}
		return gocv.NetTargetFP32
	case model.DeviceVulkan:
		return gocv.NetTargetVulkan
	default:
		return gocv.NetTargetCPU
	}
}

// Forward runs the network on a [height, width] grayscale tensor and
// returns the score map and descriptor field tensors.
func (s *dnnSession) Forward(input Tensor) ([]Tensor, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("expected [height, width] input, got shape %v", input.Shape)
	}

	height := input.Dim(0)
	width := input.Dim(1)

	blob, err := gocv.NewMatWithSizesFromBytes([]int{1, 1, height, width}, gocv.MatTypeCV32F, floatBytes(input.Data))
	if err != nil {
		return nil, fmt.Errorf("input blob: %w", err)
	}
	defer blob.Close()

	s.net.SetInput(blob, "")

	outputs := s.net.ForwardLayers([]string{s.scoresLayer, s.descLayer})
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	if len(outputs) < 2 {
		return nil, fmt.Errorf("network produced %d outputs, want 2", len(outputs))
	}

	scores, err := matToTensor(outputs[0])
	if err != nil {
		return nil, fmt.Errorf("score output: %w", err)
	}
	descriptors, err := matToTensor(outputs[1])
	if err != nil {
		return nil, fmt.Errorf("descriptor output: %w", err)
	}

	return []Tensor{scores, descriptors}, nil
}

// Close releases the network.
func (s *dnnSession) Close() error {
	return s.net.Close()
}

// matToTensor copies a DNN output Mat into a Tensor, dropping any leading
// batch dimension of size 1.
func matToTensor(m gocv.Mat) (Tensor, error) {
	data, err := m.DataPtrFloat32()
	if err != nil {
		return Tensor{}, err
	}

	shape := m.Size()
	for len(shape) > 2 && shape[0] == 1 {
		shape = shape[1:]
	}

	t := Tensor{
		Shape: append([]int(nil), shape...),
		Data:  append([]float32(nil), data...),
	}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// floatBytes reinterprets a float32 slice as little-endian bytes for blob
// construction.
func floatBytes(data []float32) []byte {
	out := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
