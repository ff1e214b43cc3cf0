package backend

import (
	"errors"
	"math"
	"testing"

	"github.com/ayusman/parallax/internal/model"
)

func TestTensor_Validate(t *testing.T) {
	good := NewTensor(4, 8)
	if err := good.Validate(); err != nil {
		t.Errorf("Validate() on well-formed tensor: %v", err)
	}

	bad := Tensor{Shape: []int{4, 8}, Data: make([]float32, 3)}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted mismatched data length")
	}
}

func TestTensor_Indexing(t *testing.T) {
	tensor := NewTensor(3, 5)
	tensor.Set2(2, 4, 1.5)
	if got := tensor.At2(2, 4); got != 1.5 {
		t.Errorf("At2(2,4) = %f, want 1.5", got)
	}

	cube := NewTensor(2, 3, 4)
	cube.Set3(1, 2, 3, -2)
	if got := cube.At3(1, 2, 3); got != -2 {
		t.Errorf("At3(1,2,3) = %f, want -2", got)
	}
}

func TestOpen_PyTorchUnsupported(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Backend = model.BackendPyTorch
	cfg.ModelPath = "weights.pt"

	if _, err := Open(cfg); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("Open(pytorch) error = %v, want ErrUnsupportedBackend", err)
	}
}

func TestOpen_MissingModelFile(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Backend = model.BackendONNX
	cfg.ModelPath = "does/not/exist.onnx"

	if _, err := Open(cfg); !errors.Is(err, ErrLoadFailed) {
		t.Errorf("Open(missing file) error = %v, want ErrLoadFailed", err)
	}
}

func TestStubSession_Deterministic(t *testing.T) {
	session := NewStubSession(64, 8)
	defer session.Close()

	input := NewTensor(32, 48)
	for i := range input.Data {
		input.Data[i] = float32(i%7) / 7
	}

	out1, err := session.Forward(input)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	out2, err := session.Forward(input)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	for i := range out1[0].Data {
		if out1[0].Data[i] != out2[0].Data[i] {
			t.Fatalf("score map not deterministic at %d", i)
		}
	}
	for i := range out1[1].Data {
		if out1[1].Data[i] != out2[1].Data[i] {
			t.Fatalf("descriptor field not deterministic at %d", i)
		}
	}
}

func TestStubSession_OutputShapes(t *testing.T) {
	session := NewStubSession(128, 8)
	defer session.Close()

	input := NewTensor(64, 80)
	outputs, err := session.Forward(input)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("Forward() returned %d outputs, want 2", len(outputs))
	}

	scores := outputs[0]
	if scores.Dim(0) != 64 || scores.Dim(1) != 80 {
		t.Errorf("score map shape = %v, want [64 80]", scores.Shape)
	}

	descriptors := outputs[1]
	if descriptors.Dim(0) != 128 || descriptors.Dim(1) != 8 || descriptors.Dim(2) != 10 {
		t.Errorf("descriptor shape = %v, want [128 8 10]", descriptors.Shape)
	}
}

func TestStubSession_DescriptorsNormalized(t *testing.T) {
	session := NewStubSession(32, 8)
	defer session.Close()

	input := NewTensor(16, 16)
	for i := range input.Data {
		input.Data[i] = float32(i) / float32(len(input.Data))
	}

	outputs, err := session.Forward(input)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	descriptors := outputs[1]
	for cy := 0; cy < descriptors.Dim(1); cy++ {
		for cx := 0; cx < descriptors.Dim(2); cx++ {
			var norm float64
			for d := 0; d < descriptors.Dim(0); d++ {
				v := float64(descriptors.At3(d, cy, cx))
				norm += v * v
			}
			if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
				t.Fatalf("cell (%d,%d) descriptor norm = %f, want 1", cx, cy, math.Sqrt(norm))
			}
		}
	}
}

func TestStubOpener(t *testing.T) {
	open := StubOpener(64, 8)
	session, err := open(model.DefaultConfig())
	if err != nil {
		t.Fatalf("StubOpener() error = %v", err)
	}
	defer session.Close()

	if _, ok := session.(*StubSession); !ok {
		t.Errorf("StubOpener() returned %T, want *StubSession", session)
	}
}
