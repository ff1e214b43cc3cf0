// Package backend treats "load a model and run inference on a device" as
// an opaque capability behind the Session interface. The real
// implementation executes through the GoCV DNN module; a deterministic
// stub stands in when no model weights are available.
package backend

import "fmt"

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zero tensor with the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: shape, Data: make([]float32, n)}
}

// Numel returns the total number of elements.
func (t Tensor) Numel() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Dim returns the size of dimension i, or 1 if the tensor has fewer
// dimensions.
func (t Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 1
	}
	return t.Shape[i]
}

// At2 reads element (i, j) of a 2-D tensor.
func (t Tensor) At2(i, j int) float32 {
	return t.Data[i*t.Dim(1)+j]
}

// Set2 writes element (i, j) of a 2-D tensor.
func (t *Tensor) Set2(i, j int, v float32) {
	t.Data[i*t.Dim(1)+j] = v
}

// At3 reads element (c, i, j) of a 3-D tensor.
func (t Tensor) At3(c, i, j int) float32 {
	return t.Data[(c*t.Dim(1)+i)*t.Dim(2)+j]
}

// Set3 writes element (c, i, j) of a 3-D tensor.
func (t *Tensor) Set3(c, i, j int, v float32) {
	t.Data[(c*t.Dim(1)+i)*t.Dim(2)+j] = v
}

// Validate checks that the data length matches the shape.
func (t Tensor) Validate() error {
	if len(t.Data) != t.Numel() {
		return fmt.Errorf("tensor data length %d does not match shape %v", len(t.Data), t.Shape)
	}
	return nil
}
