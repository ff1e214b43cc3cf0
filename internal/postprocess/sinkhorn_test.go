package postprocess

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSinkhorn_DoublyStochastic(t *testing.T) {
	affinity := mat.NewDense(3, 3, []float64{
		0.9, 0.1, 0.2,
		0.2, 0.8, 0.1,
		0.1, 0.3, 0.7,
	})

	out := Sinkhorn(affinity, 50, 1e-9)

	rows, cols := out.Dims()
	for i := 0; i < rows; i++ {
		var sum float64
		for j := 0; j < cols; j++ {
			sum += out.At(i, j)
		}
		if math.Abs(sum-1) > 1e-3 {
			t.Errorf("row %d sum = %f, want ~1", i, sum)
		}
	}
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += out.At(i, j)
		}
		if math.Abs(sum-1) > 1e-3 {
			t.Errorf("col %d sum = %f, want ~1", j, sum)
		}
	}
}

func TestSinkhorn_PreservesDominantAssignment(t *testing.T) {
	affinity := mat.NewDense(3, 3, []float64{
		0.9, 0.1, 0.1,
		0.1, 0.9, 0.1,
		0.1, 0.1, 0.9,
	})

	out := Sinkhorn(affinity, 30, 1e-9)

	best, _ := ArgmaxRows(out)
	for i, j := range best {
		if j != i {
			t.Errorf("row %d argmax = %d, want %d", i, j, i)
		}
	}
}

func TestSinkhorn_DoesNotModifyInput(t *testing.T) {
	affinity := mat.NewDense(2, 2, []float64{0.6, 0.4, 0.3, 0.7})
	Sinkhorn(affinity, 10, 1e-9)

	if affinity.At(0, 0) != 0.6 || affinity.At(1, 1) != 0.7 {
		t.Error("Sinkhorn modified its input matrix")
	}
}

func TestSinkhorn_ZeroIterationsPassthrough(t *testing.T) {
	affinity := mat.NewDense(2, 2, []float64{0.6, 0.4, 0.3, 0.7})
	out := Sinkhorn(affinity, 0, 1e-9)

	if out.At(0, 0) != 0.6 || out.At(0, 1) != 0.4 {
		t.Error("zero-iteration Sinkhorn should return a copy of the input")
	}
}

func TestArgmax(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{
		0.1, 0.9, 0.3,
		0.8, 0.2, 0.4,
	})

	rowBest, rowVal := ArgmaxRows(m)
	if rowBest[0] != 1 || rowBest[1] != 0 {
		t.Errorf("ArgmaxRows = %v, want [1 0]", rowBest)
	}
	if rowVal[0] != 0.9 || rowVal[1] != 0.8 {
		t.Errorf("ArgmaxRows values = %v, want [0.9 0.8]", rowVal)
	}

	colBest, _ := ArgmaxCols(m)
	if colBest[0] != 1 || colBest[1] != 0 || colBest[2] != 1 {
		t.Errorf("ArgmaxCols = %v, want [1 0 1]", colBest)
	}
}

func TestSecondBestRows(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{
		0.1, 0.9, 0.3,
		0.8, 0.2, 0.4,
	})

	second := SecondBestRows(m)
	if second[0] != 0.3 {
		t.Errorf("second[0] = %f, want 0.3", second[0])
	}
	if second[1] != 0.4 {
		t.Errorf("second[1] = %f, want 0.4", second[1])
	}

	narrow := mat.NewDense(1, 1, []float64{0.5})
	if got := SecondBestRows(narrow); got[0] != -1 {
		t.Errorf("single-column second best = %f, want -1", got[0])
	}
}
