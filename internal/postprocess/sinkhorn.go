package postprocess

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Sinkhorn converts a non-negative affinity matrix into an approximately
// doubly-stochastic assignment matrix by alternately normalizing rows and
// columns. Iteration stops after maxIterations or once the largest
// element change falls below threshold. The input is not modified.
//
// The result supports extracting a globally consistent one-to-one
// assignment instead of independent per-row argmax picks.
func Sinkhorn(affinity *mat.Dense, maxIterations int, threshold float64) *mat.Dense {
	rows, cols := affinity.Dims()

	out := mat.NewDense(rows, cols, nil)
	out.Copy(affinity)

	if maxIterations <= 0 {
		return out
	}

	prev := mat.NewDense(rows, cols, nil)

	for iter := 0; iter < maxIterations; iter++ {
		prev.Copy(out)

		// Row normalization.
		for i := 0; i < rows; i++ {
			var sum float64
			for j := 0; j < cols; j++ {
				sum += out.At(i, j)
			}
			if sum == 0 {
				continue
			}
			for j := 0; j < cols; j++ {
				out.Set(i, j, out.At(i, j)/sum)
			}
		}

		// Column normalization.
		for j := 0; j < cols; j++ {
			var sum float64
			for i := 0; i < rows; i++ {
				sum += out.At(i, j)
			}
			if sum == 0 {
				continue
			}
			for i := 0; i < rows; i++ {
				out.Set(i, j, out.At(i, j)/sum)
			}
		}

		var delta float64
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				d := math.Abs(out.At(i, j) - prev.At(i, j))
				if d > delta {
					delta = d
				}
			}
		}
		if delta < threshold {
			break
		}
	}

	return out
}

// ArgmaxRows returns, for each row, the column holding the row maximum
// and that maximum, or -1 for all-zero-width rows.
func ArgmaxRows(m *mat.Dense) ([]int, []float64) {
	rows, cols := m.Dims()
	best := make([]int, rows)
	bestVal := make([]float64, rows)

	for i := 0; i < rows; i++ {
		best[i] = -1
		bestVal[i] = math.Inf(-1)
		for j := 0; j < cols; j++ {
			if v := m.At(i, j); v > bestVal[i] {
				bestVal[i] = v
				best[i] = j
			}
		}
	}
	return best, bestVal
}

// ArgmaxCols returns, for each column, the row holding the column
// maximum and that maximum, or -1 for zero-height columns.
func ArgmaxCols(m *mat.Dense) ([]int, []float64) {
	rows, cols := m.Dims()
	best := make([]int, cols)
	bestVal := make([]float64, cols)

	for j := 0; j < cols; j++ {
		best[j] = -1
		bestVal[j] = math.Inf(-1)
		for i := 0; i < rows; i++ {
			if v := m.At(i, j); v > bestVal[j] {
				bestVal[j] = v
				best[j] = i
			}
		}
	}
	return best, bestVal
}

// SecondBestRows returns, for each row, the second-largest value, or -1
// when the row has fewer than two columns.
func SecondBestRows(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	second := make([]float64, rows)

	for i := 0; i < rows; i++ {
		if cols < 2 {
			second[i] = -1
			continue
		}
		first := math.Inf(-1)
		next := math.Inf(-1)
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if v > first {
				next = first
				first = v
			} else if v > next {
				next = v
			}
		}
		second[i] = next
	}
	return second
}
