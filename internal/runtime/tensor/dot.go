package tensor

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemvRows computes y[r] = W·x[r] + y[r] for every row r of the batch in
// [lo, hi). W is [out, in] row-major and y must be pre-filled with the bias.
func gemvRows(w []float32, out, in int, x, y []float32, lo, hi int) {
	a := blas32.General{Rows: out, Cols: in, Stride: in, Data: w}

	for r := lo; r < hi; r++ {
		xv := blas32.Vector{N: in, Inc: 1, Data: x[r*in : (r+1)*in]}
		yv := blas32.Vector{N: out, Inc: 1, Data: y[r*out : (r+1)*out]}
		blas32.Gemv(blas.NoTrans, 1, a, xv, 1, yv)
	}
}
