package ops

import (
	"math"
	"testing"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

func mustTensor(t *testing.T, data []float32, shape ...int64) *tensor.Tensor {
	t.Helper()

	x, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("tensor.New(%v): %v", shape, err)
	}

	return x
}

func filled(n int, fn func(i int) float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = fn(i)
	}

	return out
}

func assertClose(t *testing.T, kernel string, got, want []float32) {
	t.Helper()

	tol, err := KernelTolerance(kernel)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != len(want) {
		t.Fatalf("%s: len(got)=%d len(want)=%d", kernel, len(got), len(want))
	}

	for i := range got {
		if !tol.Within(got[i], want[i]) {
			t.Fatalf("%s: index %d got %v want %v (abs diff %v)", kernel, i, got[i], want[i], math.Abs(float64(got[i]-want[i])))
		}
	}
}

// testGRU builds deterministic, non-trivial GRU weights.
func testGRU(t *testing.T, in, hidden int64) GRUWeights {
	t.Helper()

	g := 3 * hidden

	return GRUWeights{
		WeightIH: mustTensor(t, filled(int(g*in), func(i int) float32 { return float32(math.Sin(float64(i)*0.37)) * 0.5 }), g, in),
		WeightHH: mustTensor(t, filled(int(g*hidden), func(i int) float32 { return float32(math.Cos(float64(i)*0.21)) * 0.4 }), g, hidden),
		BiasIH:   mustTensor(t, filled(int(g), func(i int) float32 { return 0.01 * float32(i%5) }), g),
		BiasHH:   mustTensor(t, filled(int(g), func(i int) float32 { return -0.02 * float32(i%3) }), g),
	}
}
