package wavernn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

func tinyConfig() Config {
	return Config{QuantizationChannels: 8, GRUChannels: 4, FCChannels: 6, LCChannels: 2}
}

func tinyModel(t *testing.T, seed uint64) *Model {
	t.Helper()

	cfg := tinyConfig()
	w, err := NewRandomWeights(cfg, seed)
	require.NoError(t, err)

	m, err := NewModel(cfg, w)
	require.NoError(t, err)

	return m
}

func mustTensor(t *testing.T, data []float32, shape ...int64) *tensor.Tensor {
	t.Helper()

	x, err := tensor.New(data, shape)
	require.NoError(t, err)

	return x
}

func ramp(n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = scale * float32(math.Sin(float64(i)*0.7+0.3))
	}

	return out
}

func requireClose(t *testing.T, want, got []float32, tol float64) {
	t.Helper()

	require.Len(t, got, len(want))

	for i := range want {
		require.InDeltaf(t, want[i], got[i], tol, "index %d", i)
	}
}
