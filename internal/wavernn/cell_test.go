package wavernn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

func stepFixture(t *testing.T, batch int64) (x, cond, h *tensor.Tensor) {
	t.Helper()

	cfg := tinyConfig()
	x = mustTensor(t, ramp(int(batch)*3, 0.8), batch, 3)
	cond = mustTensor(t, ramp(int(batch)*cfg.LCChannels, 1.5), batch, int64(cfg.LCChannels))
	h = mustTensor(t, ramp(int(batch)*cfg.GRUChannels, 0.5), batch, int64(cfg.GRUChannels))

	return x, cond, h
}

func TestCellOutputShapes(t *testing.T) {
	cell, err := tinyModel(t, 1).ToCell()
	require.NoError(t, err)

	x, cond, h := stepFixture(t, 3)

	oc, err := cell.StepCoarse(x, cond, h)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 8}, oc.Shape())

	of, next, err := cell.StepFine(x, cond, h)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 8}, of.Shape())
	assert.Equal(t, []int64{3, 4}, next.Shape())
}

func TestCoarseIgnoresCurrentCoarseInput(t *testing.T) {
	cell, err := tinyModel(t, 2).ToCell()
	require.NoError(t, err)

	_, cond, h := stepFixture(t, 1)

	a, err := cell.StepCoarse(mustTensor(t, []float32{0.1, -0.2, 0}, 1, 3), cond, h)
	require.NoError(t, err)

	b, err := cell.StepCoarse(mustTensor(t, []float32{0.1, -0.2, 0.9}, 1, 3), cond, h)
	require.NoError(t, err)

	assert.Equal(t, a.Data(), b.Data())
}

func TestFineDependsOnCurrentCoarseInput(t *testing.T) {
	cell, err := tinyModel(t, 2).ToCell()
	require.NoError(t, err)

	_, cond, h := stepFixture(t, 1)

	_, a, err := cell.StepFine(mustTensor(t, []float32{0.1, -0.2, -1}, 1, 3), cond, h)
	require.NoError(t, err)

	_, b, err := cell.StepFine(mustTensor(t, []float32{0.1, -0.2, 1}, 1, 3), cond, h)
	require.NoError(t, err)

	// Only the fine half of the new state may move.
	assert.Equal(t, a.Data()[:2], b.Data()[:2])
	assert.NotEqual(t, a.Data()[2:], b.Data()[2:])
}

func TestFineStateAgreesWithCoarseStep(t *testing.T) {
	m := tinyModel(t, 4)
	cell, err := m.ToCell()
	require.NoError(t, err)

	x, cond, h := stepFixture(t, 2)

	coarse, err := cell.StepCoarse(x, cond, h)
	require.NoError(t, err)

	_, next, err := cell.StepFine(x, cond, h)
	require.NoError(t, err)

	half, err := next.Narrow(1, 0, int64(m.Config().SplitSize()))
	require.NoError(t, err)

	again, err := m.Weights().Coarse.Forward(half)
	require.NoError(t, err)

	requireClose(t, coarse.Data(), again.Data(), 1e-6)
}

func TestHiddenStateStaysBounded(t *testing.T) {
	cell, err := tinyModel(t, 5).ToCell()
	require.NoError(t, err)

	x, cond, h := stepFixture(t, 4)

	for range 20 {
		_, next, err := cell.StepFine(x, cond, h)
		require.NoError(t, err)

		for _, v := range next.RawData() {
			require.LessOrEqual(t, math.Abs(float64(v)), 1.0)
		}

		h = next
	}
}

func TestCellIsIsolatedFromModel(t *testing.T) {
	m := tinyModel(t, 6)
	cell, err := m.ToCell()
	require.NoError(t, err)

	x, cond, h := stepFixture(t, 1)

	before, err := cell.StepCoarse(x, cond, h)
	require.NoError(t, err)

	fineBefore, hBefore, err := cell.StepFine(x, cond, h)
	require.NoError(t, err)

	mw := m.Weights()
	for _, w := range []*tensor.Tensor{
		mw.GRU.WeightIH, mw.GRU.WeightHH, mw.GRU.BiasIH, mw.GRU.BiasHH,
		mw.Coarse.Hidden.Weight, mw.Coarse.Hidden.Bias, mw.Coarse.Out.Weight, mw.Coarse.Out.Bias,
		mw.Fine.Hidden.Weight, mw.Fine.Out.Weight,
	} {
		d := w.RawData()
		for i := range d {
			d[i] += 0.5
		}
	}

	after, err := cell.StepCoarse(x, cond, h)
	require.NoError(t, err)

	assert.Equal(t, before.Data(), after.Data())

	fineAfter, hAfter, err := cell.StepFine(x, cond, h)
	require.NoError(t, err)
	assert.Equal(t, fineBefore.Data(), fineAfter.Data())
	assert.Equal(t, hBefore.Data(), hAfter.Data())
}

func TestToCellMasksUnmaskedWeights(t *testing.T) {
	m := tinyModel(t, 7)

	wih := m.Weights().GRU.WeightIH.RawData()
	for i := range wih {
		wih[i] = 0.3
	}

	raw, err := m.ToCell()
	require.NoError(t, err)
	require.False(t, m.MaskHolds(), "ToCell must not mask the model's own weights")

	m.AfterUpdate()

	masked, err := m.ToCell()
	require.NoError(t, err)

	x, cond, h := stepFixture(t, 2)

	a, err := raw.StepCoarse(x, cond, h)
	require.NoError(t, err)

	b, err := masked.StepCoarse(x, cond, h)
	require.NoError(t, err)

	assert.Equal(t, a.Data(), b.Data())
}

func TestCellRejectsBadShapes(t *testing.T) {
	cell, err := tinyModel(t, 1).ToCell()
	require.NoError(t, err)

	x, cond, h := stepFixture(t, 2)

	tests := []struct {
		name       string
		x, cond, h *tensor.Tensor
	}{
		{"x width", mustTensor(t, make([]float32, 8), 2, 4), cond, h},
		{"cond width", x, mustTensor(t, make([]float32, 6), 2, 3), h},
		{"hidden width", x, cond, mustTensor(t, make([]float32, 6), 2, 3)},
		{"batch mismatch", x, cond, mustTensor(t, make([]float32, 4), 1, 4)},
		{"nil state", x, cond, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cell.StepCoarse(tt.x, tt.cond, tt.h)
			require.ErrorIs(t, err, ErrShapeMismatch)

			_, _, err = cell.StepFine(tt.x, tt.cond, tt.h)
			require.ErrorIs(t, err, ErrShapeMismatch)
		})
	}
}
