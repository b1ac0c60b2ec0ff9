package onnx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/wavernn"
)

// nativeGraph emulates an exported step graph with the pure Go cell.
type nativeGraph struct {
	cell  *wavernn.Cell
	calls int
	drop  string
	fail  error
}

func (g *nativeGraph) Name() string { return "native" }
func (g *nativeGraph) Close()       {}

func (g *nativeGraph) Run(_ context.Context, in map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	g.calls++

	if g.fail != nil {
		return nil, g.fail
	}

	lc := int64(g.cell.Config().LCChannels)
	step := in[InputStep]

	cond, err := step.Narrow(1, 0, lc)
	if err != nil {
		return nil, err
	}

	x, err := step.Narrow(1, lc, 3)
	if err != nil {
		return nil, err
	}

	coarse, err := g.cell.StepCoarse(x, cond, in[InputHidden])
	if err != nil {
		return nil, err
	}

	fine, next, err := g.cell.StepFine(x, cond, in[InputHidden])
	if err != nil {
		return nil, err
	}

	out := map[string]*tensor.Tensor{
		OutputHidden: next,
		OutputCoarse: coarse,
		OutputFine:   fine,
	}
	delete(out, g.drop)

	return out, nil
}

func testConfig() wavernn.Config {
	return wavernn.Config{QuantizationChannels: 8, GRUChannels: 4, FCChannels: 6, LCChannels: 2}
}

func nativeCell(t *testing.T) *wavernn.Cell {
	t.Helper()

	cfg := testConfig()

	w, err := wavernn.NewRandomWeights(cfg, 3)
	require.NoError(t, err)

	m, err := wavernn.NewModel(cfg, w)
	require.NoError(t, err)

	cell, err := m.ToCell()
	require.NoError(t, err)

	return cell
}

func stepInputs(t *testing.T) (x, cond, h *tensor.Tensor) {
	t.Helper()

	var err error

	x, err = tensor.New([]float32{0.1, -0.2, 0.3, -0.5, 0.5, 0.9}, []int64{2, 3})
	require.NoError(t, err)

	cond, err = tensor.New([]float32{1, -1, 0.5, 0.25}, []int64{2, 2})
	require.NoError(t, err)

	h, err = tensor.New([]float32{0.1, 0.2, -0.1, 0, 0.3, -0.3, 0.2, 0.05}, []int64{2, 4})
	require.NoError(t, err)

	return x, cond, h
}

func TestCellMatchesNativeCell(t *testing.T) {
	native := nativeCell(t)
	graph := &nativeGraph{cell: native}

	cell, err := NewCell(graph, testConfig())
	require.NoError(t, err)

	x, cond, h := stepInputs(t)

	gotCoarse, err := cell.StepCoarse(x, cond, h)
	require.NoError(t, err)

	wantCoarse, err := native.StepCoarse(x, cond, h)
	require.NoError(t, err)
	assert.Equal(t, wantCoarse.Data(), gotCoarse.Data())

	gotFine, gotNext, err := cell.StepFine(x, cond, h)
	require.NoError(t, err)

	wantFine, wantNext, err := native.StepFine(x, cond, h)
	require.NoError(t, err)
	assert.Equal(t, wantFine.Data(), gotFine.Data())
	assert.Equal(t, wantNext.Data(), gotNext.Data())

	assert.Equal(t, 2, graph.calls)
}

func TestCellGeneratesLikeNativeCell(t *testing.T) {
	native := nativeCell(t)

	cell, err := NewCell(&nativeGraph{cell: native}, testConfig())
	require.NoError(t, err)

	cond, err := tensor.New([]float32{0.5, -0.5, 0.1, 0.2, -0.3, 0.4}, []int64{1, 3, 2})
	require.NoError(t, err)

	want, err := (&wavernn.Generator{Cell: native, Sampler: wavernn.ArgmaxSampler{}}).Generate(cond)
	require.NoError(t, err)

	got, err := (&wavernn.Generator{Cell: cell, Sampler: wavernn.ArgmaxSampler{}}).Generate(cond)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestCellRejectsBadInputs(t *testing.T) {
	graph := &nativeGraph{cell: nativeCell(t)}

	cell, err := NewCell(graph, testConfig())
	require.NoError(t, err)

	x, cond, h := stepInputs(t)

	short, err := tensor.New([]float32{0, 0}, []int64{1, 2})
	require.NoError(t, err)

	_, err = cell.StepCoarse(x, cond, short)
	require.ErrorIs(t, err, wavernn.ErrShapeMismatch)
	assert.Zero(t, graph.calls, "graph must not run on invalid shapes")

	_, err = NewCell(nil, testConfig())
	require.Error(t, err)

	_, err = NewCell(graph, wavernn.Config{GRUChannels: 3})
	require.ErrorIs(t, err, wavernn.ErrInvalidConfig)

	_, _, err = cell.StepFine(x, cond, h)
	require.NoError(t, err)
}

func TestCellReportsGraphProblems(t *testing.T) {
	x, cond, h := stepInputs(t)

	boom := errors.New("session lost")

	failing, err := NewCell(&nativeGraph{cell: nativeCell(t), fail: boom}, testConfig())
	require.NoError(t, err)

	_, err = failing.StepCoarse(x, cond, h)
	require.ErrorIs(t, err, boom)

	missing, err := NewCell(&nativeGraph{cell: nativeCell(t), drop: OutputHidden}, testConfig())
	require.NoError(t, err)

	_, _, err = missing.StepFine(x, cond, h)
	require.ErrorContains(t, err, OutputHidden)

	wrongWidth, err := NewCell(&nativeGraph{cell: nativeCell(t)}, wavernn.Config{
		QuantizationChannels: 16, GRUChannels: 4, FCChannels: 6, LCChannels: 2,
	})
	require.NoError(t, err)

	_, err = wrongWidth.StepCoarse(x, cond, h)
	require.ErrorIs(t, err, wavernn.ErrShapeMismatch)
}
