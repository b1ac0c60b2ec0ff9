package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/wavernn"
)

// Graph tensor names of an exported WaveRNN step.
const (
	InputStep    = "inputs"
	InputHidden  = "h"
	OutputHidden = "h_next"
	OutputCoarse = "coarse_logits"
	OutputFine   = "fine_logits"
)

// Cell runs one exported recurrent step per call. The graph consumes
// [conditioning, prev_coarse, prev_fine, cur_coarse] and the prior hidden
// state, and produces the next state plus both heads' logits.
type Cell struct {
	runner GraphRunner
	cfg    wavernn.Config
}

var _ wavernn.StepCell = (*Cell)(nil)

// NewCell wraps runner. The caller keeps ownership of runner.
func NewCell(runner GraphRunner, cfg wavernn.Config) (*Cell, error) {
	if runner == nil {
		return nil, errors.New("onnx: nil graph runner")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Cell{runner: runner, cfg: cfg}, nil
}

// OpenCell loads the step graph at path.
func OpenCell(path string, cfg wavernn.Config, rc RunnerConfig) (*Cell, *Runner, error) {
	runner, err := NewRunner("wavernn_cell", path, rc)
	if err != nil {
		return nil, nil, err
	}

	cell, err := NewCell(runner, cfg)
	if err != nil {
		runner.Close()
		return nil, nil, err
	}

	return cell, runner, nil
}

func (c *Cell) Config() wavernn.Config { return c.cfg }

func (c *Cell) StepCoarse(x, cond, h *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := c.run(x, cond, h)
	if err != nil {
		return nil, err
	}

	return c.output(out, OutputCoarse, int64(c.cfg.QuantizationChannels), x.Dim(0))
}

func (c *Cell) StepFine(x, cond, h *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	out, err := c.run(x, cond, h)
	if err != nil {
		return nil, nil, err
	}

	batch := x.Dim(0)

	logits, err := c.output(out, OutputFine, int64(c.cfg.QuantizationChannels), batch)
	if err != nil {
		return nil, nil, err
	}

	next, err := c.output(out, OutputHidden, int64(c.cfg.GRUChannels), batch)
	if err != nil {
		return nil, nil, err
	}

	return logits, next, nil
}

func (c *Cell) run(x, cond, h *tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if err := wavernn.CheckStepShapes(c.cfg, x, cond, h); err != nil {
		return nil, err
	}

	in, err := tensor.Concat([]*tensor.Tensor{cond, x}, 1)
	if err != nil {
		return nil, err
	}

	out, err := c.runner.Run(context.Background(), map[string]*tensor.Tensor{
		InputStep:   in,
		InputHidden: h,
	})
	if err != nil {
		return nil, fmt.Errorf("onnx: step: %w", err)
	}

	return out, nil
}

func (c *Cell) output(out map[string]*tensor.Tensor, name string, width, batch int64) (*tensor.Tensor, error) {
	t, ok := out[name]
	if !ok || t == nil {
		return nil, fmt.Errorf("onnx: step graph %q has no output %q", c.runner.Name(), name)
	}

	if t.Rank() != 2 || t.Dim(0) != batch || t.Dim(1) != width {
		return nil, fmt.Errorf("%w: output %q shape %v, want [%d %d]", wavernn.ErrShapeMismatch, name, t.Shape(), batch, width)
	}

	return t, nil
}
