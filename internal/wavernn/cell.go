package wavernn

import (
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/ops"
	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// StepCell is a single-timestep recurrent unit with coarse and fine outputs.
// Cell is the pure Go implementation; other backends (ONNX Runtime) satisfy
// the same contract.
type StepCell interface {
	// StepCoarse returns coarse logits (B, Q) computed from the first hidden
	// half after one transition from h. The new state is discarded.
	StepCoarse(x, cond, h *tensor.Tensor) (*tensor.Tensor, error)
	// StepFine repeats the transition from the same h and returns fine
	// logits (B, Q) from the second hidden half together with h' (B, G).
	StepFine(x, cond, h *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)
	Config() Config
}

// Cell is an immutable snapshot of masked GRU weights and the two heads.
// Safe for concurrent use.
type Cell struct {
	cfg    Config
	gru    ops.GRUWeights
	coarse *Head
	fine   *Head
}

var _ StepCell = (*Cell)(nil)

func (c *Cell) Config() Config { return c.cfg }

func (c *Cell) StepCoarse(x, cond, h *tensor.Tensor) (*tensor.Tensor, error) {
	next, err := c.transition(x, cond, h)
	if err != nil {
		return nil, err
	}

	half := int64(c.cfg.SplitSize())

	hc, err := next.Narrow(1, 0, half)
	if err != nil {
		return nil, fmt.Errorf("wavernn: coarse split: %w", err)
	}

	logits, err := c.coarse.Forward(hc)
	if err != nil {
		return nil, fmt.Errorf("wavernn: coarse head: %w", err)
	}

	return logits, nil
}

func (c *Cell) StepFine(x, cond, h *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	next, err := c.transition(x, cond, h)
	if err != nil {
		return nil, nil, err
	}

	half := int64(c.cfg.SplitSize())

	hf, err := next.Narrow(1, half, half)
	if err != nil {
		return nil, nil, fmt.Errorf("wavernn: fine split: %w", err)
	}

	logits, err := c.fine.Forward(hf)
	if err != nil {
		return nil, nil, fmt.Errorf("wavernn: fine head: %w", err)
	}

	return logits, next, nil
}

func (c *Cell) transition(x, cond, h *tensor.Tensor) (*tensor.Tensor, error) {
	if err := CheckStepShapes(c.cfg, x, cond, h); err != nil {
		return nil, err
	}

	in, err := tensor.Concat([]*tensor.Tensor{cond, x}, 1)
	if err != nil {
		return nil, fmt.Errorf("wavernn: step input: %w", err)
	}

	next, err := ops.GRUCell(in, h, c.gru)
	if err != nil {
		return nil, fmt.Errorf("wavernn: gru step: %w", err)
	}

	return next, nil
}

// CheckStepShapes validates x (B, 3), cond (B, lc) and h (B, G).
func CheckStepShapes(cfg Config, x, cond, h *tensor.Tensor) error {
	if x == nil || cond == nil || h == nil {
		return fmt.Errorf("%w: step inputs must be non-nil", ErrShapeMismatch)
	}

	if x.Rank() != 2 || x.Dim(1) != 3 {
		return fmt.Errorf("%w: x has shape %v, want (B, 3)", ErrShapeMismatch, x.Shape())
	}

	batch := x.Dim(0)

	if cond.Rank() != 2 || cond.Dim(0) != batch || cond.Dim(1) != int64(cfg.LCChannels) {
		return fmt.Errorf("%w: conditioning has shape %v, want (%d, %d)", ErrShapeMismatch, cond.Shape(), batch, cfg.LCChannels)
	}

	if h.Rank() != 2 || h.Dim(0) != batch || h.Dim(1) != int64(cfg.GRUChannels) {
		return fmt.Errorf("%w: hidden state has shape %v, want (%d, %d)", ErrShapeMismatch, h.Shape(), batch, cfg.GRUChannels)
	}

	return nil
}
