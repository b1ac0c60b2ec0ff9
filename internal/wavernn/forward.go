package wavernn

import (
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/ops"
	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// Forward evaluates the full-sequence path from a zero state. inputs is
// (B, L, 3) holding (prev coarse, prev fine, current coarse) per step and
// conditions is (B, L, lc). It returns coarse and fine log-probabilities of
// shape (B, L, Q) and the final hidden state (B, G).
func (m *Model) Forward(inputs, conditions *tensor.Tensor) (logPC, logPF, hN *tensor.Tensor, err error) {
	if inputs == nil || conditions == nil || inputs.Rank() != 3 || conditions.Rank() != 3 {
		return nil, nil, nil, fmt.Errorf("%w: forward expects rank-3 inputs and conditions", ErrShapeMismatch)
	}

	if inputs.Dim(2) != 3 || conditions.Dim(2) != int64(m.cfg.LCChannels) ||
		inputs.Dim(0) != conditions.Dim(0) || inputs.Dim(1) != conditions.Dim(1) {
		return nil, nil, nil, fmt.Errorf("%w: inputs %v and conditions %v do not describe the same (B, L)", ErrShapeMismatch, inputs.Shape(), conditions.Shape())
	}

	x, err := tensor.Concat([]*tensor.Tensor{conditions, inputs}, 2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wavernn: forward input: %w", err)
	}

	seq, hN, err := ops.GRUSequence(x, nil, m.weights.GRU)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wavernn: forward gru: %w", err)
	}

	half := int64(m.cfg.SplitSize())

	logPC, err = headLogProbs(seq, 0, half, &m.weights.Coarse)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wavernn: forward coarse: %w", err)
	}

	logPF, err = headLogProbs(seq, half, half, &m.weights.Fine)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wavernn: forward fine: %w", err)
	}

	return logPC, logPF, hN, nil
}

func headLogProbs(seq *tensor.Tensor, start, length int64, head *Head) (*tensor.Tensor, error) {
	part, err := seq.Narrow(2, start, length)
	if err != nil {
		return nil, err
	}

	logits, err := head.Forward(part)
	if err != nil {
		return nil, err
	}

	return tensor.LogSoftmax(logits, 2)
}

// TeacherForcedInputs builds the (B, L, 3) input tensor for Forward from
// known 16-bit samples. Step t carries the previous step's coarse and fine
// values (zero at t = 0) and the current coarse value.
func TeacherForcedInputs(samples [][]int) (*tensor.Tensor, error) {
	batch := len(samples)
	steps := 0

	if batch > 0 {
		steps = len(samples[0])
	}

	data := make([]float32, batch*steps*3)

	for b, row := range samples {
		if len(row) != steps {
			return nil, fmt.Errorf("%w: sample row %d has length %d, want %d", ErrShapeMismatch, b, len(row), steps)
		}

		var cPrev, fPrev float32

		for t, s := range row {
			if s < -32768 || s > 32767 {
				return nil, fmt.Errorf("wavernn: sample %d outside the 16-bit range at (%d, %d)", s, b, t)
			}

			c, f := SplitSample(s)
			base := (b*steps + t) * 3
			data[base] = cPrev
			data[base+1] = fPrev
			data[base+2] = ClassToValue(c)
			cPrev = ClassToValue(c)
			fPrev = ClassToValue(f)
		}
	}

	return tensor.FromData(data, []int64{int64(batch), int64(steps), 3})
}
