package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// GRUWeights holds the parameters of a single-layer GRU in PyTorch layout.
// Gate blocks are stacked as r, z, n along the first dimension.
type GRUWeights struct {
	WeightIH *tensor.Tensor // [3H, in]
	WeightHH *tensor.Tensor // [3H, H]
	BiasIH   *tensor.Tensor // [3H]
	BiasHH   *tensor.Tensor // [3H]
}

// Hidden returns H, the hidden width.
func (w GRUWeights) Hidden() int64 {
	if w.WeightHH == nil {
		return 0
	}

	return w.WeightHH.Dim(1)
}

// Input returns the input width.
func (w GRUWeights) Input() int64 {
	if w.WeightIH == nil {
		return 0
	}

	return w.WeightIH.Dim(1)
}

// Validate checks that all four tensors agree on H and the gate count.
func (w GRUWeights) Validate() error {
	if w.WeightIH == nil || w.WeightHH == nil || w.BiasIH == nil || w.BiasHH == nil {
		return errors.New("ops: gru weights are incomplete")
	}

	h := w.Hidden()
	if h <= 0 {
		return fmt.Errorf("ops: gru hidden size must be > 0, got %d", h)
	}

	checks := []struct {
		name string
		t    *tensor.Tensor
		want []int64
	}{
		{"weight_ih", w.WeightIH, []int64{3 * h, w.Input()}},
		{"weight_hh", w.WeightHH, []int64{3 * h, h}},
		{"bias_ih", w.BiasIH, []int64{3 * h}},
		{"bias_hh", w.BiasHH, []int64{3 * h}},
	}

	for _, c := range checks {
		if !equalShape(c.t.Shape(), c.want) {
			return fmt.Errorf("ops: gru %s shape %v, want %v", c.name, c.t.Shape(), c.want)
		}
	}

	return nil
}

// GRUCell advances a GRU by one step.
//
//	r  = σ(W_ir x + b_ir + W_hr h + b_hr)
//	z  = σ(W_iz x + b_iz + W_hz h + b_hz)
//	n  = tanh(W_in x + b_in + r ⊙ (W_hn h + b_hn))
//	h' = (1 − z) ⊙ n + z ⊙ h
//
// x is [B, in] and h is [B, H]; the result is a fresh [B, H] tensor.
func GRUCell(x, h *tensor.Tensor, w GRUWeights) (*tensor.Tensor, error) {
	if x == nil || h == nil {
		return nil, errors.New("ops: gru cell requires non-nil x and h")
	}

	hid := w.Hidden()
	if x.Rank() != 2 || h.Rank() != 2 {
		return nil, fmt.Errorf("ops: gru cell expects rank-2 x and h, got %v and %v", x.Shape(), h.Shape())
	}

	if h.Dim(1) != hid || x.Dim(0) != h.Dim(0) {
		return nil, fmt.Errorf("ops: gru cell state shape %v incompatible with x %v and hidden %d", h.Shape(), x.Shape(), hid)
	}

	gi, err := tensor.Linear(x, w.WeightIH, w.BiasIH)
	if err != nil {
		return nil, fmt.Errorf("ops: gru input projection: %w", err)
	}

	gh, err := tensor.Linear(h, w.WeightHH, w.BiasHH)
	if err != nil {
		return nil, fmt.Errorf("ops: gru hidden projection: %w", err)
	}

	batch := int(h.Dim(0))
	width := int(hid)
	giD := gi.RawData()
	ghD := gh.RawData()
	hD := h.RawData()
	out := make([]float32, batch*width)

	for b := range batch {
		gRow := b * 3 * width
		hRow := b * width

		for j := range width {
			r := sigmoid(giD[gRow+j] + ghD[gRow+j])
			z := sigmoid(giD[gRow+width+j] + ghD[gRow+width+j])
			n := float32(math.Tanh(float64(giD[gRow+2*width+j] + r*ghD[gRow+2*width+j])))
			out[hRow+j] = (1-z)*n + z*hD[hRow+j]
		}
	}

	return tensor.FromData(out, []int64{int64(batch), hid})
}

// GRUSequence runs the GRU over every timestep of x [B, L, in] starting from
// h0 [B, H] (zeros when nil). It returns all hidden states [B, L, H] and the
// final state [B, H].
func GRUSequence(x, h0 *tensor.Tensor, w GRUWeights) (*tensor.Tensor, *tensor.Tensor, error) {
	if x == nil || x.Rank() != 3 {
		return nil, nil, fmt.Errorf("ops: gru sequence expects [B, L, in] input, got %v", x.Shape())
	}

	batch, steps, in := x.Dim(0), x.Dim(1), x.Dim(2)
	hid := w.Hidden()

	h := h0
	if h == nil {
		var err error

		h, err = tensor.Zeros([]int64{batch, hid})
		if err != nil {
			return nil, nil, err
		}
	}

	outputs := make([]float32, batch*steps*hid)

	for t := range steps {
		xt, err := x.Narrow(1, t, 1)
		if err != nil {
			return nil, nil, fmt.Errorf("ops: gru sequence step %d: %w", t, err)
		}

		xt, err = xt.Reshape([]int64{batch, in})
		if err != nil {
			return nil, nil, err
		}

		h, err = GRUCell(xt, h, w)
		if err != nil {
			return nil, nil, fmt.Errorf("ops: gru sequence step %d: %w", t, err)
		}

		hD := h.RawData()
		for b := range batch {
			dst := (b*steps + t) * hid
			copy(outputs[dst:dst+hid], hD[b*hid:(b+1)*hid])
		}
	}

	seq, err := tensor.FromData(outputs, []int64{batch, steps, hid})
	if err != nil {
		return nil, nil, err
	}

	return seq, h, nil
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
