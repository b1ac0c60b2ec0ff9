package wavernn

import (
	"errors"
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/ops"
	"github.com/example/go-wavernn/internal/runtime/tensor"
)

type Linear struct {
	Weight *tensor.Tensor // [out, in]
	Bias   *tensor.Tensor // [out]
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if l == nil || l.Weight == nil {
		return nil, errors.New("wavernn: linear is not initialized")
	}

	return tensor.Linear(x, l.Weight, l.Bias)
}

// Head maps one hidden half to Q unnormalized logits:
// Linear(G/2 → fc) → ReLU → Linear(fc → Q). It holds no state between calls.
type Head struct {
	Hidden Linear // "<name>.0"
	Out    Linear // "<name>.2"
}

func (l Linear) clone() Linear {
	out := Linear{Weight: l.Weight.Clone()}
	if l.Bias != nil {
		out.Bias = l.Bias.Clone()
	}

	return out
}

func (h Head) clone() *Head {
	return &Head{Hidden: h.Hidden.clone(), Out: h.Out.clone()}
}

func (h *Head) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if h == nil || h.Hidden.Weight == nil || h.Out.Weight == nil {
		return nil, errors.New("wavernn: head is not initialized")
	}

	return ops.MLP(x, h.Hidden.Weight, h.Hidden.Bias, h.Out.Weight, h.Out.Bias)
}

func loadLinear(vb *VarBuilder, name string, in, out int) (Linear, error) {
	w, err := vb.Tensor(name+".weight", int64(out), int64(in))
	if err != nil {
		return Linear{}, err
	}

	b, err := vb.Tensor(name+".bias", int64(out))
	if err != nil {
		return Linear{}, err
	}

	return Linear{Weight: w, Bias: b}, nil
}

func loadHead(vb *VarBuilder, name string, cfg Config) (Head, error) {
	hidden, err := loadLinear(vb, name+".0", cfg.SplitSize(), cfg.FCChannels)
	if err != nil {
		return Head{}, fmt.Errorf("wavernn: %s: %w", name, err)
	}

	out, err := loadLinear(vb, name+".2", cfg.FCChannels, cfg.QuantizationChannels)
	if err != nil {
		return Head{}, fmt.Errorf("wavernn: %s: %w", name, err)
	}

	return Head{Hidden: hidden, Out: out}, nil
}
