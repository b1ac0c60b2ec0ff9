package wavernn

import (
	"errors"
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// Model owns a parameter set and the fixed coarse/fine mask. It is the
// training-side representation; inference runs on a Cell derived by ToCell.
type Model struct {
	cfg     Config
	weights *Weights
	mask    *tensor.Tensor
}

// NewModel checks w against cfg and builds the mask. The model keeps w and
// masks its input-to-hidden weights in place on AfterUpdate.
func NewModel(cfg Config, w *Weights) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if w == nil {
		return nil, errors.New("wavernn: nil weights")
	}

	if err := checkWeights(cfg, w); err != nil {
		return nil, err
	}

	mask, err := BuildMask(cfg.GRUChannels, cfg.LCChannels)
	if err != nil {
		return nil, err
	}

	return &Model{cfg: cfg, weights: w, mask: mask}, nil
}

// Load opens a checkpoint, builds the model and applies the mask once, which
// is the state generation expects.
func Load(path, prefix string, cfg Config) (*Model, error) {
	w, err := OpenCheckpoint(path, prefix, cfg)
	if err != nil {
		return nil, err
	}

	m, err := NewModel(cfg, w)
	if err != nil {
		return nil, err
	}

	m.AfterUpdate()

	return m, nil
}

func (m *Model) Config() Config { return m.cfg }

func (m *Model) Weights() *Weights { return m.weights }

// Mask returns a copy of the (3G, lc+3) mask.
func (m *Model) Mask() *tensor.Tensor { return m.mask.Clone() }

// AfterUpdate multiplies the GRU input-to-hidden weights by the mask in
// place. Call it after every parameter update.
func (m *Model) AfterUpdate() {
	wd := m.weights.GRU.WeightIH.RawData()
	for i, v := range m.mask.RawData() {
		wd[i] *= v
	}
}

// MaskHolds reports whether the stored input-to-hidden weights already satisfy
// the mask.
func (m *Model) MaskHolds() bool {
	return maskHolds(m.weights.GRU.WeightIH, m.mask)
}

// ToCell snapshots the GRU parameters and both heads into an immutable step
// unit. The copied input weights are masked; later changes to the model do not
// reach the cell.
func (m *Model) ToCell() (*Cell, error) {
	wih, err := ApplyMask(m.weights.GRU.WeightIH, m.mask)
	if err != nil {
		return nil, err
	}

	gru := m.weights.GRU
	gru.WeightIH = wih
	gru.WeightHH = gru.WeightHH.Clone()
	gru.BiasIH = gru.BiasIH.Clone()
	gru.BiasHH = gru.BiasHH.Clone()

	return &Cell{
		cfg:    m.cfg,
		gru:    gru,
		coarse: m.weights.Coarse.clone(),
		fine:   m.weights.Fine.clone(),
	}, nil
}

func checkWeights(cfg Config, w *Weights) error {
	g := int64(cfg.GRUChannels)
	in := int64(cfg.InputWidth())
	half := int64(cfg.SplitSize())
	fc := int64(cfg.FCChannels)
	q := int64(cfg.QuantizationChannels)

	checks := []struct {
		name string
		t    *tensor.Tensor
		want []int64
	}{
		{KeyWeightIH, w.GRU.WeightIH, []int64{3 * g, in}},
		{KeyWeightHH, w.GRU.WeightHH, []int64{3 * g, g}},
		{KeyBiasIH, w.GRU.BiasIH, []int64{3 * g}},
		{KeyBiasHH, w.GRU.BiasHH, []int64{3 * g}},
		{KeyCoarse + ".0.weight", w.Coarse.Hidden.Weight, []int64{fc, half}},
		{KeyCoarse + ".0.bias", w.Coarse.Hidden.Bias, []int64{fc}},
		{KeyCoarse + ".2.weight", w.Coarse.Out.Weight, []int64{q, fc}},
		{KeyCoarse + ".2.bias", w.Coarse.Out.Bias, []int64{q}},
		{KeyFine + ".0.weight", w.Fine.Hidden.Weight, []int64{fc, half}},
		{KeyFine + ".0.bias", w.Fine.Hidden.Bias, []int64{fc}},
		{KeyFine + ".2.weight", w.Fine.Out.Weight, []int64{q, fc}},
		{KeyFine + ".2.bias", w.Fine.Out.Bias, []int64{q}},
	}

	for _, c := range checks {
		if c.t == nil {
			return fmt.Errorf("%w: %s", ErrMissingWeight, c.name)
		}

		if !equalShape(c.t.Shape(), c.want) {
			return fmt.Errorf("%w: %s has shape %v, want %v", ErrShapeMismatch, c.name, c.t.Shape(), c.want)
		}
	}

	return nil
}
