package wavernn

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/example/go-wavernn/internal/runtime/ops"
	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/safetensors"
)

// Checkpoint tensor names, relative to an optional prefix. They follow the
// PyTorch state dict of the reference module.
const (
	KeyWeightIH = "gru.weight_ih_l0"
	KeyWeightHH = "gru.weight_hh_l0"
	KeyBiasIH   = "gru.bias_ih_l0"
	KeyBiasHH   = "gru.bias_hh_l0"
	KeyCoarse   = "fc_coarse"
	KeyFine     = "fc_fine"
	KeyMask     = "mask"

	// checkpointPointer names the file inside a checkpoint directory whose
	// first line is the checkpoint file to restore.
	checkpointPointer = "checkpoint"
)

// Weights is the full parameter set of the vocoder.
type Weights struct {
	GRU    ops.GRUWeights
	Coarse Head
	Fine   Head
}

// LoadWeights reads and shape-checks every tensor for cfg. Either every
// tensor loads or an error is returned; all problems found are joined into it.
func LoadWeights(vb *VarBuilder, cfg Config) (*Weights, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := int64(cfg.GRUChannels)
	in := int64(cfg.InputWidth())

	var errs []error

	load := func(name string, shape ...int64) *tensor.Tensor {
		t, err := vb.Tensor(name, shape...)
		if err != nil {
			errs = append(errs, err)
		}

		return t
	}

	w := &Weights{
		GRU: ops.GRUWeights{
			WeightIH: load(KeyWeightIH, 3*g, in),
			WeightHH: load(KeyWeightHH, 3*g, g),
			BiasIH:   load(KeyBiasIH, 3*g),
			BiasHH:   load(KeyBiasHH, 3*g),
		},
	}

	var err error

	if w.Coarse, err = loadHead(vb, KeyCoarse, cfg); err != nil {
		errs = append(errs, err)
	}

	if w.Fine, err = loadHead(vb, KeyFine, cfg); err != nil {
		errs = append(errs, err)
	}

	if buf, ok, err := vb.TensorMaybe(KeyMask, 3*g, in); err != nil {
		errs = append(errs, err)
	} else if ok {
		want, err := BuildMask(cfg.GRUChannels, cfg.LCChannels)
		if err != nil {
			errs = append(errs, err)
		} else if !equalData(buf.RawData(), want.RawData()) {
			errs = append(errs, fmt.Errorf("%w: stored mask buffer differs from the coarse/fine mask", ErrShapeMismatch))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("wavernn: load weights: %w", errors.Join(errs...))
	}

	return w, nil
}

// InferConfig derives model dimensions from the tensor shapes in a store.
func InferConfig(vb *VarBuilder) (Config, error) {
	shape := func(name string) []int64 {
		if vb == nil || vb.store == nil {
			return nil
		}

		s, _ := vb.store.Shape(vb.resolve(name))

		return s
	}

	hh := shape(KeyWeightHH)
	ih := shape(KeyWeightIH)
	fc := shape(KeyCoarse + ".0.weight")
	out := shape(KeyCoarse + ".2.weight")

	if len(hh) != 2 || len(ih) != 2 || len(fc) != 2 || len(out) != 2 {
		return Config{}, fmt.Errorf("%w: checkpoint lacks the GRU or coarse head tensors needed to infer dimensions", ErrMissingWeight)
	}

	cfg := Config{
		QuantizationChannels: int(out[0]),
		GRUChannels:          int(hh[1]),
		FCChannels:           int(fc[0]),
		LCChannels:           int(ih[1]) - 3,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ResolveCheckpoint maps path to a checkpoint file. A directory is resolved
// through its "checkpoint" pointer file.
func ResolveCheckpoint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("wavernn: checkpoint %s: %w", path, err)
	}

	if !info.IsDir() {
		return path, nil
	}

	pointer := filepath.Join(path, checkpointPointer)

	f, err := os.Open(pointer)
	if err != nil {
		return "", fmt.Errorf("wavernn: checkpoint directory %s has no pointer file: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("wavernn: read %s: %w", pointer, err)
		}

		return "", fmt.Errorf("wavernn: pointer file %s is empty", pointer)
	}

	name := strings.TrimSpace(sc.Text())
	if name == "" {
		return "", fmt.Errorf("wavernn: pointer file %s is empty", pointer)
	}

	if filepath.IsAbs(name) {
		return name, nil
	}

	return filepath.Join(path, name), nil
}

// StoreOptions strips the "module." prefix torch.nn.DataParallel puts on every
// state dict key. An unprefixed tensor of the same name wins.
func StoreOptions() safetensors.StoreOptions {
	return safetensors.StoreOptions{
		KeyMapper: func(name string) (string, bool) {
			return strings.TrimPrefix(name, "module."), true
		},
		RemapMode: safetensors.RemapLenient,
	}
}

// OpenCheckpoint resolves path, opens the safetensors file and loads the
// weights found under prefix.
func OpenCheckpoint(path, prefix string, cfg Config) (*Weights, error) {
	resolved, err := ResolveCheckpoint(path)
	if err != nil {
		return nil, err
	}

	store, err := safetensors.OpenStore(resolved, StoreOptions())
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return LoadWeights(NewVarBuilder(store).Path(prefix), cfg)
}

// SaveCheckpoint writes w under prefix with cfg recorded as metadata.
func SaveCheckpoint(path, prefix string, cfg Config, w *Weights) error {
	if w == nil {
		return errors.New("wavernn: save checkpoint: nil weights")
	}

	mask, err := BuildMask(cfg.GRUChannels, cfg.LCChannels)
	if err != nil {
		return err
	}

	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	name := func(key string) string {
		if prefix == "" {
			return key
		}

		return prefix + "." + key
	}

	entries := []struct {
		key string
		t   *tensor.Tensor
	}{
		{KeyWeightIH, w.GRU.WeightIH},
		{KeyWeightHH, w.GRU.WeightHH},
		{KeyBiasIH, w.GRU.BiasIH},
		{KeyBiasHH, w.GRU.BiasHH},
		{KeyCoarse + ".0.weight", w.Coarse.Hidden.Weight},
		{KeyCoarse + ".0.bias", w.Coarse.Hidden.Bias},
		{KeyCoarse + ".2.weight", w.Coarse.Out.Weight},
		{KeyCoarse + ".2.bias", w.Coarse.Out.Bias},
		{KeyFine + ".0.weight", w.Fine.Hidden.Weight},
		{KeyFine + ".0.bias", w.Fine.Hidden.Bias},
		{KeyFine + ".2.weight", w.Fine.Out.Weight},
		{KeyFine + ".2.bias", w.Fine.Out.Bias},
		{KeyMask, mask},
	}

	tensors := make([]safetensors.Tensor, 0, len(entries))
	for _, e := range entries {
		if e.t == nil {
			return fmt.Errorf("%w: %s is nil", ErrMissingWeight, e.key)
		}

		tensors = append(tensors, safetensors.Tensor{Name: name(e.key), Shape: e.t.Shape(), Data: e.t.RawData()})
	}

	meta := map[string]string{
		"format":                "wavernn",
		"quantization_channels": strconv.Itoa(cfg.QuantizationChannels),
		"gru_channels":          strconv.Itoa(cfg.GRUChannels),
		"fc_channels":           strconv.Itoa(cfg.FCChannels),
		"lc_channels":           strconv.Itoa(cfg.LCChannels),
	}

	return safetensors.WriteFile(path, tensors, meta)
}

// NewRandomWeights initializes weights the way PyTorch does for nn.GRU and
// nn.Linear: uniform in ±1/sqrt(fan), with fan the hidden size for the GRU and
// the input width for each linear layer. The GRU input weights come out masked.
func NewRandomWeights(cfg Config, seed uint64) (*Weights, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	uniform := func(bound float64, shape ...int64) *tensor.Tensor {
		n := int64(1)
		for _, d := range shape {
			n *= d
		}

		data := make([]float32, n)
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * bound)
		}

		t, _ := tensor.FromData(data, shape)

		return t
	}

	g := int64(cfg.GRUChannels)
	in := int64(cfg.InputWidth())
	gb := 1 / math.Sqrt(float64(g))

	linear := func(inW, outW int) Linear {
		b := 1 / math.Sqrt(float64(inW))
		return Linear{
			Weight: uniform(b, int64(outW), int64(inW)),
			Bias:   uniform(b, int64(outW)),
		}
	}

	head := func() Head {
		return Head{
			Hidden: linear(cfg.SplitSize(), cfg.FCChannels),
			Out:    linear(cfg.FCChannels, cfg.QuantizationChannels),
		}
	}

	w := &Weights{
		GRU: ops.GRUWeights{
			WeightIH: uniform(gb, 3*g, in),
			WeightHH: uniform(gb, 3*g, g),
			BiasIH:   uniform(gb, 3*g),
			BiasHH:   uniform(gb, 3*g),
		},
		Coarse: head(),
		Fine:   head(),
	}

	mask, err := BuildMask(cfg.GRUChannels, cfg.LCChannels)
	if err != nil {
		return nil, err
	}

	if w.GRU.WeightIH, err = ApplyMask(w.GRU.WeightIH, mask); err != nil {
		return nil, err
	}

	return w, nil
}

func equalData(a, b []float32) bool {
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
