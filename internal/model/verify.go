package model

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/example/go-wavernn/internal/onnx"
	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/safetensors"
	"github.com/example/go-wavernn/internal/wavernn"
)

// VerifyLocked re-hashes every file recorded in dir's lock manifest.
func VerifyLocked(dir string, w io.Writer) error {
	if w == nil {
		w = io.Discard
	}

	lockPath := filepath.Join(dir, LockFileName)

	lock := readLockManifest(lockPath)
	if len(lock.Files) == 0 {
		return fmt.Errorf("no files recorded in %s", lockPath)
	}

	names := make([]string, 0, len(lock.Files))
	for name := range lock.Files {
		names = append(names, name)
	}

	slices.Sort(names)

	var failures []string

	for _, name := range names {
		want := lock.Files[name].SHA256

		got, err := fileSHA256(filepath.Join(dir, filepath.FromSlash(name)))
		switch {
		case err != nil:
			fmt.Fprintf(w, "FAIL %s: %v\n", name, err)
			failures = append(failures, name)
		case got != want:
			fmt.Fprintf(w, "FAIL %s: sha256 %s, want %s\n", name, got, want)
			failures = append(failures, name)
		default:
			fmt.Fprintf(w, "PASS %s\n", name)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("verify failed for %d file(s): %s", len(failures), strings.Join(failures, ", "))
	}

	return nil
}

// SmokeStep runs one coarse and one fine step on zero inputs and checks the
// output shapes.
func SmokeStep(cell wavernn.StepCell) error {
	cfg := cell.Config()

	x, err := tensor.Zeros([]int64{1, 3})
	if err != nil {
		return err
	}

	cond, err := tensor.Zeros([]int64{1, int64(cfg.LCChannels)})
	if err != nil {
		return err
	}

	h, err := tensor.Zeros([]int64{1, int64(cfg.GRUChannels)})
	if err != nil {
		return err
	}

	q := int64(cfg.QuantizationChannels)

	oc, err := cell.StepCoarse(x, cond, h)
	if err != nil {
		return fmt.Errorf("coarse step: %w", err)
	}

	if oc.Dim(0) != 1 || oc.Dim(1) != q {
		return fmt.Errorf("%w: coarse logits %v, want [1 %d]", wavernn.ErrShapeMismatch, oc.Shape(), q)
	}

	of, next, err := cell.StepFine(x, cond, h)
	if err != nil {
		return fmt.Errorf("fine step: %w", err)
	}

	if of.Dim(0) != 1 || of.Dim(1) != q {
		return fmt.Errorf("%w: fine logits %v, want [1 %d]", wavernn.ErrShapeMismatch, of.Shape(), q)
	}

	if next.Dim(0) != 1 || next.Dim(1) != int64(cfg.GRUChannels) {
		return fmt.Errorf("%w: next hidden %v, want [1 %d]", wavernn.ErrShapeMismatch, next.Shape(), cfg.GRUChannels)
	}

	return nil
}

// VerifyCheckpoint loads the checkpoint at path, confirms the mask holds after
// restore and runs a smoke step.
func VerifyCheckpoint(path, prefix string, cfg wavernn.Config) error {
	m, err := wavernn.Load(path, prefix, cfg)
	if err != nil {
		return err
	}

	if !m.MaskHolds() {
		return errors.New("mask does not hold after restore")
	}

	cell, err := m.ToCell()
	if err != nil {
		return err
	}

	return SmokeStep(cell)
}

// VerifyONNXCell loads the exported step graph and runs a smoke step.
func VerifyONNXCell(path string, cfg wavernn.Config, rc onnx.RunnerConfig) error {
	cell, runner, err := onnx.OpenCell(path, cfg, rc)
	if err != nil {
		return err
	}
	defer runner.Close()

	return SmokeStep(cell)
}

// Summary describes a checkpoint file.
type Summary struct {
	Path     string
	Tensors  []TensorInfo
	Metadata map[string]string
	// Config is the inferred model shape; ConfigErr is set when inference fails.
	Config    wavernn.Config
	ConfigErr error
}

type TensorInfo struct {
	Name  string
	Shape []int64
}

// Inspect lists the tensors and metadata of a checkpoint and infers the
// model dimensions from the tensors under prefix.
func Inspect(path, prefix string) (Summary, error) {
	resolved, err := wavernn.ResolveCheckpoint(path)
	if err != nil {
		return Summary{}, err
	}

	store, err := safetensors.OpenStore(resolved, wavernn.StoreOptions())
	if err != nil {
		return Summary{}, err
	}
	defer store.Close()

	s := Summary{Path: resolved, Metadata: store.Metadata()}

	for _, name := range store.Names() {
		shape, _ := store.Shape(name)
		s.Tensors = append(s.Tensors, TensorInfo{Name: name, Shape: shape})
	}

	s.Config, s.ConfigErr = wavernn.InferConfig(wavernn.NewVarBuilder(store).Path(prefix))

	return s, nil
}

// Write prints s in a readable form.
func (s Summary) Write(w io.Writer) {
	fmt.Fprintf(w, "checkpoint: %s\n", s.Path)

	if s.ConfigErr != nil {
		fmt.Fprintf(w, "config: unavailable (%v)\n", s.ConfigErr)
	} else {
		fmt.Fprintf(w, "config: quantization=%d gru=%d fc=%d lc=%d\n",
			s.Config.QuantizationChannels, s.Config.GRUChannels, s.Config.FCChannels, s.Config.LCChannels)
	}

	if len(s.Metadata) > 0 {
		keys := make([]string, 0, len(s.Metadata))
		for k := range s.Metadata {
			keys = append(keys, k)
		}

		slices.Sort(keys)

		fmt.Fprintln(w, "metadata:")

		for _, k := range keys {
			fmt.Fprintf(w, "  %s = %s\n", k, s.Metadata[k])
		}
	}

	fmt.Fprintf(w, "tensors (%d):\n", len(s.Tensors))

	for _, t := range s.Tensors {
		fmt.Fprintf(w, "  %-32s %v\n", t.Name, t.Shape)
	}
}

// InitCheckpoint writes seeded random weights for cfg to path.
func InitCheckpoint(path, prefix string, cfg wavernn.Config, seed uint64) error {
	w, err := wavernn.NewRandomWeights(cfg, seed)
	if err != nil {
		return err
	}

	return wavernn.SaveCheckpoint(path, prefix, cfg, w)
}
