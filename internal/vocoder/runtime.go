// Package vocoder turns conditioning frames into 16-bit audio with either
// step backend.
package vocoder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-wavernn/internal/config"
	"github.com/example/go-wavernn/internal/onnx"
	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/wavernn"
)

// Runtime abstracts step-cell execution so both backends share the same
// batching and encoding pipeline.
type Runtime interface {
	// Generate samples (B, L) from conditions (B, L, lc). When ctx ends the
	// loop stops before its next step and Generate returns ctx.Err(); no
	// computation outlives the call.
	Generate(ctx context.Context, conditions *tensor.Tensor, progress wavernn.ProgressFunc) ([][]int, error)
	Config() wavernn.Config
	Backend() string
	Close()
}

type cellRuntime struct {
	backend  string
	cell     wavernn.StepCell
	seed     uint64
	interval int
	closer   func()
}

// NewCellRuntime wraps any step cell. A zero seed draws a fresh seed per call.
func NewCellRuntime(backend string, cell wavernn.StepCell, seed uint64, progressInterval int) Runtime {
	return &cellRuntime{
		backend:  backend,
		cell:     cell,
		seed:     seed,
		interval: progressInterval,
	}
}

// NewRuntime builds the runtime selected by cfg.Runtime.Backend.
func NewRuntime(cfg config.Config) (Runtime, error) {
	backend, err := config.NormalizeBackend(cfg.Runtime.Backend)
	if err != nil {
		return nil, err
	}

	modelCfg := cfg.ModelConfig()

	switch backend {
	case config.BackendNative:
		if cfg.Runtime.Threads > 0 {
			tensor.SetWorkers(cfg.Runtime.Threads)
		}

		start := time.Now()

		model, err := wavernn.Load(cfg.Paths.ModelPath, cfg.Model.WeightPrefix, modelCfg)
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}

		cell, err := model.ToCell()
		if err != nil {
			return nil, err
		}

		slog.Debug("native model loaded",
			"path", cfg.Paths.ModelPath,
			"gru_channels", modelCfg.GRUChannels,
			"ms", time.Since(start).Milliseconds(),
		)

		return NewCellRuntime(backend, cell, cfg.Generate.Seed, cfg.Generate.ProgressInterval), nil
	case config.BackendONNX:
		info, err := onnx.Bootstrap(cfg.Runtime)
		if err != nil {
			return nil, fmt.Errorf("bootstrap onnx runtime: %w", err)
		}

		cell, runner, err := onnx.OpenCell(cfg.Paths.ONNXCellPath, modelCfg, onnx.RunnerConfig{
			LibraryPath: info.LibraryPath,
			APIVersion:  uint32(max(cfg.Runtime.ORTAPIVersion, 0)),
		})
		if err != nil {
			return nil, err
		}

		slog.Debug("onnx step cell loaded", "path", cfg.Paths.ONNXCellPath, "ort_version", info.Version)

		rt := &cellRuntime{
			backend:  backend,
			cell:     cell,
			seed:     cfg.Generate.Seed,
			interval: cfg.Generate.ProgressInterval,
			closer:   runner.Close,
		}

		return rt, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", backend)
	}
}

func (r *cellRuntime) Config() wavernn.Config { return r.cell.Config() }
func (r *cellRuntime) Backend() string        { return r.backend }

func (r *cellRuntime) Close() {
	if r.closer != nil {
		r.closer()
		r.closer = nil
	}
}

// ctxCell refuses to start a step once ctx has ended, which bounds the work
// left after cancellation to the step already running.
type ctxCell struct {
	wavernn.StepCell
	ctx context.Context
}

func (c ctxCell) StepCoarse(x, cond, h *tensor.Tensor) (*tensor.Tensor, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, err
	}

	return c.StepCell.StepCoarse(x, cond, h)
}

func (c ctxCell) StepFine(x, cond, h *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, nil, err
	}

	return c.StepCell.StepFine(x, cond, h)
}

func (r *cellRuntime) Generate(ctx context.Context, conditions *tensor.Tensor, progress wavernn.ProgressFunc) ([][]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := r.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	gen := &wavernn.Generator{
		Cell:             ctxCell{StepCell: r.cell, ctx: ctx},
		Sampler:          wavernn.NewCategoricalSampler(seed),
		Progress:         progress,
		ProgressInterval: r.interval,
	}

	samples, err := gen.Generate(conditions)
	if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
		return nil, ctxErr
	}

	return samples, err
}
