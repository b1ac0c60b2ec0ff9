package vocoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-wavernn/internal/audio"
	"github.com/example/go-wavernn/internal/config"
	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/wavernn"
)

// Options control batching and output encoding.
type Options struct {
	UpsampleFactor int
	BatchSize      int // 0 runs every item in one batch
	SampleRate     int
	Hooks          []audio.Hook
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		UpsampleFactor: cfg.Generate.UpsampleFactor,
		BatchSize:      cfg.Generate.BatchSize,
		SampleRate:     cfg.Generate.SampleRate,
	}
}

// Result is the generated audio of one input, truncated to its own length.
type Result struct {
	Name    string
	Samples []int
}

// Info describes the loaded model for status endpoints.
type Info struct {
	Backend              string `json:"backend"`
	QuantizationChannels int    `json:"quantization_channels"`
	GRUChannels          int    `json:"gru_channels"`
	FCChannels           int    `json:"fc_channels"`
	LCChannels           int    `json:"lc_channels"`
	UpsampleFactor       int    `json:"upsample_factor"`
	SampleRate           int    `json:"sample_rate"`
}

type Service struct {
	rt   Runtime
	opts Options
}

// NewService loads the backend named in cfg.
func NewService(cfg config.Config) (*Service, error) {
	rt, err := NewRuntime(cfg)
	if err != nil {
		return nil, err
	}

	return NewServiceWithRuntime(rt, OptionsFromConfig(cfg)), nil
}

func NewServiceWithRuntime(rt Runtime, opts Options) *Service {
	if opts.UpsampleFactor < 1 {
		opts.UpsampleFactor = 1
	}

	if opts.SampleRate < 1 {
		opts.SampleRate = audio.DefaultSampleRate
	}

	return &Service{rt: rt, opts: opts}
}

func (s *Service) Info() Info {
	cfg := s.rt.Config()

	return Info{
		Backend:              s.rt.Backend(),
		QuantizationChannels: cfg.QuantizationChannels,
		GRUChannels:          cfg.GRUChannels,
		FCChannels:           cfg.FCChannels,
		LCChannels:           cfg.LCChannels,
		UpsampleFactor:       s.opts.UpsampleFactor,
		SampleRate:           s.opts.SampleRate,
	}
}

func (s *Service) Close() {
	if s != nil && s.rt != nil {
		s.rt.Close()
	}
}

// Vocode upsamples, pads and batches items, generates, and trims every row
// back to its own upsampled length. Results keep the input order.
func (s *Service) Vocode(ctx context.Context, items []mel.Frames) ([]Result, error) {
	if len(items) == 0 {
		return nil, errors.New("vocoder: no inputs")
	}

	batchSize := s.opts.BatchSize
	if batchSize <= 0 {
		batchSize = len(items)
	}

	results := make([]Result, 0, len(items))

	for lo := 0; lo < len(items); lo += batchSize {
		hi := min(lo+batchSize, len(items))

		batch, err := s.vocodeBatch(ctx, items[lo:hi])
		if err != nil {
			return nil, err
		}

		results = append(results, batch...)
	}

	return results, nil
}

func (s *Service) vocodeBatch(ctx context.Context, items []mel.Frames) ([]Result, error) {
	up := make([]mel.Frames, len(items))
	for i, it := range items {
		f, err := mel.Repeat(it, s.opts.UpsampleFactor)
		if err != nil {
			return nil, err
		}

		up[i] = f
	}

	conditions, lengths, err := mel.PadBatch(up)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	slog.Info("generation start",
		"backend", s.rt.Backend(),
		"batch", len(items),
		"steps", conditions.Dim(1),
	)

	progress := func(step, total int, rate float64) {
		slog.Info("generation progress", "step", step, "total", total, "samples_per_sec", rate)
	}

	rows, err := s.rt.Generate(ctx, conditions, progress)
	if err != nil {
		return nil, fmt.Errorf("vocoder: generate: %w", err)
	}

	if len(rows) != len(items) {
		return nil, fmt.Errorf("vocoder: runtime returned %d rows for %d inputs", len(rows), len(items))
	}

	slog.Info("generation complete",
		"batch", len(items),
		"ms", time.Since(start).Milliseconds(),
	)

	out := make([]Result, len(items))
	for i, row := range rows {
		out[i] = Result{Name: items[i].Name, Samples: row[:min(lengths[i], len(row))]}
	}

	return out, nil
}

// VocodeWAV generates a single input and returns it as WAV bytes.
func (s *Service) VocodeWAV(ctx context.Context, frames mel.Frames) ([]byte, error) {
	res, err := s.Vocode(ctx, []mel.Frames{frames})
	if err != nil {
		return nil, err
	}

	return s.EncodeWAV(res[0].Samples)
}

// EncodeWAV writes samples verbatim, or through the float hook chain when
// hooks are configured.
func (s *Service) EncodeWAV(samples []int) ([]byte, error) {
	if len(s.opts.Hooks) == 0 {
		return audio.EncodePCM16(samples, s.opts.SampleRate)
	}

	floats := make([]float32, len(samples))
	for i, v := range samples {
		floats[i] = wavernn.SampleToFloat(v)
	}

	return audio.EncodeWAV(audio.ApplyHooks(floats, s.opts.Hooks...), s.opts.SampleRate)
}
