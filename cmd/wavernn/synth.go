package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/example/go-wavernn/internal/audio"
	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/vocoder"
	"github.com/spf13/cobra"
)

type synthDSPOptions struct {
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64
	Dither    bool
	Seed      int64
}

// hooks returns the post-processing chain in a fixed order: DC block, fades,
// normalize, then dither.
func (o synthDSPOptions) hooks(sampleRate int) []audio.Hook {
	var hooks []audio.Hook

	if o.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return audio.DCBlock(s, sampleRate) })
	}

	if o.FadeInMS > 0 {
		ms := o.FadeInMS
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeIn(s, sampleRate, ms) })
	}

	if o.FadeOutMS > 0 {
		ms := o.FadeOutMS
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeOut(s, sampleRate, ms) })
	}

	if o.Normalize {
		hooks = append(hooks, audio.PeakNormalize)
	}

	if o.Dither {
		hooks = append(hooks, audio.Dither(o.Seed))
	}

	return hooks
}

func newSynthCmd() *cobra.Command {
	var (
		outDir string
		dsp    synthDSPOptions
	)

	cmd := &cobra.Command{
		Use:   "synth [mel files...]",
		Short: "Generate WAV files from conditioning sequences",
		Long: "Generate one WAV per conditioning file. Without arguments every .npy or .safetensors\n" +
			"file under <input_dir>/mel is vocoded. When <input_dir>/audio/<name>.npy exists the\n" +
			"output is trimmed to its length and the reference is written as <name>_target.wav.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if outDir == "" {
				outDir = cfg.Paths.OutputDir
			}

			paths := args
			if len(paths) == 0 {
				paths, err = mel.ScanDir(filepath.Join(cfg.Paths.InputDir, "mel"))
				if err != nil {
					return err
				}
			}

			if len(paths) == 0 {
				return fmt.Errorf("no conditioning files found under %s", filepath.Join(cfg.Paths.InputDir, "mel"))
			}

			items, err := loadConditioning(paths, cfg.Model.LCChannels)
			if err != nil {
				return err
			}

			rt, err := vocoder.NewRuntime(cfg)
			if err != nil {
				return err
			}

			opts := vocoder.OptionsFromConfig(cfg)
			opts.Hooks = dsp.hooks(cfg.Generate.SampleRate)

			svc := vocoder.NewServiceWithRuntime(rt, opts)
			defer svc.Close()

			return runSynth(cmd.Context(), svc, items, synthOutput{
				OutDir:   outDir,
				AudioDir: filepath.Join(cfg.Paths.InputDir, "audio"),
				Stdout:   os.Stdout,
			})
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", "", "Output directory (default: configured output dir)")
	cmd.Flags().BoolVar(&dsp.Normalize, "normalize", false, "Peak-normalize output audio")
	cmd.Flags().BoolVar(&dsp.DCBlock, "dc-block", false, "Apply DC-block high-pass filter")
	cmd.Flags().Float64Var(&dsp.FadeInMS, "fade-in-ms", 0, "Apply linear fade-in duration in milliseconds")
	cmd.Flags().Float64Var(&dsp.FadeOutMS, "fade-out-ms", 0, "Apply linear fade-out duration in milliseconds")
	cmd.Flags().BoolVar(&dsp.Dither, "dither", false, "Add TPDF dither before 16-bit quantization")
	cmd.Flags().Int64Var(&dsp.Seed, "dither-seed", 1, "Dither noise seed")

	return cmd
}

// loadConditioning reads every path and rejects files whose feature width is
// not lc.
func loadConditioning(paths []string, lc int) ([]mel.Frames, error) {
	items := make([]mel.Frames, 0, len(paths))

	for _, p := range paths {
		f, err := mel.Load(p)
		if err != nil {
			return nil, err
		}

		if f.Channels != lc {
			return nil, fmt.Errorf("%w: %s has %d channels, model expects %d", mel.ErrChannelMismatch, p, f.Channels, lc)
		}

		items = append(items, f)
	}

	return items, nil
}

type synthOutput struct {
	OutDir   string
	AudioDir string
	Stdout   io.Writer
}

type synthesizer interface {
	Vocode(ctx context.Context, items []mel.Frames) ([]vocoder.Result, error)
	EncodeWAV(samples []int) ([]byte, error)
	Info() vocoder.Info
}

func runSynth(ctx context.Context, svc synthesizer, items []mel.Frames, out synthOutput) error {
	if err := os.MkdirAll(out.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if out.Stdout == nil {
		out.Stdout = io.Discard
	}

	start := time.Now()

	results, err := svc.Vocode(ctx, items)
	if err != nil {
		return err
	}

	sampleRate := svc.Info().SampleRate

	for _, res := range results {
		samples := res.Samples

		target, err := loadTarget(out.AudioDir, res.Name)
		if err != nil {
			return err
		}

		if target != nil {
			samples = samples[:min(len(samples), len(target))]

			data, err := audio.EncodePCM16(target, sampleRate)
			if err != nil {
				return err
			}

			if err := audio.WriteFile(filepath.Join(out.OutDir, res.Name+"_target.wav"), data); err != nil {
				return err
			}
		}

		data, err := svc.EncodeWAV(samples)
		if err != nil {
			return err
		}

		path := filepath.Join(out.OutDir, res.Name+".wav")
		if err := audio.WriteFile(path, data); err != nil {
			return err
		}

		_, _ = fmt.Fprintf(out.Stdout, "wrote %s (%d samples)\n", path, len(samples))
	}

	slog.Info("synthesis complete", "files", len(results), "ms", time.Since(start).Milliseconds())

	return nil
}

// loadTarget returns the reference samples for name, or nil when there are
// none.
func loadTarget(dir, name string) ([]int, error) {
	if dir == "" {
		return nil, nil
	}

	path := filepath.Join(dir, name+".npy")

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	return mel.LoadSamples(path)
}
