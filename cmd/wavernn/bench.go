package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime/pprof"

	"github.com/example/go-wavernn/internal/bench"
	"github.com/example/go-wavernn/internal/bench/stageprof"
	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/vocoder"
	"github.com/spf13/cobra"
)

type benchOptions struct {
	Input        string
	Frames       int
	Runs         int
	Warmup       int
	Format       string
	RTFThreshold float64
	Stages       bool
	CPUProfile   string
}

func newBenchCmd() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark generation latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if err := opts.validate(); err != nil {
				return err
			}

			items, err := benchInput(opts, cfg.Model.LCChannels)
			if err != nil {
				return err
			}

			rt, err := vocoder.NewRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if opts.CPUProfile != "" {
				f, err := os.Create(opts.CPUProfile)
				if err != nil {
					return fmt.Errorf("create cpu profile: %w", err)
				}
				defer f.Close()

				if err := pprof.StartCPUProfile(f); err != nil {
					return fmt.Errorf("start cpu profile: %w", err)
				}
				defer pprof.StopCPUProfile()
			}

			if opts.Stages {
				t, err := stageprof.Profile(cmd.Context(), rt, items,
					cfg.Generate.UpsampleFactor, cfg.Generate.SampleRate, opts.Warmup, opts.Runs)
				if err != nil {
					return err
				}

				stageprof.Write(os.Stdout, t, cfg.Generate.SampleRate)

				return nil
			}

			svc := vocoder.NewServiceWithRuntime(rt, vocoder.OptionsFromConfig(cfg))

			results, err := runBench(cmd.Context(), svc, items, opts.Runs, cfg.Generate.SampleRate)
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(bench.Durations(results))

			switch opts.Format {
			case "json":
				bench.FormatJSON(results, stats, os.Stdout)
			default:
				bench.FormatTable(results, stats, os.Stdout)
			}

			return bench.CheckRTFThreshold(bench.MeanRTF(results), opts.RTFThreshold)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "", "Conditioning file to vocode (default: synthetic frames)")
	cmd.Flags().IntVar(&opts.Frames, "frames", 200, "Synthetic conditioning frames when --input is empty")
	cmd.Flags().IntVar(&opts.Runs, "runs", 5, "Number of generation runs")
	cmd.Flags().IntVar(&opts.Warmup, "warmup", 1, "Untimed warmup runs before --stages profiling")
	cmd.Flags().StringVar(&opts.Format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&opts.RTFThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")
	cmd.Flags().BoolVar(&opts.Stages, "stages", false, "Report per-stage timings (prepare, generate, encode)")
	cmd.Flags().StringVar(&opts.CPUProfile, "cpuprofile", "", "Write a CPU profile to this file")

	return cmd
}

func (o benchOptions) validate() error {
	if o.Runs < 1 {
		return errors.New("--runs must be at least 1")
	}

	if o.Format != "table" && o.Format != "json" {
		return errors.New("--format must be 'table' or 'json'")
	}

	if o.Input == "" && o.Frames < 1 {
		return errors.New("--frames must be at least 1")
	}

	if o.Warmup < 0 {
		return errors.New("--warmup must be >= 0")
	}

	return nil
}

// benchInput loads --input or builds a synthetic sequence of slowly varying
// sinusoids, one phase per channel.
func benchInput(o benchOptions, lc int) ([]mel.Frames, error) {
	if o.Input != "" {
		return loadConditioning([]string{o.Input}, lc)
	}

	data := make([]float32, o.Frames*lc)
	for t := range o.Frames {
		for c := range lc {
			data[t*lc+c] = float32(math.Sin(float64(t)*0.05 + float64(c)*0.3))
		}
	}

	return []mel.Frames{{Name: "synthetic", Data: data, Len: o.Frames, Channels: lc}}, nil
}

type vocodeRunner interface {
	Vocode(ctx context.Context, items []mel.Frames) ([]vocoder.Result, error)
}

func runBench(ctx context.Context, svc vocodeRunner, items []mel.Frames, runs, sampleRate int) ([]bench.RunResult, error) {
	return bench.Run(ctx, runs, sampleRate, func(ctx context.Context) (int, error) {
		res, err := svc.Vocode(ctx, items)
		if err != nil {
			return 0, err
		}

		n := 0
		for _, r := range res {
			n += len(r.Samples)
		}

		return n, nil
	})
}
