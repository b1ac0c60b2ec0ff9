// Package stageprof splits one vocoder run into its prepare, generate and
// encode stages and labels each for pprof.
package stageprof

import (
	"context"
	"fmt"
	"io"
	"runtime/pprof"
	"time"

	"github.com/example/go-wavernn/internal/audio"
	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/vocoder"
)

// Timings is the per-stage wall time of one run.
type Timings struct {
	Prepare  time.Duration
	Generate time.Duration
	Encode   time.Duration
	Total    time.Duration
	Samples  int
}

// RunOnce upsamples and pads items, generates with rt and encodes every row.
func RunOnce(ctx context.Context, rt vocoder.Runtime, items []mel.Frames, upsample, sampleRate int) (Timings, error) {
	var (
		out        Timings
		conditions *tensor.Tensor
		lengths    []int
		rows       [][]int
		err        error
	)

	startTotal := time.Now()

	pprof.Do(ctx, pprof.Labels("stage", "prepare"), func(context.Context) {
		start := time.Now()
		conditions, lengths, err = prepare(items, upsample)
		out.Prepare = time.Since(start)
	})

	if err != nil {
		return out, fmt.Errorf("stageprof: prepare: %w", err)
	}

	pprof.Do(ctx, pprof.Labels("stage", "generate"), func(ctx context.Context) {
		start := time.Now()
		rows, err = rt.Generate(ctx, conditions, nil)
		out.Generate = time.Since(start)
	})

	if err != nil {
		return out, fmt.Errorf("stageprof: generate: %w", err)
	}

	pprof.Do(ctx, pprof.Labels("stage", "encode"), func(context.Context) {
		start := time.Now()

		for i, row := range rows {
			n := min(lengths[i], len(row))
			out.Samples += n

			if _, err = audio.EncodePCM16(row[:n], sampleRate); err != nil {
				break
			}
		}

		out.Encode = time.Since(start)
	})

	if err != nil {
		return out, fmt.Errorf("stageprof: encode: %w", err)
	}

	out.Total = time.Since(startTotal)

	return out, nil
}

func prepare(items []mel.Frames, upsample int) (*tensor.Tensor, []int, error) {
	up := make([]mel.Frames, len(items))

	for i, it := range items {
		f, err := mel.Repeat(it, upsample)
		if err != nil {
			return nil, nil, err
		}

		up[i] = f
	}

	return mel.PadBatch(up)
}

// Profile runs warmup unmeasured runs followed by runs measured ones and
// returns their average.
func Profile(ctx context.Context, rt vocoder.Runtime, items []mel.Frames, upsample, sampleRate, warmup, runs int) (Timings, error) {
	if runs < 1 {
		return Timings{}, fmt.Errorf("stageprof: runs must be >= 1, got %d", runs)
	}

	for i := range warmup {
		if _, err := RunOnce(ctx, rt, items, upsample, sampleRate); err != nil {
			return Timings{}, fmt.Errorf("warmup run %d: %w", i+1, err)
		}
	}

	var agg Timings

	for i := range runs {
		t, err := RunOnce(ctx, rt, items, upsample, sampleRate)
		if err != nil {
			return Timings{}, fmt.Errorf("profiled run %d: %w", i+1, err)
		}

		agg.Prepare += t.Prepare
		agg.Generate += t.Generate
		agg.Encode += t.Encode
		agg.Total += t.Total
		agg.Samples = t.Samples
	}

	n := time.Duration(runs)

	return Timings{
		Prepare:  agg.Prepare / n,
		Generate: agg.Generate / n,
		Encode:   agg.Encode / n,
		Total:    agg.Total / n,
		Samples:  agg.Samples,
	}, nil
}

// Write prints t as key: value lines with each stage's share of the total.
func Write(w io.Writer, t Timings, sampleRate int) {
	msOf := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

	audioMS := 0.0
	if sampleRate > 0 {
		audioMS = float64(t.Samples) * 1000 / float64(sampleRate)
	}

	fmt.Fprintf(w, "samples: %d\n", t.Samples)
	fmt.Fprintf(w, "audio_ms: %.2f\n", audioMS)
	fmt.Fprintf(w, "avg_prepare_ms: %.2f\n", msOf(t.Prepare))
	fmt.Fprintf(w, "avg_generate_ms: %.2f\n", msOf(t.Generate))
	fmt.Fprintf(w, "avg_encode_ms: %.2f\n", msOf(t.Encode))
	fmt.Fprintf(w, "avg_total_ms: %.2f\n", msOf(t.Total))

	if audioMS > 0 {
		fmt.Fprintf(w, "rtf: %.3f\n", msOf(t.Total)/audioMS)
	}

	if t.Total > 0 {
		total := float64(t.Total)
		fmt.Fprintf(w, "share_prepare_pct: %.2f\n", 100*float64(t.Prepare)/total)
		fmt.Fprintf(w, "share_generate_pct: %.2f\n", 100*float64(t.Generate)/total)
		fmt.Fprintf(w, "share_encode_pct: %.2f\n", 100*float64(t.Encode)/total)
	}
}
