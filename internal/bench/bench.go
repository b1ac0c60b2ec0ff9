// Package bench provides timing primitives for the wavernn bench command.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and output size of a single generation run.
type RunResult struct {
	Index         int
	Cold          bool // first run
	Duration      time.Duration
	Samples       int
	AudioDuration time.Duration
	RTF           float64
	SamplesPerSec float64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	Median time.Duration
	StdDev time.Duration
}

// ComputeStats summarises durations. An empty slice yields zero Stats.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}

	xs := make([]float64, len(durations))
	for i, d := range durations {
		xs[i] = float64(d)
	}

	slices.Sort(xs)

	var sd float64
	if len(xs) > 1 {
		sd = stat.StdDev(xs, nil)
	}

	return Stats{
		Min:    time.Duration(xs[0]),
		Max:    time.Duration(xs[len(xs)-1]),
		Mean:   time.Duration(stat.Mean(xs, nil)),
		Median: time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil)),
		StdDev: time.Duration(sd),
	}
}

// ---------------------------------------------------------------------------
// Rate helpers
// ---------------------------------------------------------------------------

// CalcRTF returns generation_duration / audio_duration, or 0 when audioDur is zero.
func CalcRTF(genDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}

	return float64(genDur) / float64(audioDur)
}

// AudioDuration is the playback length of n samples at sampleRate.
func AudioDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}

	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

func SamplesPerSecond(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}

	return float64(n) / d.Seconds()
}

// RunFunc performs one generation and reports how many samples it produced.
type RunFunc func(ctx context.Context) (int, error)

// Run times fn runs times. The first run is marked cold.
func Run(ctx context.Context, runs, sampleRate int, fn RunFunc) ([]RunResult, error) {
	if runs < 1 {
		return nil, errors.New("bench: runs must be at least 1")
	}

	results := make([]RunResult, 0, runs)

	for i := range runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()

		n, err := fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("run %d failed: %w", i+1, err)
		}

		dur := time.Since(start)
		audioDur := AudioDuration(n, sampleRate)

		results = append(results, RunResult{
			Index:         i,
			Cold:          i == 0,
			Duration:      dur,
			Samples:       n,
			AudioDuration: audioDur,
			RTF:           CalcRTF(dur, audioDur),
			SamplesPerSec: SamplesPerSecond(n, dur),
		})
	}

	return results, nil
}

// Durations extracts the run durations for ComputeStats.
func Durations(runs []RunResult) []time.Duration {
	out := make([]time.Duration, len(runs))
	for i, r := range runs {
		out[i] = r.Duration
	}

	return out
}

// MeanRTF averages RTF over runs.
func MeanRTF(runs []RunResult) float64 {
	if len(runs) == 0 {
		return 0
	}

	xs := make([]float64, len(runs))
	for i, r := range runs {
		xs[i] = r.RTF
	}

	return stat.Mean(xs, nil)
}

// ---------------------------------------------------------------------------
// RTF threshold gate
// ---------------------------------------------------------------------------

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}

	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %10s  %12s  %8s\n", "Run", "Cold", "MS", "Samples", "Samples/s", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 60))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}

		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %10d  %12.1f  %8.3f\n",
			r.Index+1,
			cold,
			float64(r.Duration.Microseconds())/1000,
			r.Samples,
			r.SamplesPerSec,
			r.RTF,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 60))

	for _, row := range []struct {
		label string
		d     time.Duration
	}{
		{"min", stats.Min},
		{"median", stats.Median},
		{"mean", stats.Mean},
		{"max", stats.Max},
		{"stddev", stats.StdDev},
	} {
		fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (%s)\n", "", "", float64(row.d.Microseconds())/1000, row.label)
	}

	fmt.Fprint(w, sb.String())
}

type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index         int     `json:"index"`
	Cold          bool    `json:"cold"`
	DurationMS    float64 `json:"duration_ms"`
	Samples       int     `json:"samples"`
	AudioMS       float64 `json:"audio_ms"`
	RTF           float64 `json:"rtf"`
	SamplesPerSec float64 `json:"samples_per_sec"`
}

type jsonStats struct {
	MinMS    float64 `json:"min_ms"`
	MedianMS float64 `json:"median_ms"`
	MeanMS   float64 `json:"mean_ms"`
	MaxMS    float64 `json:"max_ms"`
	StdDevMS float64 `json:"stddev_ms"`
	MeanRTF  float64 `json:"mean_rtf"`
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:    ms(stats.Min),
			MedianMS: ms(stats.Median),
			MeanMS:   ms(stats.Mean),
			MaxMS:    ms(stats.Max),
			StdDevMS: ms(stats.StdDev),
			MeanRTF:  MeanRTF(runs),
		},
	}

	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:         r.Index,
			Cold:          r.Cold,
			DurationMS:    ms(r.Duration),
			Samples:       r.Samples,
			AudioMS:       ms(r.AudioDuration),
			RTF:           r.RTF,
			SamplesPerSec: r.SamplesPerSec,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
