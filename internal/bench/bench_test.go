package bench_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/go-wavernn/internal/bench"
)

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestStats_MinMaxMeanMedian(t *testing.T) {
	s := bench.ComputeStats([]time.Duration{
		300 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
	})

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}

	if s.Median != 200*time.Millisecond {
		t.Errorf("want median=200ms, got %v", s.Median)
	}

	// Sample standard deviation of {100, 200, 300} ms is 100 ms.
	if d := s.StdDev - 100*time.Millisecond; d < -time.Microsecond || d > time.Microsecond {
		t.Errorf("want stddev=100ms, got %v", s.StdDev)
	}
}

func TestStats_SingleRun(t *testing.T) {
	s := bench.ComputeStats([]time.Duration{150 * time.Millisecond})
	if s.Min != s.Max || s.Min != s.Mean || s.Median != s.Min {
		t.Errorf("single run: min/max/mean/median should all be equal, got %+v", s)
	}

	if s.StdDev != 0 {
		t.Errorf("single run stddev = %v, want 0", s.StdDev)
	}
}

func TestStats_Empty(t *testing.T) {
	if s := bench.ComputeStats(nil); s != (bench.Stats{}) {
		t.Errorf("ComputeStats(nil) = %+v, want zero", s)
	}
}

// ---------------------------------------------------------------------------
// Rates
// ---------------------------------------------------------------------------

func TestRTF_Calculation(t *testing.T) {
	rtf := bench.CalcRTF(500*time.Millisecond, time.Second)
	if rtf < 0.499 || rtf > 0.501 {
		t.Errorf("want RTF≈0.5, got %.4f", rtf)
	}
}

func TestRTF_ZeroAudioDuration(t *testing.T) {
	if rtf := bench.CalcRTF(500*time.Millisecond, 0); rtf != 0 {
		t.Errorf("want RTF=0 for zero audio duration, got %.4f", rtf)
	}
}

func TestAudioDuration(t *testing.T) {
	if d := bench.AudioDuration(16000, 16000); d != time.Second {
		t.Errorf("AudioDuration(16000, 16000) = %v, want 1s", d)
	}

	if d := bench.AudioDuration(8000, 16000); d != 500*time.Millisecond {
		t.Errorf("AudioDuration(8000, 16000) = %v, want 500ms", d)
	}

	if d := bench.AudioDuration(100, 0); d != 0 {
		t.Errorf("AudioDuration with zero rate = %v, want 0", d)
	}
}

func TestSamplesPerSecond(t *testing.T) {
	if r := bench.SamplesPerSecond(4000, 2*time.Second); r != 2000 {
		t.Errorf("SamplesPerSecond = %v, want 2000", r)
	}

	if r := bench.SamplesPerSecond(4000, 0); r != 0 {
		t.Errorf("SamplesPerSecond with zero duration = %v, want 0", r)
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_RecordsEachRun(t *testing.T) {
	calls := 0

	runs, err := bench.Run(context.Background(), 3, 16000, func(context.Context) (int, error) {
		calls++
		time.Sleep(time.Millisecond)

		return 1600, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if calls != 3 || len(runs) != 3 {
		t.Fatalf("calls=%d runs=%d, want 3/3", calls, len(runs))
	}

	for i, r := range runs {
		if r.Index != i || r.Cold != (i == 0) {
			t.Errorf("run %d: index=%d cold=%v", i, r.Index, r.Cold)
		}

		if r.Samples != 1600 || r.AudioDuration != 100*time.Millisecond {
			t.Errorf("run %d: samples=%d audio=%v", i, r.Samples, r.AudioDuration)
		}

		if r.Duration <= 0 || r.RTF <= 0 || r.SamplesPerSec <= 0 {
			t.Errorf("run %d: missing timings %+v", i, r)
		}
	}

	if got := len(bench.Durations(runs)); got != 3 {
		t.Errorf("Durations len = %d, want 3", got)
	}

	if bench.MeanRTF(runs) <= 0 {
		t.Error("MeanRTF should be positive")
	}
}

func TestRun_Errors(t *testing.T) {
	if _, err := bench.Run(context.Background(), 0, 16000, nil); err == nil {
		t.Error("want error for zero runs")
	}

	boom := errors.New("boom")

	_, err := bench.Run(context.Background(), 2, 16000, func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := bench.Run(ctx, 2, 16000, func(context.Context) (int, error) { return 1, nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want Canceled", err)
	}
}

// ---------------------------------------------------------------------------
// RTF threshold gate
// ---------------------------------------------------------------------------

func TestRTFThreshold(t *testing.T) {
	tests := []struct {
		name      string
		rtf       float64
		threshold float64
		wantErr   bool
	}{
		{"exceeds", 1.5, 1.0, true},
		{"below", 0.8, 1.0, false},
		{"exact", 1.0, 1.0, false},
		{"disabled", 9999, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bench.CheckRTFThreshold(tt.rtf, tt.threshold)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckRTFThreshold(%v, %v) = %v, wantErr %v", tt.rtf, tt.threshold, err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func sampleRuns() []bench.RunResult {
	return []bench.RunResult{
		{Index: 0, Cold: true, Duration: 800 * time.Millisecond, Samples: 16000, AudioDuration: time.Second, RTF: 0.8, SamplesPerSec: 20000},
		{Index: 1, Duration: 500 * time.Millisecond, Samples: 16000, AudioDuration: time.Second, RTF: 0.5, SamplesPerSec: 32000},
	}
}

func TestFormatTable_ContainsHeaders(t *testing.T) {
	runs := sampleRuns()

	var buf strings.Builder
	bench.FormatTable(runs, bench.ComputeStats(bench.Durations(runs)), &buf)
	out := strings.ToLower(buf.String())

	for _, want := range []string{"run", "cold", "ms", "samples/s", "rtf", "median", "stddev"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON_IsValidJSON(t *testing.T) {
	runs := sampleRuns()

	var buf bytes.Buffer
	bench.FormatJSON(runs, bench.ComputeStats(bench.Durations(runs)), &buf)

	var out struct {
		Runs []struct {
			Samples int     `json:"samples"`
			RTF     float64 `json:"rtf"`
		} `json:"runs"`
		Stats struct {
			MeanMS  float64 `json:"mean_ms"`
			MeanRTF float64 `json:"mean_rtf"`
		} `json:"stats"`
	}

	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("FormatJSON produced invalid JSON: %v\n%s", err, buf.String())
	}

	if len(out.Runs) != 2 || out.Runs[0].Samples != 16000 {
		t.Errorf("runs = %+v", out.Runs)
	}

	if out.Stats.MeanMS != 650 {
		t.Errorf("mean_ms = %v, want 650", out.Stats.MeanMS)
	}

	if out.Stats.MeanRTF < 0.649 || out.Stats.MeanRTF > 0.651 {
		t.Errorf("mean_rtf = %v, want 0.65", out.Stats.MeanRTF)
	}
}
