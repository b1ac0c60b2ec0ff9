package main

import (
	"context"
	"errors"
	"testing"

	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/testutil"
	"github.com/example/go-wavernn/internal/vocoder"
)

func TestBenchOptions_Validate(t *testing.T) {
	valid := benchOptions{Frames: 10, Runs: 1, Format: "table"}

	tests := []struct {
		name   string
		mutate func(*benchOptions)
	}{
		{"zero runs", func(o *benchOptions) { o.Runs = 0 }},
		{"bad format", func(o *benchOptions) { o.Format = "csv" }},
		{"zero frames", func(o *benchOptions) { o.Frames = 0 }},
		{"negative warmup", func(o *benchOptions) { o.Warmup = -1 }},
	}

	if err := valid.validate(); err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)

			if err := o.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	withInput := benchOptions{Input: "x.npy", Runs: 1, Format: "json"}
	if err := withInput.validate(); err != nil {
		t.Errorf("--input should not require --frames: %v", err)
	}
}

func TestBenchInput_Synthetic(t *testing.T) {
	items, err := benchInput(benchOptions{Frames: 20}, 4)
	if err != nil {
		t.Fatalf("benchInput: %v", err)
	}

	if len(items) != 1 || items[0].Len != 20 || items[0].Channels != 4 || len(items[0].Data) != 80 {
		t.Fatalf("synthetic frames = %+v", items[0])
	}
}

type countingVocoder struct{ calls int }

func (c *countingVocoder) Vocode(_ context.Context, items []mel.Frames) ([]vocoder.Result, error) {
	c.calls++

	out := make([]vocoder.Result, len(items))
	for i, it := range items {
		out[i] = vocoder.Result{Name: it.Name, Samples: make([]int, 100)}
	}

	return out, nil
}

func TestRunBench_CountsSamples(t *testing.T) {
	v := &countingVocoder{}

	results, err := runBench(context.Background(), v, []mel.Frames{{Name: "a"}, {Name: "b"}}, 3, 100)
	if err != nil {
		t.Fatalf("runBench: %v", err)
	}

	if v.calls != 3 || len(results) != 3 {
		t.Fatalf("calls=%d results=%d; want 3", v.calls, len(results))
	}

	if !results[0].Cold || results[1].Cold {
		t.Error("only the first run should be cold")
	}

	if results[0].Samples != 200 {
		t.Errorf("samples = %d; want 200", results[0].Samples)
	}
}

func TestRunBench_PropagatesError(t *testing.T) {
	errBoom := errors.New("boom")

	_, err := runBench(context.Background(), fakeSynth{err: errBoom}, []mel.Frames{{Name: "a"}}, 2, 100)
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v; want boom", err)
	}
}

func TestBenchCommand_Stages(t *testing.T) {
	restoreConfig(t)

	dir := t.TempDir()
	modelPath := testutil.WriteTinyCheckpoint(t, dir, tinyModelConfig(), 5)

	args := append([]string{"bench", "--frames", "8", "--runs", "1", "--warmup", "0", "--stages"}, tinyArgs(modelPath)...)
	if err := runCLI(t, args...); err != nil {
		t.Fatalf("bench --stages: %v", err)
	}

	args = append([]string{"bench", "--frames", "8", "--runs", "2", "--format", "json"}, tinyArgs(modelPath)...)
	if err := runCLI(t, args...); err != nil {
		t.Fatalf("bench: %v", err)
	}
}
