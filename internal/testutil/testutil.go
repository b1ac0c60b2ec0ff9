// Package testutil provides shared skip helpers and fixtures for tests.
//
// Skip helpers call t.Skip with a readable reason when a prerequisite is
// absent, so integration tests stay runnable in partial environments.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    ckpt := testutil.WriteTinyCheckpoint(t, t.TempDir(), testutil.TinyConfig(), 1)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/wavernn"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located and otherwise returns its path. It checks ORT_LIBRARY_PATH, then
// WAVERNN_ORT_LIB, then common system library paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "WAVERNN_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			if _, err := os.Stat(p); err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)

			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or WAVERNN_ORT_LIB")

	return ""
}

// RequireCheckpoint skips the test unless WAVERNN_TEST_CHECKPOINT names an
// existing checkpoint file or directory.
func RequireCheckpoint(tb testing.TB) string {
	tb.Helper()

	p := os.Getenv("WAVERNN_TEST_CHECKPOINT")
	if p == "" {
		tb.Skip("set WAVERNN_TEST_CHECKPOINT to run against a trained checkpoint")
		return ""
	}

	if _, err := os.Stat(p); err != nil {
		tb.Skipf("checkpoint not available at %q: %v", p, err)
		return ""
	}

	return p
}

// TinyConfig is a model small enough to generate a few hundred samples in
// milliseconds.
func TinyConfig() wavernn.Config {
	return wavernn.Config{QuantizationChannels: 16, GRUChannels: 8, FCChannels: 8, LCChannels: 4}
}

// WriteTinyCheckpoint writes seeded random weights for cfg to
// dir/model.safetensors and returns the path.
func WriteTinyCheckpoint(tb testing.TB, dir string, cfg wavernn.Config, seed uint64) string {
	tb.Helper()

	w, err := wavernn.NewRandomWeights(cfg, seed)
	if err != nil {
		tb.Fatalf("random weights: %v", err)
	}

	path := filepath.Join(dir, "model.safetensors")
	if err := wavernn.SaveCheckpoint(path, "", cfg, w); err != nil {
		tb.Fatalf("save checkpoint: %v", err)
	}

	return path
}

// ZeroStep returns zero-valued step inputs x (B, 3), cond (B, lc), h (B, G).
func ZeroStep(tb testing.TB, cfg wavernn.Config, batch int64) (x, cond, h *tensor.Tensor) {
	tb.Helper()

	var err error

	if x, err = tensor.Zeros([]int64{batch, 3}); err != nil {
		tb.Fatalf("zeros: %v", err)
	}

	if cond, err = tensor.Zeros([]int64{batch, int64(cfg.LCChannels)}); err != nil {
		tb.Fatalf("zeros: %v", err)
	}

	if h, err = tensor.Zeros([]int64{batch, int64(cfg.GRUChannels)}); err != nil {
		tb.Fatalf("zeros: %v", err)
	}

	return x, cond, h
}
