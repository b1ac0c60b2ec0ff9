// Package doctor provides environment preflight checks for wavernn.
package doctor

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/cpu"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// ORTFunc reports the detected ONNX Runtime library path and version.
// An empty version means it could not be determined.
type ORTFunc func() (path, version string, err error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	Backend string

	// ModelPath is checked on the native backend. ValidateModel, when set,
	// loads it to confirm every weight is present with the right shape.
	ModelPath     string
	ValidateModel func(path string) error

	// ONNXCellPath and DetectORT are checked on the onnx backend.
	ONNXCellPath  string
	DetectORT     ORTFunc
	ORTAPIVersion int

	// InputDir is checked when non-empty.
	InputDir string

	// CPUFeatures overrides feature detection in tests.
	CPUFeatures func() []string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(w io.Writer, check string, err error) {
	r.failures = append(r.failures, fmt.Sprintf("%s: %v", check, err))
	fmt.Fprintf(w, "%s %s: %v\n", FailMark, check, err)
}

func pass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "%s %s: %s\n", PassMark, check, detail)
}

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	features := cfg.CPUFeatures
	if features == nil {
		features = DetectCPUFeatures
	}

	// ---- platform ---------------------------------------------------------
	feat := features()
	if len(feat) == 0 {
		pass(w, "cpu", fmt.Sprintf("%s/%s, %d cpus, no SIMD extensions detected", runtime.GOOS, runtime.GOARCH, runtime.NumCPU()))
	} else {
		pass(w, "cpu", fmt.Sprintf("%s/%s, %d cpus, %s", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), strings.Join(feat, " ")))
	}

	// ---- backend ----------------------------------------------------------
	switch cfg.Backend {
	case "native":
		checkNative(cfg, w, &res)
	case "onnx":
		checkONNX(cfg, w, &res)
	default:
		res.fail(w, "backend", fmt.Errorf("unknown backend %q", cfg.Backend))
	}

	// ---- input directory --------------------------------------------------
	if cfg.InputDir != "" {
		if info, err := os.Stat(cfg.InputDir); err != nil {
			res.fail(w, "input dir", err)
		} else if !info.IsDir() {
			res.fail(w, "input dir", fmt.Errorf("%s is not a directory", cfg.InputDir))
		} else {
			pass(w, "input dir", cfg.InputDir)
		}
	}

	return res
}

func checkNative(cfg Config, w io.Writer, res *Result) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		res.fail(w, "model file", err)
		return
	}

	pass(w, "model file", cfg.ModelPath)

	if cfg.ValidateModel == nil {
		return
	}

	if err := cfg.ValidateModel(cfg.ModelPath); err != nil {
		res.fail(w, "model weights", err)
		return
	}

	pass(w, "model weights", "ok")
}

func checkONNX(cfg Config, w io.Writer, res *Result) {
	if _, err := os.Stat(cfg.ONNXCellPath); err != nil {
		res.fail(w, "onnx step cell", err)
	} else {
		pass(w, "onnx step cell", cfg.ONNXCellPath)
	}

	if cfg.DetectORT == nil {
		res.fail(w, "onnx runtime", fmt.Errorf("no detector configured"))
		return
	}

	path, version, err := cfg.DetectORT()
	if err != nil {
		res.fail(w, "onnx runtime", err)
		return
	}

	if version == "" {
		pass(w, "onnx runtime", path+" (version unknown)")
		return
	}

	if err := checkORTVersion(version, cfg.ORTAPIVersion); err != nil {
		res.fail(w, "onnx runtime "+version, err)
		return
	}

	pass(w, "onnx runtime", fmt.Sprintf("%s (%s)", path, version))
}

// checkORTVersion requires a 1.x release whose minor version provides C API
// version apiVersion. ONNX Runtime 1.N ships C API version N.
func checkORTVersion(ver string, apiVersion int) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}

	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}

	if apiVersion > 0 && minor < apiVersion {
		return fmt.Errorf("C API version %d requires ONNX Runtime >=1.%d, got 1.%d", apiVersion, apiVersion, minor)
	}

	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}

	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}

	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}

	return major, minor, nil
}

// DetectCPUFeatures lists the SIMD extensions the BLAS kernels can use.
func DetectCPUFeatures() []string {
	var out []string

	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			ok   bool
		}{
			{"sse4.1", cpu.X86.HasSSE41},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		} {
			if f.ok {
				out = append(out, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			out = append(out, "asimd")
		}

		if cpu.ARM64.HasFPHP {
			out = append(out, "fphp")
		}
	}

	return out
}
