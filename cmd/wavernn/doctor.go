package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/go-wavernn/internal/config"
	"github.com/example/go-wavernn/internal/doctor"
	"github.com/example/go-wavernn/internal/model"
	"github.com/example/go-wavernn/internal/onnx"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			backend, err := config.NormalizeBackend(cfg.Runtime.Backend)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(os.Stdout, "backend: %s\n", backend)

			result := doctor.Run(doctorConfig(cfg, backend), os.Stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

func doctorConfig(cfg config.Config, backend string) doctor.Config {
	return doctor.Config{
		Backend:   backend,
		ModelPath: cfg.Paths.ModelPath,
		ValidateModel: func(path string) error {
			return model.VerifyCheckpoint(path, cfg.Model.WeightPrefix, cfg.ModelConfig())
		},
		ONNXCellPath:  cfg.Paths.ONNXCellPath,
		DetectORT:     detectORT(cfg.Runtime),
		ORTAPIVersion: cfg.Runtime.ORTAPIVersion,
		InputDir:      cfg.Paths.InputDir,
	}
}

func detectORT(rc config.RuntimeConfig) doctor.ORTFunc {
	return func() (string, string, error) {
		info, err := onnx.DetectRuntime(rc)
		if err != nil {
			return "", "", err
		}

		version := info.Version
		if version == "unknown" {
			version = ""
		}

		return info.LibraryPath, version, nil
	}
}
