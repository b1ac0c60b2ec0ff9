package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/go-wavernn/internal/config"
	"github.com/example/go-wavernn/internal/model"
	"github.com/example/go-wavernn/internal/onnx"
	"github.com/spf13/cobra"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Checkpoint acquisition, creation and verification commands",
	}

	cmd.AddCommand(newModelDownloadCmd())
	cmd.AddCommand(newModelVerifyCmd())
	cmd.AddCommand(newModelInitCmd())
	cmd.AddCommand(newModelInspectCmd())

	return cmd
}

func newModelDownloadCmd() *cobra.Command {
	var (
		manifestPath string
		outDir       string
		hfToken      string
		baseURL      string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download checkpoint files listed in a manifest from Hugging Face",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if manifestPath == "" {
				return errors.New("--manifest is required")
			}

			m, err := model.LoadManifest(manifestPath)
			if err != nil {
				return err
			}

			if hfToken == "" {
				hfToken = os.Getenv("HF_TOKEN")
			}

			err = model.Download(cmd.Context(), model.DownloadOptions{
				Manifest: m,
				OutDir:   outDir,
				HFToken:  hfToken,
				BaseURL:  baseURL,
				Stdout:   os.Stdout,
			})
			if err != nil {
				return fmt.Errorf("model download failed: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "JSON manifest naming the repo and files to fetch (required)")
	cmd.Flags().StringVar(&outDir, "out-dir", "models", "Directory where model files are stored")
	cmd.Flags().StringVar(&hfToken, "hf-token", "", "Hugging Face token (falls back to HF_TOKEN env var)")
	cmd.Flags().StringVar(&baseURL, "base-url", model.DefaultBaseURL, "Hub base URL")

	return cmd
}

func newModelVerifyCmd() *cobra.Command {
	var lockedDir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run a smoke step against the configured backend",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if lockedDir != "" {
				if err := model.VerifyLocked(lockedDir, os.Stdout); err != nil {
					return fmt.Errorf("model verify failed: %w", err)
				}
			}

			if err := verifyBackend(cfg); err != nil {
				return fmt.Errorf("model verify failed: %w", err)
			}

			_, err = fmt.Fprintln(os.Stdout, "model verification passed")

			return err
		},
	}

	cmd.Flags().StringVar(&lockedDir, "locked", "", "Also re-hash files recorded in this directory's lock manifest")

	return cmd
}

func verifyBackend(cfg config.Config) error {
	backend, err := config.NormalizeBackend(cfg.Runtime.Backend)
	if err != nil {
		return err
	}

	switch backend {
	case config.BackendONNX:
		_, _ = fmt.Fprintf(os.Stdout, "verifying onnx step cell: %s\n", cfg.Paths.ONNXCellPath)

		info, err := onnx.Bootstrap(cfg.Runtime)
		if err != nil {
			return err
		}

		return model.VerifyONNXCell(cfg.Paths.ONNXCellPath, cfg.ModelConfig(), onnx.RunnerConfig{
			LibraryPath: info.LibraryPath,
			APIVersion:  uint32(max(cfg.Runtime.ORTAPIVersion, 0)),
		})
	default:
		_, _ = fmt.Fprintf(os.Stdout, "verifying checkpoint: %s\n", cfg.Paths.ModelPath)

		return model.VerifyCheckpoint(cfg.Paths.ModelPath, cfg.Model.WeightPrefix, cfg.ModelConfig())
	}
}

func newModelInitCmd() *cobra.Command {
	var (
		out  string
		seed uint64
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a randomly initialized checkpoint for the configured dimensions",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if out == "" {
				out = cfg.Paths.ModelPath
			}

			if err := model.InitCheckpoint(out, cfg.Model.WeightPrefix, cfg.ModelConfig(), seed); err != nil {
				return err
			}

			_, err = fmt.Fprintf(os.Stdout, "wrote %s\n", out)

			return err
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Checkpoint path (default: configured model path)")
	cmd.Flags().Uint64Var(&seed, "init-seed", 1, "Initialization seed")

	return cmd
}

func newModelInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [checkpoint]",
		Short: "List checkpoint tensors and the dimensions they imply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			path := cfg.Paths.ModelPath
			if len(args) == 1 {
				path = args[0]
			}

			s, err := model.Inspect(path, cfg.Model.WeightPrefix)
			if err != nil {
				return err
			}

			s.Write(os.Stdout)

			return nil
		},
	}

	return cmd
}
