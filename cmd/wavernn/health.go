package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/example/go-wavernn/internal/server"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		useGRPC bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if useGRPC {
				if addr == "" {
					addr = cfg.Server.GRPCAddr
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()

				err = server.ProbeGRPC(ctx, addr)
			} else {
				if addr == "" {
					addr = cfg.Server.ListenAddr
				}

				err = server.ProbeHTTP(addr)
			}

			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(os.Stdout, "ok")

			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Server address to probe (default: configured listen address)")
	cmd.Flags().BoolVar(&useGRPC, "grpc", false, "Probe the gRPC health service instead of HTTP /health")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "gRPC probe timeout")

	return cmd
}
