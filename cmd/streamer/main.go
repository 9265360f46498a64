package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/streamer/internal/config"
	"github.com/marmos91/streamer/internal/logger"
	"github.com/marmos91/streamer/pkg/metrics"

	// Import prometheus metrics to register its init() constructor
	_ "github.com/marmos91/streamer/pkg/metrics/prometheus"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "streamer",
		Short: "High-throughput file and object-storage streaming engine",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")

	root.AddCommand(newServeCommand(), newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("streamer %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

// newServeCommand raises the process file-descriptor limit, initializes
// logging and metrics, and blocks until a shutdown signal arrives. It
// exists to exercise the engine's lifecycle from a real process; the
// actual read requests arrive over whatever transport embeds
// pkg/streamer (this binary is a standalone harness, not a network
// server, so it simply keeps the process and its metrics registry alive).
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Initialize the engine and metrics registry, then idle until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: "text", Output: "stdout"}); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			raiseFDLimit()

			if cfg.MetricsAddr != "" {
				metrics.InitRegistry()
				logger.Infof("metrics registry initialized, exposed by an embedding process at %s", cfg.MetricsAddr)
			}

			logger.Infof("streamer engine ready: concurrency=%d s3_concurrency=%d fs_block=%d s3_block=%d",
				cfg.Concurrency, cfg.S3Concurrency, cfg.FSBlockBytesize, cfg.S3BlockBytesize)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sigCh:
				logger.Info("shutdown signal received")
			case <-ctx.Done():
			}
			return nil
		},
	}
}
