package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"canvas/api/internal/config"
	"canvas/api/internal/logging"
)

var (
	verbose bool
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "canvas",
	Short: "Canvas workspace state and sync service",
	Long: `Canvas serves the workspace state store over HTTP. Every edit is applied
locally first and confirmed or rolled back once the record store answers.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if verbose {
			cfg.LogLevel = "debug"
		}
		logging.Setup(cfg)
		slog.Debug("config loaded", "env", cfg.Env, "record_store", cfg.RecordStore, "blob_backend", cfg.BlobBackend)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
