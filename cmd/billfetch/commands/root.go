package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"billfetch/internal/components/telemetry"
	"billfetch/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	otelSetup  telemetry.Otel
)

var rootCmd = &cobra.Command{
	Use:   "billfetch",
	Short: "billfetch downloads the latest month electricity bill for an IVRS number and caches it on disk.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
		if verbose {
			slog.DebugContext(cmd.Context(), "verbose logging enabled")
		}

		var err error
		otelSetup, err = telemetry.SetupFromEnv(cmd.Context(), "billfetch")
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("no telemetry.json5 found, traces and metrics will not be exported")
			return
		}
		if err != nil {
			serviceutil.Fatal("setup telemetry", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		err := otelSetup.Shutdown(ctx)
		if err != nil {
			slog.Warn("shutdown telemetry", "err", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging/instrumentation.")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "The config file, <name>.local.json5 overrides it.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
