package commands

import (
	"billfetch/internal/bills"
	"billfetch/internal/components/telemetry"
	"billfetch/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

var listenAddr string

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "The address to listen on, overrides `listen` in the config.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--listen <addr>]",
	Short: "Serves bills over http at GET /bills/{ivrs}.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := newApp()
		if err != nil {
			serviceutil.Fatal("failed to initialize", err)
		}
		defer a.Close()

		telemetry.InstrumentPerfStats(ctx, a.tel)

		addr := a.cfg.Listen
		if listenAddr != "" {
			addr = listenAddr
		}
		err = serviceutil.StartHttpServer(ctx, addr, bills.NewHandler(a.service, a.tel))
		if err != nil {
			serviceutil.Fatal("http server", err)
		}
	},
}
