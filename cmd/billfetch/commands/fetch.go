package commands

import (
	"fmt"
	"log/slog"
	"os"

	"billfetch/internal/bills"
	"billfetch/internal/portal"
	"billfetch/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <ivrs>",
	Short: "Prints the path of this month's bill for an IVRS number, downloading it if it is not cached.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			serviceutil.Fatal("failed to initialize", err)
		}
		defer a.Close()

		result, err := a.service.Get(cmd.Context(), args[0])
		if err != nil {
			slog.Error(
				"could not fetch bill",
				"ivrs", args[0],
				"kind", portal.KindOf(err).String(),
				"err", err,
			)
			fmt.Fprintln(os.Stderr, bills.UserMessage(err))
			a.Close()
			os.Exit(1)
		}

		slog.Info("bill ready", "cached", result.Cached)
		fmt.Println(result.Path)
	},
}
