package commands

import (
	"os"
	"time"

	"billfetch/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyIvrs  string
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "The maximum number of attempts to list.")
	historyCmd.Flags().StringVar(&historyIvrs, "ivrs", "", "Only list attempts for this IVRS number.")
	rootCmd.AddCommand(historyCmd)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>] [--ivrs <ivrs>]",
	Short: "Lists recent bill requests, newest first.",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			serviceutil.Fatal("failed to initialize", err)
		}
		defer a.Close()

		if historyLimit <= 0 {
			historyLimit = 20
		}
		recent, err := a.journal.Recent(cmd.Context(), historyIvrs, historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to list attempts", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Started", "IVRS", "Period", "Outcome", "Kind", "Duration", "Detail"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Detail", WidthMax: 60},
		})
		for _, attempt := range recent {
			t.AppendRow(table.Row{
				attempt.StartedAt.In(a.time.Location()).Format(time.DateTime),
				attempt.Identifier,
				attempt.Period,
				string(attempt.Outcome),
				attempt.Kind,
				attempt.Duration.Round(time.Millisecond).String(),
				attempt.Detail,
			})
		}
		t.Render()
	},
}
