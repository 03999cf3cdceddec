package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/spherical/ocr-bench/cmd/ocr-bench/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs, or show one run in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		rec, err := a.stores.History.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rec)
		}

		ui.Section("Run " + rec.RunID)
		ui.KeyValue("Document", rec.DocumentName)
		ui.KeyValue("Created", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		printRunStatistics(rec.Providers, rec.Statistics)
		return nil
	}

	history, err := a.stores.History.ListAll(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(history)
	}

	if len(history) == 0 {
		ui.Info("no runs recorded yet")
		return nil
	}

	ui.Section("History")
	rows := make([][]string, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		names := append([]string(nil), rec.Providers...)
		sort.Strings(names)

		pages := 0
		for _, s := range rec.Statistics {
			if s.Summary.TotalPages > pages {
				pages = s.Summary.TotalPages
			}
		}
		rows = append(rows, []string{
			rec.RunID,
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			rec.DocumentName,
			fmt.Sprintf("%d", pages),
			fmt.Sprintf("%v", names),
		})
	}
	ui.Table([]string{"Run", "Created", "Document", "Pages", "Providers"}, rows)
	return nil
}
