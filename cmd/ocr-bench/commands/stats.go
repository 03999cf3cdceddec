package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/ocr-bench/cmd/ocr-bench/ui"
	"github.com/spherical/ocr-bench/internal/domain"
)

var statsRecompute bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show lifetime statistics per provider",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsRecompute, "recompute", false, "rebuild aggregates from the full history first")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	aggs, err := loadAggregates(ctx, a)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(aggs)
	}

	ui.Section("Lifetime statistics")
	rows := [][]string{}
	for _, name := range a.registry.Names() {
		agg, ok := aggs[name]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", agg.RunsCounted),
			fmt.Sprintf("%d", agg.Summary.TotalPages),
			ui.Percent(agg.Summary.SuccessRate),
			ui.Seconds(agg.Performance.AverageResponseTime),
			fmt.Sprintf("%d", agg.TokenUsage.TotalTokens),
			fmt.Sprintf("%d", agg.Errors.TotalErrors),
		})
	}
	ui.Table([]string{"Provider", "Runs", "Pages", "Success", "Avg", "Tokens", "Errors"}, rows)
	return nil
}

func loadAggregates(ctx context.Context, a *app) (map[string]domain.AggregateStatistics, error) {
	if !statsRecompute {
		return a.stores.Statistics.GetAll(ctx)
	}

	var spin *ui.Spinner
	if !jsonOutput {
		spin = ui.NewSpinner("Recomputing statistics from history...")
		spin.Start()
	}
	aggs, err := a.orch.RecomputeAggregates(ctx)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return nil, fmt.Errorf("recompute statistics: %w", err)
	}
	return aggs, nil
}
