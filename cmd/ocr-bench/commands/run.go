package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/ocr-bench/cmd/ocr-bench/ui"
	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/orchestrator"
)

var (
	runProviders []string
	runName      string
)

var runCmd = &cobra.Command{
	Use:   "run <pdf>",
	Short: "Benchmark the enabled providers on one PDF",
	Long: `Run every page of the PDF through the selected (or all enabled) providers
in parallel, print per-provider statistics and fold the run into the
lifetime aggregates.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runProviders, "providers", "p", nil, "providers to run (default: all enabled)")
	runCmd.Flags().StringVarP(&runName, "name", "n", "", "display name recorded in history (default: file name)")
	rootCmd.AddCommand(runCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *ui.ProgressBar
	if !jsonOutput {
		bar = ui.NewProgressBar(args[0])
	}

	out, runErr := a.orch.Run(ctx, orchestrator.RunRequest{
		DocumentPath: args[0],
		DocumentName: runName,
		Providers:    runProviders,
		OnProgress: func(pct int) {
			if bar != nil {
				bar.Set(pct)
			}
		},
	})
	if bar != nil && out != nil && out.Status == domain.RunCompleted {
		bar.Finish()
	}

	if jsonOutput {
		if err := printJSON(out); err != nil {
			return err
		}
		return runErr
	}

	printOutcome(out)
	if runErr != nil {
		if errors.Is(runErr, orchestrator.ErrRunCancelled) && out != nil {
			return fmt.Errorf("run %s cancelled", out.RunID)
		}
		return runErr
	}
	return nil
}

func printOutcome(out *orchestrator.RunOutcome) {
	if out == nil {
		return
	}

	ui.Section("Run " + out.RunID)
	ui.KeyValue("Document", out.DocumentName)
	ui.KeyValue("Status", ui.Status(string(out.Status)))
	ui.KeyValue("Duration", ui.FormatDuration(out.FinishedAt.Sub(out.StartedAt)))

	for _, name := range sortedKeys(out.ConfigErrors) {
		ui.Warning("%s skipped: %s", name, out.ConfigErrors[name])
	}
	if out.Error != "" {
		ui.Error("%s", out.Error)
	}
	if out.AggregationError != "" {
		ui.Warning("lifetime statistics not updated: %s", out.AggregationError)
	}

	if len(out.Statistics) > 0 {
		printRunStatistics(out.Providers, out.Statistics)
	}
}

func printRunStatistics(order []string, statistics map[string]domain.RunStatistics) {
	fmt.Println()
	rows := make([][]string, 0, len(order))
	for _, name := range order {
		s, ok := statistics[name]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d/%d", s.Summary.SuccessfulPages, s.Summary.TotalPages),
			ui.Percent(s.Summary.SuccessRate),
			ui.Seconds(s.Performance.AverageResponseTime),
			ui.Seconds(s.Performance.MinResponseTime),
			ui.Seconds(s.Performance.MaxResponseTime),
			fmt.Sprintf("%d", s.TokenUsage.TotalTokens),
			fmt.Sprintf("%.1f", s.TokenUsage.AverageTokensPerPage),
		})
	}
	ui.Table([]string{"Provider", "Pages", "Success", "Avg", "Min", "Max", "Tokens", "Tokens/Page"}, rows)

	for _, name := range order {
		for _, e := range statistics[name].Errors.ErrorDetails {
			ui.Error("%s page %d: %s", name, e.PageNumber, e.Error)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
