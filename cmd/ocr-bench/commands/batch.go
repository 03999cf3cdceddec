package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/ocr-bench/cmd/ocr-bench/ui"
	"github.com/spherical/ocr-bench/internal/orchestrator"
)

var (
	batchProviders []string
	batchName      string
)

var batchCmd = &cobra.Command{
	Use:   "batch <pdf>...",
	Short: "Benchmark several PDFs one after another",
	Long: `Run each PDF as its own benchmark with the same provider selection. A
document that fails does not stop the batch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringSliceVarP(&batchProviders, "providers", "p", nil, "providers to run (default: all enabled)")
	batchCmd.Flags().StringVarP(&batchName, "name", "n", "", "batch name (default: \"Batch Test - <timestamp>\")")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *ui.ProgressBar
	if !jsonOutput {
		bar = ui.NewProgressBar(fmt.Sprintf("0/%d documents", len(args)))
	}

	out, err := a.orch.RunBatch(ctx, orchestrator.BatchRequest{
		Name:      batchName,
		Paths:     args,
		Providers: batchProviders,
		OnDocument: func(done, total int, run *orchestrator.RunOutcome) {
			a.logger.Debug().Int("done", done).Int("total", total).Msg(orchestrator.Describe(run))
			if bar != nil {
				bar.Describe(fmt.Sprintf("%d/%d documents", done, total))
				bar.Set(done * 100 / total)
			}
		},
	})
	if bar != nil && err == nil {
		bar.Finish()
	}

	if jsonOutput {
		if perr := printJSON(out); perr != nil {
			return perr
		}
		return err
	}

	if out != nil {
		ui.Section(out.Name)
		for _, run := range out.Runs {
			printOutcome(run)
		}
		fmt.Println()
		if out.Failed > 0 {
			ui.Warning("%d of %d documents failed", out.Failed, len(args))
		} else {
			ui.Success("all %d documents completed", len(args))
		}
	}
	return err
}
