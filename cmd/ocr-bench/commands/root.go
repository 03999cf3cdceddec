// Package commands implements the ocr-bench command tree.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/ocr-bench/cmd/ocr-bench/ui"
)

var (
	cfgFile    string
	verbose    bool
	noColor    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "ocr-bench",
	Short: "Benchmark OCR providers against the same PDF documents",
	Long: `ocr-bench sends every page of a PDF to several OCR providers in parallel,
records per-page latency, tokens and errors, and keeps lifetime statistics
per provider across all runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load() // .env is optional
		ui.Init(noColor || jsonOutput)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
