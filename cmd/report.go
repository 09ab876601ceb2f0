package cmd

import (
	"fmt"
	"os"

	"github.com/signalnine/llm-tool-test/internal/report"
	"github.com/spf13/cobra"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [results-dir]",
		Short: "Summarize stored results by agent and model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) > 0 {
				dir = args[0]
			} else {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dir = cfg.Results.Dir
			}
			if _, err := os.Stat(dir); err != nil {
				return fmt.Errorf("results dir: %w", err)
			}
			return report.Generate(dir, flagFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", report.FormatTable, "output format (table, markdown, json)")
	return cmd
}
