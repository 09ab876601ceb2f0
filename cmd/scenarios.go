package cmd

import (
	"fmt"
	"strings"

	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/spf13/cobra"
)

var (
	flagListTags []string
	flagListTier int
)

func newScenariosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			all, err := discover(cfg.ScenariosDir)
			if err != nil {
				return err
			}
			found := scenario.Filter{Tags: flagListTags, MaxTier: flagListTier}.Apply(all)

			fmt.Println("Available scenarios:")
			if len(found) == 0 {
				fmt.Printf("  (none in %s)\n", cfg.ScenariosDir)
				return nil
			}
			for _, s := range found {
				line := fmt.Sprintf("  - %s (tier %d)", s.Name, s.Tier)
				if len(s.Tags) > 0 {
					line += " [" + strings.Join(s.Tags, ", ") + "]"
				}
				if s.Description != "" {
					line += ": " + s.Description
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&flagListTags, "tags", nil, "only scenarios with any of these tags")
	cmd.Flags().IntVar(&flagListTier, "tier", scenario.NoTierLimit, "only scenarios at or below this tier")
	return cmd
}
