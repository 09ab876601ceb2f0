package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signalnine/llm-tool-test/internal/result"
	"github.com/spf13/cobra"
)

var (
	flagOlderThan  string
	flagClearCache bool
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove old runs from the results directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := parseAge(flagOlderThan)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			n, err := result.Clean(cfg.Results.Dir, time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d run(s) older than %s from %s\n", n, flagOlderThan, cfg.Results.Dir)
			if flagClearCache {
				if err := result.OpenCache(cfg.Results.Dir).Clear(); err != nil {
					return fmt.Errorf("clearing cache: %w", err)
				}
				fmt.Println("Cache cleared")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagOlderThan, "older-than", "7d", "age threshold, e.g. 36h or 7d")
	cmd.Flags().BoolVar(&flagClearCache, "cache", false, "also clear the result cache")
	return cmd
}

// parseAge accepts Go durations plus a whole-day "Nd" form.
func parseAge(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}
