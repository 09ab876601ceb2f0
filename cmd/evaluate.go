package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/signalnine/llm-tool-test/internal/config"
	"github.com/signalnine/llm-tool-test/internal/judge"
	"github.com/signalnine/llm-tool-test/internal/report"
	"github.com/signalnine/llm-tool-test/internal/result"
	"github.com/signalnine/llm-tool-test/internal/runner"
	"github.com/spf13/cobra"
)

var flagEvalNoJudge bool

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <run-dir>",
		Short: "Re-evaluate a stored run",
		Long: "Evaluate a finished run again against its preserved fixture and transcript, " +
			"using the current scenario definition, and rewrite its record and reports. " +
			"The agent is not run again.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir, err := filepath.EvalSymlinks(args[0])
			if err != nil {
				return fmt.Errorf("resolving run dir: %w", err)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rec, err := result.ReadRecord(filepath.Join(runDir, result.RecordFile))
			if err != nil {
				return err
			}
			all, err := discover(cfg.ScenariosDir)
			if err != nil {
				return err
			}
			s := findScenario(all, rec.ScenarioID)
			if s == nil {
				return fmt.Errorf("scenario %q not found in %s", rec.ScenarioID, cfg.ScenariosDir)
			}

			var j judge.Judge
			if !flagEvalNoJudge && s.JudgeEnabled() {
				j = newJudge(cfg)
			}
			previous := rec.Outcome
			updated, err := runner.Reevaluate(context.Background(), runDir, &runner.ScenarioOpts{
				Scenario:     s,
				Agent:        &config.Agent{Name: rec.Agent},
				Model:        rec.Model,
				ScenariosDir: cfg.ScenariosDir,
				Judge:        j,
				NoJudge:      flagEvalNoJudge,
				Redactor:     report.NewRedactor(config.SecretValues(cfg.Secrets.EnvFile)),
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s %s: %s -> %s\n", report.Verdict(os.Stdout, updated.Passed), updated.ID, previous, updated.Outcome)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagEvalNoJudge, "no-judge", false, "skip the LLM judge")
	return cmd
}
