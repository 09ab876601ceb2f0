package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalnine/llm-tool-test/internal/config"
	"github.com/signalnine/llm-tool-test/internal/evaluation"
	"github.com/signalnine/llm-tool-test/internal/judge"
	"github.com/signalnine/llm-tool-test/internal/pricing"
	"github.com/signalnine/llm-tool-test/internal/report"
	"github.com/signalnine/llm-tool-test/internal/result"
	"github.com/signalnine/llm-tool-test/internal/runner"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/spf13/cobra"
)

// EnableVar must be "1" before run will launch any agent.
const EnableVar = "LLM_TOOL_TEST_ENABLED"

var (
	flagScenarios []string
	flagAll       bool
	flagTags      []string
	flagTier      int
	flagAgent     string
	flagModel     string
	flagTimeout   int
	flagNoJudge   bool
	flagNoCache   bool
	flagDryRun    bool
	flagParallel  int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scenarios against coding agents",
		RunE:  runScenarios,
	}
	cmd.Flags().StringArrayVar(&flagScenarios, "scenario", nil, "scenario file or name (repeatable)")
	cmd.Flags().BoolVar(&flagAll, "all", false, "run every discovered scenario")
	cmd.Flags().StringSliceVar(&flagTags, "tags", nil, "only scenarios with any of these tags")
	cmd.Flags().IntVar(&flagTier, "tier", scenario.NoTierLimit, "only scenarios at or below this tier")
	cmd.Flags().StringVar(&flagAgent, "agent", "", "agent to run (overrides tool_matrix)")
	cmd.Flags().StringVar(&flagModel, "model", "", "model to run the agent with")
	cmd.Flags().IntVar(&flagTimeout, "timeout", 0, "agent timeout in seconds (overrides scenario and config)")
	cmd.Flags().BoolVar(&flagNoJudge, "no-judge", false, "skip the LLM judge")
	cmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "ignore cached results")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "plan runs without executing agents")
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "max concurrent runs (default from config)")
	return cmd
}

func checkEnabled() error {
	if os.Getenv(EnableVar) != "1" {
		return fmt.Errorf("running agents can modify files and incur API costs; set %s=1 to enable", EnableVar)
	}
	return nil
}

// plannedRun is one scenario with one agent and model.
type plannedRun struct {
	Scenario *scenario.Scenario
	Agent    *config.Agent
	Model    string
}

func runScenarios(cmd *cobra.Command, args []string) error {
	if err := checkEnabled(); err != nil {
		return err
	}
	if len(flagScenarios) == 0 && !flagAll {
		return errors.New("specify --scenario or --all")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	scenarios, err := selectScenarios(cfg.ScenariosDir, flagScenarios, flagAll,
		scenario.Filter{Tags: flagTags, MaxTier: flagTier})
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		fmt.Println("No scenarios matched.")
		return nil
	}
	plan, err := planRuns(cfg, scenarios, flagAgent, flagModel)
	if err != nil {
		return err
	}

	table := pricing.Default()
	if cfg.Pricing.File != "" {
		if table, err = pricing.Load(cfg.Pricing.File); err != nil {
			return err
		}
	}
	var j judge.Judge
	if !flagNoJudge && !flagDryRun && needsJudge(scenarios) {
		j = newJudge(cfg)
	}
	redactor := report.NewRedactor(config.SecretValues(cfg.Secrets.EnvFile))
	db := result.OpenDB(cfg.Results.Dir)
	cache := result.OpenCache(cfg.Results.Dir)

	parallel := cfg.Run.Parallel
	if flagParallel > 0 {
		parallel = flagParallel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records := make([]*result.RunRecord, len(plan))
	jobs := make([]runner.Job, len(plan))
	for i, p := range plan {
		jobs[i] = func(ctx context.Context) error {
			fmt.Printf("Running %s × %s/%s...\n", p.Scenario.Name, p.Agent.Name, p.Model)
			rec, err := runner.RunScenario(ctx, &runner.ScenarioOpts{
				Scenario:       p.Scenario,
				Agent:          p.Agent,
				Model:          p.Model,
				TemplatesDir:   cfg.TemplatesDir,
				ScenariosDir:   cfg.ScenariosDir,
				ResultsDir:     cfg.Results.Dir,
				Timeout:        time.Duration(flagTimeout) * time.Second,
				DefaultTimeout: cfg.Run.Timeout(),
				Judge:          j,
				NoJudge:        flagNoJudge,
				NoCache:        flagNoCache,
				DryRun:         flagDryRun,
				Pricing:        table,
				Redactor:       redactor,
				DB:             db,
				Cache:          cache,
			})
			if err != nil {
				return fmt.Errorf("%s × %s/%s: %w", p.Scenario.Name, p.Agent.Name, p.Model, err)
			}
			records[i] = rec
			return nil
		}
	}
	errs := runner.RunPool(ctx, parallel, jobs)

	printSummary(records)
	for _, err := range errs {
		label := "ERROR"
		if evaluation.IsInfraError(err) {
			label = "INFRA ERROR"
		}
		fmt.Printf("  %s: %v\n", label, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d run(s) could not complete", len(errs), len(plan))
	}
	return nil
}

func printSummary(records []*result.RunRecord) {
	fmt.Println("\n--- Results ---")
	var passed, total int
	for _, rec := range records {
		if rec == nil {
			continue
		}
		verdict := report.Verdict(os.Stdout, rec.Passed)
		switch {
		case rec.Outcome == result.OutcomeDryRun:
			verdict = "DRY "
		case rec.Cached:
			verdict += " (cached)"
		}
		fmt.Printf("  %s %s × %s/%s: %s\n", verdict, rec.ScenarioID, rec.Agent, rec.Model, rec.Outcome)
		if rec.Outcome != result.OutcomeDryRun {
			total++
			if rec.Passed {
				passed++
			}
		}
	}
	if total > 0 {
		fmt.Printf("\n%d/%d passed\n", passed, total)
	}
}

// discover loads the scenarios under dir; a missing dir has none.
func discover(dir string) ([]*scenario.Scenario, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return scenario.Discover(dir)
}

// selectScenarios resolves --scenario values (file paths or names) or all
// discovered scenarios, then applies the tag and tier filter.
func selectScenarios(dir string, names []string, all bool, f scenario.Filter) ([]*scenario.Scenario, error) {
	var discovered []*scenario.Scenario
	var err error
	load := func() error {
		if discovered == nil {
			discovered, err = discover(dir)
		}
		return err
	}

	var selected []*scenario.Scenario
	if all {
		if err := load(); err != nil {
			return nil, err
		}
		selected = discovered
	}
	for _, name := range names {
		if info, statErr := os.Stat(name); statErr == nil && !info.IsDir() {
			s, err := scenario.Load(name)
			if err != nil {
				return nil, err
			}
			selected = append(selected, s)
			continue
		}
		if err := load(); err != nil {
			return nil, err
		}
		s := findScenario(discovered, name)
		if s == nil {
			return nil, fmt.Errorf("scenario %q not found in %s", name, dir)
		}
		selected = append(selected, s)
	}
	return f.Apply(dedupe(selected)), nil
}

func findScenario(all []*scenario.Scenario, name string) *scenario.Scenario {
	for _, s := range all {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func dedupe(ss []*scenario.Scenario) []*scenario.Scenario {
	seen := map[string]bool{}
	var out []*scenario.Scenario
	for _, s := range ss {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out
}

// planRuns expands each scenario's matrix into runs. Without --agent or a
// tool_matrix the first configured agent is used.
func planRuns(cfg *config.Config, scenarios []*scenario.Scenario, agent, model string) ([]plannedRun, error) {
	var plan []plannedRun
	for _, s := range scenarios {
		for _, p := range s.Matrix(agent, model) {
			name := p.Agent
			if name == "" {
				name = cfg.Agents[0].Name
			}
			a, err := cfg.Agent(name)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
			}
			m := p.Model
			if m == "" {
				m = a.DefaultModel()
			}
			plan = append(plan, plannedRun{Scenario: s, Agent: a, Model: m})
		}
	}
	return plan, nil
}

func needsJudge(scenarios []*scenario.Scenario) bool {
	for _, s := range scenarios {
		if s.JudgeEnabled() {
			return true
		}
	}
	return false
}

// newJudge builds the LLM judge. Without credentials runs still proceed
// and judged scenarios fail with a judge error.
func newJudge(cfg *config.Config) judge.Judge {
	j, err := judge.New(judge.Config{
		Model:     cfg.Judge.Model,
		BaseURL:   cfg.Judge.BaseURL,
		APIKeyEnv: cfg.Judge.APIKeyEnv,
		Samples:   cfg.Judge.Samples,
	})
	if err != nil {
		log.Printf("warning: judge unavailable: %v", err)
		return nil
	}
	return j
}
