// Package runner executes scenarios end to end: fixture, setup, agent,
// post scripts, evaluation and artifacts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/signalnine/llm-tool-test/internal/adapter"
	"github.com/signalnine/llm-tool-test/internal/config"
	"github.com/signalnine/llm-tool-test/internal/evaluation"
	"github.com/signalnine/llm-tool-test/internal/fixture"
	"github.com/signalnine/llm-tool-test/internal/judge"
	"github.com/signalnine/llm-tool-test/internal/pricing"
	"github.com/signalnine/llm-tool-test/internal/report"
	"github.com/signalnine/llm-tool-test/internal/result"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
	"github.com/signalnine/llm-tool-test/internal/transcript"
)

// ScenarioOpts configures one run of a scenario with one agent and model.
type ScenarioOpts struct {
	Scenario *scenario.Scenario
	Agent    *config.Agent
	// Adapter overrides the adapter built from Agent.
	Adapter adapter.Adapter
	// Model defaults to the agent's first model.
	Model string

	TemplatesDir string
	ScenariosDir string
	ResultsDir   string

	// Timeout overrides the scenario's agent timeout when positive.
	Timeout        time.Duration
	DefaultTimeout time.Duration

	Judge   judge.Judge
	NoJudge bool
	NoCache bool
	DryRun  bool

	Pricing  *pricing.Table
	Redactor *report.Redactor
	DB       *result.DB
	Cache    *result.Cache
}

func (o *ScenarioOpts) model() string {
	if o.Model != "" {
		return o.Model
	}
	return o.Agent.DefaultModel()
}

func (o *ScenarioOpts) agentTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	def := o.DefaultTimeout
	if def <= 0 {
		def = config.DefaultTimeout
	}
	return o.Scenario.Timeout(def)
}

// RunScenario runs the scenario once and returns its record. A cached
// record is returned without running anything unless NoCache is set.
// Errors mean the run could not be carried out; a failing agent is a
// record with a Fail outcome.
func RunScenario(ctx context.Context, opts *ScenarioOpts) (*result.RunRecord, error) {
	s := opts.Scenario
	agentName := opts.Agent.Name
	model := opts.model()
	key := result.NewCacheKey(s.Source, s.Task.Prompt, agentName, model)

	if !opts.NoCache && !opts.DryRun && opts.Cache != nil {
		rec, err := opts.Cache.Get(key)
		switch {
		case err == nil:
			fmt.Printf("Cache hit for %s with %s/%s: %s\n", s.Name, agentName, model, rec.ID)
			rec.Cached = true
			return rec, nil
		case !errors.Is(err, result.ErrCacheMiss):
			log.Printf("warning: reading cache: %v", err)
		}
	}
	if opts.DryRun {
		fmt.Println("Dry run - skipping execution")
		return dryRunRecord(s, agentName, model, key), nil
	}

	ad := opts.Adapter
	if ad == nil {
		var err error
		if ad, err = adapter.New(opts.Agent); err != nil {
			return nil, err
		}
	}
	fmt.Printf("Checking availability for tool: %s\n", agentName)
	if err := ad.CheckAvailability(ctx); err != nil {
		return nil, err
	}

	runID := result.NewRunID()
	runDir, err := result.CreateRunDir(opts.ResultsDir, s.Name, agentName, model, runID)
	if err != nil {
		return nil, err
	}
	artifacts := filepath.Join(runDir, result.ArtifactsDir)

	fmt.Printf("Setting up environment for template folder: %s\n", s.TemplateFolder)
	ws, err := fixture.New(filepath.Join(runDir, result.FixtureDir), filepath.Join(runDir, result.BaselineDir))
	if err != nil {
		return nil, err
	}
	if err := ws.Setup(opts.TemplatesDir, s.TemplateFolder); err != nil {
		return nil, err
	}

	env := script.Env{
		FixtureDir: ws.Root,
		ResultsDir: runDir,
		Scenario:   s.Name,
		Agent:      agentName,
		Model:      model,
		Target:     s.Target.Env,
	}
	timeout := opts.agentTimeout()

	pre := script.New(ws.Root, env.WithoutArtifacts())
	setup, setupEvents := runSetup(ctx, s, pre, timeout)
	setupOK := true
	for _, st := range setup {
		setupOK = setupOK && st.Success
	}
	if err := healthCheck(ctx, s, pre); err != nil {
		return nil, err
	}
	if err := ws.Baseline(); err != nil {
		log.Printf("warning: recording fixture baseline: %v", err)
	}

	fmt.Printf("Running tool '%s' with model '%s'...\n", agentName, model)
	start := time.Now()
	out, err := ad.Run(ctx, &adapter.Request{
		Scenario:   s,
		FixtureDir: ws.Root,
		Model:      model,
		Prompt:     s.Task.Prompt,
		Timeout:    timeout,
		MaxTurns:   maxTurns(s),
		Env:        pre.Env,
	})
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)
	cost := runCost(opts.Pricing, model, out)

	events := append(setupEvents, transcript.Event{
		Type:      transcript.EventExecution,
		Timestamp: time.Now().UTC(),
		Tool:      agentName,
		Output:    out.Transcript,
		ExitCode:  transcript.IntPtr(out.ExitCode),
		TimedOut:  out.TimedOut,
		Duration:  out.Duration.Seconds(),
		CostUSD:   cost,
	})
	events = append(events, out.Events...)
	if err := transcript.WriteArtifacts(artifacts, out.Transcript, events); err != nil {
		return nil, err
	}

	rawPath, eventsPath := transcript.Paths(artifacts)
	env.TranscriptPath = rawPath
	env.EventsPath = eventsPath
	runner := pre.WithEnv(env)
	runPostScripts(ctx, s, runner, eventsPath)

	diff, err := ws.CaptureChanges()
	if err != nil {
		log.Printf("warning: capturing fixture changes: %v", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, result.DiffFile), diff, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", result.DiffFile, err)
	}

	rubric := loadRubric(s, opts.ScenariosDir)
	fmt.Println("Running evaluation...")
	res, err := evaluation.Evaluate(ctx, &evaluation.Input{
		Scenario:      s,
		FixtureDir:    ws.Root,
		Runner:        runner,
		Transcript:    out.Transcript,
		Events:        out.Events,
		AgentExitCode: out.ExitCode,
		AgentTimedOut: out.TimedOut,
		Judge:         opts.Judge,
		Rubric:        rubric,
		Diff:          string(diff),
		NoJudge:       opts.NoJudge,
	})
	if err != nil {
		return nil, err
	}

	rec := &result.RunRecord{
		ID:             runID,
		ScenarioID:     s.Name,
		ScenarioHash:   key.ScenarioHash,
		Agent:          agentName,
		Model:          model,
		Tier:           s.Tier,
		Tags:           s.Tags,
		Timestamp:      start.UTC(),
		DurationSecs:   duration.Seconds(),
		CostUSD:        cost,
		Usage:          tokenUsage(out.Usage),
		AgentExitCode:  out.ExitCode,
		AgentTimedOut:  out.TimedOut,
		SetupSuccess:   setupOK,
		Setup:          setup,
		TranscriptPath: rawPath,
		ResultsDir:     runDir,
		CacheKey:       key.String(),
	}
	applyEvaluation(rec, res)

	if err := writeRunFiles(runDir, rec, opts.Redactor); err != nil {
		return nil, err
	}
	if opts.DB != nil {
		if err := opts.DB.Append(rec); err != nil {
			return nil, err
		}
	}
	if opts.Cache != nil {
		if err := opts.Cache.Put(key, rec); err != nil {
			log.Printf("warning: caching run %s: %v", rec.ID, err)
		}
	}

	fmt.Printf("\nRun completed: %s\n", rec.ID)
	fmt.Printf("Artifacts written to: %s\n", runDir)
	if !setupOK {
		fmt.Println("\nWarning: Setup commands failed. Results may be invalid.")
	}
	return rec, nil
}

func maxTurns(s *scenario.Scenario) int {
	if s.Run != nil && s.Run.MaxTurns > 0 {
		return s.Run.MaxTurns
	}
	return adapter.DefaultMaxTurns
}

// runCost prefers the cost the agent reported and falls back to pricing
// its token usage.
func runCost(table *pricing.Table, model string, out *adapter.Output) *float64 {
	if out.CostUSD != nil {
		return out.CostUSD
	}
	if out.Usage == nil {
		return nil
	}
	c, ok := table.Cost(model, pricing.Usage{
		InputTokens:     out.Usage.InputTokens,
		OutputTokens:    out.Usage.OutputTokens,
		CacheReadTokens: out.Usage.CacheReadTokens,
	})
	if !ok {
		return nil
	}
	return &c
}

func tokenUsage(u *adapter.Usage) *result.TokenUsage {
	if u == nil {
		return nil
	}
	return &result.TokenUsage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheReadTokens:     u.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens,
		Turns:               u.Turns,
	}
}

// loadRubric resolves the judge rubric against the scenario's directory,
// then the scenarios root. A missing rubric leaves the judge to run
// without one.
func loadRubric(s *scenario.Scenario, scenariosDir string) *judge.Rubric {
	if !s.JudgeEnabled() {
		return nil
	}
	name := s.Evaluation.Judge.Rubric
	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = nil
		if s.Path != "" {
			candidates = append(candidates, filepath.Join(filepath.Dir(s.Path), name))
		}
		if scenariosDir != "" {
			candidates = append(candidates, filepath.Join(scenariosDir, name))
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		r, err := judge.LoadRubric(p)
		if err != nil {
			log.Printf("warning: %v", err)
			return nil
		}
		return r
	}
	log.Printf("warning: rubric %s not found for scenario %s", name, s.Name)
	return nil
}
