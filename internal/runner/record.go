package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signalnine/llm-tool-test/internal/evaluation"
	"github.com/signalnine/llm-tool-test/internal/report"
	"github.com/signalnine/llm-tool-test/internal/result"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
	"github.com/signalnine/llm-tool-test/internal/transcript"
)

func dryRunRecord(s *scenario.Scenario, agent, model string, key result.CacheKey) *result.RunRecord {
	return &result.RunRecord{
		ID:           result.NewRunID(),
		ScenarioID:   s.Name,
		ScenarioHash: key.ScenarioHash,
		Agent:        agent,
		Model:        model,
		Tier:         s.Tier,
		Tags:         s.Tags,
		Timestamp:    time.Now().UTC(),
		GatesPassed:  true,
		SetupSuccess: true,
		Outcome:      result.OutcomeDryRun,
		CacheKey:     key.String(),
	}
}

func applyEvaluation(rec *result.RunRecord, res *evaluation.Result) {
	rec.GatesPassed = res.GatesPassed == res.GatesTotal
	rec.Metrics = result.MetricsFromEvaluation(res)
	rec.JudgeScore = res.JudgeScore
	rec.Outcome = res.Outcome.String()
	rec.Passed = res.Outcome.Passed()
}

func writeRunFiles(runDir string, rec *result.RunRecord, r *report.Redactor) error {
	if err := result.WriteJSON(filepath.Join(runDir, result.MetricsFile), rec.Metrics); err != nil {
		return err
	}
	if err := result.WriteRecord(runDir, rec); err != nil {
		return err
	}
	return report.WriteRunFiles(runDir, rec, r)
}

// Reevaluate evaluates a stored run again against its preserved fixture
// and transcript, then rewrites its record and reports. opts.Scenario must
// be the scenario the run was made from; the agent is not run.
func Reevaluate(ctx context.Context, runDir string, opts *ScenarioOpts) (*result.RunRecord, error) {
	rec, err := result.ReadRecord(filepath.Join(runDir, result.RecordFile))
	if err != nil {
		return nil, err
	}
	s := opts.Scenario
	if s == nil || s.Name != rec.ScenarioID {
		return nil, fmt.Errorf("run %s is for scenario %s", rec.ID, rec.ScenarioID)
	}
	if hash := result.HashBytes(s.Source); hash != rec.ScenarioHash {
		fmt.Printf("Note: scenario %s changed since run %s\n", s.Name, rec.ID)
		rec.ScenarioHash = hash
	}

	artifacts := filepath.Join(runDir, result.ArtifactsDir)
	raw, err := transcript.ReadRaw(artifacts)
	if err != nil {
		return nil, err
	}
	rawPath, eventsPath := transcript.Paths(artifacts)
	events, err := transcript.ReadEvents(eventsPath)
	if err != nil {
		return nil, err
	}
	var agentEvents []transcript.Event
	for _, ev := range events {
		switch ev.Type {
		case transcript.EventToolCall, transcript.EventToolResult, transcript.EventMessage:
			agentEvents = append(agentEvents, ev)
		}
	}
	diff, err := os.ReadFile(filepath.Join(runDir, result.DiffFile))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", result.DiffFile, err)
	}

	fixtureDir := filepath.Join(runDir, result.FixtureDir)
	runner := script.New(fixtureDir, script.Env{
		FixtureDir:     fixtureDir,
		ResultsDir:     runDir,
		Scenario:       rec.ScenarioID,
		Agent:          rec.Agent,
		Model:          rec.Model,
		TranscriptPath: rawPath,
		EventsPath:     eventsPath,
		Target:         s.Target.Env,
	})

	fmt.Printf("Re-evaluating run %s...\n", rec.ID)
	res, err := evaluation.Evaluate(ctx, &evaluation.Input{
		Scenario:      s,
		FixtureDir:    fixtureDir,
		Runner:        runner,
		Transcript:    raw,
		Events:        agentEvents,
		AgentExitCode: rec.AgentExitCode,
		AgentTimedOut: rec.AgentTimedOut,
		Judge:         opts.Judge,
		Rubric:        loadRubric(s, opts.ScenariosDir),
		Diff:          string(diff),
		NoJudge:       opts.NoJudge,
	})
	if err != nil {
		return nil, err
	}
	applyEvaluation(rec, res)
	if err := writeRunFiles(runDir, rec, opts.Redactor); err != nil {
		return nil, err
	}
	return rec, nil
}
