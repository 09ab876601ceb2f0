package evaluation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/llm-tool-test/internal/evaluation"
	"github.com/signalnine/llm-tool-test/internal/gate"
	"github.com/signalnine/llm-tool-test/internal/judge"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
	"github.com/signalnine/llm-tool-test/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJudge struct {
	resp  *judge.Response
	err   error
	calls int
}

func (f *fakeJudge) Evaluate(context.Context, *judge.Request) (*judge.Response, error) {
	f.calls++
	return f.resp, f.err
}

func load(t *testing.T, yml string) *scenario.Scenario {
	t.Helper()
	s, err := scenario.Parse([]byte(yml))
	require.NoError(t, err)
	return s
}

func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello world\n"), 0o644))
	return dir
}

func input(t *testing.T, s *scenario.Scenario, dir string) *evaluation.Input {
	t.Helper()
	return &evaluation.Input{
		Scenario:   s,
		FixtureDir: dir,
		Runner:     script.New(dir, script.Env{FixtureDir: dir, Scenario: s.Name}),
		Transcript: "$ echo hi\nhi\n",
	}
}

const base = `
name: notes
template_folder: notes
target:
  binary: echo
task:
  prompt: "Write a note"
`

func TestEvaluateAllGatesPass(t *testing.T) {
	s := load(t, base+`
evaluation:
  gates:
    - type: file_exists
      path: notes.txt
    - type: command_output_contains
      command: "cat notes.txt"
      substring: hello
`)
	dir := fixture(t)
	res, err := evaluation.Evaluate(context.Background(), input(t, s, dir))
	require.NoError(t, err)

	assert.Equal(t, evaluation.Pass, res.Outcome.Status)
	assert.Equal(t, "Pass", res.Outcome.String())
	assert.Equal(t, 2, res.GatesPassed)
	assert.Equal(t, 2, res.GatesTotal)
	assert.Nil(t, res.CompositeScore)
	assert.Nil(t, res.JudgeScore)
	assert.Equal(t, 1, res.Interaction.TotalCommands)
}

func TestEvaluateGateFailureNamesFirstFailure(t *testing.T) {
	s := load(t, base+`
evaluation:
  gates:
    - type: file_exists
      path: notes.txt
    - type: file_exists
      path: missing.txt
    - type: file_contains
      path: notes.txt
      substring: goodbye
`)
	j := &fakeJudge{resp: &judge.Response{WeightedScore: 1}}
	in := input(t, s, fixture(t))
	in.Judge = j
	res, err := evaluation.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, evaluation.Fail, res.Outcome.Status)
	assert.Equal(t, 1, res.GatesPassed)
	assert.Len(t, res.Gates, 3)
	assert.Contains(t, res.Outcome.Reason, "1/3 gates passed")
	assert.Contains(t, res.Outcome.Reason, "gate #2 (file_exists)")
	require.Len(t, res.Outcome.Failures, 2)
	assert.Contains(t, res.Outcome.Failures[1], "#3 file_contains")
	assert.Zero(t, j.calls)
}

const judged = base + `
evaluation:
  gates:
    - type: file_exists
      path: notes.txt
  judge:
    enabled: true
    rubric: rubrics/notes.yaml
    pass_threshold: 0.7
`

func TestEvaluateJudge(t *testing.T) {
	tests := []struct {
		name   string
		judge  *fakeJudge
		status evaluation.Status
		reason string
	}{
		{"above threshold", &fakeJudge{resp: &judge.Response{WeightedScore: 0.8}}, evaluation.Pass, ""},
		{"at threshold", &fakeJudge{resp: &judge.Response{WeightedScore: 0.7}}, evaluation.Pass, ""},
		{"below threshold", &fakeJudge{resp: &judge.Response{WeightedScore: 0.5}}, evaluation.Fail, "judge score 0.50 below threshold 0.70"},
		{"judge error", &fakeJudge{err: errors.New("rate limited")}, evaluation.Fail, "judge error: rate limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(t, load(t, judged), fixture(t))
			in.Judge = tt.judge
			res, err := evaluation.Evaluate(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Outcome.Status)
			assert.Equal(t, tt.reason, res.Outcome.Reason)
			assert.Equal(t, 1, tt.judge.calls)
		})
	}
}

func TestEvaluateNoJudgeSkipsJudge(t *testing.T) {
	j := &fakeJudge{resp: &judge.Response{WeightedScore: 0.1}}
	in := input(t, load(t, judged), fixture(t))
	in.Judge = j
	in.NoJudge = true
	res, err := evaluation.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, evaluation.Pass, res.Outcome.Status)
	assert.Zero(t, j.calls)
}

func TestEvaluateMissingJudgeFails(t *testing.T) {
	res, err := evaluation.Evaluate(context.Background(), input(t, load(t, judged), fixture(t)))
	require.NoError(t, err)
	assert.Equal(t, "judge error: judge not configured", res.Outcome.Reason)
}

func TestEvaluateComposite(t *testing.T) {
	s := load(t, base+`
evaluation:
  gates:
    - type: file_exists
      path: notes.txt
    - type: file_exists
      path: missing.txt
  composite:
    gate_weight: 0.5
    judge_weight: 0.2
    interaction_weight: 0.3
`)
	res, err := evaluation.Evaluate(context.Background(), input(t, s, fixture(t)))
	require.NoError(t, err)
	require.NotNil(t, res.CompositeScore)

	// 0.5*0.5 + 0.2*0 + 0.3*interaction
	want := 0.25 + 0.3*evaluation.InteractionScore(res.Interaction)
	assert.InDelta(t, want, *res.CompositeScore, 1e-9)
}

func TestEvaluateEvaluators(t *testing.T) {
	s := load(t, base+`
evaluation:
  gates:
    - type: file_exists
      path: notes.txt
scripts:
  evaluators:
    - name: good
      command: 'echo ''{"metrics": {"notes": 1}, "score": 0.75, "summary": "fine"}'''
    - name: garbage
      command: "echo not json"
    - name: out_of_range
      command: 'echo ''{"score": 2}'''
    - name: failing
      command: "echo oops; exit 3"
`)
	res, err := evaluation.Evaluate(context.Background(), input(t, s, fixture(t)))
	require.NoError(t, err)
	require.Len(t, res.Evaluators, 4)

	good := res.Evaluators[0]
	assert.Empty(t, good.Error)
	require.NotNil(t, good.Score)
	assert.Equal(t, 0.75, *good.Score)
	require.NotNil(t, good.Summary)
	assert.Equal(t, "fine", *good.Summary)
	assert.Equal(t, map[string]any{"notes": 1.0}, good.Metrics)

	assert.Contains(t, res.Evaluators[1].Error, "invalid JSON output")
	assert.Nil(t, res.Evaluators[1].Score)

	assert.Contains(t, res.Evaluators[2].Error, "does not match schema")
	assert.Nil(t, res.Evaluators[2].Score)

	assert.Equal(t, 3, res.Evaluators[3].ExitCode)
	assert.Contains(t, res.Evaluators[3].Error, "exited with code 3")

	// Evaluators never change the outcome.
	assert.Equal(t, evaluation.Pass, res.Outcome.Status)
}

func TestEvaluatorTimeout(t *testing.T) {
	dir := fixture(t)
	r := script.New(dir, script.Env{FixtureDir: dir, Scenario: "notes"})
	r.WaitDelay = 500 * time.Millisecond

	start := time.Now()
	results := evaluation.RunEvaluators(context.Background(), r, []scenario.EvaluatorEntry{
		{Name: "slow", Command: `echo '{"score":1}'; sleep 30`, TimeoutSecs: 1},
	})
	require.Len(t, results, 1)
	assert.Less(t, time.Since(start), 10*time.Second)

	slow := results[0]
	assert.True(t, slow.TimedOut)
	assert.Contains(t, slow.Error, "timed out after 1s")
	assert.Nil(t, slow.Score)
	assert.Nil(t, slow.Metrics)
	assert.Equal(t, script.TimedOutExitCode, slow.ExitCode)
}

func TestEvaluatorSpawnFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	r := script.New(missing, script.Env{FixtureDir: missing, Scenario: "notes"})

	results := evaluation.RunEvaluators(context.Background(), r, []scenario.EvaluatorEntry{
		{Name: "e", Command: "true"},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].TimedOut)
	assert.Contains(t, results[0].Error, "could not start evaluator")
	assert.Equal(t, script.SpawnFailedExitCode, results[0].ExitCode)
	assert.NotEqual(t, script.TimedOutExitCode, results[0].ExitCode)
}

func TestEvaluateInfraErrors(t *testing.T) {
	s := load(t, base+`
evaluation:
  gates:
    - type: file_exists
      path: notes.txt
scripts:
  evaluators:
    - name: e
      command: "true"
`)
	in := input(t, s, filepath.Join(t.TempDir(), "gone"))
	_, err := evaluation.Evaluate(context.Background(), in)
	require.Error(t, err)
	assert.True(t, evaluation.IsInfraError(err))

	in = input(t, s, fixture(t))
	in.Runner = nil
	_, err = evaluation.Evaluate(context.Background(), in)
	require.Error(t, err)
	assert.True(t, evaluation.IsInfraError(err))
	assert.Contains(t, err.Error(), "script runner not available")
}

func TestDecideOutcomeFlipsOnAnyGate(t *testing.T) {
	gates := []gate.Result{
		{GateType: scenario.FileExists, Passed: true, Message: "ok"},
		{GateType: scenario.CommandSucceeds, Passed: true, Message: "ok"},
		{GateType: scenario.Script, Passed: true, Message: "ok"},
	}
	require.True(t, evaluation.DecideOutcome(gates, false, nil, 0, "").Passed())
	for i := range gates {
		flipped := append([]gate.Result(nil), gates...)
		flipped[i].Passed = false
		o := evaluation.DecideOutcome(flipped, false, nil, 0, "")
		assert.False(t, o.Passed(), "gate %d", i)
		assert.Len(t, o.Failures, 1)
	}
}

func TestCompositeScore(t *testing.T) {
	m := transcript.Metrics{Completed: true, FirstTrySuccessRate: 0.5}
	assert.InDelta(t, 0.75, evaluation.InteractionScore(m), 1e-9)

	judgeScore := 0.8
	got := evaluation.CompositeScore(scenario.DefaultComposite, 3, 4, &judgeScore, m)
	assert.InDelta(t, 0.35*0.75+0.55*0.8+0.10*0.75, got, 1e-9)

	assert.Equal(t, 1.0, evaluation.GateRatio(0, 0))
	heavy := scenario.Composite{GateWeight: 2}
	assert.Equal(t, 1.0, evaluation.CompositeScore(heavy, 1, 1, nil, m))
}

func TestScoreTier(t *testing.T) {
	for score, tier := range map[float64]string{0.95: "Excellent", 0.9: "Excellent", 0.7: "Good", 0.5: "Acceptable", 0.49: "Poor"} {
		assert.Equal(t, tier, evaluation.ScoreTier(score), "%v", score)
	}
}
