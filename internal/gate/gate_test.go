package gate_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/llm-tool-test/internal/gate"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
	"github.com/signalnine/llm-tool-test/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) *gate.Evaluator {
	t.Helper()
	dir := t.TempDir()
	return &gate.Evaluator{
		FixtureDir:     dir,
		Runner:         script.New(dir, script.Env{FixtureDir: dir, Scenario: "gates"}),
		CommandTimeout: 5 * time.Second,
	}
}

func TestCommandSucceeds(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	r := e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.CommandSucceeds, Command: "true"})
	assert.True(t, r.Passed, r.Message)
	assert.Equal(t, scenario.CommandSucceeds, r.GateType)

	r = e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.CommandSucceeds, Command: "exit 1"})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "exit code 1")
}

func TestCommandTimeout(t *testing.T) {
	e := newEvaluator(t)
	e.CommandTimeout = time.Second
	start := time.Now()
	r := e.EvaluateOne(context.Background(), scenario.Gate{Kind: scenario.CommandSucceeds, Command: "sleep 30"})
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "timed out")
}

func TestCommandOutputGates(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	tests := []struct {
		name string
		g    scenario.Gate
		want bool
	}{
		{"contains", scenario.Gate{Kind: scenario.CommandOutputContains, Command: "echo hello world", Substring: "lo wo"}, true},
		{"contains missing", scenario.Gate{Kind: scenario.CommandOutputContains, Command: "echo hello", Substring: "bye"}, false},
		{"contains ignores stderr", scenario.Gate{Kind: scenario.CommandOutputContains, Command: "echo hidden >&2", Substring: "hidden"}, false},
		{"contains nonzero exit", scenario.Gate{Kind: scenario.CommandOutputContains, Command: "echo hello; exit 2", Substring: "hello"}, false},
		{"matches", scenario.Gate{Kind: scenario.CommandOutputMatches, Command: "echo note-42", Pattern: `note-\d+`}, true},
		{"matches miss", scenario.Gate{Kind: scenario.CommandOutputMatches, Command: "echo note", Pattern: `^\d+$`}, false},
		{"matches bad regex", scenario.Gate{Kind: scenario.CommandOutputMatches, Command: "echo x", Pattern: `(`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.EvaluateOne(ctx, tt.g)
			assert.Equal(t, tt.want, r.Passed, r.Message)
		})
	}

	r := e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.CommandOutputMatches, Command: "echo x", Pattern: `(`})
	assert.Contains(t, r.Message, "Invalid regex")
}

func TestCommandJSONPath(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()
	jp := func(out, path, assertion string) gate.Result {
		return e.EvaluateOne(ctx, scenario.Gate{
			Kind:      scenario.CommandJSONPath,
			Command:   "printf '%s' '" + out + "'",
			Path:      path,
			Assertion: assertion,
		})
	}

	assert.True(t, jp(`{"items":[1,2,3]}`, "$.items", "len >= 3").Passed)
	assert.False(t, jp(`{"items":[1,2]}`, "$.items", "len >= 3").Passed)
	assert.True(t, jp(`{"status":"ok"}`, "$.status", `equals "ok"`).Passed)
	assert.False(t, jp(`{"status":"error"}`, "$.status", `equals "ok"`).Passed)

	r := jp(`{}`, "$.status", `equals "ok"`)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "did not resolve")

	r = jp(`not json`, "$.status", "exists")
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "not valid JSON")

	r = jp(`{}`, "status", "exists")
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "Invalid JSON path")

	r = jp(`{}`, "$.status", "is great")
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "Invalid assertion")
}

func TestFileGates(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()
	exists := scenario.Gate{Kind: scenario.FileExists, Path: "out.txt"}

	r := e.EvaluateOne(ctx, exists)
	assert.False(t, r.Passed)

	require.NoError(t, os.WriteFile(filepath.Join(e.FixtureDir, "out.txt"), []byte("title: hello\n"), 0o644))
	assert.True(t, e.EvaluateOne(ctx, exists).Passed)

	assert.True(t, e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.FileContains, Path: "out.txt", Substring: "hello"}).Passed)
	assert.False(t, e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.FileContains, Path: "out.txt", Substring: "bye"}).Passed)
	assert.True(t, e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.FileMatches, Path: "out.txt", Pattern: `(?m)^title: \w+$`}).Passed)
	assert.False(t, e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.FileMatches, Path: "out.txt", Pattern: `^\d`}).Passed)

	r = e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.FileContains, Path: "missing.txt", Substring: "x"})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "does not exist")
	assert.False(t, e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.FileMatches, Path: "missing.txt", Pattern: "x"}).Passed)
}

func TestNoTranscriptErrors(t *testing.T) {
	e := newEvaluator(t)
	g := scenario.Gate{Kind: scenario.NoTranscriptErrors}
	assert.True(t, e.EvaluateOne(context.Background(), g).Passed)

	e.Metrics = transcript.Metrics{ErrorCount: 2}
	r := e.EvaluateOne(context.Background(), g)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "2 failed")
}

func TestScriptGate(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()
	sg := func(cmd string) gate.Result {
		return e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.Script, Command: cmd, Description: "custom check"})
	}

	r := sg(`echo '{"passed": false, "message": "nope"}'`)
	assert.False(t, r.Passed)
	assert.Equal(t, "nope", r.Message)

	r = sg(`echo '{"passed": true}'; exit 3`)
	assert.True(t, r.Passed)
	assert.Equal(t, "custom check", r.Message)

	r = sg(`echo checking...; echo '{"passed": false, "detail": {"n": 1}}'`)
	assert.False(t, r.Passed)

	assert.True(t, sg(`echo all good`).Passed)
	r = sg(`echo all bad; exit 2`)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "exit")

	assert.True(t, sg(`echo '{"passed": "yes"}'`).Passed, "non-boolean passed falls back to exit code")
}

func TestScriptGateTimeout(t *testing.T) {
	e := newEvaluator(t)
	start := time.Now()
	r := e.EvaluateOne(context.Background(), scenario.Gate{
		Kind:        scenario.Script,
		Command:     `echo '{"passed": true}'; sleep 30`,
		TimeoutSecs: 1,
	})
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "timed out")
}

func TestGatesWithoutRunner(t *testing.T) {
	e := &gate.Evaluator{FixtureDir: t.TempDir()}
	ctx := context.Background()

	r := e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.Script, Command: "true"})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "Script runner not available")

	r = e.EvaluateOne(ctx, scenario.Gate{Kind: scenario.CommandSucceeds, Command: "true"})
	assert.False(t, r.Passed)
}

func TestEvaluateKeepsOrderAndLength(t *testing.T) {
	e := newEvaluator(t)
	gates := []scenario.Gate{
		{Kind: scenario.CommandSucceeds, Command: "exit 1"},
		{Kind: scenario.FileExists, Path: "nope"},
		{Kind: scenario.NoTranscriptErrors},
		{Kind: "bogus"},
		{Kind: scenario.CommandOutputContains, Command: "echo x", Substring: "x"},
	}
	results := e.Evaluate(context.Background(), gates)
	require.Len(t, results, len(gates))
	for i, r := range results {
		assert.Equal(t, gates[i].Kind, r.GateType)
	}
	assert.Equal(t, []bool{false, false, true, false, true},
		[]bool{results[0].Passed, results[1].Passed, results[2].Passed, results[3].Passed, results[4].Passed})
}

func TestParseScriptVerdict(t *testing.T) {
	v, ok := gate.ParseScriptVerdict(`{"passed": true, "message": "fine"}`)
	require.True(t, ok)
	assert.Equal(t, gate.ScriptVerdict{Passed: true, Message: "fine"}, v)

	_, ok = gate.ParseScriptVerdict("")
	assert.False(t, ok)
	_, ok = gate.ParseScriptVerdict(`[true]`)
	assert.False(t, ok)
	_, ok = gate.ParseScriptVerdict(`{"message": "no verdict"}`)
	assert.False(t, ok)
}
