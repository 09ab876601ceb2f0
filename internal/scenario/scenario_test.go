package scenario_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullScenario = `
name: create_note
description: "Create a note"
template_folder: qipu
tier: 1
tags: [smoke, notes]
target:
  binary: qipu
  command_pattern: '^\s*qipu\s+(\S+)'
  health_check: "qipu --version"
  env:
    QIPU_HOME: .qipu
task:
  prompt: "Create a note titled hello"
setup:
  commands:
    - "qipu init"
run:
  timeout_secs: 120
  max_turns: 10
tool_matrix:
  - tool: claude-code
    models: [sonnet, haiku]
  - tool: mock
evaluation:
  command_timeout_secs: 15
  gates:
    - type: command_succeeds
      command: "qipu list"
    - type: command_json_path
      command: "qipu list --format json"
      path: "$.notes"
      assertion: "len >= 1"
    - type: file_exists
      path: ".qipu/config.toml"
    - type: no_transcript_errors
    - type: script
      command: "./check.sh"
      description: "custom check"
      timeout_secs: 5
  judge:
    enabled: true
    rubric: rubrics/notes.yaml
    pass_threshold: 0.7
  composite:
    gate_weight: 0.5
scripts:
  post:
    - command: "qipu export"
  evaluators:
    - name: quality
      command: "./eval.sh"
      timeout_secs: 10
`

func TestParseFullScenario(t *testing.T) {
	s, err := scenario.Parse([]byte(fullScenario))
	require.NoError(t, err)

	assert.Equal(t, "create_note", s.Name)
	assert.Equal(t, 1, s.Tier)
	assert.Equal(t, ".qipu", s.Target.Env["QIPU_HOME"])
	require.Len(t, s.Evaluation.Gates, 5)
	assert.Equal(t, scenario.CommandJSONPath, s.Evaluation.Gates[1].Kind)
	assert.Equal(t, "len >= 1", s.Evaluation.Gates[1].Assertion)
	assert.Equal(t, scenario.NoTranscriptErrors, s.Evaluation.Gates[3].Kind)
	assert.Equal(t, 5*time.Second, s.Evaluation.Gates[4].Timeout())
	assert.Equal(t, 15*time.Second, s.Evaluation.CommandTimeout())
	assert.True(t, s.JudgeEnabled())

	require.NotNil(t, s.Evaluation.Composite)
	assert.Equal(t, 0.5, s.Evaluation.Composite.GateWeight)
	assert.Equal(t, 0.55, s.Evaluation.Composite.JudgeWeight)
	assert.Equal(t, 0.10, s.Evaluation.Composite.InteractionWeight)

	assert.Equal(t, 30*time.Second, s.PostScripts()[0].Timeout())
	assert.Equal(t, 10*time.Second, s.Evaluators()[0].Timeout())
	assert.Equal(t, 120*time.Second, s.Timeout(time.Minute))
	assert.Equal(t, []string{"qipu init"}, s.SetupCommands())
	assert.Equal(t, []byte(fullScenario), s.Source)
}

func TestParseMinimalScenarioDefaults(t *testing.T) {
	s, err := scenario.Parse([]byte(`
name: basic
description: basic
template_folder: qipu
target: {binary: qipu}
task: {prompt: "do it"}
evaluation:
  gates:
    - type: script
      command: "true"
`))
	require.NoError(t, err)
	assert.Nil(t, s.Evaluation.Composite)
	assert.False(t, s.JudgeEnabled())
	assert.Equal(t, scenario.DefaultScriptGateTimeout, s.Evaluation.Gates[0].Timeout())
	assert.Equal(t, scenario.DefaultCommandGateTimeout, s.Evaluation.CommandTimeout())
	assert.Equal(t, time.Minute, s.Timeout(time.Minute))
	assert.Nil(t, s.PostScripts())
	assert.Nil(t, s.Evaluators())
}

func TestParseRejectsInvalidScenarios(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing binary and prompt",
			yaml: "name: x\ntemplate_folder: t\nevaluation:\n  gates:\n    - type: no_transcript_errors\n",
			want: "target.binary is required",
		},
		{
			name: "unknown gate type",
			yaml: "name: x\ntemplate_folder: t\ntarget: {binary: b}\ntask: {prompt: p}\nevaluation:\n  gates:\n    - type: file_absent\n      path: a\n",
			want: `unknown gate type "file_absent"`,
		},
		{
			name: "gate missing field",
			yaml: "name: x\ntemplate_folder: t\ntarget: {binary: b}\ntask: {prompt: p}\nevaluation:\n  gates:\n    - type: command_output_matches\n      command: ls\n",
			want: "gates[0]: command_output_matches gate requires pattern",
		},
		{
			name: "timeout on non-script gate",
			yaml: "name: x\ntemplate_folder: t\ntarget: {binary: b}\ntask: {prompt: p}\nevaluation:\n  gates:\n    - type: command_succeeds\n      command: ls\n      timeout_secs: 3\n",
			want: "only valid on script gates",
		},
		{
			name: "no gates",
			yaml: "name: x\ntemplate_folder: t\ntarget: {binary: b}\ntask: {prompt: p}\nevaluation:\n  gates: []\n",
			want: "at least one gate",
		},
		{
			name: "judge without rubric",
			yaml: "name: x\ntemplate_folder: t\ntarget: {binary: b}\ntask: {prompt: p}\nevaluation:\n  gates:\n    - type: no_transcript_errors\n  judge:\n    enabled: true\n    pass_threshold: 1.5\n",
			want: "evaluation.judge.pass_threshold must be at most 1",
		},
		{
			name: "evaluator without name",
			yaml: "name: x\ntemplate_folder: t\ntarget: {binary: b}\ntask: {prompt: p}\nevaluation:\n  gates:\n    - type: no_transcript_errors\nscripts:\n  evaluators:\n    - command: ./e.sh\n",
			want: "scripts.evaluators[0].name is required",
		},
		{
			name: "reserved target env",
			yaml: "name: x\ntemplate_folder: t\ntarget:\n  binary: b\n  env: {LLM_TOOL_TEST_FIXTURE_DIR: /tmp}\ntask: {prompt: p}\nevaluation:\n  gates:\n    - type: no_transcript_errors\n",
			want: "target.env.LLM_TOOL_TEST_FIXTURE_DIR is set by the framework",
		},
		{
			name: "unknown field",
			yaml: "name: x\ntemplate_folder: t\ntarget: {binary: b}\ntask: {prompt: p}\nevaluation:\n  gates:\n    - type: no_transcript_errors\nbogus: 1\n",
			want: "field bogus not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scenario.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDiscoverAndFilter(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	mk := func(name string, tier int, tags string) string {
		return "name: " + name + "\ntemplate_folder: t\ntier: " + string(rune('0'+tier)) +
			"\ntags: " + tags + "\ntarget: {binary: b}\ntask: {prompt: p}\nevaluation:\n  gates:\n    - type: no_transcript_errors\n"
	}
	write("qipu/b.yaml", mk("b_scenario", 1, "[slow]"))
	write("qipu/a.yml", mk("a_scenario", 0, "[smoke]"))
	write("qipu/broken.yaml", "name: [")
	write("templates/qipu/ignored.yaml", mk("ignored", 0, "[]"))
	write("rubrics/r.yaml", "criteria: []")

	all, err := scenario.Discover(root)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a_scenario", all[0].Name)
	assert.Equal(t, "b_scenario", all[1].Name)

	tier0 := scenario.Filter{MaxTier: 0}.Apply(all)
	require.Len(t, tier0, 1)
	assert.Equal(t, "a_scenario", tier0[0].Name)

	slow := scenario.Filter{MaxTier: scenario.NoTierLimit, Tags: []string{"slow", "other"}}.Apply(all)
	require.Len(t, slow, 1)
	assert.Equal(t, "b_scenario", slow[0].Name)
}

func TestMatrix(t *testing.T) {
	s := &scenario.Scenario{ToolMatrix: []scenario.ToolConfig{
		{Tool: "claude-code", Models: []string{"sonnet", "haiku"}},
		{Tool: "mock"},
	}}
	assert.Equal(t, []scenario.Pairing{
		{Agent: "claude-code", Model: "sonnet"},
		{Agent: "claude-code", Model: "haiku"},
		{Agent: "mock"},
	}, s.Matrix("", ""))
	assert.Equal(t, []scenario.Pairing{{Agent: "mock", Model: "x"}}, s.Matrix("mock", "x"))
	assert.Equal(t, []scenario.Pairing{
		{Agent: "claude-code", Model: "opus"},
		{Agent: "mock", Model: "opus"},
	}, s.Matrix("", "opus"))
}
