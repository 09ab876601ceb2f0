package adapter_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/llm-tool-test/internal/adapter"
	"github.com/signalnine/llm-tool-test/internal/config"
	"github.com/signalnine/llm-tool-test/internal/script"
	"github.com/signalnine/llm-tool-test/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(t *testing.T, prompt string) *adapter.Request {
	t.Helper()
	dir := t.TempDir()
	return &adapter.Request{
		FixtureDir: dir,
		Model:      "m1",
		Prompt:     prompt,
		Timeout:    10 * time.Second,
		Env: script.Env{
			FixtureDir: dir,
			Scenario:   "basic",
			Agent:      "test",
			Model:      "m1",
			Target:     map[string]string{"TOOL_HOME": ".tool"},
		},
	}
}

func TestMock(t *testing.T) {
	a, err := adapter.New(&config.Agent{Name: "mock", Kind: config.KindMock})
	require.NoError(t, err)
	assert.Equal(t, "mock", a.Name())
	require.NoError(t, a.CheckAvailability(context.Background()))

	out, err := a.Run(context.Background(), request(t, "anything"))
	require.NoError(t, err)
	assert.Equal(t, adapter.MockTranscript, out.Transcript)
	assert.Equal(t, 0, out.ExitCode)
	assert.Nil(t, out.CostUSD)
}

func TestNewUnknownKind(t *testing.T) {
	_, err := adapter.New(&config.Agent{Name: "x", Kind: "ssh"})
	assert.Error(t, err)
}

func TestCommandPlainText(t *testing.T) {
	a, err := adapter.New(&config.Agent{
		Name:    "echo",
		Kind:    config.KindCommand,
		Command: `printf '%s|%s|%s\n' {prompt} {model} "$TOOL_HOME"; echo "$LLM_TOOL_TEST_PROMPT" > prompt.txt; echo warn >&2; exit 2`,
		Format:  config.FormatText,
	})
	require.NoError(t, err)

	req := request(t, "it's a $HOME `test`")
	out, err := a.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, out.ExitCode)
	assert.False(t, out.TimedOut)
	assert.Equal(t, "it's a $HOME `test`|m1|.tool\nwarn\n", out.Transcript)
	assert.Empty(t, out.Events)

	data, err := os.ReadFile(filepath.Join(req.FixtureDir, "prompt.txt"))
	require.NoError(t, err)
	assert.Equal(t, "it's a $HOME `test`\n", string(data))
}

func TestCommandTimeout(t *testing.T) {
	a, err := adapter.New(&config.Agent{Name: "slow", Kind: config.KindCommand, Command: "sleep 30"})
	require.NoError(t, err)
	req := request(t, "p")
	req.Timeout = 500 * time.Millisecond
	out, err := a.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
}

func TestCommandAgentEnvExpandsProcessEnv(t *testing.T) {
	t.Setenv("LLM_TOOL_TEST_FAKE_KEY", "sk-123")
	a, err := adapter.New(&config.Agent{
		Name:    "env",
		Kind:    config.KindCommand,
		Command: `echo "$API_KEY"`,
		Env:     map[string]string{"API_KEY": "${LLM_TOOL_TEST_FAKE_KEY}"},
	})
	require.NoError(t, err)
	out, err := a.Run(context.Background(), request(t, "p"))
	require.NoError(t, err)
	assert.Equal(t, "sk-123\n", out.Transcript)
}

const streamFixture = `{"type":"system","subtype":"init","session_id":"s1","model":"claude-sonnet"}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Let me look."},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"qipu list"}}],"usage":{"input_tokens":10,"output_tokens":5}}}
{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"Exit code 2\nunknown flag","is_error":true}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t2","name":"Bash","input":{"command":"qipu create hello"}}],"usage":{"input_tokens":20,"output_tokens":7}}}
{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t2","content":[{"type":"text","text":"created hello"}]}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t3","name":"Write","input":{"file_path":"a.txt","content":"x"}}]}}
{"type":"result","subtype":"success","is_error":false,"result":"Done.","num_turns":3,"total_cost_usd":0.0123,"usage":{"input_tokens":100,"output_tokens":40,"cache_read_input_tokens":7}}
`

func TestParseStreamJSON(t *testing.T) {
	sr, ok := adapter.ParseStreamJSON(streamFixture)
	require.True(t, ok)

	assert.Equal(t, adapter.Usage{InputTokens: 100, OutputTokens: 40, CacheReadTokens: 7, Turns: 3}, sr.Usage)
	require.NotNil(t, sr.CostUSD)
	assert.InDelta(t, 0.0123, *sr.CostUSD, 1e-9)
	assert.False(t, sr.IsError)
	assert.Equal(t, "Done.", sr.Result)

	var calls, results []transcript.Event
	for _, ev := range sr.Events {
		switch ev.Type {
		case transcript.EventToolCall:
			calls = append(calls, ev)
		case transcript.EventToolResult:
			results = append(results, ev)
		}
	}
	require.Len(t, calls, 3)
	assert.Equal(t, "qipu list", calls[0].Command)
	assert.Equal(t, "Write", calls[2].Tool)
	assert.Empty(t, calls[2].Command)
	require.Len(t, results, 2)
	require.NotNil(t, results[0].ExitCode)
	assert.Equal(t, 2, *results[0].ExitCode)
	assert.True(t, results[0].IsError)
	assert.Nil(t, results[1].ExitCode)
	assert.Equal(t, "created hello", results[1].Output)

	assert.Contains(t, sr.Transcript, "$ qipu list\nExit code 2\nunknown flag\n")
	assert.Contains(t, sr.Transcript, "$ qipu create hello\ncreated hello\n")
	assert.True(t, strings.HasSuffix(sr.Transcript, "Done.\n"))

	// The events feed interaction metrics directly.
	m := transcript.Analyze(&transcript.Input{Events: sr.Events, Binary: "qipu"})
	assert.Equal(t, 2, m.TotalCommands)
	assert.Equal(t, 1, m.ErrorCount)
}

func TestParseStreamJSONPlainText(t *testing.T) {
	_, ok := adapter.ParseStreamJSON("just some output\n{not json}\n")
	assert.False(t, ok)
}

func TestParseStreamJSONUsageWithoutResult(t *testing.T) {
	lines := strings.SplitN(streamFixture, "\n", 5)
	sr, ok := adapter.ParseStreamJSON(strings.Join(lines[:4], "\n"))
	require.True(t, ok)
	assert.Equal(t, 30, sr.Usage.InputTokens)
	assert.Equal(t, 12, sr.Usage.OutputTokens)
	assert.Equal(t, 2, sr.Usage.Turns)
	assert.Nil(t, sr.CostUSD)
}

func TestCommandStreamJSON(t *testing.T) {
	req := request(t, "p")
	require.NoError(t, os.WriteFile(filepath.Join(req.FixtureDir, "stream.jsonl"), []byte(streamFixture), 0o644))
	a, err := adapter.New(&config.Agent{
		Name:    "claude",
		Kind:    config.KindCommand,
		Command: "cat stream.jsonl",
		Format:  config.FormatStreamJSON,
	})
	require.NoError(t, err)
	out, err := a.Run(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 100, out.Usage.InputTokens)
	require.NotNil(t, out.CostUSD)
	assert.NotEmpty(t, out.Events)
}

func TestCommandCheckAvailability(t *testing.T) {
	ctx := context.Background()
	ok := &config.Agent{Name: "ok", Kind: config.KindCommand, Command: "sh -c true"}
	a, _ := adapter.New(ok)
	assert.NoError(t, a.CheckAvailability(ctx))

	missing := &config.Agent{Name: "missing", Kind: config.KindCommand, Command: "definitely-not-installed-xyz {prompt}"}
	a, _ = adapter.New(missing)
	err := a.CheckAvailability(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, adapter.ErrUnavailable))

	failing := &config.Agent{Name: "failing", Kind: config.KindCommand, Command: "x", Check: "echo nope >&2; exit 1"}
	a, _ = adapter.New(failing)
	err = a.CheckAvailability(ctx)
	require.ErrorIs(t, err, adapter.ErrUnavailable)
	assert.Contains(t, err.Error(), "nope")
}

func TestDockerAgent(t *testing.T) {
	if os.Getenv("LLM_TOOL_TEST_DOCKER_TESTS") == "" {
		t.Skip("set LLM_TOOL_TEST_DOCKER_TESTS=1 to run Docker tests")
	}
	a, err := adapter.New(&config.Agent{
		Name:    "boxed",
		Kind:    config.KindDocker,
		Image:   "alpine:latest",
		Command: `echo {prompt} > answer.txt; echo "$LLM_TOOL_TEST_FIXTURE_DIR"`,
	})
	require.NoError(t, err)
	require.NoError(t, a.CheckAvailability(context.Background()))

	req := request(t, "hello")
	out, err := a.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, "/workspace\n", out.Transcript)
	data, err := os.ReadFile(filepath.Join(req.FixtureDir, "answer.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}
