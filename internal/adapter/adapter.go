// Package adapter drives coding agents against a prepared fixture and
// captures what they did.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalnine/llm-tool-test/internal/config"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
	"github.com/signalnine/llm-tool-test/internal/transcript"
)

// ErrUnavailable is wrapped by CheckAvailability failures.
var ErrUnavailable = errors.New("agent unavailable")

// VarPrompt carries the task prompt to command and docker agents.
const VarPrompt = "LLM_TOOL_TEST_PROMPT"

const DefaultMaxTurns = 50

// Request is one agent run.
type Request struct {
	Scenario   *scenario.Scenario
	FixtureDir string
	Model      string
	Prompt     string
	Timeout    time.Duration
	MaxTurns   int
	// Env is the framework environment, without artifact paths.
	Env script.Env
}

// Usage is the token accounting an agent reported.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	Turns               int `json:"turns,omitempty"`
}

// Output is what a finished agent run produced. Events is empty when the
// agent only printed text.
type Output struct {
	Transcript string
	Events     []transcript.Event
	ExitCode   int
	TimedOut   bool
	Duration   time.Duration
	CostUSD    *float64
	Usage      *Usage
}

type Adapter interface {
	Name() string
	CheckAvailability(ctx context.Context) error
	Run(ctx context.Context, req *Request) (*Output, error)
}

// New builds the adapter for an agent config.
func New(a *config.Agent) (Adapter, error) {
	switch a.Kind {
	case config.KindMock:
		return &Mock{name: a.Name}, nil
	case config.KindCommand:
		return &Command{agent: *a}, nil
	case config.KindDocker:
		return &Docker{agent: *a}, nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", a.Kind)
	}
}

// expand substitutes {prompt}, {model} and {max_turns} in tmpl. Prompt
// and model are shell-quoted.
func expand(tmpl string, req *Request) string {
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	r := strings.NewReplacer(
		"{prompt}", shellQuote(req.Prompt),
		"{model}", shellQuote(req.Model),
		"{max_turns}", strconv.Itoa(maxTurns),
	)
	return r.Replace(tmpl)
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// agentEnv merges the scenario target env, the agent's own env (with
// ${VAR} references resolved against the process) and the prompt.
func agentEnv(target, agent map[string]string, prompt string) map[string]string {
	out := make(map[string]string, len(target)+len(agent)+1)
	for k, v := range target {
		out[k] = v
	}
	for k, v := range agent {
		out[k] = os.ExpandEnv(v)
	}
	out[VarPrompt] = prompt
	return out
}
