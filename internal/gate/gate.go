// Package gate evaluates the deterministic pass/fail assertions a scenario
// declares against the fixture directory after the agent has run.
package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/signalnine/llm-tool-test/internal/jsonpath"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
	"github.com/signalnine/llm-tool-test/internal/transcript"
)

// Result is the verdict for one declared gate.
type Result struct {
	GateType scenario.Kind `json:"gate_type"`
	Passed   bool          `json:"passed"`
	Message  string        `json:"message"`
}

// Evaluator holds what every gate may consult.
type Evaluator struct {
	FixtureDir string
	// Runner executes command and script gates in FixtureDir. A nil
	// Runner fails those gates instead of panicking.
	Runner         *script.Runner
	Metrics        transcript.Metrics
	CommandTimeout time.Duration
}

type handler func(e *Evaluator, ctx context.Context, g scenario.Gate) Result

var handlers = map[scenario.Kind]handler{
	scenario.CommandSucceeds:       (*Evaluator).commandSucceeds,
	scenario.CommandOutputContains: (*Evaluator).commandOutputContains,
	scenario.CommandOutputMatches:  (*Evaluator).commandOutputMatches,
	scenario.CommandJSONPath:       (*Evaluator).commandJSONPath,
	scenario.FileExists:            (*Evaluator).fileExists,
	scenario.FileContains:          (*Evaluator).fileContains,
	scenario.FileMatches:           (*Evaluator).fileMatches,
	scenario.NoTranscriptErrors:    (*Evaluator).noTranscriptErrors,
	scenario.Script:                (*Evaluator).scriptGate,
}

// Evaluate runs every gate in order. It never stops early: the result
// slice always has one entry per gate.
func (e *Evaluator) Evaluate(ctx context.Context, gates []scenario.Gate) []Result {
	results := make([]Result, 0, len(gates))
	for _, g := range gates {
		results = append(results, e.EvaluateOne(ctx, g))
	}
	return results
}

// EvaluateOne dispatches g to the function for its kind.
func (e *Evaluator) EvaluateOne(ctx context.Context, g scenario.Gate) Result {
	h, ok := handlers[g.Kind]
	if !ok {
		return fail(g, "Unknown gate type %q", g.Kind)
	}
	return h(e, ctx, g)
}

func pass(g scenario.Gate, format string, args ...any) Result {
	return Result{GateType: g.Kind, Passed: true, Message: fmt.Sprintf(format, args...)}
}

func fail(g scenario.Gate, format string, args ...any) Result {
	return Result{GateType: g.Kind, Passed: false, Message: fmt.Sprintf(format, args...)}
}

func (e *Evaluator) commandTimeout() time.Duration {
	if e.CommandTimeout > 0 {
		return e.CommandTimeout
	}
	return scenario.DefaultCommandGateTimeout
}

// runCommand runs a command gate's command and requires a clean exit. On
// failure it returns the gate result to report.
func (e *Evaluator) runCommand(ctx context.Context, g scenario.Gate) (*script.Result, *Result) {
	if e.Runner == nil {
		r := fail(g, "Command '%s' not run: script runner not available", g.Command)
		return nil, &r
	}
	timeout := e.commandTimeout()
	res, err := e.Runner.Run(ctx, g.Command, timeout)
	if err != nil {
		var se *script.SpawnError
		if errors.As(err, &se) {
			r := fail(g, "Command '%s' could not be started: %v", g.Command, se.Err)
			return nil, &r
		}
		r := fail(g, "Command '%s' failed to run: %v", g.Command, err)
		return nil, &r
	}
	if res.TimedOut {
		r := fail(g, "Command '%s' timed out after %s", g.Command, timeout)
		return res, &r
	}
	if res.ExitCode != 0 {
		r := fail(g, "Command '%s' failed with exit code %d%s", g.Command, res.ExitCode, stderrSuffix(res.Stderr))
		return res, &r
	}
	return res, nil
}

func stderrSuffix(stderr string) string {
	s := strings.TrimSpace(stderr)
	if s == "" {
		return ""
	}
	return ": " + truncate(s, 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (e *Evaluator) commandSucceeds(ctx context.Context, g scenario.Gate) Result {
	if _, failed := e.runCommand(ctx, g); failed != nil {
		return *failed
	}
	return pass(g, "Command '%s' succeeded", g.Command)
}

func (e *Evaluator) commandOutputContains(ctx context.Context, g scenario.Gate) Result {
	res, failed := e.runCommand(ctx, g)
	if failed != nil {
		return *failed
	}
	if strings.Contains(res.Stdout, g.Substring) {
		return pass(g, "Output of '%s' contains '%s'", g.Command, g.Substring)
	}
	return fail(g, "Output of '%s' does not contain '%s'", g.Command, g.Substring)
}

func (e *Evaluator) commandOutputMatches(ctx context.Context, g scenario.Gate) Result {
	re, err := regexp.Compile(g.Pattern)
	if err != nil {
		return fail(g, "Invalid regex '%s': %v", g.Pattern, err)
	}
	res, failed := e.runCommand(ctx, g)
	if failed != nil {
		return *failed
	}
	if re.MatchString(res.Stdout) {
		return pass(g, "Output of '%s' matches /%s/", g.Command, g.Pattern)
	}
	return fail(g, "Output of '%s' does not match /%s/", g.Command, g.Pattern)
}

func (e *Evaluator) commandJSONPath(ctx context.Context, g scenario.Gate) Result {
	// Malformed expressions fail without running the command.
	if _, err := jsonpath.ParsePath(g.Path); err != nil {
		return fail(g, "Invalid JSON path: %v", err)
	}
	if _, err := jsonpath.ParseAssertion(g.Assertion); err != nil {
		return fail(g, "Invalid assertion: %v", err)
	}
	res, failed := e.runCommand(ctx, g)
	if failed != nil {
		return *failed
	}
	doc, err := jsonpath.Parse([]byte(res.Stdout))
	if err != nil {
		return fail(g, "Output of '%s' is not valid JSON: %v", g.Command, err)
	}
	check, err := jsonpath.Evaluate(doc, g.Path, g.Assertion)
	if err != nil {
		return fail(g, "Invalid JSON path assertion: %v", err)
	}
	if check.Passed {
		return pass(g, "%s %s: %s", g.Path, g.Assertion, check.Detail)
	}
	return fail(g, "%s %s: %s", g.Path, g.Assertion, check.Detail)
}

func (e *Evaluator) resolve(rel string) string {
	return filepath.Join(e.FixtureDir, rel)
}

func (e *Evaluator) readFile(g scenario.Gate) (string, *Result) {
	data, err := os.ReadFile(e.resolve(g.Path))
	if err != nil {
		var r Result
		if errors.Is(err, os.ErrNotExist) {
			r = fail(g, "File '%s' does not exist", g.Path)
		} else {
			r = fail(g, "File '%s' could not be read: %v", g.Path, err)
		}
		return "", &r
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

func (e *Evaluator) fileExists(_ context.Context, g scenario.Gate) Result {
	if _, err := os.Stat(e.resolve(g.Path)); err != nil {
		return fail(g, "File '%s' does not exist", g.Path)
	}
	return pass(g, "File '%s' exists", g.Path)
}

func (e *Evaluator) fileContains(_ context.Context, g scenario.Gate) Result {
	content, failed := e.readFile(g)
	if failed != nil {
		return *failed
	}
	if strings.Contains(content, g.Substring) {
		return pass(g, "File '%s' contains '%s'", g.Path, g.Substring)
	}
	return fail(g, "File '%s' does not contain '%s'", g.Path, g.Substring)
}

func (e *Evaluator) fileMatches(_ context.Context, g scenario.Gate) Result {
	re, err := regexp.Compile(g.Pattern)
	if err != nil {
		return fail(g, "Invalid regex '%s': %v", g.Pattern, err)
	}
	content, failed := e.readFile(g)
	if failed != nil {
		return *failed
	}
	if re.MatchString(content) {
		return pass(g, "File '%s' matches /%s/", g.Path, g.Pattern)
	}
	return fail(g, "File '%s' does not match /%s/", g.Path, g.Pattern)
}

func (e *Evaluator) noTranscriptErrors(_ context.Context, g scenario.Gate) Result {
	if n := e.Metrics.ErrorCount; n > 0 {
		return fail(g, "Transcript shows %d failed command(s)", n)
	}
	return pass(g, "No failed commands in transcript")
}
