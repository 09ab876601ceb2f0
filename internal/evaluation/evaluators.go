package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/signalnine/llm-tool-test/internal/jsonpath"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
)

// EvaluatorResult records one custom evaluator run. Error is set when the
// script could not run, timed out or printed unusable output; the other
// optional fields are then empty.
type EvaluatorResult struct {
	Name     string         `json:"name"`
	Metrics  map[string]any `json:"metrics,omitempty"`
	Score    *float64       `json:"score,omitempty"`
	Summary  *string        `json:"summary,omitempty"`
	Error    string         `json:"error,omitempty"`
	ExitCode int            `json:"exit_code"`
	TimedOut bool           `json:"timed_out,omitempty"`
}

const evaluatorOutputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "metrics": {"type": "object"},
    "score": {"type": "number", "minimum": 0, "maximum": 1},
    "summary": {"type": "string"}
  }
}`

var outputSchema = compileOutputSchema()

func compileOutputSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	const url = "evaluator-output.json"
	if err := compiler.AddResource(url, strings.NewReader(evaluatorOutputSchema)); err != nil {
		panic(fmt.Sprintf("adding evaluator output schema: %v", err))
	}
	return compiler.MustCompile(url)
}

// RunEvaluators runs each evaluator in order. One evaluator failing does
// not stop the rest, and none of them influences the outcome.
func RunEvaluators(ctx context.Context, runner *script.Runner, entries []scenario.EvaluatorEntry) []EvaluatorResult {
	results := make([]EvaluatorResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, runEvaluator(ctx, runner, entry))
	}
	return results
}

func runEvaluator(ctx context.Context, runner *script.Runner, entry scenario.EvaluatorEntry) EvaluatorResult {
	out := EvaluatorResult{Name: entry.Name}
	res, err := runner.Run(ctx, entry.Command, entry.Timeout())
	if err != nil {
		var se *script.SpawnError
		if errors.As(err, &se) {
			out.Error = fmt.Sprintf("could not start evaluator: %v", se.Err)
		} else {
			out.Error = fmt.Sprintf("evaluator failed to run: %v", err)
		}
		out.ExitCode = script.SpawnFailedExitCode
		return out
	}
	out.ExitCode = res.ExitCode
	if res.TimedOut {
		out.TimedOut = true
		out.Error = fmt.Sprintf("evaluator timed out after %s", entry.Timeout())
		return out
	}

	if err := parseEvaluatorOutput(res.Stdout, &out); err != nil {
		out.Error = err.Error()
		if res.ExitCode != 0 {
			out.Error = fmt.Sprintf("exited with code %d: %s", res.ExitCode, out.Error)
		}
	}
	return out
}

// parseEvaluatorOutput fills the success fields of out from stdout, or
// leaves them empty and returns why it could not.
func parseEvaluatorOutput(stdout string, out *EvaluatorResult) error {
	v, err := jsonpath.Parse([]byte(stdout))
	if err != nil {
		return fmt.Errorf("invalid JSON output: %v", err)
	}
	if v.Kind != jsonpath.Object {
		return fmt.Errorf("output must be a JSON object, got %s", v.Kind)
	}
	if err := outputSchema.Validate(v.ToInterface()); err != nil {
		return fmt.Errorf("output does not match schema: %v", err)
	}
	if m, ok := v.Object["metrics"]; ok {
		out.Metrics, _ = m.ToInterface().(map[string]any)
	}
	if s, ok := v.Object["score"]; ok {
		score := s.Number
		out.Score = &score
	}
	if s, ok := v.Object["summary"]; ok {
		summary := s.String
		out.Summary = &summary
	}
	return nil
}
