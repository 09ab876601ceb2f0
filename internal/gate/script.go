package gate

import (
	"context"
	"errors"
	"strings"

	"github.com/signalnine/llm-tool-test/internal/jsonpath"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
)

// ScriptVerdict is the optional JSON a script gate prints:
//
//	{"passed": bool, "message": string, "detail": object}
//
// Only a boolean "passed" is load-bearing.
type ScriptVerdict struct {
	Passed  bool
	Message string
}

// ParseScriptVerdict reads a verdict from stdout. The whole output is
// tried first, then its last non-empty line, so scripts may log before
// printing the verdict. ok is false when no boolean "passed" was found.
func ParseScriptVerdict(stdout string) (ScriptVerdict, bool) {
	candidates := []string{stdout}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" && last != strings.TrimSpace(stdout) {
		candidates = append(candidates, last)
	}
	for _, c := range candidates {
		v, err := jsonpath.Parse([]byte(c))
		if err != nil || v.Kind != jsonpath.Object {
			continue
		}
		p, ok := v.Object["passed"]
		if !ok || p.Kind != jsonpath.Bool {
			continue
		}
		verdict := ScriptVerdict{Passed: p.Bool}
		if m, ok := v.Object["message"]; ok && m.Kind == jsonpath.String {
			verdict.Message = m.String
		}
		return verdict, true
	}
	return ScriptVerdict{}, false
}

func (e *Evaluator) scriptGate(ctx context.Context, g scenario.Gate) Result {
	label := g.Label()
	if e.Runner == nil {
		return fail(g, "Script runner not available for script gate evaluation")
	}
	timeout := g.Timeout()
	res, err := e.Runner.Run(ctx, g.Command, timeout)
	if err != nil {
		var se *script.SpawnError
		if errors.As(err, &se) {
			return fail(g, "%s: could not start script: %v", label, se.Err)
		}
		return fail(g, "%s: script failed to run: %v", label, err)
	}
	// A timeout fails regardless of anything printed before the kill.
	if res.TimedOut {
		return fail(g, "%s: script timed out after %s", label, timeout)
	}

	if verdict, ok := ParseScriptVerdict(res.Stdout); ok {
		msg := verdict.Message
		if msg == "" {
			msg = label
		}
		return Result{GateType: g.Kind, Passed: verdict.Passed, Message: msg}
	}
	if res.ExitCode == 0 {
		return pass(g, "%s", label)
	}
	return fail(g, "%s: script exited with code %d%s", label, res.ExitCode, stderrSuffix(res.Stderr))
}
