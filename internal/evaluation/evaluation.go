// Package evaluation sequences the checks applied to a finished agent run
// and assembles them into a single outcome.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/signalnine/llm-tool-test/internal/gate"
	"github.com/signalnine/llm-tool-test/internal/judge"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
	"github.com/signalnine/llm-tool-test/internal/transcript"
)

// Input is a finished agent run ready to be evaluated.
type Input struct {
	Scenario   *scenario.Scenario
	FixtureDir string
	// Runner executes command gates, script gates and evaluators. It
	// must be set when the scenario declares evaluators.
	Runner *script.Runner

	Transcript    string
	Events        []transcript.Event
	AgentExitCode int
	AgentTimedOut bool

	// Judge is consulted only when the scenario enables it and every gate
	// passed. Rubric and Diff are passed through to it.
	Judge   judge.Judge
	Rubric  *judge.Rubric
	Diff    string
	NoJudge bool
}

type Status string

const (
	Pass Status = "pass"
	Fail Status = "fail"
)

// Outcome is the terminal verdict. Failures lists every failed gate as
// "#<index> <type>: <message>".
type Outcome struct {
	Status   Status   `json:"status"`
	Reason   string   `json:"reason,omitempty"`
	Failures []string `json:"failures,omitempty"`
}

func (o Outcome) Passed() bool { return o.Status == Pass }

func (o Outcome) String() string {
	if o.Passed() {
		return "Pass"
	}
	return "Fail: " + o.Reason
}

// Result is everything an evaluation produced.
type Result struct {
	Interaction    transcript.Metrics `json:"interaction"`
	Gates          []gate.Result      `json:"gates"`
	GatesPassed    int                `json:"gates_passed"`
	GatesTotal     int                `json:"gates_total"`
	Evaluators     []EvaluatorResult  `json:"evaluators,omitempty"`
	JudgeScore     *float64           `json:"judge_score,omitempty"`
	JudgeResponse  *judge.Response    `json:"judge_response,omitempty"`
	JudgeError     string             `json:"judge_error,omitempty"`
	CompositeScore *float64           `json:"composite_score,omitempty"`
	Outcome        Outcome            `json:"outcome"`
}

// InfraError reports a problem with the run environment rather than the
// agent's work. It aborts the evaluation.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("infrastructure error: %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// IsInfraError reports whether err is or wraps an InfraError.
func IsInfraError(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

// Evaluate runs interaction analysis, gates, evaluators and the judge in
// that order. Ordinary failures are recorded in the Result; only an
// InfraError or a cancelled ctx is returned as an error.
func Evaluate(ctx context.Context, in *Input) (*Result, error) {
	if in.Scenario == nil {
		return nil, &InfraError{Op: "evaluate", Err: errors.New("no scenario")}
	}
	if err := checkFixture(in.FixtureDir); err != nil {
		return nil, err
	}
	s := in.Scenario
	evaluators := s.Evaluators()
	if len(evaluators) > 0 && in.Runner == nil {
		return nil, &InfraError{Op: "evaluators", Err: errors.New("script runner not available")}
	}

	res := &Result{}
	res.Interaction = transcript.Analyze(&transcript.Input{
		Transcript:     in.Transcript,
		Events:         in.Events,
		CommandPattern: s.Target.CommandPattern,
		Binary:         s.Target.Binary,
		AgentExitCode:  in.AgentExitCode,
		AgentTimedOut:  in.AgentTimedOut,
	})

	ge := &gate.Evaluator{
		FixtureDir:     in.FixtureDir,
		Runner:         in.Runner,
		Metrics:        res.Interaction,
		CommandTimeout: s.Evaluation.CommandTimeout(),
	}
	for i, g := range s.Evaluation.Gates {
		r := ge.EvaluateOne(ctx, g)
		if r.Passed {
			res.GatesPassed++
			log.Printf("Gate %d passed: %s", i+1, r.Message)
		} else {
			log.Printf("Gate %d FAILED: %s", i+1, r.Message)
		}
		res.Gates = append(res.Gates, r)
	}
	res.GatesTotal = len(res.Gates)

	if len(evaluators) > 0 {
		res.Evaluators = RunEvaluators(ctx, in.Runner, evaluators)
		for _, er := range res.Evaluators {
			if er.Error != "" {
				log.Printf("warning: evaluator %s: %s", er.Name, er.Error)
			}
		}
	}

	judgeEnabled := s.JudgeEnabled() && !in.NoJudge
	if judgeEnabled && res.GatesPassed == res.GatesTotal {
		runJudge(ctx, in, res)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	threshold := 0.0
	if s.Evaluation.Judge != nil {
		threshold = s.Evaluation.Judge.PassThreshold
	}
	res.Outcome = DecideOutcome(res.Gates, judgeEnabled, res.JudgeScore, threshold, res.JudgeError)

	if w := s.Evaluation.Composite; w != nil {
		score := CompositeScore(*w, res.GatesPassed, res.GatesTotal, res.JudgeScore, res.Interaction)
		res.CompositeScore = &score
	}
	return res, nil
}

func runJudge(ctx context.Context, in *Input, res *Result) {
	if in.Judge == nil {
		res.JudgeError = "judge not configured"
		return
	}
	resp, err := in.Judge.Evaluate(ctx, &judge.Request{
		Task:       in.Scenario.Task.Prompt,
		Transcript: in.Transcript,
		Diff:       in.Diff,
		Rubric:     in.Rubric,
	})
	if err != nil {
		log.Printf("warning: judge evaluation failed: %v", err)
		res.JudgeError = err.Error()
		return
	}
	score := resp.WeightedScore
	res.JudgeScore = &score
	res.JudgeResponse = resp
}

func checkFixture(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return &InfraError{Op: "fixture", Err: err}
	}
	if !info.IsDir() {
		return &InfraError{Op: "fixture", Err: fmt.Errorf("%s is not a directory", dir)}
	}
	if _, err := os.ReadDir(dir); err != nil {
		return &InfraError{Op: "fixture", Err: err}
	}
	return nil
}

// DecideOutcome is Pass iff every gate passed and, when the judge is
// enabled, its score reached threshold. Gate failures take priority over
// judge failures in the reason.
func DecideOutcome(gates []gate.Result, judgeEnabled bool, judgeScore *float64, threshold float64, judgeErr string) Outcome {
	var failures []string
	firstFailed := -1
	for i, g := range gates {
		if g.Passed {
			continue
		}
		if firstFailed < 0 {
			firstFailed = i
		}
		failures = append(failures, fmt.Sprintf("#%d %s: %s", i+1, g.GateType, g.Message))
	}

	if firstFailed >= 0 {
		first := gates[firstFailed]
		reason := fmt.Sprintf("%d/%d gates passed; gate #%d (%s) failed: %s",
			len(gates)-len(failures), len(gates), firstFailed+1, first.GateType, first.Message)
		if len(failures) > 1 {
			reason += " [" + strings.Join(failures, "; ") + "]"
		}
		return Outcome{Status: Fail, Reason: reason, Failures: failures}
	}

	if judgeEnabled {
		switch {
		case judgeErr != "":
			return Outcome{Status: Fail, Reason: "judge error: " + judgeErr}
		case judgeScore == nil:
			return Outcome{Status: Fail, Reason: "judge produced no score"}
		case *judgeScore < threshold:
			return Outcome{Status: Fail, Reason: fmt.Sprintf("judge score %.2f below threshold %.2f", *judgeScore, threshold)}
		}
	}
	return Outcome{Status: Pass}
}
