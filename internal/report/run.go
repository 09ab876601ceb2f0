package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/signalnine/llm-tool-test/internal/evaluation"
	"github.com/signalnine/llm-tool-test/internal/result"
	"github.com/signalnine/llm-tool-test/internal/transcript"
)

// WriteRunFiles writes report.md and evaluation.md for rec into runDir.
func WriteRunFiles(runDir string, rec *result.RunRecord, r *Redactor) error {
	if err := os.WriteFile(filepath.Join(runDir, result.ReportFile), []byte(RunReport(rec, r)), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, result.EvaluationFile), []byte(Evaluation(rec, r)), 0o644); err != nil {
		return fmt.Errorf("writing evaluation: %w", err)
	}
	return nil
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

// RunReport renders the technical report of one run.
func RunReport(rec *result.RunRecord, r *Redactor) string {
	var b strings.Builder
	b.WriteString("# Test Run Report\n\n")
	b.WriteString("## Scenario\n\n")
	fmt.Fprintf(&b, "- **ID**: %s\n", rec.ScenarioID)
	fmt.Fprintf(&b, "- **Run**: %s\n", rec.ID)
	fmt.Fprintf(&b, "- **Tool**: %s\n", rec.Agent)
	fmt.Fprintf(&b, "- **Model**: %s\n", rec.Model)
	fmt.Fprintf(&b, "- **Timestamp**: %s\n\n", rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"))

	b.WriteString("## Execution\n\n")
	fmt.Fprintf(&b, "- **Duration**: %.2fs\n", rec.DurationSecs)
	if rec.CostUSD != nil {
		fmt.Fprintf(&b, "- **Cost**: $%.4f\n", *rec.CostUSD)
	}
	if len(rec.Setup) > 0 {
		status := "Success"
		if !rec.SetupSuccess {
			status = "Failed"
		}
		fmt.Fprintf(&b, "- **Setup**: %s\n", status)
	}
	if rec.Usage != nil {
		fmt.Fprintf(&b, "- **Token Usage**: %d input, %d output\n", rec.Usage.InputTokens, rec.Usage.OutputTokens)
	}
	fmt.Fprintf(&b, "- **Agent Exit Code**: %d", rec.AgentExitCode)
	if rec.AgentTimedOut {
		b.WriteString(" (timed out)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- **Outcome**: %s\n\n", r.Redact(rec.Outcome))
	if len(rec.Setup) > 0 {
		b.WriteString("### Setup Commands\n\n")
		for _, s := range rec.Setup {
			fmt.Fprintf(&b, "- %s `%s`\n", mark(s.Success), r.Redact(s.Command))
		}
		b.WriteString("\n")
	}

	m := rec.Metrics
	b.WriteString("## Evaluation Metrics\n\n")
	fmt.Fprintf(&b, "- **Gates Passed**: %d/%d\n", m.GatesPassed, m.GatesTotal)
	if m.CompositeScore != nil {
		fmt.Fprintf(&b, "- **Composite Score**: %.2f (%s)\n", *m.CompositeScore, evaluation.ScoreTier(*m.CompositeScore))
	}
	b.WriteString("\n")
	if len(m.Details) > 0 {
		b.WriteString("### Gate Details\n\n")
		for _, d := range m.Details {
			fmt.Fprintf(&b, "- %s %s: %s\n", mark(d.Passed), d.GateType, r.Redact(d.Message))
		}
		b.WriteString("\n")
	}
	if len(m.Evaluators) > 0 {
		b.WriteString("### Evaluators\n\n")
		for _, e := range m.Evaluators {
			switch {
			case e.Error != "":
				fmt.Fprintf(&b, "- ✗ %s: %s\n", e.Name, r.Redact(e.Error))
			case e.Score != nil:
				fmt.Fprintf(&b, "- ✓ %s: %.2f\n", e.Name, *e.Score)
			default:
				fmt.Fprintf(&b, "- ✓ %s\n", e.Name)
			}
		}
		b.WriteString("\n")
	}

	e := m.Efficiency
	b.WriteString("## Efficiency\n\n")
	fmt.Fprintf(&b, "- **Total Commands**: %d\n", e.TotalCommands)
	fmt.Fprintf(&b, "- **Unique Commands**: %d\n", e.UniqueCommands)
	fmt.Fprintf(&b, "- **Error Count**: %d\n", e.ErrorCount)
	fmt.Fprintf(&b, "- **Retry Count**: %d\n", e.RetryCount)
	fmt.Fprintf(&b, "- **Help Invocations**: %d\n", e.HelpInvocations)
	fmt.Fprintf(&b, "- **First Try Success Rate**: %.1f%%\n", e.FirstTrySuccessRate*100)
	fmt.Fprintf(&b, "- **Iteration Ratio**: %.2f\n\n", e.IterationRatio)
	return b.String()
}

// JudgeScore5 maps a [0,1] judge score onto the 1-5 scale used for human
// review.
func JudgeScore5(score float64) int {
	return int(math.Max(1, math.Round(score*5)))
}

// Evaluation renders the reviewer-facing summary of one run.
func Evaluation(rec *result.RunRecord, r *Redactor) string {
	var b strings.Builder
	b.WriteString("# Evaluation\n\n")
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Scenario**: %s\n", rec.ScenarioID)
	fmt.Fprintf(&b, "- **Tool**: %s\n", rec.Agent)
	fmt.Fprintf(&b, "- **Model**: %s\n", rec.Model)
	fmt.Fprintf(&b, "- **Outcome**: %s\n\n", r.Redact(rec.Outcome))

	if rec.JudgeScore != nil {
		b.WriteString("## Judge Score\n\n")
		fmt.Fprintf(&b, "**%d** / 5\n\n", JudgeScore5(*rec.JudgeScore))
	}

	m := rec.Metrics
	b.WriteString("## Metrics\n\n")
	fmt.Fprintf(&b, "- **Gates Passed**: %d/%d\n", m.GatesPassed, m.GatesTotal)
	fmt.Fprintf(&b, "- **Duration**: %.2fs\n", rec.DurationSecs)
	if rec.CostUSD != nil {
		fmt.Fprintf(&b, "- **Cost**: $%.4f\n", *rec.CostUSD)
	}
	if m.CompositeScore != nil {
		fmt.Fprintf(&b, "- **Composite Score**: %.2f (%s)\n", *m.CompositeScore, evaluation.ScoreTier(*m.CompositeScore))
	}
	b.WriteString("\n")

	if len(m.Failures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, f := range m.Failures {
			fmt.Fprintf(&b, "- %s\n", r.Redact(f))
		}
		b.WriteString("\n")
	}

	if m.JudgeError != "" {
		b.WriteString("## Judge Error\n\n")
		fmt.Fprintf(&b, "%s\n\n", r.Redact(m.JudgeError))
	}
	if j := m.Judge; j != nil && (len(j.Issues) > 0 || len(j.Highlights) > 0 || len(j.Scores) > 0) {
		b.WriteString("## Judge Feedback\n\n")
		if len(j.Issues) > 0 {
			b.WriteString("**Issues:**\n")
			for _, s := range j.Issues {
				fmt.Fprintf(&b, "- %s\n", r.Redact(s))
			}
			b.WriteString("\n")
		}
		if len(j.Highlights) > 0 {
			b.WriteString("**Highlights:**\n")
			for _, s := range j.Highlights {
				fmt.Fprintf(&b, "- %s\n", r.Redact(s))
			}
			b.WriteString("\n")
		}
		if len(j.Scores) > 0 {
			b.WriteString("**Criteria Scores:**\n")
			names := make([]string, 0, len(j.Scores))
			for k := range j.Scores {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				fmt.Fprintf(&b, "- %s: %.2f\n", k, j.Scores[k])
			}
			b.WriteString("\n")
		}
	}

	for _, e := range m.Evaluators {
		if e.Summary == nil && e.Error == "" {
			continue
		}
		if e.Error != "" {
			fmt.Fprintf(&b, "## Evaluator %s\n\nError: %s\n\n", e.Name, r.Redact(e.Error))
			continue
		}
		fmt.Fprintf(&b, "## Evaluator %s\n\n%s\n\n", e.Name, r.Redact(*e.Summary))
	}

	b.WriteString("## Human Review\n\n")
	b.WriteString("<!--\nHuman Score: __/5\n\nFurther Human Notes:\n-->\n\n")

	b.WriteString("## Links\n\n")
	fmt.Fprintf(&b, "- [Transcript](%s/%s)\n", result.ArtifactsDir, transcript.RawFile)
	fmt.Fprintf(&b, "- [Readable Transcript](%s/%s)\n", result.ArtifactsDir, transcript.HumanFile)
	fmt.Fprintf(&b, "- [Metrics](%s)\n", result.MetricsFile)
	fmt.Fprintf(&b, "- [Events](%s/%s)\n", result.ArtifactsDir, transcript.EventsFile)
	fmt.Fprintf(&b, "- [Diff](%s)\n", result.DiffFile)
	fmt.Fprintf(&b, "- [Fixture](%s/)\n", result.FixtureDir)
	return b.String()
}
