// Package report renders run records for people: aggregate tables across
// runs and the per-run report.md and evaluation.md files.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/llm-tool-test/internal/result"
)

// Output formats accepted by Generate.
const (
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Summary aggregates the runs of one agent and model.
type Summary struct {
	Agent         string   `json:"agent"`
	Model         string   `json:"model"`
	Runs          int      `json:"runs"`
	Passed        int      `json:"passed"`
	PassRate      float64  `json:"pass_rate"`
	MeanComposite *float64 `json:"mean_composite,omitempty"`
	MeanJudge     *float64 `json:"mean_judge,omitempty"`
	MeanCostUSD   *float64 `json:"mean_cost_usd,omitempty"`
	MeanDuration  float64  `json:"mean_duration_secs"`
}

// Generate reads the records under baseDir and writes a summary per
// agent and model. Dry runs are ignored.
func Generate(baseDir, format string, w io.Writer) error {
	recs, err := Collect(baseDir)
	if err != nil {
		return err
	}
	summaries := Aggregate(recs)

	switch format {
	case FormatMarkdown:
		return writeMarkdown(summaries, w)
	case FormatJSON:
		return writeJSON(summaries, w)
	case FormatTable, "":
		return writeTable(summaries, w)
	default:
		return fmt.Errorf("unknown report format %q (want table, markdown or json)", format)
	}
}

// Collect loads records from the results log, falling back to the
// record.json files in run directories when the log is absent.
func Collect(baseDir string) ([]result.RunRecord, error) {
	recs, err := result.OpenDB(baseDir).Load()
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return recs, nil
	}
	paths, err := result.FindRecords(baseDir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", baseDir, err)
	}
	for _, p := range paths {
		rec, err := result.ReadRecord(p)
		if err != nil {
			log.Printf("warning: %v", err)
			continue
		}
		recs = append(recs, *rec)
	}
	return recs, nil
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v != nil {
		m.sum += *v
		m.n++
	}
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

func Aggregate(recs []result.RunRecord) []Summary {
	type accum struct {
		runs, passed           int
		composite, judge, cost mean
		duration               float64
	}
	type key struct{ agent, model string }
	byKey := map[key]*accum{}

	for i := range recs {
		r := &recs[i]
		if r.Outcome == result.OutcomeDryRun {
			continue
		}
		k := key{r.Agent, r.Model}
		a, ok := byKey[k]
		if !ok {
			a = &accum{}
			byKey[k] = a
		}
		a.runs++
		if r.Passed {
			a.passed++
		}
		a.composite.add(r.Metrics.CompositeScore)
		a.judge.add(r.JudgeScore)
		a.cost.add(r.CostUSD)
		a.duration += r.DurationSecs
	}

	summaries := make([]Summary, 0, len(byKey))
	for k, a := range byKey {
		summaries = append(summaries, Summary{
			Agent:         k.agent,
			Model:         k.model,
			Runs:          a.runs,
			Passed:        a.passed,
			PassRate:      float64(a.passed) / float64(a.runs),
			MeanComposite: a.composite.value(),
			MeanJudge:     a.judge.value(),
			MeanCostUSD:   a.cost.value(),
			MeanDuration:  a.duration / float64(a.runs),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Agent != summaries[j].Agent {
			return summaries[i].Agent < summaries[j].Agent
		}
		return summaries[i].Model < summaries[j].Model
	})
	return summaries
}

func score(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

func cost(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("$%.4f", *v)
}

func writeTable(summaries []Summary, w io.Writer) error {
	st := newStyles(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	// The styled column goes last so escape codes never skew alignment.
	fmt.Fprintln(tw, "AGENT\tMODEL\tRUNS\tMEAN COMPOSITE\tMEAN JUDGE\tMEAN COST\tMEAN TIME\tPASS RATE")
	fmt.Fprintln(tw, strings.Repeat("-", 96))
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%.1fs\t%s\n",
			s.Agent, s.Model, s.Runs, score(s.MeanComposite), score(s.MeanJudge),
			cost(s.MeanCostUSD), s.MeanDuration, st.rate(s.PassRate))
	}
	return tw.Flush()
}

func writeMarkdown(summaries []Summary, w io.Writer) error {
	fmt.Fprintln(w, "| Agent | Model | Runs | Pass Rate | Mean Composite | Mean Judge | Mean Cost | Mean Time |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %s | %d | %.0f%% | %s | %s | %s | %.1fs |\n",
			s.Agent, s.Model, s.Runs, s.PassRate*100, score(s.MeanComposite),
			score(s.MeanJudge), cost(s.MeanCostUSD), s.MeanDuration)
	}
	return nil
}

func writeJSON(summaries []Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
