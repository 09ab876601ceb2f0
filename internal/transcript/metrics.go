package transcript

import "sort"

// Metrics summarizes how the agent used the target tool in one run.
type Metrics struct {
	TotalCommands       int               `json:"total_commands"`
	UniqueCommands      int               `json:"unique_commands"`
	ErrorCount          int               `json:"error_count"`
	RetryCount          int               `json:"retry_count"`
	HelpInvocations     int               `json:"help_invocations"`
	FirstTrySuccessRate float64           `json:"first_try_success_rate"`
	IterationRatio      float64           `json:"iteration_ratio"`
	Completed           bool              `json:"completed"`
	Subcommands         []SubcommandStats `json:"subcommands,omitempty"`
}

// SubcommandStats groups invocations by their captured subcommand label.
type SubcommandStats struct {
	Name   string `json:"name"`
	Count  int    `json:"count"`
	Errors int    `json:"errors"`
}

// Input is everything Analyze needs from a finished agent run.
type Input struct {
	Transcript     string
	Events         []Event
	CommandPattern string
	Binary         string
	AgentExitCode  int
	AgentTimedOut  bool
}

// Analyze picks an extractor for the available data and computes Metrics.
func Analyze(in *Input) Metrics {
	m := NewMatcher(in.CommandPattern, in.Binary)
	ex := SelectExtractor(in.Events, in.Transcript, m)
	return Compute(ex.Extract(), in.AgentExitCode, in.AgentTimedOut)
}

// Compute derives Metrics from invocations. Ratios are zero, never NaN,
// when there were no invocations.
func Compute(invs []Invocation, agentExitCode int, agentTimedOut bool) Metrics {
	m := Metrics{
		TotalCommands: len(invs),
		Completed:     !agentTimedOut && agentExitCode == 0,
	}

	firstExit := map[string]int{}
	var order []string
	subs := map[string]*SubcommandStats{}
	for _, inv := range invs {
		if _, seen := firstExit[inv.Command]; !seen {
			firstExit[inv.Command] = inv.ExitCode
			order = append(order, inv.Command)
		}
		if inv.ExitCode != 0 {
			m.ErrorCount++
		}
		if inv.Help {
			m.HelpInvocations++
		}
		if inv.Subcommand != "" {
			s, ok := subs[inv.Subcommand]
			if !ok {
				s = &SubcommandStats{Name: inv.Subcommand}
				subs[inv.Subcommand] = s
			}
			s.Count++
			if inv.ExitCode != 0 {
				s.Errors++
			}
		}
	}

	m.UniqueCommands = len(order)
	m.RetryCount = m.TotalCommands - m.UniqueCommands

	firstOK := 0
	for _, cmd := range order {
		if firstExit[cmd] == 0 {
			firstOK++
		}
	}
	if m.UniqueCommands > 0 {
		m.FirstTrySuccessRate = float64(firstOK) / float64(m.UniqueCommands)
	}
	if m.TotalCommands > 0 {
		m.IterationRatio = float64(m.UniqueCommands) / float64(m.TotalCommands)
	}

	for _, s := range subs {
		m.Subcommands = append(m.Subcommands, *s)
	}
	sort.Slice(m.Subcommands, func(i, j int) bool {
		return m.Subcommands[i].Name < m.Subcommands[j].Name
	})
	return m
}
