package transcript

import (
	"regexp"
	"strconv"
	"strings"
)

// Invocation is one recognized call of the target tool.
type Invocation struct {
	Command    string `json:"command"`
	Subcommand string `json:"subcommand,omitempty"`
	ExitCode   int    `json:"exit_code"`
	Help       bool   `json:"help,omitempty"`
}

// Extractor yields the target-tool invocations found in one run.
type Extractor interface {
	Extract() []Invocation
}

// SelectExtractor prefers the structured event stream and falls back to
// mining the raw transcript when the agent produced no tool calls.
func SelectExtractor(events []Event, raw string, m *Matcher) Extractor {
	for _, ev := range events {
		if ev.Type == EventToolCall {
			return &EventExtractor{Events: events, Matcher: m}
		}
	}
	return &TextExtractor{Transcript: raw, Matcher: m}
}

// EventExtractor reads invocations from tool_call/tool_result pairs.
// Results pair with calls by ID, or by order when IDs are absent.
type EventExtractor struct {
	Events  []Event
	Matcher *Matcher
}

func (e *EventExtractor) Extract() []Invocation {
	byID := map[string]Event{}
	var anonymous []Event
	for _, ev := range e.Events {
		if ev.Type != EventToolResult {
			continue
		}
		if ev.ID != "" {
			byID[ev.ID] = ev
		} else {
			anonymous = append(anonymous, ev)
		}
	}

	var out []Invocation
	next := 0
	for _, ev := range e.Events {
		if ev.Type != EventToolCall || ev.Command == "" {
			continue
		}
		var res *Event
		if ev.ID != "" {
			if r, ok := byID[ev.ID]; ok {
				res = &r
			}
		}
		if res == nil && ev.ID == "" && next < len(anonymous) {
			res = &anonymous[next]
			next++
		}
		code := resultExitCode(res)
		for _, part := range splitCommands(ev.Command) {
			cmd, label, ok := e.Matcher.Match(strings.TrimSpace(part))
			if !ok {
				continue
			}
			out = append(out, Invocation{
				Command:    cmd,
				Subcommand: label,
				ExitCode:   code,
				Help:       isHelp(cmd, label),
			})
		}
	}
	return out
}

// splitCommands breaks a shell command line on newlines, ";", "&&" and
// "||" that sit outside quotes. Heredoc bodies are not recognized and get
// split like any other lines.
func splitCommands(line string) []string {
	var (
		parts   []string
		cur     strings.Builder
		quote   byte
		escaped bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '\n' || c == ';':
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		case (c == '&' || c == '|') && i+1 < len(line) && line[i+1] == c:
			parts = append(parts, cur.String())
			cur.Reset()
			i++
			continue
		}
		cur.WriteByte(c)
	}
	return append(parts, cur.String())
}

func resultExitCode(res *Event) int {
	switch {
	case res == nil:
		return 0
	case res.ExitCode != nil:
		return *res.ExitCode
	case res.IsError || res.TimedOut:
		return 1
	default:
		return 0
	}
}

// TextExtractor mines invocations from raw transcript lines. The exit code
// of each invocation is inferred from the lines that follow it, up to the
// next invocation.
type TextExtractor struct {
	Transcript string
	Matcher    *Matcher
}

const outputScanLines = 20

var (
	exitMarkerRe  = regexp.MustCompile(`(?i)exit\s+(?:code|status):?\s*(\d+)`)
	errorMarkerRe = regexp.MustCompile(`(?i)\b(?:error|failed|non-zero)\b`)
)

func (x *TextExtractor) Extract() []Invocation {
	lines := strings.Split(StripANSI(x.Transcript), "\n")
	type hit struct {
		line  int
		cmd   string
		label string
	}
	var hits []hit
	for i, line := range lines {
		if cmd, label, ok := x.Matcher.Match(line); ok {
			hits = append(hits, hit{line: i, cmd: cmd, label: label})
		}
	}

	out := make([]Invocation, 0, len(hits))
	for i, h := range hits {
		end := len(lines)
		if i+1 < len(hits) {
			end = hits[i+1].line
		}
		if end > h.line+1+outputScanLines {
			end = h.line + 1 + outputScanLines
		}
		out = append(out, Invocation{
			Command:    h.cmd,
			Subcommand: h.label,
			ExitCode:   inferExitCode(lines[h.line+1 : end]),
			Help:       isHelp(h.cmd, h.label),
		})
	}
	return out
}

func inferExitCode(output []string) int {
	for _, line := range output {
		if m := exitMarkerRe.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}
	for _, line := range output {
		if errorMarkerRe.MatchString(line) {
			return 1
		}
	}
	return 0
}
