package transcript

import (
	"log"
	"regexp"
	"strings"
)

// DefaultPattern matches a shell line invoking binary, optionally behind a
// `$ ` prompt or a directory prefix. Group 1 captures the subcommand.
func DefaultPattern(binary string) string {
	return `^\s*(?:\$\s+)?(?:\S*/)?` + regexp.QuoteMeta(binary) + `(?:\s+(\S+))?(?:\s|$)`
}

// Matcher recognizes invocations of the target tool.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles pattern, or DefaultPattern(binary) when pattern is
// blank. An invalid pattern is logged and replaced by the default. With
// neither a pattern nor a binary the matcher matches nothing.
func NewMatcher(pattern, binary string) *Matcher {
	if strings.TrimSpace(pattern) != "" {
		re, err := regexp.Compile(pattern)
		if err == nil {
			return &Matcher{re: re}
		}
		log.Printf("warning: invalid command pattern %q: %v; using default", pattern, err)
	}
	if binary == "" {
		return &Matcher{}
	}
	return &Matcher{re: regexp.MustCompile(DefaultPattern(binary))}
}

// Pattern returns the compiled expression, or "" for an empty matcher.
func (m *Matcher) Pattern() string {
	if m.re == nil {
		return ""
	}
	return m.re.String()
}

// Match reports whether line invokes the tool. command is the line from
// the start of the match, whitespace-collapsed and without a `$ ` prompt;
// label is capture group 1 when the pattern has one and it matched.
func (m *Matcher) Match(line string) (command, label string, ok bool) {
	if m.re == nil {
		return "", "", false
	}
	loc := m.re.FindStringSubmatchIndex(line)
	if loc == nil {
		return "", "", false
	}
	command = normalize(line[loc[0]:])
	if command == "" {
		return "", "", false
	}
	if len(loc) >= 4 && loc[2] >= 0 {
		label = line[loc[2]:loc[3]]
	}
	return command, label, true
}

func normalize(s string) string {
	fields := strings.Fields(s)
	if len(fields) > 0 && fields[0] == "$" {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func isHelp(command, label string) bool {
	if label == "help" {
		return true
	}
	for _, f := range strings.Fields(command) {
		if f == "--help" || f == "-h" {
			return true
		}
	}
	return false
}
