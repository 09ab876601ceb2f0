package report

import (
	"regexp"
	"sort"
	"strings"
)

const redacted = "[REDACTED]"

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`), redacted},
	{regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}`), redacted},
	{regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}`), redacted},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), redacted},
	{regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]{12,}`), "${1} " + redacted},
	{regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:api[_-]?key|token|secret|password))(\s*[=:]\s*)("[^"]*"|'[^']*'|\S+)`), "${1}${2}" + redacted},
}

// Redactor masks secret-looking tokens and the known secret values in
// text bound for reports.
type Redactor struct {
	values []string
}

// NewRedactor masks the given literal values in addition to the built-in
// token patterns. Values shorter than 6 characters are ignored since they
// would mask ordinary words.
func NewRedactor(values []string) *Redactor {
	var vs []string
	for _, v := range values {
		if len(v) >= 6 {
			vs = append(vs, v)
		}
	}
	sort.Slice(vs, func(i, j int) bool { return len(vs[i]) > len(vs[j]) })
	return &Redactor{values: vs}
}

func (r *Redactor) Redact(s string) string {
	if r != nil {
		for _, v := range r.values {
			s = strings.ReplaceAll(s, v, redacted)
		}
	}
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}
