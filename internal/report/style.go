package report

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// styles colors terminal output. Writers that are not terminals get
// plain text so files and pipes stay clean.
type styles struct {
	enabled bool
	pass    lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
}

func newStyles(w io.Writer) styles {
	f, ok := w.(*os.File)
	return styles{
		enabled: ok && term.IsTerminal(int(f.Fd())) && os.Getenv("NO_COLOR") == "",
		pass:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		fail:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

func (s styles) render(st lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return st.Render(text)
}

// rate colors a pass rate: all green, none red, anything else yellow.
func (s styles) rate(r float64) string {
	text := fmt.Sprintf("%.0f%%", r*100)
	switch {
	case r >= 1:
		return s.render(s.pass, text)
	case r <= 0:
		return s.render(s.fail, text)
	default:
		return s.render(s.warn, text)
	}
}

// Verdict is the one-word PASS/FAIL label for a run, styled when w is a
// terminal.
func Verdict(w io.Writer, passed bool) string {
	s := newStyles(w)
	if passed {
		return s.render(s.pass, "PASS")
	}
	return s.render(s.fail, "FAIL")
}
