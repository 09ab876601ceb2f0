package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Artifact file names inside a run's results directory.
const (
	RawFile    = "transcript.raw.txt"
	HumanFile  = "transcript.human.txt"
	EventsFile = "events.jsonl"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)

// StripANSI removes terminal escape sequences and resolves carriage
// returns the way a terminal would show the final line.
func StripANSI(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if !strings.Contains(s, "\r") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.LastIndex(line, "\r"); idx >= 0 {
			lines[i] = line[idx+1:]
		}
	}
	return strings.Join(lines, "\n")
}

// Human renders the transcript for people: escape codes stripped, then one
// block per tool call when structured events exist.
func Human(raw string, events []Event) string {
	var b strings.Builder
	b.WriteString(StripANSI(raw))
	if !strings.HasSuffix(b.String(), "\n") && b.Len() > 0 {
		b.WriteString("\n")
	}
	var calls int
	for _, ev := range events {
		switch ev.Type {
		case EventToolCall:
			if calls == 0 {
				b.WriteString("\n--- tool calls ---\n")
			}
			calls++
			fmt.Fprintf(&b, "\n[%d] %s: %s\n", calls, orDefault(ev.Tool, "tool"), ev.Command)
		case EventToolResult:
			status := "ok"
			if ev.ExitCode != nil && *ev.ExitCode != 0 {
				status = fmt.Sprintf("exit %d", *ev.ExitCode)
			} else if ev.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "    -> %s\n", status)
			if out := strings.TrimSpace(StripANSI(ev.Output)); out != "" {
				for _, line := range strings.Split(out, "\n") {
					b.WriteString("       " + line + "\n")
				}
			}
		}
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Paths returns the transcript and events paths under dir.
func Paths(dir string) (raw, events string) {
	return filepath.Join(dir, RawFile), filepath.Join(dir, EventsFile)
}

// WriteArtifacts writes the raw transcript, its human rendering and the
// event stream into dir.
func WriteArtifacts(dir, raw string, events []Event) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating transcript dir: %w", err)
	}
	rawPath, eventsPath := Paths(dir)
	if err := os.WriteFile(rawPath, []byte(raw), 0o644); err != nil {
		return fmt.Errorf("writing raw transcript: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, HumanFile), []byte(Human(raw, events)), 0o644); err != nil {
		return fmt.Errorf("writing human transcript: %w", err)
	}
	return WriteEvents(eventsPath, events)
}

// ReadRaw loads the raw transcript from dir; a missing file is empty.
func ReadRaw(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, RawFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	return string(data), nil
}
