package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Event types written to events.jsonl.
const (
	EventToolCall     = "tool_call"
	EventToolResult   = "tool_result"
	EventMessage      = "message"
	EventSetupCommand = "setup_command"
	EventExecution    = "execution"
	EventPostScript   = "post_script"
)

// Event is one line of the structured event stream.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts,omitempty"`
	ID        string    `json:"id,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Command   string    `json:"command,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	IsError   bool      `json:"is_error,omitempty"`
	TimedOut  bool      `json:"timed_out,omitempty"`
	Output    string    `json:"output,omitempty"`
	Stderr    string    `json:"stderr,omitempty"`
	Text      string    `json:"text,omitempty"`
	Duration  float64   `json:"duration_s,omitempty"`

	// Set on setup_command and execution events only.
	Index   *int     `json:"index,omitempty"`
	CostUSD *float64 `json:"cost_usd,omitempty"`
}

// IntPtr is a convenience for populating Event.ExitCode.
func IntPtr(n int) *int { return &n }

// WriteEvents writes events as JSON lines, replacing path.
func WriteEvents(path string, events []Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating events file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encoding event %d: %w", i, err)
		}
	}
	return nil
}

// AppendEvent appends one event to path.
func AppendEvent(path string, ev Event) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening events file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(&ev); err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return nil
}

// ReadEvents loads an events.jsonl file. Malformed lines are skipped; a
// missing file yields no events.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening events file: %w", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return events, fmt.Errorf("reading events file: %w", err)
	}
	return events, nil
}
