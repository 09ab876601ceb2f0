package adapter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/signalnine/llm-tool-test/internal/transcript"
)

// Claude Code prints one JSON envelope per line with --output-format
// stream-json. Only the fields the framework reads are declared.
type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// system/init
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`

	// assistant and user
	Message json.RawMessage `json:"message,omitempty"`

	// result
	IsError      *bool   `json:"is_error,omitempty"`
	Result       string  `json:"result,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	DurationMs   int     `json:"duration_ms,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	Usage        *usage  `json:"usage,omitempty"`
}

type message struct {
	Role    string          `json:"role"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Usage   *usage          `json:"usage,omitempty"`
}

type usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// StreamResult is a decoded stream-json run.
type StreamResult struct {
	Transcript string
	Events     []transcript.Event
	Usage      Usage
	CostUSD    *float64
	IsError    bool
	Result     string
}

var exitCodePrefix = regexp.MustCompile(`^Exit code (\d+)`)

// ParseStreamJSON decodes Claude-style stream-json output. The second
// return is false when out contains no envelope at all, in which case the
// output should be treated as plain text. Lines that are not JSON are kept
// in the transcript verbatim.
func ParseStreamJSON(out string) (*StreamResult, bool) {
	res := &StreamResult{}
	var b strings.Builder
	found := false

	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var env envelope
		if !strings.HasPrefix(trimmed, "{") || json.Unmarshal([]byte(trimmed), &env) != nil || env.Type == "" {
			b.WriteString(line)
			b.WriteString("\n")
			continue
		}
		found = true

		switch env.Type {
		case "assistant":
			msg, blocks := decodeMessage(env.Message)
			res.Usage.Turns++
			if msg != nil && msg.Usage != nil {
				res.Usage.InputTokens += msg.Usage.InputTokens
				res.Usage.OutputTokens += msg.Usage.OutputTokens
				res.Usage.CacheReadTokens += msg.Usage.CacheReadInputTokens
				res.Usage.CacheCreationTokens += msg.Usage.CacheCreationInputTokens
			}
			for _, blk := range blocks {
				switch blk.Type {
				case "text":
					if strings.TrimSpace(blk.Text) == "" {
						continue
					}
					res.Events = append(res.Events, transcript.Event{Type: transcript.EventMessage, Text: blk.Text})
					b.WriteString(blk.Text)
					b.WriteString("\n")
				case "tool_use":
					ev := transcript.Event{Type: transcript.EventToolCall, ID: blk.ID, Tool: blk.Name}
					ev.Command = toolCommand(blk.Input)
					res.Events = append(res.Events, ev)
					if ev.Command != "" {
						fmt.Fprintf(&b, "$ %s\n", ev.Command)
					} else {
						fmt.Fprintf(&b, "[%s] %s\n", blk.Name, string(blk.Input))
					}
				}
			}
		case "user":
			_, blocks := decodeMessage(env.Message)
			for _, blk := range blocks {
				if blk.Type != "tool_result" {
					continue
				}
				text := resultText(blk.Content)
				ev := transcript.Event{
					Type:    transcript.EventToolResult,
					ID:      blk.ToolUseID,
					Output:  text,
					IsError: blk.IsError,
				}
				if m := exitCodePrefix.FindStringSubmatch(text); m != nil {
					if n, err := strconv.Atoi(m[1]); err == nil {
						ev.ExitCode = transcript.IntPtr(n)
					}
				}
				res.Events = append(res.Events, ev)
				if text != "" {
					b.WriteString(text)
					if !strings.HasSuffix(text, "\n") {
						b.WriteString("\n")
					}
				}
			}
		case "result":
			// Result usage is cumulative and authoritative.
			if env.Usage != nil {
				res.Usage.InputTokens = env.Usage.InputTokens
				res.Usage.OutputTokens = env.Usage.OutputTokens
				res.Usage.CacheReadTokens = env.Usage.CacheReadInputTokens
				res.Usage.CacheCreationTokens = env.Usage.CacheCreationInputTokens
			}
			if env.NumTurns > 0 {
				res.Usage.Turns = env.NumTurns
			}
			if env.TotalCostUSD > 0 {
				cost := env.TotalCostUSD
				res.CostUSD = &cost
			}
			res.IsError = env.IsError != nil && *env.IsError
			res.Result = env.Result
			if env.Result != "" {
				b.WriteString(env.Result)
				b.WriteString("\n")
			}
		}
	}
	res.Transcript = b.String()
	return res, found
}

func decodeMessage(raw json.RawMessage) (*message, []contentBlock) {
	if len(raw) == 0 {
		return nil, nil
	}
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		// Plain string content.
		var s string
		if json.Unmarshal(msg.Content, &s) == nil && s != "" {
			blocks = []contentBlock{{Type: "text", Text: s}}
		}
	}
	return &msg, blocks
}

// toolCommand returns the shell command of a Bash-style tool call.
func toolCommand(input json.RawMessage) string {
	var in struct {
		Command string `json:"command"`
	}
	if json.Unmarshal(input, &in) != nil {
		return ""
	}
	return in.Command
}

// resultText flattens tool_result content, which is either a string or a
// list of text blocks.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []contentBlock
	if json.Unmarshal(raw, &blocks) != nil {
		return string(raw)
	}
	parts := make([]string, 0, len(blocks))
	for _, blk := range blocks {
		if blk.Type == "text" {
			parts = append(parts, blk.Text)
		}
	}
	return strings.Join(parts, "\n")
}
