package scenario

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the discriminant of a Gate.
type Kind string

const (
	CommandSucceeds       Kind = "command_succeeds"
	CommandOutputContains Kind = "command_output_contains"
	CommandOutputMatches  Kind = "command_output_matches"
	CommandJSONPath       Kind = "command_json_path"
	FileExists            Kind = "file_exists"
	FileContains          Kind = "file_contains"
	FileMatches           Kind = "file_matches"
	NoTranscriptErrors    Kind = "no_transcript_errors"
	Script                Kind = "script"
)

// Kinds lists every gate kind in declaration order of the YAML format.
var Kinds = []Kind{
	CommandSucceeds, CommandOutputContains, CommandOutputMatches, CommandJSONPath,
	FileExists, FileContains, FileMatches, NoTranscriptErrors, Script,
}

// DefaultScriptGateTimeout applies to script gates without timeout_secs.
const DefaultScriptGateTimeout = 30 * time.Second

// Gate is one declared post-run assertion. Kind selects which of the
// remaining fields are meaningful.
type Gate struct {
	Kind        Kind   `yaml:"type" json:"type"`
	Command     string `yaml:"command,omitempty" json:"command,omitempty"`
	Substring   string `yaml:"substring,omitempty" json:"substring,omitempty"`
	Pattern     string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
	Assertion   string `yaml:"assertion,omitempty" json:"assertion,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty"`
}

// Timeout returns the script gate timeout.
func (g Gate) Timeout() time.Duration {
	if g.TimeoutSecs > 0 {
		return time.Duration(g.TimeoutSecs) * time.Second
	}
	return DefaultScriptGateTimeout
}

// Validate checks that the fields required by Kind are present.
func (g Gate) Validate() error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s gate requires %s", g.Kind, field)
		}
		return nil
	}
	var errs []error
	switch g.Kind {
	case CommandSucceeds:
		errs = append(errs, need("command", g.Command))
	case CommandOutputContains:
		errs = append(errs, need("command", g.Command), need("substring", g.Substring))
	case CommandOutputMatches:
		errs = append(errs, need("command", g.Command), need("pattern", g.Pattern))
	case CommandJSONPath:
		errs = append(errs, need("command", g.Command), need("path", g.Path), need("assertion", g.Assertion))
	case FileExists:
		errs = append(errs, need("path", g.Path))
	case FileContains:
		errs = append(errs, need("path", g.Path), need("substring", g.Substring))
	case FileMatches:
		errs = append(errs, need("path", g.Path), need("pattern", g.Pattern))
	case NoTranscriptErrors:
	case Script:
		errs = append(errs, need("command", g.Command))
	case "":
		return fmt.Errorf("gate type is required")
	default:
		known := make([]string, len(Kinds))
		for i, k := range Kinds {
			known[i] = string(k)
		}
		return fmt.Errorf("unknown gate type %q (known: %s)", g.Kind, strings.Join(known, ", "))
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	if g.TimeoutSecs < 0 {
		return fmt.Errorf("%s gate: timeout_secs must not be negative", g.Kind)
	}
	if g.TimeoutSecs != 0 && g.Kind != Script {
		return fmt.Errorf("%s gate: timeout_secs is only valid on script gates", g.Kind)
	}
	return nil
}

// Label identifies the gate in messages.
func (g Gate) Label() string {
	switch {
	case g.Description != "":
		return g.Description
	case g.Command != "":
		return g.Command
	case g.Path != "":
		return g.Path
	default:
		return string(g.Kind)
	}
}
