package scenario

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one task an agent must complete with the target tool.
type Scenario struct {
	Name           string       `yaml:"name" json:"name" validate:"required"`
	Description    string       `yaml:"description" json:"description"`
	TemplateFolder string       `yaml:"template_folder" json:"template_folder" validate:"required"`
	Target         Target       `yaml:"target" json:"target"`
	Task           Task         `yaml:"task" json:"task"`
	Evaluation     Evaluation   `yaml:"evaluation" json:"evaluation"`
	Tier           int          `yaml:"tier" json:"tier" validate:"gte=0"`
	ToolMatrix     []ToolConfig `yaml:"tool_matrix,omitempty" json:"tool_matrix,omitempty" validate:"dive"`
	Setup          *Setup       `yaml:"setup,omitempty" json:"setup,omitempty"`
	Tags           []string     `yaml:"tags,omitempty" json:"tags,omitempty"`
	Run            *RunConfig   `yaml:"run,omitempty" json:"run,omitempty"`
	Scripts        *Scripts     `yaml:"scripts,omitempty" json:"scripts,omitempty"`

	// Path and Source record where the scenario was loaded from.
	Path   string `yaml:"-" json:"-"`
	Source []byte `yaml:"-" json:"-"`
}

type Target struct {
	Binary         string            `yaml:"binary" json:"binary" validate:"required"`
	CommandPattern string            `yaml:"command_pattern,omitempty" json:"command_pattern,omitempty"`
	HealthCheck    string            `yaml:"health_check,omitempty" json:"health_check,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

type Task struct {
	Prompt string `yaml:"prompt" json:"prompt" validate:"required"`
}

type Evaluation struct {
	Gates     []Gate     `yaml:"gates" json:"gates"`
	Judge     *Judge     `yaml:"judge,omitempty" json:"judge,omitempty"`
	Composite *Composite `yaml:"composite,omitempty" json:"composite,omitempty"`

	// CommandTimeoutSecs bounds each command_* gate; zero means the default.
	CommandTimeoutSecs int `yaml:"command_timeout_secs,omitempty" json:"command_timeout_secs,omitempty" validate:"gte=0"`
}

// DefaultCommandGateTimeout applies to command_* gates.
const DefaultCommandGateTimeout = 60 * time.Second

// CommandTimeout returns the per-command gate timeout.
func (e Evaluation) CommandTimeout() time.Duration {
	if e.CommandTimeoutSecs > 0 {
		return time.Duration(e.CommandTimeoutSecs) * time.Second
	}
	return DefaultCommandGateTimeout
}

type Judge struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	Rubric        string  `yaml:"rubric" json:"rubric" validate:"required_if=Enabled true"`
	PassThreshold float64 `yaml:"pass_threshold" json:"pass_threshold" validate:"gte=0,lte=1"`
}

// Composite holds the weights of the composite score. Weights omitted
// from the YAML block take the DefaultComposite values.
type Composite struct {
	JudgeWeight       float64 `yaml:"judge_weight" json:"judge_weight" validate:"gte=0"`
	GateWeight        float64 `yaml:"gate_weight" json:"gate_weight" validate:"gte=0"`
	InteractionWeight float64 `yaml:"interaction_weight" json:"interaction_weight" validate:"gte=0"`
}

var DefaultComposite = Composite{
	JudgeWeight:       0.55,
	GateWeight:        0.35,
	InteractionWeight: 0.10,
}

func (c *Composite) UnmarshalYAML(n *yaml.Node) error {
	type plain Composite
	p := plain(DefaultComposite)
	if err := n.Decode(&p); err != nil {
		return err
	}
	*c = Composite(p)
	return nil
}

type ToolConfig struct {
	Tool   string   `yaml:"tool" json:"tool" validate:"required"`
	Models []string `yaml:"models,omitempty" json:"models,omitempty"`
}

type Setup struct {
	Commands []string `yaml:"commands" json:"commands"`
}

type RunConfig struct {
	TimeoutSecs int `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty" validate:"gte=0"`
	MaxTurns    int `yaml:"max_turns,omitempty" json:"max_turns,omitempty" validate:"gte=0"`
}

type Scripts struct {
	Post       []ScriptEntry    `yaml:"post,omitempty" json:"post,omitempty" validate:"dive"`
	Evaluators []EvaluatorEntry `yaml:"evaluators,omitempty" json:"evaluators,omitempty" validate:"dive"`
}

const (
	DefaultPostScriptTimeout = 30 * time.Second
	DefaultEvaluatorTimeout  = 60 * time.Second
)

// ScriptEntry is a post-run hook.
type ScriptEntry struct {
	Command     string `yaml:"command" json:"command" validate:"required"`
	TimeoutSecs int    `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty" validate:"gte=0"`
}

func (s ScriptEntry) Timeout() time.Duration {
	if s.TimeoutSecs > 0 {
		return time.Duration(s.TimeoutSecs) * time.Second
	}
	return DefaultPostScriptTimeout
}

// EvaluatorEntry is a custom scoring script whose output is diagnostic.
type EvaluatorEntry struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Command     string `yaml:"command" json:"command" validate:"required"`
	TimeoutSecs int    `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty" validate:"gte=0"`
}

func (e EvaluatorEntry) Timeout() time.Duration {
	if e.TimeoutSecs > 0 {
		return time.Duration(e.TimeoutSecs) * time.Second
	}
	return DefaultEvaluatorTimeout
}

// PostScripts returns the declared post-run hooks.
func (s *Scenario) PostScripts() []ScriptEntry {
	if s.Scripts == nil {
		return nil
	}
	return s.Scripts.Post
}

// Evaluators returns the declared custom evaluators.
func (s *Scenario) Evaluators() []EvaluatorEntry {
	if s.Scripts == nil {
		return nil
	}
	return s.Scripts.Evaluators
}

// SetupCommands returns the declared setup commands.
func (s *Scenario) SetupCommands() []string {
	if s.Setup == nil {
		return nil
	}
	return s.Setup.Commands
}

// Timeout returns the scenario's agent timeout, or def when unset.
func (s *Scenario) Timeout(def time.Duration) time.Duration {
	if s.Run != nil && s.Run.TimeoutSecs > 0 {
		return time.Duration(s.Run.TimeoutSecs) * time.Second
	}
	return def
}

// JudgeEnabled reports whether the scenario asks for a judge.
func (s *Scenario) JudgeEnabled() bool {
	return s.Evaluation.Judge != nil && s.Evaluation.Judge.Enabled
}

// HasTag reports whether the scenario carries tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// Parse decodes and validates scenario YAML. Unknown fields are errors.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	s.Source = data
	return &s, nil
}
