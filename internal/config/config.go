package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file the CLI looks for when --config is not
// given.
const DefaultPath = "llm-tool-test.yaml"

type Config struct {
	ScenariosDir string  `yaml:"scenarios_dir" validate:"required"`
	TemplatesDir string  `yaml:"templates_dir"`
	Agents       []Agent `yaml:"agents" validate:"required,min=1,dive"`
	Judge        Judge   `yaml:"judge"`
	Run          Run     `yaml:"run"`
	Secrets      Secrets `yaml:"secrets"`
	Results      Results `yaml:"results"`
	Pricing      Pricing `yaml:"pricing"`
}

// Agent kinds.
const (
	KindMock    = "mock"
	KindCommand = "command"
	KindDocker  = "docker"
)

// Output formats an agent may print.
const (
	FormatText       = "text"
	FormatStreamJSON = "stream-json"
)

// Agent describes one coding agent the framework can drive.
//
// Command is a shell template for command agents and the container
// command for docker agents. It may contain {prompt}, {model} and
// {max_turns}; each is replaced shell-quoted.
type Agent struct {
	Name        string            `yaml:"name" validate:"required"`
	Kind        string            `yaml:"kind" validate:"required,oneof=mock command docker"`
	Command     string            `yaml:"command" validate:"required_unless=Kind mock"`
	Check       string            `yaml:"check,omitempty"`
	Format      string            `yaml:"format,omitempty" validate:"omitempty,oneof=text stream-json"`
	Image       string            `yaml:"image,omitempty" validate:"required_if=Kind docker"`
	Env         map[string]string `yaml:"env,omitempty"`
	Models      []string          `yaml:"models,omitempty"`
	CPULimit    float64           `yaml:"cpu_limit,omitempty" validate:"gte=0"`
	MemoryLimit int64             `yaml:"memory_limit,omitempty" validate:"gte=0"`
	// Mounts are extra bind mounts for docker agents, as
	// "source:target" or "source:target:ro".
	Mounts []string `yaml:"mounts,omitempty"`
}

// DefaultModel is the model used when neither the CLI nor the scenario
// names one.
func (a *Agent) DefaultModel() string {
	if len(a.Models) > 0 {
		return a.Models[0]
	}
	return "default"
}

type Judge struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Samples   int    `yaml:"samples" validate:"gte=0,lte=9"`
}

type Run struct {
	TimeoutSecs int `yaml:"timeout_secs" validate:"gte=0"`
	Parallel    int `yaml:"parallel" validate:"gte=0"`
}

// DefaultTimeout bounds an agent run when neither the config nor the
// scenario sets one.
const DefaultTimeout = 300 * time.Second

// Timeout is the default agent timeout.
func (r Run) Timeout() time.Duration {
	if r.TimeoutSecs > 0 {
		return time.Duration(r.TimeoutSecs) * time.Second
	}
	return DefaultTimeout
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type Pricing struct {
	File string `yaml:"file"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{Agents: DefaultAgents()}
	applyDefaults(cfg)
	return cfg
}

// DefaultAgents are the agents known without any configuration.
func DefaultAgents() []Agent {
	return []Agent{
		{Name: "mock", Kind: KindMock},
		{
			Name:    "claude-code",
			Kind:    KindCommand,
			Command: "claude -p {prompt} --model {model} --max-turns {max_turns} --output-format stream-json --verbose --dangerously-skip-permissions",
			Check:   "claude --version",
			Format:  FormatStreamJSON,
			Models:  []string{"sonnet"},
		},
		{
			Name:    "opencode",
			Kind:    KindCommand,
			Command: "opencode run --model {model} {prompt}",
			Check:   "opencode --version",
			Format:  FormatText,
			Models:  []string{"anthropic/claude-sonnet-4-5"},
		},
	}
}

// Load reads, defaults and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}
	base := filepath.Dir(path)
	applyDefaults(&cfg)
	cfg.resolvePaths(base)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault loads path, falling back to Default when path is the
// implicit default and does not exist.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
	}
	return Load(path)
}

// Agent returns the agent called name.
func (c *Config) Agent(name string) (*Agent, error) {
	for i := range c.Agents {
		if c.Agents[i].Name == name {
			return &c.Agents[i], nil
		}
	}
	names := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		names = append(names, a.Name)
	}
	return nil, fmt.Errorf("unknown agent %q (known: %s)", name, strings.Join(names, ", "))
}

func applyDefaults(cfg *Config) {
	if cfg.ScenariosDir == "" {
		cfg.ScenariosDir = "fixtures"
	}
	if cfg.TemplatesDir == "" {
		cfg.TemplatesDir = filepath.Join(cfg.ScenariosDir, "templates")
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	if cfg.Run.Parallel == 0 {
		cfg.Run.Parallel = 1
	}
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Format == "" {
			a.Format = FormatText
		}
	}
}

// resolvePaths makes relative paths relative to the config file.
func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.ScenariosDir, &c.TemplatesDir, &c.Results.Dir, &c.Secrets.EnvFile, &c.Pricing.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

var structValidator = newValidator()

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validation error: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, formatValidationError(e))
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	seen := map[string]bool{}
	for _, a := range cfg.Agents {
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	path := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required", "required_if", "required_unless":
		return fmt.Sprintf("%s is required", path)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", path, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", path, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", path, e.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s (got: %v)", path, e.Tag(), e.Param(), e.Value())
	}
}
