package scenario

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/signalnine/llm-tool-test/internal/script"
)

// ValidationError lists every problem found in a scenario.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid scenario:\n  - " + strings.Join(e.Problems, "\n  - ")
}

var validate = validator.New()

// Validate checks struct constraints and the per-kind gate fields.
func Validate(s *Scenario) error {
	var problems []string
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating scenario: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, formatFieldError(fe))
		}
	}
	if len(s.Evaluation.Gates) == 0 {
		problems = append(problems, "evaluation.gates must declare at least one gate")
	}
	for i, g := range s.Evaluation.Gates {
		if err := g.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("evaluation.gates[%d]: %v", i, err))
		}
	}
	for _, name := range sortedKeys(s.Target.Env) {
		if script.IsReserved(name) {
			problems = append(problems, fmt.Sprintf("target.env.%s is set by the framework and cannot be overridden", name))
		}
	}
	for i, cmd := range s.SetupCommands() {
		if strings.TrimSpace(cmd) == "" {
			problems = append(problems, fmt.Sprintf("setup.commands[%d] is empty", i))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFieldError(fe validator.FieldError) string {
	field := fieldPath(fe.Namespace())
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "gte":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed validation %q (got: %v)", field, fe.Tag(), fe.Value())
	}
}

// fieldPath turns "Scenario.Evaluation.Judge.PassThreshold" into
// "evaluation.judge.pass_threshold".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 && s[i-1] != '[' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
