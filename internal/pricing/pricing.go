// Package pricing estimates the cost of an agent run from its token usage
// when the agent does not report a cost itself.
package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelPricing is USD per 1K tokens.
type ModelPricing struct {
	Input     float64 `yaml:"input"`
	Output    float64 `yaml:"output"`
	CacheRead float64 `yaml:"cache_read,omitempty"`
}

// Usage is the token count of one run.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	CacheReadTokens int
}

type Table struct {
	Models map[string]ModelPricing `yaml:"models"`
}

// Default covers the model aliases the built-in agents use.
func Default() *Table {
	return &Table{Models: map[string]ModelPricing{
		"opus":   {Input: 0.015, Output: 0.075, CacheRead: 0.0015},
		"sonnet": {Input: 0.003, Output: 0.015, CacheRead: 0.0003},
		"haiku":  {Input: 0.0008, Output: 0.004, CacheRead: 0.00008},
	}}
}

// Load reads a pricing file. Entries override Default ones of the same
// name.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	merged := Default()
	for k, v := range t.Models {
		merged.Models[k] = v
	}
	return merged, nil
}

// Lookup finds pricing for model: an exact entry first, otherwise the
// longest entry name contained in model ("claude-sonnet-4-5" matches
// "sonnet").
func (t *Table) Lookup(model string) (ModelPricing, bool) {
	if t == nil || t.Models == nil {
		return ModelPricing{}, false
	}
	if p, ok := t.Models[model]; ok {
		return p, true
	}
	names := make([]string, 0, len(t.Models))
	for name := range t.Models {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	lower := strings.ToLower(model)
	for _, name := range names {
		if strings.Contains(lower, strings.ToLower(name)) {
			return t.Models[name], true
		}
	}
	return ModelPricing{}, false
}

// Cost returns the estimated cost of u on model, and false when the
// model has no pricing.
func (t *Table) Cost(model string, u Usage) (float64, bool) {
	p, ok := t.Lookup(model)
	if !ok {
		return 0, false
	}
	return (float64(u.InputTokens)/1000.0)*p.Input +
		(float64(u.OutputTokens)/1000.0)*p.Output +
		(float64(u.CacheReadTokens)/1000.0)*p.CacheRead, true
}
