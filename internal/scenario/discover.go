package scenario

import (
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"
)

// Directories under the fixtures root that never hold scenarios.
var skipDirs = map[string]bool{"templates": true, "rubrics": true}

// Discover loads every scenario YAML under root. Files that fail to load
// are logged and skipped so one broken scenario does not hide the rest.
func Discover(root string) ([]*Scenario, error) {
	var out []*Scenario
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		s, err := Load(path)
		if err != nil {
			log.Printf("warning: skipping %v", err)
			return nil
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Filter selects scenarios by tag and tier.
type Filter struct {
	// Tags matches scenarios carrying at least one of them.
	Tags []string
	// MaxTier, when non-negative, drops scenarios above that tier.
	MaxTier int
}

// NoTierLimit disables tier filtering.
const NoTierLimit = -1

func (f Filter) Match(s *Scenario) bool {
	if f.MaxTier >= 0 && s.Tier > f.MaxTier {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	for _, t := range f.Tags {
		if s.HasTag(t) {
			return true
		}
	}
	return false
}

// Apply returns the scenarios that match.
func (f Filter) Apply(all []*Scenario) []*Scenario {
	var out []*Scenario
	for _, s := range all {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	return out
}

// Pairing is one agent/model combination to run a scenario with.
type Pairing struct {
	Agent string
	Model string
}

// Matrix returns the pairings this scenario should run with. An explicit
// agent overrides the scenario's tool_matrix; an empty model means the
// agent's default.
func (s *Scenario) Matrix(agent, model string) []Pairing {
	if agent != "" || len(s.ToolMatrix) == 0 {
		return []Pairing{{Agent: agent, Model: model}}
	}
	var out []Pairing
	for _, tc := range s.ToolMatrix {
		if model != "" || len(tc.Models) == 0 {
			out = append(out, Pairing{Agent: tc.Tool, Model: model})
			continue
		}
		for _, m := range tc.Models {
			out = append(out, Pairing{Agent: tc.Tool, Model: m})
		}
	}
	return out
}
