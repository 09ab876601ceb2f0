package script

import (
	"sort"
	"strings"
)

// Variables the framework sets for every script it launches. Scenario
// target env may not override any of them.
const (
	VarFixtureDir = "LLM_TOOL_TEST_FIXTURE_DIR"
	VarResultsDir = "LLM_TOOL_TEST_RESULTS_DIR"
	VarScenario   = "LLM_TOOL_TEST_SCENARIO"
	VarAgent      = "LLM_TOOL_TEST_AGENT"
	VarModel      = "LLM_TOOL_TEST_MODEL"

	// Only set once the agent has run: post scripts, evaluators and gates.
	VarTranscript = "LLM_TOOL_TEST_TRANSCRIPT"
	VarEvents     = "LLM_TOOL_TEST_EVENTS"
)

// ReservedVars lists every framework-owned variable name.
var ReservedVars = []string{
	VarFixtureDir, VarResultsDir, VarScenario, VarAgent, VarModel,
	VarTranscript, VarEvents,
}

// IsReserved reports whether name is framework-owned.
func IsReserved(name string) bool {
	for _, v := range ReservedVars {
		if v == name {
			return true
		}
	}
	return false
}

// Env is the environment handed to every script. Precedence, lowest to
// highest: the parent process environment, Target, framework variables.
type Env struct {
	FixtureDir string
	ResultsDir string
	Scenario   string
	Agent      string
	Model      string

	// Empty paths leave the corresponding variable unset.
	TranscriptPath string
	EventsPath     string

	// Target holds the scenario-declared variables for the tool under test.
	Target map[string]string
}

// WithoutArtifacts returns a copy with the transcript and events paths
// cleared, for phases that run before the agent.
func (e Env) WithoutArtifacts() Env {
	e.TranscriptPath = ""
	e.EventsPath = ""
	return e
}

// Vars returns the framework variables this Env sets.
func (e Env) Vars() map[string]string {
	vars := map[string]string{
		VarFixtureDir: e.FixtureDir,
		VarResultsDir: e.ResultsDir,
		VarScenario:   e.Scenario,
		VarAgent:      e.Agent,
		VarModel:      e.Model,
	}
	if e.TranscriptPath != "" {
		vars[VarTranscript] = e.TranscriptPath
	}
	if e.EventsPath != "" {
		vars[VarEvents] = e.EventsPath
	}
	return vars
}

// Environ merges base (usually os.Environ()) with Target and the framework
// variables and returns KEY=VALUE pairs sorted by key.
func (e Env) Environ(base []string) []string {
	merged := make(map[string]string, len(base)+len(e.Target)+len(ReservedVars))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range e.Target {
		merged[k] = v
	}
	// Framework variables last so they win.
	for k, v := range e.Vars() {
		merged[k] = v
	}
	if e.TranscriptPath == "" {
		delete(merged, VarTranscript)
	}
	if e.EventsPath == "" {
		delete(merged, VarEvents)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
