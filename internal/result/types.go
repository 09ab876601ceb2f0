package result

import (
	"time"

	"github.com/signalnine/llm-tool-test/internal/evaluation"
	"github.com/signalnine/llm-tool-test/internal/gate"
	"github.com/signalnine/llm-tool-test/internal/judge"
	"github.com/signalnine/llm-tool-test/internal/transcript"
)

// OutcomeDryRun marks records produced by --dry-run.
const OutcomeDryRun = "Dry run"

// RunRecord is the persisted summary of one scenario run.
type RunRecord struct {
	ID             string        `json:"id"`
	ScenarioID     string        `json:"scenario_id"`
	ScenarioHash   string        `json:"scenario_hash"`
	Agent          string        `json:"tool"`
	Model          string        `json:"model"`
	Tier           int           `json:"tier"`
	Tags           []string      `json:"tags,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	DurationSecs   float64       `json:"duration_secs"`
	CostUSD        *float64      `json:"cost_usd,omitempty"`
	Usage          *TokenUsage   `json:"token_usage,omitempty"`
	GatesPassed    bool          `json:"gates_passed"`
	Metrics        MetricsRecord `json:"metrics"`
	JudgeScore     *float64      `json:"judge_score,omitempty"`
	Outcome        string        `json:"outcome"`
	Passed         bool          `json:"passed"`
	AgentExitCode  int           `json:"agent_exit_code"`
	AgentTimedOut  bool          `json:"agent_timed_out,omitempty"`
	SetupSuccess   bool          `json:"setup_success"`
	Setup          []SetupStep   `json:"setup_commands,omitempty"`
	TranscriptPath string        `json:"transcript_path"`
	ResultsDir     string        `json:"results_dir,omitempty"`
	CacheKey       string        `json:"cache_key,omitempty"`

	// Cached is set on records served from the cache instead of a run.
	Cached bool `json:"-"`
}

// MetricsRecord is the evaluation part of a RunRecord.
type MetricsRecord struct {
	GatesPassed    int                          `json:"gates_passed"`
	GatesTotal     int                          `json:"gates_total"`
	Details        []gate.Result                `json:"details"`
	Efficiency     transcript.Metrics           `json:"efficiency"`
	CompositeScore *float64                     `json:"composite_score,omitempty"`
	Evaluators     []evaluation.EvaluatorResult `json:"evaluators,omitempty"`
	JudgeError     string                       `json:"judge_error,omitempty"`
	Judge          *judge.Response              `json:"judge,omitempty"`
	Failures       []string                     `json:"failures,omitempty"`
}

// SetupStep is one scenario setup command as it ran.
type SetupStep struct {
	Command  string `json:"command"`
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	Turns               int `json:"turns,omitempty"`
}

// MetricsFromEvaluation flattens an evaluation result for storage.
func MetricsFromEvaluation(res *evaluation.Result) MetricsRecord {
	return MetricsRecord{
		GatesPassed:    res.GatesPassed,
		GatesTotal:     res.GatesTotal,
		Details:        res.Gates,
		Efficiency:     res.Interaction,
		CompositeScore: res.CompositeScore,
		Evaluators:     res.Evaluators,
		JudgeError:     res.JudgeError,
		Judge:          res.JudgeResponse,
		Failures:       res.Outcome.Failures,
	}
}
