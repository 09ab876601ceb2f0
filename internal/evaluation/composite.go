package evaluation

import (
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/transcript"
)

// InteractionScore normalizes interaction metrics to [0,1]: half for
// finishing cleanly, half for the first-try success rate.
func InteractionScore(m transcript.Metrics) float64 {
	completed := 0.0
	if m.Completed {
		completed = 1.0
	}
	return 0.5*completed + 0.5*m.FirstTrySuccessRate
}

// GateRatio is gatesPassed/gatesTotal, or 1 when no gates are declared.
func GateRatio(gatesPassed, gatesTotal int) float64 {
	if gatesTotal == 0 {
		return 1.0
	}
	return float64(gatesPassed) / float64(gatesTotal)
}

// CompositeScore combines the gate ratio, judge score and interaction
// score under w. A missing judge score counts as 0. The result is
// clamped to [0,1].
func CompositeScore(w scenario.Composite, gatesPassed, gatesTotal int, judgeScore *float64, m transcript.Metrics) float64 {
	judge := 0.0
	if judgeScore != nil {
		judge = *judgeScore
	}
	score := w.GateWeight*GateRatio(gatesPassed, gatesTotal) +
		w.JudgeWeight*judge +
		w.InteractionWeight*InteractionScore(m)
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// ScoreTier buckets a [0,1] score for reports.
func ScoreTier(score float64) string {
	switch {
	case score >= 0.9:
		return "Excellent"
	case score >= 0.7:
		return "Good"
	case score >= 0.5:
		return "Acceptable"
	default:
		return "Poor"
	}
}
