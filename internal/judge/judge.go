// Package judge scores a finished run qualitatively with an LLM against a
// rubric.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Request is what the judge sees of a run.
type Request struct {
	Task       string
	Transcript string
	Diff       string
	Rubric     *Rubric
}

// Response is the judge's verdict. WeightedScore is in [0,1].
type Response struct {
	Scores        map[string]float64 `json:"scores"`
	WeightedScore float64            `json:"weighted_score"`
	Confidence    float64            `json:"confidence"`
	Issues        []string           `json:"issues"`
	Highlights    []string           `json:"highlights"`
}

// Judge is the scoring service consulted after all gates pass.
type Judge interface {
	Evaluate(ctx context.Context, req *Request) (*Response, error)
}

// Config selects the model behind an LLMJudge.
type Config struct {
	Model     string
	BaseURL   string
	APIKeyEnv string
	Samples   int
}

const (
	DefaultSamples   = 3
	DefaultAPIKeyEnv = "OPENAI_API_KEY"

	// Roughly 25-30K tokens, leaving room for the rubric and response.
	maxTranscriptChars = 100_000
	maxDiffChars       = 50_000
)

// LLMJudge asks an OpenAI-compatible model several times and takes the
// median per criterion.
type LLMJudge struct {
	model   llms.Model
	samples int
}

// New builds an LLMJudge from cfg. The API key is read from the
// environment variable cfg.APIKeyEnv.
func New(cfg Config) (*LLMJudge, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%s not set", keyEnv)
	}
	opts := []openai.Option{openai.WithToken(apiKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating judge client: %w", err)
	}
	return NewWithModel(client, cfg.Samples), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, samples int) *LLMJudge {
	if samples < 1 {
		samples = DefaultSamples
	}
	return &LLMJudge{model: model, samples: samples}
}

// Evaluate samples the model and aggregates the responses. It fails only
// when no sample produced a usable response.
func (j *LLMJudge) Evaluate(ctx context.Context, req *Request) (*Response, error) {
	prompt := BuildPrompt(req)

	var responses []*Response
	var lastErr error
	for i := 0; i < j.samples; i++ {
		content, err := llms.GenerateFromSinglePrompt(ctx, j.model, prompt, llms.WithTemperature(0))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("warning: judge attempt %d failed: %v", i+1, err)
			lastErr = err
			continue
		}
		resp, err := ParseResponse(content)
		if err != nil {
			log.Printf("warning: judge attempt %d: %v", i+1, err)
			lastErr = err
			continue
		}
		responses = append(responses, resp)
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("no usable judge response after %d attempts: %w", j.samples, lastErr)
	}
	return Aggregate(responses, req.Rubric), nil
}

// BuildPrompt renders the judging instructions for req.
func BuildPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("You are evaluating how well an LLM coding agent used a command-line tool to complete a task.\n\n")
	fmt.Fprintf(&b, "Task:\n%s\n\n", req.Task)

	if req.Rubric != nil {
		b.WriteString("Rubric criteria (score each from 0.0 to 1.0):\n")
		for _, c := range req.Rubric.Criteria {
			fmt.Fprintf(&b, "- %s (weight %.2f): %s\n", c.ID, c.Weight, c.Description)
		}
		if req.Rubric.Instructions != "" {
			fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(req.Rubric.Instructions))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Interaction transcript:\n%s\n\n", clip(req.Transcript, maxTranscriptChars, "transcript"))
	if strings.TrimSpace(req.Diff) != "" {
		fmt.Fprintf(&b, "Changes made in the workspace:\n%s\n\n", clip(req.Diff, maxDiffChars, "diff"))
	}

	b.WriteString(`Return the evaluation as JSON with this structure:
{
  "scores": {"criterion_id": <score_0_to_1>, ...},
  "weighted_score": <weighted_average_0_to_1>,
  "confidence": <confidence_0_to_1>,
  "issues": ["issue1", ...],
  "highlights": ["good_practice1", ...]
}

Provide JSON only, no additional text.`)
	return b.String()
}

// clip cuts s to at most max bytes on a rune boundary.
func clip(s string, max int, what string) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n\n... [%s truncated from %d to %d chars] ...", what, len(s), cut)
}

// ParseResponse extracts the JSON verdict from model output, tolerating
// markdown fences and prose around the object.
func ParseResponse(content string) (*Response, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("parsing judge response: no JSON object in %q", clip(content, 200, "response"))
	}
	var resp Response
	if err := json.Unmarshal([]byte(content[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("parsing judge response: %w", err)
	}
	if len(resp.Scores) == 0 && resp.WeightedScore == 0 {
		return nil, fmt.Errorf("parsing judge response: no scores")
	}
	for k, v := range resp.Scores {
		resp.Scores[k] = clamp01(v)
	}
	resp.WeightedScore = clamp01(resp.WeightedScore)
	resp.Confidence = clamp01(resp.Confidence)
	return &resp, nil
}

// Aggregate combines sampled responses: median per criterion and for
// confidence, deduplicated issues and highlights. The weighted score is
// recomputed from the rubric when the scores cover it, otherwise it is
// the median of the sampled weighted scores.
func Aggregate(responses []*Response, rubric *Rubric) *Response {
	perCriterion := map[string][]float64{}
	var weighted, confidence []float64
	out := &Response{Scores: map[string]float64{}}
	seenIssue, seenHighlight := map[string]bool{}, map[string]bool{}
	for _, r := range responses {
		for k, v := range r.Scores {
			perCriterion[k] = append(perCriterion[k], v)
		}
		weighted = append(weighted, r.WeightedScore)
		confidence = append(confidence, r.Confidence)
		for _, s := range r.Issues {
			if !seenIssue[s] {
				seenIssue[s] = true
				out.Issues = append(out.Issues, s)
			}
		}
		for _, s := range r.Highlights {
			if !seenHighlight[s] {
				seenHighlight[s] = true
				out.Highlights = append(out.Highlights, s)
			}
		}
	}
	for k, v := range perCriterion {
		out.Scores[k] = MedianScore(v)
	}
	out.Confidence = MedianScore(confidence)
	if score, ok := rubric.WeightedScore(out.Scores); ok {
		out.WeightedScore = score
	} else {
		out.WeightedScore = MedianScore(weighted)
	}
	return out
}

// MedianScore returns the median of scores, or 0 for none.
func MedianScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.0
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
