package judge_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/signalnine/llm-tool-test/internal/judge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	replies []string
	errs    []error
	prompts []string
}

func (f *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	i := len(f.prompts)
	var prompt string
	for _, m := range msgs {
		for _, p := range m.Parts {
			if tp, ok := p.(llms.TextContent); ok {
				prompt += tp.Text
			}
		}
	}
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.replies[i%len(f.replies)]}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, opts...)
}

func rubric() *judge.Rubric {
	return &judge.Rubric{Criteria: []judge.Criterion{
		{ID: "correct", Description: "Task done", Weight: 2},
		{ID: "efficient", Description: "Few retries", Weight: 1},
	}}
}

func TestParseResponseFormats(t *testing.T) {
	inputs := []string{
		`{"scores": {"correct": 0.9}, "weighted_score": 0.9, "confidence": 0.8}`,
		"```json\n{\"scores\": {\"correct\": 0.9}, \"weighted_score\": 0.9, \"confidence\": 0.8}\n```",
		"Okay, here is my evaluation:\n\n{\"scores\": {\"correct\": 0.9}, \"weighted_score\": 0.9, \"confidence\": 0.8}\n\nLet me know.",
	}
	for _, in := range inputs {
		resp, err := judge.ParseResponse(in)
		require.NoError(t, err, in)
		assert.InDelta(t, 0.9, resp.Scores["correct"], 1e-9)
		assert.InDelta(t, 0.8, resp.Confidence, 1e-9)
	}
}

func TestParseResponseErrors(t *testing.T) {
	for _, in := range []string{"I cannot evaluate this.", "{not json}", `{"issues": []}`} {
		_, err := judge.ParseResponse(in)
		assert.Error(t, err, in)
	}
}

func TestParseResponseClamps(t *testing.T) {
	resp, err := judge.ParseResponse(`{"scores": {"a": 7}, "weighted_score": -1, "confidence": 2}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.Scores["a"])
	assert.Equal(t, 0.0, resp.WeightedScore)
	assert.Equal(t, 1.0, resp.Confidence)
}

func TestWeightedScore(t *testing.T) {
	score, ok := rubric().WeightedScore(map[string]float64{"correct": 0.9, "efficient": 0.6})
	require.True(t, ok)
	assert.InDelta(t, 0.8, score, 1e-9)

	score, ok = rubric().WeightedScore(map[string]float64{"efficient": 0.6})
	require.True(t, ok)
	assert.InDelta(t, 0.6, score, 1e-9)

	_, ok = rubric().WeightedScore(map[string]float64{"other": 1})
	assert.False(t, ok)

	var nilRubric *judge.Rubric
	_, ok = nilRubric.WeightedScore(map[string]float64{"correct": 1})
	assert.False(t, ok)
}

func TestMedianScore(t *testing.T) {
	assert.Equal(t, 0.0, judge.MedianScore(nil))
	assert.Equal(t, 0.5, judge.MedianScore([]float64{0.9, 0.1, 0.5}))
	assert.InDelta(t, 0.6, judge.MedianScore([]float64{0.4, 0.8}), 1e-9)
}

func TestLLMJudgeMedianAcrossSamples(t *testing.T) {
	model := &fakeModel{replies: []string{
		`{"scores": {"correct": 1.0, "efficient": 0.2}, "weighted_score": 0.7, "confidence": 0.9, "issues": ["retried"], "highlights": ["used --help"]}`,
		`{"scores": {"correct": 0.8, "efficient": 0.5}, "weighted_score": 0.7, "confidence": 0.7, "issues": ["retried"]}`,
		`{"scores": {"correct": 0.6, "efficient": 0.8}, "weighted_score": 0.7, "confidence": 0.8}`,
	}}
	j := judge.NewWithModel(model, 3)
	resp, err := j.Evaluate(context.Background(), &judge.Request{
		Task:       "Create a note",
		Transcript: "$ qipu create hello",
		Diff:       "+hello",
		Rubric:     rubric(),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, resp.Scores["correct"], 1e-9)
	assert.InDelta(t, 0.5, resp.Scores["efficient"], 1e-9)
	assert.InDelta(t, (0.8*2+0.5)/3, resp.WeightedScore, 1e-9)
	assert.InDelta(t, 0.8, resp.Confidence, 1e-9)
	assert.Equal(t, []string{"retried"}, resp.Issues)
	assert.Equal(t, []string{"used --help"}, resp.Highlights)

	require.Len(t, model.prompts, 3)
	assert.Contains(t, model.prompts[0], "Create a note")
	assert.Contains(t, model.prompts[0], "correct (weight 2.00)")
	assert.Contains(t, model.prompts[0], "$ qipu create hello")
}

func TestLLMJudgeToleratesSomeFailures(t *testing.T) {
	model := &fakeModel{
		replies: []string{"garbage", `{"scores": {"correct": 0.4}, "weighted_score": 0.4, "confidence": 0.5}`},
		errs:    []error{errors.New("rate limited")},
	}
	resp, err := judge.NewWithModel(model, 2).Evaluate(context.Background(), &judge.Request{Rubric: rubric()})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, resp.WeightedScore, 1e-9)
}

func TestLLMJudgeAllSamplesFail(t *testing.T) {
	model := &fakeModel{replies: []string{"no json here"}}
	_, err := judge.NewWithModel(model, 2).Evaluate(context.Background(), &judge.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable judge response")
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("LLM_TOOL_TEST_JUDGE_KEY", "")
	_, err := judge.New(judge.Config{APIKeyEnv: "LLM_TOOL_TEST_JUDGE_KEY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_TOOL_TEST_JUDGE_KEY not set")
}

func TestBuildPromptTruncatesTranscript(t *testing.T) {
	p := judge.BuildPrompt(&judge.Request{Task: "t", Transcript: strings.Repeat("x", 200_000)})
	assert.Contains(t, p, "[transcript truncated from 200000 to 100000 chars]")
	assert.NotContains(t, p, "Changes made in the workspace")
}

func TestBuildPromptTruncatesOnRuneBoundary(t *testing.T) {
	p := judge.BuildPrompt(&judge.Request{Task: "t", Transcript: "x" + strings.Repeat("é", 60_000)})
	assert.True(t, utf8.ValidString(p))
	assert.Contains(t, p, "[transcript truncated from 120001 to 99999 chars]")
}

func TestLoadRubric(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
criteria:
  - id: correct
    description: The note exists
    weight: 0.7
  - id: efficient
    description: Minimal retries
    weight: 0.3
instructions: Be strict.
`), 0o644))
	r, err := judge.LoadRubric(good)
	require.NoError(t, err)
	assert.Len(t, r.Criteria, 2)
	assert.Equal(t, "Be strict.", r.Instructions)

	for name, body := range map[string]string{
		"empty.yaml":    "criteria: []\n",
		"noweight.yaml": "criteria:\n  - id: a\n",
		"dup.yaml":      "criteria:\n  - {id: a, weight: 1}\n  - {id: a, weight: 1}\n",
	} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		_, err := judge.LoadRubric(p)
		assert.Error(t, err, name)
	}
	_, err = judge.LoadRubric(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
