package judge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/signalnine/llm-tool-test/internal/judge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer answers OpenAI chat completion requests with reply.
func chatServer(t *testing.T, reply string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   body.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewAgainstOpenAICompatibleServer(t *testing.T) {
	t.Setenv("LLM_TOOL_TEST_JUDGE_KEY", "test-key")
	var calls atomic.Int32
	srv := chatServer(t, "```json\n{\"scores\": {\"correct\": 1.0, \"efficient\": 0.4}, \"weighted_score\": 0.5, \"confidence\": 0.9, \"issues\": [\"slow\"]}\n```", &calls)

	j, err := judge.New(judge.Config{
		Model:     "judge-model",
		BaseURL:   srv.URL + "/v1",
		APIKeyEnv: "LLM_TOOL_TEST_JUDGE_KEY",
		Samples:   2,
	})
	require.NoError(t, err)

	resp, err := j.Evaluate(context.Background(), &judge.Request{
		Task:       "Create a note",
		Transcript: "$ qipu create hello\n",
		Rubric:     rubric(),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 0.8, resp.WeightedScore, 1e-9)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	assert.Equal(t, []string{"slow"}, resp.Issues)
}

func TestNewServerRejectsKey(t *testing.T) {
	t.Setenv("LLM_TOOL_TEST_JUDGE_KEY", "wrong-key")
	var calls atomic.Int32
	srv := chatServer(t, "{}", &calls)

	j, err := judge.New(judge.Config{
		BaseURL:   srv.URL + "/v1",
		APIKeyEnv: "LLM_TOOL_TEST_JUDGE_KEY",
		Samples:   1,
	})
	require.NoError(t, err)
	_, err = j.Evaluate(context.Background(), &judge.Request{Task: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable judge response")
}
