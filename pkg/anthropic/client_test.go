package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageServer(t *testing.T, status int, body map[string]any, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}))
	t.Cleanup(ts.Close)
	return ts
}

func reply(stop string, texts ...string) map[string]any {
	content := make([]map[string]any, 0, len(texts))
	for _, txt := range texts {
		content = append(content, map[string]any{"type": "text", "text": txt})
	}
	return map[string]any{
		"id":          "msg_001",
		"type":        "message",
		"role":        "assistant",
		"content":     content,
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": stop,
		"usage": map[string]any{
			"input_tokens":                120,
			"output_tokens":               30,
			"cache_creation_input_tokens": 900,
			"cache_read_input_tokens":     0,
		},
	}
}

func TestNarrate(t *testing.T) {
	var got map[string]any
	ts := messageServer(t, http.StatusOK, reply("end_turn", "Acme builds tooling", " for data teams. "),
		func(r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Contains(t, r.URL.Path, "/messages")
			assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		})

	client := NewClient("test-key", option.WithBaseURL(ts.URL))
	n, err := client.Narrate(context.Background(), NarrativeRequest{
		Model:        "claude-haiku-4-5-20251001",
		MaxTokens:    256,
		Instructions: "Summarize the entity.",
		Facts:        `{"name":"Acme"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme builds tooling for data teams.", n.Text)
	assert.False(t, n.Truncated)
	assert.Equal(t, Usage{Input: 120, Output: 30, CacheWrite: 900}, n.Usage)

	assert.Equal(t, "claude-haiku-4-5-20251001", got["model"])
	assert.EqualValues(t, 256, got["max_tokens"])
	system, ok := got["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	block := system[0].(map[string]any)
	assert.Equal(t, "Summarize the entity.", block["text"])
	cc, ok := block["cache_control"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1h", cc["ttl"])

	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestNarrate_WithoutInstructions(t *testing.T) {
	var got map[string]any
	ts := messageServer(t, http.StatusOK, reply("end_turn", "ok"), func(r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})

	_, err := NewClient("k", option.WithBaseURL(ts.URL)).Narrate(context.Background(),
		NarrativeRequest{Model: "m", MaxTokens: 10, Facts: "x"})
	require.NoError(t, err)
	assert.NotContains(t, got, "system")
}

func TestNarrate_Truncated(t *testing.T) {
	ts := messageServer(t, http.StatusOK, reply("max_tokens", "Acme builds"), nil)

	n, err := NewClient("k", option.WithBaseURL(ts.URL)).Narrate(context.Background(),
		NarrativeRequest{Model: "m", MaxTokens: 2, Facts: "x"})
	require.NoError(t, err)
	assert.True(t, n.Truncated)
	assert.Equal(t, "Acme builds", n.Text)
}

func TestNarrate_EmptyAnswer(t *testing.T) {
	ts := messageServer(t, http.StatusOK, reply("end_turn", "   "), nil)

	_, err := NewClient("k", option.WithBaseURL(ts.URL)).Narrate(context.Background(),
		NarrativeRequest{Model: "m", MaxTokens: 10, Facts: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty narrative")
}

func TestNarrate_NoFacts(t *testing.T) {
	_, err := NewClient("k", option.WithBaseURL("http://127.0.0.1:0")).Narrate(context.Background(),
		NarrativeRequest{Model: "m", MaxTokens: 10, Facts: " \n"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no facts")
}

func TestNarrate_APIError(t *testing.T) {
	ts := messageServer(t, http.StatusBadRequest, map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "invalid_request_error",
			"message": "max_tokens too large",
		},
	}, nil)

	client := NewClient("test-key", option.WithBaseURL(ts.URL), option.WithMaxRetries(0))
	_, err := client.Narrate(context.Background(), NarrativeRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1 << 20,
		Facts:     "Acme",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: narrate")
}

func TestReadNarrative_SkipsNonText(t *testing.T) {
	n := readNarrative(&sdk.Message{
		StopReason: sdk.StopReasonEndTurn,
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "one"},
			{Type: "tool_use"},
		},
		Usage: sdk.Usage{InputTokens: 7, OutputTokens: 3, CacheReadInputTokens: 11},
	})
	assert.Equal(t, "one", n.Text)
	assert.Equal(t, int64(11), n.Usage.CacheRead)
	assert.Empty(t, readNarrative(&sdk.Message{}).Text)
}
