package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolboxInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/tools/execute", r.URL.Path)
		assert.Equal(t, "tok-1", r.Header.Get(TokenHeader))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sess-1", body["session_id"])
		assert.Equal(t, "tok-1", body["token"])
		assert.Equal(t, "search_web", body["tool"])
		kwargs, _ := body["kwargs"].(map[string]any)
		assert.Equal(t, "go plugins", kwargs["query"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"receipt_id": "f3b9f7a0-0000-0000-0000-000000000001",
			"response": {"results": []},
			"results": [{"index": 0, "result_id": "f3b9f7a0-0000-0000-0000-000000000002", "url": "https://go.dev"}],
			"result_policy": "REFERENCEABLE",
			"budget": {"session_budget_usd": 1, "session_used_budget_usd": 0.0025, "session_remaining_budget_usd": 0.9975},
			"cost_usd": 0.0025
		}`))
	}))
	defer server.Close()

	tb := NewToolbox(server.URL, "sess-1", "tok-1")
	resp, err := tb.SearchWeb(context.Background(), "go plugins", nil)
	require.NoError(t, err)

	assert.Equal(t, "f3b9f7a0-0000-0000-0000-000000000001", resp.ReceiptID)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://go.dev", resp.Results[0].URL)
	assert.Equal(t, "REFERENCEABLE", resp.Policy)
	assert.InDelta(t, 0.9975, resp.Budget.RemainingUSD, 1e-9)
	require.NotNil(t, resp.CostUSD)
	assert.InDelta(t, 0.0025, *resp.CostUSD, 1e-9)
}

func TestToolboxInvokeSanitizedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "budget exceeded"}`))
	}))
	defer server.Close()

	tb := NewToolbox(server.URL, "sess-1", "tok-1")
	_, err := tb.Invoke(context.Background(), "search_web", nil, map[string]any{"query": "q"})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, http.StatusBadRequest, toolErr.StatusCode)
	assert.Equal(t, "budget exceeded", toolErr.Message)
}

func TestToolboxHelperShapes(t *testing.T) {
	var got struct {
		tool   string
		kwargs map[string]any
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got.tool, _ = body["tool"].(string)
		got.kwargs, _ = body["kwargs"].(map[string]any)
		_, _ = w.Write([]byte(`{"receipt_id": "", "response": null, "result_policy": "LOG_ONLY", "budget": {}}`))
	}))
	defer server.Close()
	tb := NewToolbox(server.URL, "s", "t")
	ctx := context.Background()

	t.Run("search_ai", func(t *testing.T) {
		_, err := tb.SearchAI(ctx, "find go news", []string{"web", "hackernews"}, map[string]any{"count": 5})
		require.NoError(t, err)
		assert.Equal(t, "search_ai", got.tool)
		assert.Equal(t, []any{"web", "hackernews"}, got.kwargs["tools"])
		assert.Equal(t, float64(5), got.kwargs["count"])
	})

	t.Run("llm_chat", func(t *testing.T) {
		_, err := tb.LLMChat(ctx, "openai/gpt-oss-20b", []map[string]any{
			{"role": "user", "content": "hi"},
		}, map[string]any{"temperature": 0.1})
		require.NoError(t, err)
		assert.Equal(t, "llm_chat", got.tool)
		assert.Equal(t, "openai/gpt-oss-20b", got.kwargs["model"])
		msgs, _ := got.kwargs["messages"].([]any)
		require.Len(t, msgs, 1)
	})

	t.Run("search_items", func(t *testing.T) {
		_, err := tb.SearchItems(ctx, "feed-9", 41, []string{"outage"}, 3)
		require.NoError(t, err)
		assert.Equal(t, "search_items", got.tool)
		assert.Equal(t, "feed-9", got.kwargs["feed_id"])
		assert.Equal(t, float64(41), got.kwargs["enqueue_seq"])
		assert.Equal(t, float64(3), got.kwargs["num_hit"])
	})

	t.Run("get_repo_file", func(t *testing.T) {
		_, err := tb.GetRepoFile(ctx, "https://github.com/acme/widget", "abc123", "main.go", map[string]any{"start_line": 1})
		require.NoError(t, err)
		assert.Equal(t, "get_repo_file", got.tool)
		assert.Equal(t, "main.go", got.kwargs["path"])
	})
}

func TestRegistry(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	called := false
	Register("evaluate_claim", func(_ context.Context, _ *Toolbox, _, _ map[string]any) (map[string]any, error) {
		called = true
		return map[string]any{"verdict": 1}, nil
	})
	Register("", func(_ context.Context, _ *Toolbox, _, _ map[string]any) (map[string]any, error) {
		return nil, nil
	})
	Register("noop", nil)

	fn, ok := Lookup("evaluate_claim")
	require.True(t, ok)
	out, err := fn(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, out["verdict"])

	_, ok = Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"evaluate_claim"}, Entrypoints())
}

func TestParseClaimPayload(t *testing.T) {
	p, err := ParseClaimPayload(map[string]any{
		"claim_text":         "the sky is green",
		"rubric_title":       "Factual accuracy",
		"rubric_description": "Score 1 if supported",
		"verdict_options":    []any{float64(0), float64(1)},
		"feed_context":       map[string]any{"feed_id": "f1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "the sky is green", p.ClaimText)
	assert.Equal(t, []int{0, 1}, p.VerdictOptions)
	assert.Equal(t, "f1", p.FeedContext["feed_id"])
}

func TestAnswerMap(t *testing.T) {
	a := Answer{
		Verdict:       1,
		Justification: "supported by docs",
		Citations: []Citation{
			{ReceiptID: "r1", ResultID: "x1"},
		},
	}
	m := a.Map()
	assert.Equal(t, 1, m["verdict"])
	assert.Equal(t, "supported by docs", m["justification"])
	citations, _ := m["citations"].([]any)
	require.Len(t, citations, 1)
	first, _ := citations[0].(map[string]any)
	assert.Equal(t, "r1", first["receipt_id"])
}
