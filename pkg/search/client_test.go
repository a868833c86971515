package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:   3,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Retry:   fastPolicy(),
	})
	require.NoError(t, err)
	return client
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestClient_Web(t *testing.T) {
	t.Run("sends query and extracts entries", func(t *testing.T) {
		var gotPath, gotAuth string
		var gotBody map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"link": "https://example.com/a", "title": "A", "snippet": "about a"},
					{"link": "https://example.com/b", "title": "B", "snippet": "about b"},
				},
			})
		}))
		defer server.Close()

		client := newTestClient(t, server)
		num := 5
		resp, err := client.Web(context.Background(), WebParams{Query: "go generics", Num: &num})
		require.NoError(t, err)

		assert.Equal(t, "/web", gotPath)
		assert.Equal(t, "test-key", gotAuth)
		assert.Equal(t, "go generics", gotBody["query"])
		assert.Equal(t, float64(5), gotBody["num"])
		_, hasStart := gotBody["start"]
		assert.False(t, hasStart)

		require.Len(t, resp.Entries, 2)
		assert.Equal(t, "https://example.com/a", resp.Entries[0].URL)
		assert.Equal(t, "A", resp.Entries[0].Title)
		assert.Equal(t, "about a", resp.Entries[0].Note)
	})

	t.Run("retries on 500 then succeeds", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"url": "https://example.com"}},
			})
		}))
		defer server.Close()

		client := newTestClient(t, server)
		resp, err := client.Web(context.Background(), WebParams{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
		assert.Len(t, resp.Entries, 1)
	})

	t.Run("does not retry 404", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := newTestClient(t, server)
		_, err := client.Web(context.Background(), WebParams{Query: "q"})
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

		var exhausted *retry.ExhaustedError
		require.ErrorAs(t, err, &exhausted)
	})
}

func TestClient_X(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"miner_tweets": []map[string]any{
				{"url": "https://x.com/u/status/1", "text": "a post", "username": "u"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	count := 20
	verified := true
	resp, err := client.X(context.Background(), XParams{
		Query:     "claim check",
		Count:     &count,
		Sort:      "Top",
		Lang:      "en",
		StartDate: "2026-01-01",
		Verified:  &verified,
	})
	require.NoError(t, err)

	assert.Equal(t, "/twitter", gotPath)
	assert.Equal(t, "claim check", gotBody["query"])
	assert.Equal(t, float64(20), gotBody["count"])
	assert.Equal(t, "Top", gotBody["sort"])
	assert.Equal(t, "en", gotBody["lang"])
	assert.Equal(t, "2026-01-01", gotBody["start_date"])
	assert.Equal(t, true, gotBody["verified"])
	_, hasQuote := gotBody["is_quote"]
	assert.False(t, hasQuote)

	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "https://x.com/u/status/1", resp.Entries[0].URL)
	assert.Equal(t, "a post", resp.Entries[0].Note)
	assert.Equal(t, "u", resp.Entries[0].Title)
}

func TestClient_AI(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"completion": "summary of findings",
			"web": []map[string]any{
				{"url": "https://example.com/1", "title": "one", "description": "d1"},
			},
			"reddit": []map[string]any{
				{"url": "https://reddit.com/r/x/2", "title": "two"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	count := 10
	resp, err := client.AI(context.Background(), AIParams{
		Prompt: "is the claim true",
		Tools:  []string{"web", "reddit"},
		Count:  &count,
	})
	require.NoError(t, err)

	assert.Equal(t, "is the claim true", gotBody["prompt"])
	assert.Equal(t, []any{"web", "reddit"}, gotBody["tools"])
	assert.Equal(t, false, gotBody["streaming"])

	// Referenceable entries come from every per-source section.
	require.Len(t, resp.Entries, 2)
	urls := []string{resp.Entries[0].URL, resp.Entries[1].URL}
	assert.Contains(t, urls, "https://example.com/1")
	assert.Contains(t, urls, "https://reddit.com/r/x/2")
}
