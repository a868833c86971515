package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCallTimeout = 150 * time.Second

// Toolbox proxies tool calls to the host dispatcher. The worker builds one
// per entrypoint invocation from the forwarded session headers.
type Toolbox struct {
	hostURL    string
	sessionID  string
	token      string
	httpClient *http.Client
}

// NewToolbox creates a toolbox bound to one session. hostURL is the host
// container URL forwarded by the invoker.
func NewToolbox(hostURL, sessionID, token string) *Toolbox {
	return &Toolbox{
		hostURL:    strings.TrimRight(hostURL, "/"),
		sessionID:  sessionID,
		token:      token,
		httpClient: &http.Client{Timeout: defaultCallTimeout},
	}
}

// SessionID returns the session this toolbox is bound to.
func (t *Toolbox) SessionID() string { return t.sessionID }

// Invoke executes one tool call through the host dispatcher. Non-200
// responses return a *ToolError with the sanitized message.
func (t *Toolbox) Invoke(ctx context.Context, tool string, args []any, kwargs map[string]any) (*ToolResponse, error) {
	body, err := json.Marshal(map[string]any{
		"session_id": t.sessionID,
		"token":      t.token,
		"tool":       tool,
		"args":       args,
		"kwargs":     kwargs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool request: %w", err)
	}

	url := t.hostURL + "/v1/tools/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, t.token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool call transport failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ToolError{StatusCode: resp.StatusCode, Message: publicError(raw)}
	}

	var result ToolResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool response: %w", err)
	}
	return &result, nil
}

// publicError extracts the sanitized {"error": ...} body, falling back to
// the raw text.
func publicError(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// ────────────────────────────────────────────────────────────
// Typed helpers
// ────────────────────────────────────────────────────────────

// TestTool echoes a message without spending budget.
func (t *Toolbox) TestTool(ctx context.Context, message string) (*ToolResponse, error) {
	return t.Invoke(ctx, "test_tool", nil, map[string]any{"message": message})
}

// ToolingInfo describes the catalog, allowed models, and runtime version.
func (t *Toolbox) ToolingInfo(ctx context.Context) (*ToolResponse, error) {
	return t.Invoke(ctx, "tooling_info", nil, nil)
}

// SearchWeb runs a web search. opts may carry "num" and "start".
func (t *Toolbox) SearchWeb(ctx context.Context, query string, opts map[string]any) (*ToolResponse, error) {
	return t.Invoke(ctx, "search_web", nil, withOpts(map[string]any{"query": query}, opts))
}

// SearchX searches X posts. opts may carry count, lang, sort, date bounds,
// and the boolean filters.
func (t *Toolbox) SearchX(ctx context.Context, query string, opts map[string]any) (*ToolResponse, error) {
	return t.Invoke(ctx, "search_x", nil, withOpts(map[string]any{"query": query}, opts))
}

// SearchAI runs an AI-assisted search over the named sources.
func (t *Toolbox) SearchAI(ctx context.Context, prompt string, sources []string, opts map[string]any) (*ToolResponse, error) {
	tools := make([]any, 0, len(sources))
	for _, s := range sources {
		tools = append(tools, s)
	}
	return t.Invoke(ctx, "search_ai", nil, withOpts(map[string]any{"prompt": prompt, "tools": tools}, opts))
}

// LLMChat runs a chat completion against an allow-listed model. messages are
// {"role", "content"} maps; opts may carry temperature, max_output_tokens,
// tools, tool_choice, include, reasoning_effort.
func (t *Toolbox) LLMChat(ctx context.Context, model string, messages []map[string]any, opts map[string]any) (*ToolResponse, error) {
	msgs := make([]any, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, m)
	}
	return t.Invoke(ctx, "llm_chat", nil, withOpts(map[string]any{"model": model, "messages": msgs}, opts))
}

// SearchRepo searches a pinned repository snapshot. opts may carry
// "path_glob" and "limit".
func (t *Toolbox) SearchRepo(ctx context.Context, repoURL, commitSHA, query string, opts map[string]any) (*ToolResponse, error) {
	kwargs := map[string]any{"repo_url": repoURL, "commit_sha": commitSHA, "query": query}
	return t.Invoke(ctx, "search_repo", nil, withOpts(kwargs, opts))
}

// GetRepoFile fetches file content from a pinned repository snapshot. opts
// may carry "start_line" and "end_line".
func (t *Toolbox) GetRepoFile(ctx context.Context, repoURL, commitSHA, path string, opts map[string]any) (*ToolResponse, error) {
	kwargs := map[string]any{"repo_url": repoURL, "commit_sha": commitSHA, "path": path}
	return t.Invoke(ctx, "get_repo_file", nil, withOpts(kwargs, opts))
}

// SearchItems searches platform feed items scoped to the claim's feed.
func (t *Toolbox) SearchItems(ctx context.Context, feedID string, enqueueSeq int64, queries []string, numHit int) (*ToolResponse, error) {
	qs := make([]any, 0, len(queries))
	for _, q := range queries {
		qs = append(qs, q)
	}
	return t.Invoke(ctx, "search_items", nil, map[string]any{
		"feed_id":        feedID,
		"enqueue_seq":    enqueueSeq,
		"search_queries": qs,
		"num_hit":        numHit,
	})
}

func withOpts(kwargs, opts map[string]any) map[string]any {
	for k, v := range opts {
		kwargs[k] = v
	}
	return kwargs
}
