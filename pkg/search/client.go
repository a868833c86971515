package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/caster-net/caster/pkg/retry"
)

// Entry is one referenceable result extracted from a provider payload.
// Entries back citation hydration, so the URL is mandatory.
type Entry struct {
	URL   string
	Title string
	Note  string
}

// Response bundles the raw payload recorded on the receipt with the
// referenceable entries extracted from it.
type Response struct {
	Payload any
	Entries []Entry
}

// Config configures the web/X/AI search client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   retry.Policy
}

// Client calls the search provider's web, X and AI endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	retry      retry.Policy
}

// New creates a search client for the configured provider.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("search base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		retry:      policy,
	}, nil
}

// WebParams are the web search inputs. Nil optionals are omitted from the
// provider request.
type WebParams struct {
	Query string
	Num   *int
	Start *int
}

// Web performs a web search.
func (c *Client) Web(ctx context.Context, p WebParams) (*Response, error) {
	body := map[string]any{"query": p.Query}
	if p.Num != nil {
		body["num"] = *p.Num
	}
	if p.Start != nil {
		body["start"] = *p.Start
	}
	return c.post(ctx, "/web", body)
}

// XParams are the X search inputs and filter knobs.
type XParams struct {
	Query        string
	Count        *int
	Lang         string
	Sort         string
	StartDate    string
	EndDate      string
	Verified     *bool
	BlueVerified *bool
	IsQuote      *bool
	IsVideo      *bool
	IsImage      *bool
}

// X performs an X (Twitter) search.
func (c *Client) X(ctx context.Context, p XParams) (*Response, error) {
	body := map[string]any{"query": p.Query}
	if p.Count != nil {
		body["count"] = *p.Count
	}
	if p.Lang != "" {
		body["lang"] = p.Lang
	}
	if p.Sort != "" {
		body["sort"] = p.Sort
	}
	if p.StartDate != "" {
		body["start_date"] = p.StartDate
	}
	if p.EndDate != "" {
		body["end_date"] = p.EndDate
	}
	setBool(body, "verified", p.Verified)
	setBool(body, "blue_verified", p.BlueVerified)
	setBool(body, "is_quote", p.IsQuote)
	setBool(body, "is_video", p.IsVideo)
	setBool(body, "is_image", p.IsImage)
	return c.post(ctx, "/twitter", body)
}

// AIParams are the AI search inputs.
type AIParams struct {
	Prompt        string
	Tools         []string
	Count         *int
	DateFilter    string
	ResultType    string
	SystemMessage string
}

// AI performs an AI-composed search across the selected sources.
func (c *Client) AI(ctx context.Context, p AIParams) (*Response, error) {
	body := map[string]any{
		"prompt":    p.Prompt,
		"tools":     p.Tools,
		"streaming": false,
	}
	if p.Count != nil {
		body["count"] = *p.Count
	}
	if p.DateFilter != "" {
		body["date_filter"] = p.DateFilter
	}
	if p.ResultType != "" {
		body["result_type"] = p.ResultType
	}
	if p.SystemMessage != "" {
		body["system_message"] = p.SystemMessage
	}
	return c.post(ctx, "/ai/search", body)
}

func setBool(body map[string]any, key string, v *bool) {
	if v != nil {
		body[key] = *v
	}
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (*Response, error) {
	op := retry.Op[any]{
		Call: func(ctx context.Context) (any, error) {
			return c.roundTrip(ctx, path, body)
		},
	}
	payload, _, err := retry.Run(ctx, c.retry, op)
	if err != nil {
		return nil, err
	}
	return &Response{Payload: payload, Entries: Extract(payload)}, nil
}

func (c *Client) roundTrip(ctx context.Context, path string, body map[string]any) (any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search provider call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Message:    compactBody(raw),
		}
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return payload, nil
}

// compactBody trims an error body to a loggable size.
func compactBody(raw []byte) string {
	const limit = 256
	s := string(bytes.TrimSpace(raw))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
