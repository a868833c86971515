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

// Signer signs an outbound platform request over its literal body bytes.
type Signer interface {
	SignRequest(req *http.Request, body []byte) error
}

// FeedConfig configures the feed search client.
type FeedConfig struct {
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy
}

// FeedClient searches the platform's claim feeds. Requests are signed when a
// signer is provided.
type FeedClient struct {
	httpClient *http.Client
	baseURL    string
	signer     Signer
	retry      retry.Policy
}

// NewFeedClient creates a feed search client. signer may be nil for unsigned
// deployments.
func NewFeedClient(cfg FeedConfig, signer Signer) (*FeedClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("feed base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &FeedClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		signer:     signer,
		retry:      policy,
	}, nil
}

// FeedSearchParams are the inputs of a feed item search.
type FeedSearchParams struct {
	FeedID        string
	EnqueueSeq    int64
	SearchQueries []string
	NumHit        int
}

// FeedItem is one item returned by the platform feed search.
type FeedItem struct {
	ItemID     string `json:"item_id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Summary    string `json:"summary,omitempty"`
	EnqueueSeq int64  `json:"enqueue_seq,omitempty"`
}

type feedSearchEnvelope struct {
	Items []FeedItem `json:"items"`
}

// SearchItems searches a feed for items enqueued at or before the given
// sequence. The platform bounds visibility to EnqueueSeq so evaluations only
// see what the claim's author could have seen.
func (c *FeedClient) SearchItems(ctx context.Context, p FeedSearchParams) (*Response, error) {
	body := map[string]any{
		"feed_id":        p.FeedID,
		"enqueue_seq":    p.EnqueueSeq,
		"search_queries": p.SearchQueries,
		"num_hit":        p.NumHit,
	}

	op := retry.Op[feedSearchEnvelope]{
		Call: func(ctx context.Context) (feedSearchEnvelope, error) {
			var envelope feedSearchEnvelope
			err := c.postJSON(ctx, "/v1/feeds/search", body, &envelope)
			return envelope, err
		},
	}
	envelope, _, err := retry.Run(ctx, c.retry, op)
	if err != nil {
		return nil, err
	}

	items := envelope.Items
	if p.NumHit > 0 && len(items) > p.NumHit {
		items = items[:p.NumHit]
	}

	results := make([]map[string]any, 0, len(items))
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		result := map[string]any{
			"item_id": item.ItemID,
			"url":     item.URL,
		}
		if item.Title != "" {
			result["title"] = item.Title
		}
		if item.Summary != "" {
			result["summary"] = item.Summary
		}
		if item.EnqueueSeq != 0 {
			result["enqueue_seq"] = item.EnqueueSeq
		}
		results = append(results, result)
		entries = append(entries, Entry{URL: item.URL, Title: item.Title, Note: item.Summary})
	}

	return &Response{
		Payload: map[string]any{"items": results},
		Entries: entries,
	}, nil
}

func (c *FeedClient) postJSON(ctx context.Context, path string, body map[string]any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode feed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		if err := c.signer.SignRequest(req, data); err != nil {
			return fmt.Errorf("sign feed request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feed service call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read feed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: compactBody(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode feed response: %w", err)
	}
	return nil
}
