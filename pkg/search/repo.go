package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/caster-net/caster/pkg/retry"
)

// excerptLimit caps each excerpt delivered to agents.
const excerptLimit = 1000

// RepoConfig configures the repository search client.
type RepoConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   retry.Policy
}

// RepoClient calls the platform's repository search service.
type RepoClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	retry      retry.Policy
}

// NewRepoClient creates a repository search client.
func NewRepoClient(cfg RepoConfig) (*RepoClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("repo search base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &RepoClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		retry:      policy,
	}, nil
}

// RepoSearchParams are the inputs of a repository text search.
type RepoSearchParams struct {
	RepoURL   string
	CommitSHA string
	Query     string
	PathGlob  string
	Limit     *int
}

// RepoHit is one match returned by the repository search service.
type RepoHit struct {
	Path      string   `json:"path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Excerpt   string   `json:"excerpt"`
	BM25      *float64 `json:"bm25,omitempty"`
	URL       string   `json:"url,omitempty"`
}

type repoSearchEnvelope struct {
	Results []RepoHit `json:"results"`
}

// Search runs a text query against a repository at a pinned commit. Hits are
// ordered by (bm25 ascending, null sorted last, then path ascending) and
// excerpts are truncated, so agents see a stable view regardless of the
// service's own ordering.
func (c *RepoClient) Search(ctx context.Context, p RepoSearchParams) (*Response, error) {
	body := map[string]any{
		"repo_url":   p.RepoURL,
		"commit_sha": p.CommitSHA,
		"query":      p.Query,
	}
	if p.PathGlob != "" {
		body["path_glob"] = p.PathGlob
	}
	if p.Limit != nil {
		body["limit"] = *p.Limit
	}

	op := retry.Op[repoSearchEnvelope]{
		Call: func(ctx context.Context) (repoSearchEnvelope, error) {
			var envelope repoSearchEnvelope
			err := c.postJSON(ctx, "/repo/search", body, &envelope)
			return envelope, err
		},
	}
	envelope, _, err := retry.Run(ctx, c.retry, op)
	if err != nil {
		return nil, err
	}

	hits := envelope.Results
	sortRepoHits(hits)

	results := make([]map[string]any, 0, len(hits))
	entries := make([]Entry, 0, len(hits))
	for i := range hits {
		hit := &hits[i]
		hit.Excerpt = truncate(hit.Excerpt, excerptLimit)
		if hit.URL == "" {
			hit.URL = blobURL(p.RepoURL, p.CommitSHA, hit.Path, hit.StartLine, hit.EndLine)
		}
		entry := map[string]any{
			"path":       hit.Path,
			"start_line": hit.StartLine,
			"end_line":   hit.EndLine,
			"excerpt":    hit.Excerpt,
			"url":        hit.URL,
		}
		if hit.BM25 != nil {
			entry["bm25"] = *hit.BM25
		}
		results = append(results, entry)
		entries = append(entries, Entry{URL: hit.URL, Title: hit.Path, Note: hit.Excerpt})
	}

	return &Response{
		Payload: map[string]any{"results": results},
		Entries: entries,
	}, nil
}

// RepoFileParams are the inputs of a repository file fetch.
type RepoFileParams struct {
	RepoURL   string
	CommitSHA string
	Path      string
	StartLine *int
	EndLine   *int
}

type repoFileEnvelope struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	URL     string `json:"url,omitempty"`
}

// File fetches a file (or line slice) from a repository at a pinned commit.
func (c *RepoClient) File(ctx context.Context, p RepoFileParams) (*Response, error) {
	body := map[string]any{
		"repo_url":   p.RepoURL,
		"commit_sha": p.CommitSHA,
		"path":       p.Path,
	}
	start, end := 0, 0
	if p.StartLine != nil {
		start = *p.StartLine
		body["start_line"] = start
	}
	if p.EndLine != nil {
		end = *p.EndLine
		body["end_line"] = end
	}

	op := retry.Op[repoFileEnvelope]{
		Call: func(ctx context.Context) (repoFileEnvelope, error) {
			var envelope repoFileEnvelope
			err := c.postJSON(ctx, "/repo/file", body, &envelope)
			return envelope, err
		},
	}
	envelope, _, err := retry.Run(ctx, c.retry, op)
	if err != nil {
		return nil, err
	}

	path := envelope.Path
	if path == "" {
		path = p.Path
	}
	url := envelope.URL
	if url == "" {
		url = blobURL(p.RepoURL, p.CommitSHA, path, start, end)
	}

	return &Response{
		Payload: map[string]any{
			"path":    path,
			"content": envelope.Content,
			"url":     url,
		},
		Entries: []Entry{{URL: url, Title: path, Note: truncate(envelope.Content, excerptLimit)}},
	}, nil
}

func (c *RepoClient) postJSON(ctx context.Context, path string, body map[string]any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode repo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("repo service call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read repo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: compactBody(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode repo response: %w", err)
	}
	return nil
}

// sortRepoHits orders hits by bm25 ascending with missing scores last, then
// path ascending.
func sortRepoHits(hits []RepoHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		switch {
		case a.BM25 != nil && b.BM25 != nil && *a.BM25 != *b.BM25:
			return *a.BM25 < *b.BM25
		case a.BM25 != nil && b.BM25 == nil:
			return true
		case a.BM25 == nil && b.BM25 != nil:
			return false
		}
		return a.Path < b.Path
	})
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// blobURL builds a stable browse URL for a file slice when the service does
// not provide one.
func blobURL(repoURL, commitSHA, path string, startLine, endLine int) string {
	base := fmt.Sprintf("%s/blob/%s/%s", strings.TrimSuffix(repoURL, "/"), commitSHA, path)
	switch {
	case startLine > 0 && endLine > startLine:
		return fmt.Sprintf("%s#L%d-L%d", base, startLine, endLine)
	case startLine > 0:
		return fmt.Sprintf("%s#L%d", base, startLine)
	}
	return base
}
