// Package platform implements the signed HTTP client for the validator's
// platform: artifact download and batch-result submission. Every outbound
// request is signed with the validator's sr25519 keypair under the same
// canonical-string scheme the inbound verifier enforces.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caster-net/caster/pkg/artifact"
	"github.com/caster-net/caster/pkg/auth"
	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/retry"
)

var _ artifact.Fetcher = (*Client)(nil)

// maxArtifactBytes caps how much of an artifact response is read. Artifacts
// above this are misconfigured uploads, not agents.
const maxArtifactBytes = 256 << 20

// Config holds the platform client configuration.
type Config struct {
	// BaseURL is the platform API root, e.g. "https://platform.example.net".
	BaseURL string
	// Timeout bounds each HTTP attempt. Defaults to 60s.
	Timeout time.Duration
	// Retry overrides the default backoff policy when MaxAttempts > 0.
	Retry retry.Policy
}

// Client calls the platform API with signed requests.
type Client struct {
	baseURL    string
	keypair    *auth.Keypair
	policy     retry.Policy
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a platform client signing with the given keypair.
func NewClient(cfg Config, keypair *auth.Keypair, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		keypair:    keypair,
		policy:     policy,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "platform_client"),
	}
}

// FetchArtifact downloads the raw bytes of one agent artifact. Retryable
// upstream failures (5xx, 429, transport) are retried under the policy;
// a 404 is fatal immediately.
func (c *Client) FetchArtifact(ctx context.Context, artifactID string) ([]byte, error) {
	path := "/v1/artifacts/" + url.PathEscape(artifactID)

	data, _, err := retry.Run(ctx, c.policy, retry.Op[[]byte]{
		Call: func(ctx context.Context) ([]byte, error) {
			return c.get(ctx, path)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", artifactID, err)
	}

	c.logger.Debug("Artifact fetched", "artifact_id", artifactID, "bytes", len(data))
	return data, nil
}

// SubmitBatchResult posts the completed batch's outcomes back to the
// platform.
func (c *Client) SubmitBatchResult(ctx context.Context, result *models.BatchResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode batch result: %w", err)
	}
	path := "/v1/batches/" + url.PathEscape(result.BatchID) + "/result"

	_, _, err = retry.Run(ctx, c.policy, retry.Op[struct{}]{
		Call: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.post(ctx, path, body)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to submit result for batch %s: %w", result.BatchID, err)
	}

	c.logger.Info("Batch result submitted",
		"batch_id", result.BatchID, "evaluations", len(result.Evaluations))
	return nil
}

// get performs one signed GET attempt and returns the response body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.keypair.SignRequest(req, nil); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: errorBody(data)}
	}
	if len(data) > maxArtifactBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxArtifactBytes)
	}
	return data, nil
}

// post performs one signed POST attempt with a JSON body.
func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.keypair.SignRequest(req, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: errorBody(data)}
	}
	return nil
}

// errorBody condenses an upstream error payload for the status error.
func errorBody(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
