package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/retry"
)

// ErrNotConfigured is returned when a nil client is asked to chat. A
// deployment without an llm endpoint still runs; only llm-backed features
// degrade.
var ErrNotConfigured = errors.New("llm endpoint is not configured")

// ChatAPI captures the subset of the go-openai client the runtime uses.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Config configures the chat client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   retry.Policy
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	chat    ChatAPI
	timeout time.Duration
	retry   retry.Policy
}

// New builds a client against the configured endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("llm base url is required")
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	apiCfg.HTTPClient = &http.Client{Timeout: timeout}

	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Client{
		chat:    openai.NewClientWithConfig(apiCfg),
		timeout: timeout,
		retry:   policy,
	}, nil
}

// NewWithChatAPI builds a client over an existing ChatAPI. Used by tests
// and by callers that manage their own transport.
func NewWithChatAPI(api ChatAPI, policy retry.Policy) *Client {
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Client{chat: api, timeout: 120 * time.Second, retry: policy}
}

// ChatResult bundles a chat response with its receipt payload and usage.
type ChatResult struct {
	Response openai.ChatCompletionResponse
	Payload  map[string]any
	Usage    models.LLMCallUsage
}

// Chat performs one chat completion through the retry runner. The model must
// already be validated against the allow-list; unknown models fail upstream
// with a fatal status.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	request, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	op := retry.Op[openai.ChatCompletionResponse]{
		Call: func(ctx context.Context) (openai.ChatCompletionResponse, error) {
			resp, err := c.chat.CreateChatCompletion(ctx, request)
			if err != nil {
				return resp, classifyAPIError(err)
			}
			return resp, nil
		},
		Verify: VerifyChatResponse,
		Usage:  UsageOf,
	}

	resp, usage, err := retry.Run(ctx, c.retry, op)
	if err != nil {
		return nil, err
	}
	return &ChatResult{
		Response: resp,
		Payload:  ResponsePayload(resp),
		Usage:    usage,
	}, nil
}

func (c *Client) buildRequest(req ChatRequest) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	request := openai.ChatCompletionRequest{
		Model:           req.Model,
		Messages:        messages,
		ReasoningEffort: req.ReasoningEffort,
	}
	if req.Temperature != nil {
		request.Temperature = *req.Temperature
	}
	if req.MaxOutputTokens != nil {
		request.MaxCompletionTokens = *req.MaxOutputTokens
	}
	if len(req.Tools) > 0 {
		tools, err := decodeTools(req.Tools)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		request.Tools = tools
	}
	if req.ToolChoice != nil {
		request.ToolChoice = req.ToolChoice
	}
	return request, nil
}

// decodeTools re-marshals caller-supplied tool definitions into the
// provider wire shape.
func decodeTools(raw []any) ([]openai.Tool, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid tool definitions: %w", err)
	}
	var tools []openai.Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("invalid tool definitions: %w", err)
	}
	return tools, nil
}

// classifyAPIError converts go-openai errors into HTTPStatusError so the
// retry classifier sees the upstream status code.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &retry.HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &retry.HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}

// VerifyChatResponse asserts the response is usable: at least one choice,
// an accepted finish reason, and either text content or tool calls.
func VerifyChatResponse(resp openai.ChatCompletionResponse) retry.Check {
	if len(resp.Choices) == 0 {
		return retry.Fail(true, "no choices in response")
	}
	choice := resp.Choices[0]
	switch choice.FinishReason {
	case openai.FinishReasonStop, openai.FinishReasonToolCalls, "":
	default:
		return retry.Fail(true, fmt.Sprintf("finish_reason %q", choice.FinishReason))
	}
	if choice.Message.Content == "" && len(choice.Message.ToolCalls) == 0 {
		return retry.Fail(true, "response has neither text nor tool calls")
	}
	return retry.Pass()
}

// UsageOf extracts token usage from a response, including reasoning tokens
// when the provider reports them.
func UsageOf(resp openai.ChatCompletionResponse) models.LLMCallUsage {
	u := models.LLMCallUsage{
		PromptTokens:     int64(resp.Usage.PromptTokens),
		CompletionTokens: int64(resp.Usage.CompletionTokens),
		TotalTokens:      int64(resp.Usage.TotalTokens),
	}
	if resp.Usage.CompletionTokensDetails != nil {
		u.ReasoningTokens = int64(resp.Usage.CompletionTokensDetails.ReasoningTokens)
	}
	return u
}

// ResponsePayload converts a response into the JSON-safe shape recorded on
// receipts and returned to agents.
func ResponsePayload(resp openai.ChatCompletionResponse) map[string]any {
	choices := make([]any, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		msg := map[string]any{
			"role":    choice.Message.Role,
			"content": choice.Message.Content,
		}
		if choice.Message.ReasoningContent != "" {
			msg["reasoning"] = choice.Message.ReasoningContent
		}
		if len(choice.Message.ToolCalls) > 0 {
			calls := make([]any, 0, len(choice.Message.ToolCalls))
			for _, call := range choice.Message.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   call.ID,
					"type": string(call.Type),
					"function": map[string]any{
						"name":      call.Function.Name,
						"arguments": call.Function.Arguments,
					},
				})
			}
			msg["tool_calls"] = calls
		}
		choices = append(choices, map[string]any{
			"index":         choice.Index,
			"finish_reason": string(choice.FinishReason),
			"message":       msg,
		})
	}

	usage := map[string]any{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	}
	if resp.Usage.CompletionTokensDetails != nil {
		usage["reasoning_tokens"] = resp.Usage.CompletionTokensDetails.ReasoningTokens
	}

	return map[string]any{
		"id":      resp.ID,
		"model":   resp.Model,
		"created": resp.Created,
		"choices": choices,
		"usage":   usage,
	}
}
