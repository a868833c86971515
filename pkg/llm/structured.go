package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	openai "github.com/sashabaranov/go-openai"

	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/retry"
)

// StructuredResult bundles a decoded value with the raw response that
// produced it.
type StructuredResult[T any] struct {
	Value    T
	Response openai.ChatCompletionResponse
	Payload  map[string]any
	Usage    models.LLMCallUsage
}

type structuredAttempt[T any] struct {
	resp  openai.ChatCompletionResponse
	value T
}

// Structured performs a chat completion and decodes the first choice's text
// content into T. A malformed body is repaired once before the attempt is
// declared failed; unrecoverable bodies count as retryable attempts so the
// model gets another chance to produce valid JSON.
func Structured[T any](ctx context.Context, c *Client, req ChatRequest) (*StructuredResult[T], error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	request, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	op := retry.Op[structuredAttempt[T]]{
		Call: func(ctx context.Context) (structuredAttempt[T], error) {
			resp, err := c.chat.CreateChatCompletion(ctx, request)
			if err != nil {
				return structuredAttempt[T]{}, classifyAPIError(err)
			}
			return structuredAttempt[T]{resp: resp}, nil
		},
		Verify: func(a structuredAttempt[T]) retry.Check {
			return VerifyChatResponse(a.resp)
		},
		Postprocess: func(a structuredAttempt[T]) (structuredAttempt[T], retry.Check) {
			value, err := DecodeJSON[T](a.resp.Choices[0].Message.Content)
			if err != nil {
				return a, retry.Fail(true, err.Error())
			}
			a.value = value
			return a, retry.Pass()
		},
		Usage: func(a structuredAttempt[T]) models.LLMCallUsage {
			return UsageOf(a.resp)
		},
	}

	attempt, usage, err := retry.Run(ctx, c.retry, op)
	if err != nil {
		return nil, err
	}
	return &StructuredResult[T]{
		Value:    attempt.value,
		Response: attempt.resp,
		Payload:  ResponsePayload(attempt.resp),
		Usage:    usage,
	}, nil
}

// DecodeJSON parses model output into T. Markdown fences are stripped and a
// repair pass fixes truncated or sloppy JSON before giving up.
func DecodeJSON[T any](content string) (T, error) {
	var out T
	text := StripFences(content)
	if text == "" {
		return out, fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}
	fixed, repairErr := jsonrepair.JSONRepair(text)
	if repairErr != nil {
		return out, fmt.Errorf("invalid JSON in response: %w", repairErr)
	}
	if err := json.Unmarshal([]byte(fixed), &out); err != nil {
		return out, fmt.Errorf("invalid JSON in response: %w", err)
	}
	return out, nil
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, and trims whitespace.
func StripFences(content string) string {
	text := strings.TrimSpace(content)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		first := strings.TrimSpace(text[:idx])
		if first == "" || isFenceTag(first) {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
