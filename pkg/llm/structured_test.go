package llm

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/retry"
)

type graderVerdict struct {
	Pass      bool   `json:"pass"`
	Rationale string `json:"rationale"`
}

func TestStructured_ValidJSON(t *testing.T) {
	api := &fakeChatAPI{responses: []openai.ChatCompletionResponse{
		textResponse(`{"pass": true, "rationale": "citations support the verdict"}`, 30, 12, 0),
	}}
	client := NewWithChatAPI(api, testPolicy())

	result, err := Structured[graderVerdict](context.Background(), client, ChatRequest{
		Model:    "openai/gpt-oss-120b",
		Messages: []Message{{Role: "user", Content: "grade this"}},
	})
	require.NoError(t, err)
	assert.True(t, result.Value.Pass)
	assert.Equal(t, "citations support the verdict", result.Value.Rationale)
	assert.Equal(t, int64(30), result.Usage.PromptTokens)
}

func TestStructured_FencedJSON(t *testing.T) {
	body := "```json\n{\"pass\": false, \"rationale\": \"no citations\"}\n```"
	api := &fakeChatAPI{responses: []openai.ChatCompletionResponse{
		textResponse(body, 10, 8, 0),
	}}
	client := NewWithChatAPI(api, testPolicy())

	result, err := Structured[graderVerdict](context.Background(), client, ChatRequest{
		Model:    "openai/gpt-oss-120b",
		Messages: []Message{{Role: "user", Content: "grade this"}},
	})
	require.NoError(t, err)
	assert.False(t, result.Value.Pass)
	assert.Equal(t, "no citations", result.Value.Rationale)
}

func TestStructured_RepairsSloppyJSON(t *testing.T) {
	// Trailing comma and single quotes: repairable, no extra attempt spent.
	api := &fakeChatAPI{responses: []openai.ChatCompletionResponse{
		textResponse(`{'pass': true, 'rationale': 'ok',}`, 5, 5, 0),
	}}
	client := NewWithChatAPI(api, testPolicy())

	result, err := Structured[graderVerdict](context.Background(), client, ChatRequest{
		Model:    "openai/gpt-oss-120b",
		Messages: []Message{{Role: "user", Content: "grade this"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls)
	assert.True(t, result.Value.Pass)
}

func TestStructured_RetriesOnGarbage(t *testing.T) {
	api := &fakeChatAPI{responses: []openai.ChatCompletionResponse{
		textResponse("I cannot answer that.", 20, 10, 0),
		textResponse(`{"pass": true, "rationale": "r"}`, 20, 11, 0),
	}}
	client := NewWithChatAPI(api, testPolicy())

	result, err := Structured[graderVerdict](context.Background(), client, ChatRequest{
		Model:    "openai/gpt-oss-120b",
		Messages: []Message{{Role: "user", Content: "grade this"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls)

	// Both attempts bill tokens.
	assert.Equal(t, int64(40), result.Usage.PromptTokens)
	assert.Equal(t, int64(21), result.Usage.CompletionTokens)
	assert.True(t, result.Value.Pass)
}

func TestStructured_ExhaustsOnPersistentGarbage(t *testing.T) {
	garbage := textResponse("not json at all, sorry", 1, 1, 0)
	api := &fakeChatAPI{responses: []openai.ChatCompletionResponse{garbage, garbage, garbage}}
	client := NewWithChatAPI(api, testPolicy())

	_, err := Structured[graderVerdict](context.Background(), client, ChatRequest{
		Model:    "openai/gpt-oss-120b",
		Messages: []Message{{Role: "user", Content: "grade this"}},
	})
	require.Error(t, err)
	assert.Equal(t, 3, api.calls)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    graderVerdict
		wantErr bool
	}{
		{
			name:    "plain object",
			content: `{"pass": true, "rationale": "r"}`,
			want:    graderVerdict{Pass: true, Rationale: "r"},
		},
		{
			name:    "fenced with tag",
			content: "```json\n{\"pass\": true, \"rationale\": \"r\"}\n```",
			want:    graderVerdict{Pass: true, Rationale: "r"},
		},
		{
			name:    "fenced without tag",
			content: "```\n{\"pass\": false, \"rationale\": \"r\"}\n```",
			want:    graderVerdict{Pass: false, Rationale: "r"},
		},
		{
			name:    "repairable truncation",
			content: `{"pass": true, "rationale": "cut off`,
			want:    graderVerdict{Pass: true, Rationale: "cut off"},
		},
		{
			name:    "empty",
			content: "   ",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJSON[graderVerdict](tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`  {"a":1}  `))
	assert.Equal(t, "plain text", StripFences("plain text"))
}
