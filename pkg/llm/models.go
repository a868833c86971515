// Package llm provides the OpenAI-compatible chat client used for agent
// llm_chat calls and for the scoring grader. Calls are routed through the
// retry runner with response verification and usage extraction.
package llm

import "strings"

// AllowedModels is the closed set of model refs agents may request.
var AllowedModels = []string{
	"openai/gpt-oss-20b",
	"openai/gpt-oss-120b",
}

// ModelAllowed reports whether the model ref is on the allow-list.
func ModelAllowed(model string) bool {
	for _, m := range AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// ProviderOf extracts the provider prefix of a model ref, e.g.
// "openai/gpt-oss-20b" → "openai". Refs without a prefix map to "llm".
func ProviderOf(model string) string {
	if i := strings.IndexByte(model, '/'); i > 0 {
		return model[:i]
	}
	return "llm"
}

// Message roles accepted for chat requests.
var AllowedRoles = []string{"system", "user", "assistant", "tool"}

// RoleAllowed reports whether the role is valid for a chat message.
func RoleAllowed(role string) bool {
	for _, r := range AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat completion request. Tools and
// ToolChoice are forwarded verbatim in the provider's wire shape.
type ChatRequest struct {
	Model           string
	Messages        []Message
	Temperature     *float32
	MaxOutputTokens *int
	Tools           []any
	ToolChoice      any
	ReasoningEffort string
}
