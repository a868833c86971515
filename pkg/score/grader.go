package score

import (
	"context"
	"fmt"
	"strings"

	"github.com/caster-net/caster/pkg/llm"
)

// defaultGraderModel is used when no grader model is configured. Grading
// rides the larger model; its cost is the validator's, not the session's.
const defaultGraderModel = "openai/gpt-oss-120b"

// graderMaxTokens bounds the grader's response. A rationale plus the
// boolean fits comfortably.
const graderMaxTokens = 1024

const graderSystemPrompt = `You are a strict grader for claim evaluations.
You receive a claim, a reference answer, and a miner's answer that reached the same verdict.
Decide whether the miner's justification genuinely supports that verdict: the miner must identify similar key facts and reach consistent conclusions without contradicting the reference reasoning.
Use only the provided text. Do not reward verbosity, unsupported assertions, or citations that do not back the stated facts.
Respond with a single JSON object: {"rationale": "<one short paragraph>", "support_ok": <true or false>}.`

// LLMGrader grades through the chat client with a structured-JSON
// postprocess, so malformed grader output is retried like any other
// unusable response.
type LLMGrader struct {
	client *llm.Client
	model  string
}

var _ Grader = (*LLMGrader)(nil)

// NewLLMGrader creates a grader on the given client. An empty model falls
// back to defaultGraderModel.
func NewLLMGrader(client *llm.Client, model string) *LLMGrader {
	if model == "" {
		model = defaultGraderModel
	}
	return &LLMGrader{client: client, model: model}
}

// Grade asks the grader model for a support judgement.
func (g *LLMGrader) Grade(ctx context.Context, input GraderInput) (GraderVerdict, error) {
	temperature := float32(0)
	maxTokens := graderMaxTokens

	result, err := llm.Structured[GraderVerdict](ctx, g.client, llm.ChatRequest{
		Model: g.model,
		Messages: []llm.Message{
			{Role: "system", Content: graderSystemPrompt},
			{Role: "user", Content: graderUserPrompt(input)},
		},
		Temperature:     &temperature,
		MaxOutputTokens: &maxTokens,
	})
	if err != nil {
		return GraderVerdict{}, fmt.Errorf("grader call failed: %w", err)
	}
	return result.Value, nil
}

// graderUserPrompt lays out the claim, the reference, and the miner's
// answer in labelled sections.
func graderUserPrompt(input GraderInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CLAIM:\n%s\n\n", input.ClaimText)
	fmt.Fprintf(&b, "REFERENCE VERDICT: %d\n", input.Reference.Verdict)
	fmt.Fprintf(&b, "REFERENCE JUSTIFICATION:\n%s\n\n", input.Reference.Justification)
	fmt.Fprintf(&b, "MINER VERDICT: %d\n", input.Answer.Verdict)
	fmt.Fprintf(&b, "MINER JUSTIFICATION:\n%s\n", input.Answer.Justification)

	if len(input.Answer.Citations) > 0 {
		b.WriteString("\nMINER CITATIONS:\n")
		for i, c := range input.Answer.Citations {
			fmt.Fprintf(&b, "%d. url=%s", i+1, c.URL)
			if c.Note != "" {
				fmt.Fprintf(&b, " note=%s", c.Note)
			}
			fmt.Fprintf(&b, " receipt_id=%s\n", c.ReceiptID)
		}
	}
	return b.String()
}
