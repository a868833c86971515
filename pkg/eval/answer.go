package eval

import (
	"fmt"
	"math"

	"github.com/caster-net/caster/pkg/models"
)

// ParseAnswer validates the agent's final response document. The verdict
// must be an integer drawn from the rubric's options, the justification a
// string, and citations (when present) a list of {receipt_id, result_id}
// string pairs. Extra keys are ignored; any url, note, or title the agent
// attaches to a citation is discarded, and hydration restores the canonical
// values from the receipt.
func ParseAnswer(raw map[string]any, rubric *models.Rubric) (models.AgentAnswer, error) {
	var answer models.AgentAnswer
	if raw == nil {
		return answer, fmt.Errorf("agent returned no answer document")
	}

	verdictRaw, ok := raw["verdict"]
	if !ok {
		return answer, fmt.Errorf("answer missing verdict")
	}
	verdict, ok := intValue(verdictRaw)
	if !ok {
		return answer, fmt.Errorf("verdict must be an integer, got %T", verdictRaw)
	}
	if !rubric.HasVerdict(verdict) {
		return answer, fmt.Errorf("verdict %d is not among the rubric's options", verdict)
	}
	answer.Verdict = verdict

	justRaw, ok := raw["justification"]
	if !ok {
		return answer, fmt.Errorf("answer missing justification")
	}
	justification, ok := justRaw.(string)
	if !ok {
		return answer, fmt.Errorf("justification must be a string, got %T", justRaw)
	}
	answer.Justification = justification

	citesRaw, ok := raw["citations"]
	if !ok || citesRaw == nil {
		return answer, nil
	}
	list, ok := citesRaw.([]any)
	if !ok {
		return answer, fmt.Errorf("citations must be a list, got %T", citesRaw)
	}
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return answer, fmt.Errorf("citation %d must be an object, got %T", i, item)
		}
		receiptID, ok := entry["receipt_id"].(string)
		if !ok || receiptID == "" {
			return answer, fmt.Errorf("citation %d missing receipt_id", i)
		}
		resultID, ok := entry["result_id"].(string)
		if !ok || resultID == "" {
			return answer, fmt.Errorf("citation %d missing result_id", i)
		}
		answer.Citations = append(answer.Citations, models.Citation{
			ReceiptID: receiptID,
			ResultID:  resultID,
		})
	}
	return answer, nil
}

// intValue accepts the integer encodings JSON decoding produces.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if math.Trunc(n) != n {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
