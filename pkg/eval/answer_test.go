package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/models"
)

func passFailRubric() *models.Rubric {
	return &models.Rubric{
		Title: "Truthfulness",
		VerdictOptions: []models.VerdictOption{
			{Value: -1, Label: "Fail"},
			{Value: 1, Label: "Pass"},
		},
	}
}

func TestParseAnswer(t *testing.T) {
	t.Run("full answer", func(t *testing.T) {
		answer, err := ParseAnswer(map[string]any{
			"verdict":       float64(1),
			"justification": "well supported",
			"citations": []any{
				map[string]any{"receipt_id": "r-1", "result_id": "res-1"},
				map[string]any{"receipt_id": "r-2", "result_id": "res-2", "url": "https://forged.example"},
			},
			"confidence": 0.9,
		}, passFailRubric())
		require.NoError(t, err)

		assert.Equal(t, 1, answer.Verdict)
		assert.Equal(t, "well supported", answer.Justification)
		require.Len(t, answer.Citations, 2)
		assert.Equal(t, "r-1", answer.Citations[0].ReceiptID)
		assert.Equal(t, "res-1", answer.Citations[0].ResultID)
		assert.Empty(t, answer.Citations[1].URL, "agent-supplied urls are discarded")
	})

	t.Run("citations optional", func(t *testing.T) {
		answer, err := ParseAnswer(map[string]any{
			"verdict":       -1,
			"justification": "no",
		}, passFailRubric())
		require.NoError(t, err)
		assert.Empty(t, answer.Citations)
	})

	tests := []struct {
		name    string
		raw     map[string]any
		wantErr string
	}{
		{
			name:    "nil document",
			raw:     nil,
			wantErr: "no answer document",
		},
		{
			name:    "missing verdict",
			raw:     map[string]any{"justification": "x"},
			wantErr: "missing verdict",
		},
		{
			name:    "fractional verdict",
			raw:     map[string]any{"verdict": 0.5, "justification": "x"},
			wantErr: "must be an integer",
		},
		{
			name:    "verdict outside rubric",
			raw:     map[string]any{"verdict": float64(2), "justification": "x"},
			wantErr: "not among the rubric's options",
		},
		{
			name:    "missing justification",
			raw:     map[string]any{"verdict": float64(1)},
			wantErr: "missing justification",
		},
		{
			name:    "justification wrong type",
			raw:     map[string]any{"verdict": float64(1), "justification": 7},
			wantErr: "must be a string",
		},
		{
			name:    "citations wrong type",
			raw:     map[string]any{"verdict": float64(1), "justification": "x", "citations": "r-1"},
			wantErr: "citations must be a list",
		},
		{
			name:    "citation not an object",
			raw:     map[string]any{"verdict": float64(1), "justification": "x", "citations": []any{"r-1"}},
			wantErr: "must be an object",
		},
		{
			name: "citation missing result id",
			raw: map[string]any{
				"verdict":       float64(1),
				"justification": "x",
				"citations":     []any{map[string]any{"receipt_id": "r-1"}},
			},
			wantErr: "missing result_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnswer(tt.raw, passFailRubric())
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
