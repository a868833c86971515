// Package score implements the additive two-component scoring of an
// agent's answer against a claim's curated reference: half for matching
// the reference verdict, half for a justification the grader accepts.
package score

import (
	"context"
	"log/slog"

	"github.com/caster-net/caster/pkg/models"
)

// Component weights. Each contributes half of the maximum score.
const (
	verdictWeight = 0.5
	supportWeight = 0.5
)

// verdictDivergedRationale is recorded when the verdict component fails
// and the grader is skipped.
const verdictDivergedRationale = "verdict diverges from reference answer"

// GraderInput is everything the grader may consider. Citations are the
// hydrated ones, so their urls and notes carry canonical receipt values.
type GraderInput struct {
	ClaimText string
	Reference models.Reference
	Answer    models.AgentAnswer
}

// GraderVerdict is the grader's structured judgement.
type GraderVerdict struct {
	Rationale string `json:"rationale"`
	SupportOK bool   `json:"support_ok"`
}

// Grader judges whether the miner's justification supports the reference
// answer.
type Grader interface {
	Grade(ctx context.Context, input GraderInput) (GraderVerdict, error)
}

// Scorer combines the verdict and support components.
type Scorer struct {
	grader Grader
	logger *slog.Logger
}

// NewScorer creates a scorer backed by the given grader.
func NewScorer(grader Grader, logger *slog.Logger) *Scorer {
	return &Scorer{
		grader: grader,
		logger: logger.With("component", "scorer"),
	}
}

// Score evaluates the answer against the claim's reference.
//
// Flow:
// 1. Verdict component: 0.5 when the miner verdict equals the reference
//    verdict. On mismatch the grader is never called and the support
//    component is zero
// 2. Support component: 0.5 when the grader confirms the justification
//    supports the reference
//
// A grader failure zeroes the support component but keeps the verdict
// component; scoring itself never fails the evaluation.
func (s *Scorer) Score(ctx context.Context, claim *models.Claim, answer models.AgentAnswer) models.Score {
	if answer.Verdict != claim.Reference.Verdict {
		s.logger.Info("Verdict diverges from reference, skipping grader",
			"claim_id", claim.ID,
			"miner_verdict", answer.Verdict,
			"reference_verdict", claim.Reference.Verdict)
		return models.Score{
			Verdict:           0,
			Support:           0,
			JustificationPass: false,
			GraderRationale:   verdictDivergedRationale,
		}
	}

	verdict, err := s.grader.Grade(ctx, GraderInput{
		ClaimText: claim.Text,
		Reference: claim.Reference,
		Answer:    answer,
	})
	if err != nil {
		s.logger.Warn("Grader unavailable, support component scores zero",
			"claim_id", claim.ID,
			"error", err)
		return models.Score{
			Verdict:         verdictWeight,
			GraderRationale: "grader unavailable",
		}
	}

	result := models.Score{
		Verdict:           verdictWeight,
		JustificationPass: verdict.SupportOK,
		GraderRationale:   verdict.Rationale,
	}
	if verdict.SupportOK {
		result.Support = supportWeight
	}
	return result
}
