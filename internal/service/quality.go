package service

import (
	"fmt"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

// QualityGate maps retrieval scores to confidence tiers.
type QualityGate struct {
	MinScore       float64
	GoodScore      float64
	ExcellentScore float64
}

// NewQualityGate builds a gate from the engine thresholds.
func NewQualityGate(opts EngineOptions) QualityGate {
	opts = opts.withDefaults()
	return QualityGate{
		MinScore:       opts.MinScore,
		GoodScore:      opts.QualityThreshold,
		ExcellentScore: opts.ExcellentThreshold,
	}
}

// Assessment is the gate's decision for one retrieval outcome.
type Assessment struct {
	Tier       domain.ConfidenceTier
	BestScore  float64
	UsePrimary bool
	// Gap is set when retrieval returned nothing at all.
	Gap bool
	// Partial marks fair-tier answers that only partly cover the question.
	Partial    bool
	Disclaimer string
	// Usable holds the results at or above MinScore, best first.
	Usable []domain.RetrievalResult
}

// Tier grades a single score.
func (g QualityGate) Tier(score float64) domain.ConfidenceTier {
	switch {
	case score >= g.ExcellentScore:
		return domain.TierExcellent
	case score >= g.GoodScore:
		return domain.TierGood
	case score >= g.MinScore:
		return domain.TierFair
	default:
		return domain.TierLow
	}
}

// Assess grades results, which must be sorted best first.
func (g QualityGate) Assess(results []domain.RetrievalResult) Assessment {
	if len(results) == 0 {
		return Assessment{
			Tier:       domain.TierLow,
			Gap:        true,
			Disclaimer: gapDisclaimer,
		}
	}

	best := results[0].Score
	a := Assessment{Tier: g.Tier(best), BestScore: best}
	for _, r := range results {
		if r.Score >= g.MinScore {
			a.Usable = append(a.Usable, r)
		}
	}

	switch a.Tier {
	case domain.TierExcellent, domain.TierGood:
		a.UsePrimary = true
	case domain.TierFair:
		a.UsePrimary = true
		a.Partial = true
	default:
		a.Disclaimer = fmt.Sprintf(lowConfidenceDisclaimer, best)
	}
	return a
}

const (
	lowConfidenceDisclaimer = "**Low confidence / general knowledge:** no document in the knowledge base matched this question closely (best score %.2f). The answer below is general guidance, not documented policy."
	gapDisclaimer           = "**Low confidence / general knowledge:** this topic was not found in knowledge base, consider uploading more documents."
	generalDisclaimer       = "**General knowledge:** this question is outside the documentation this assistant covers."
)
