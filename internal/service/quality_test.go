package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

func scored(id string, score float64) domain.RetrievalResult {
	return domain.RetrievalResult{
		Chunk:  domain.Chunk{ID: id, SourceID: "src-" + id, Title: "Title " + id, Text: "Text for " + id + "."},
		Score:  score,
		Method: domain.RetrievalMethodVector,
	}
}

func TestQualityGate_Tier(t *testing.T) {
	g := NewQualityGate(DefaultEngineOptions())

	tests := []struct {
		score float64
		want  domain.ConfidenceTier
	}{
		{0.9, domain.TierExcellent},
		{0.5, domain.TierExcellent},
		{0.49, domain.TierGood},
		{0.35, domain.TierGood},
		{0.34, domain.TierFair},
		{0.30, domain.TierFair},
		{0.29, domain.TierLow},
		{0.0, domain.TierLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.Tier(tt.score), "score %.2f", tt.score)
	}
}

func TestQualityGate_Assess(t *testing.T) {
	g := NewQualityGate(DefaultEngineOptions())

	t.Run("excellent uses primary", func(t *testing.T) {
		a := g.Assess([]domain.RetrievalResult{scored("a", 0.67), scored("b", 0.67)})
		assert.Equal(t, domain.TierExcellent, a.Tier)
		assert.True(t, a.UsePrimary)
		assert.False(t, a.Partial)
		assert.Len(t, a.Usable, 2)
		assert.Empty(t, a.Disclaimer)
	})

	t.Run("fair is partial", func(t *testing.T) {
		a := g.Assess([]domain.RetrievalResult{scored("a", 0.32), scored("b", 0.1)})
		assert.Equal(t, domain.TierFair, a.Tier)
		assert.True(t, a.UsePrimary)
		assert.True(t, a.Partial)
		assert.Len(t, a.Usable, 1)
	})

	t.Run("low never primary", func(t *testing.T) {
		a := g.Assess([]domain.RetrievalResult{scored("a", 0.20)})
		assert.Equal(t, domain.TierLow, a.Tier)
		assert.False(t, a.UsePrimary)
		assert.Empty(t, a.Usable)
		assert.Contains(t, a.Disclaimer, "Low confidence / general knowledge")
		assert.Contains(t, a.Disclaimer, "0.20")
	})

	t.Run("gap", func(t *testing.T) {
		a := g.Assess(nil)
		assert.Equal(t, domain.TierLow, a.Tier)
		assert.True(t, a.Gap)
		assert.Contains(t, a.Disclaimer, "not found in knowledge base, consider uploading more documents")
	})
}

func TestQualityGate_CustomThresholds(t *testing.T) {
	opts := DefaultEngineOptions()
	opts.QualityThreshold = 0.6
	opts.ExcellentThreshold = 0.8
	g := NewQualityGate(opts)

	assert.Equal(t, domain.TierFair, g.Tier(0.5))
	assert.Equal(t, domain.TierGood, g.Tier(0.7))
}

func TestClampTopK(t *testing.T) {
	assert.Equal(t, 3, ClampTopK(0))
	assert.Equal(t, 3, ClampTopK(1))
	assert.Equal(t, 5, ClampTopK(5))
	assert.Equal(t, 7, ClampTopK(12))
}
