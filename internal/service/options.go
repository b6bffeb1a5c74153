package service

import "time"

// EngineOptions are the construction-time knobs of the chat engine.
type EngineOptions struct {
	// QualityThreshold is the lower bound of the "good" tier.
	QualityThreshold float64
	// ExcellentThreshold is the lower bound of the "excellent" tier.
	ExcellentThreshold float64
	// MinScore discards retrieval results below it.
	MinScore float64

	TopK             int
	MaxTurns         int
	HistoryTurns     int
	ResponseCacheTTL time.Duration
	CacheMaxEntries  int
	LLMTimeout       time.Duration
	EmbeddingTimeout time.Duration
	ChatModel        string
}

const (
	minTopK = 3
	maxTopK = 7
)

// DefaultEngineOptions returns the documented defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		QualityThreshold:   0.35,
		ExcellentThreshold: 0.5,
		MinScore:           0.3,
		TopK:               3,
		MaxTurns:           10,
		HistoryTurns:       4,
		ResponseCacheTTL:   300 * time.Second,
		CacheMaxEntries:    1000,
		LLMTimeout:         10 * time.Second,
		EmbeddingTimeout:   2 * time.Second,
	}
}

// withDefaults fills zero values and clamps TopK into its supported range.
func (o EngineOptions) withDefaults() EngineOptions {
	def := DefaultEngineOptions()
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = def.QualityThreshold
	}
	if o.ExcellentThreshold <= 0 {
		o.ExcellentThreshold = def.ExcellentThreshold
	}
	if o.MinScore <= 0 {
		o.MinScore = def.MinScore
	}
	if o.MaxTurns <= 0 {
		o.MaxTurns = def.MaxTurns
	}
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = def.HistoryTurns
	}
	if o.ResponseCacheTTL <= 0 {
		o.ResponseCacheTTL = def.ResponseCacheTTL
	}
	if o.CacheMaxEntries <= 0 {
		o.CacheMaxEntries = def.CacheMaxEntries
	}
	if o.LLMTimeout <= 0 {
		o.LLMTimeout = def.LLMTimeout
	}
	if o.EmbeddingTimeout <= 0 {
		o.EmbeddingTimeout = def.EmbeddingTimeout
	}
	o.TopK = ClampTopK(o.TopK)
	return o
}

// ClampTopK forces k into [3, 7]; zero selects the default of 3.
func ClampTopK(k int) int {
	if k < minTopK {
		return minTopK
	}
	if k > maxTopK {
		return maxTopK
	}
	return k
}
