// Package index holds the in-memory retrieval indices over the document corpus.
package index

import (
	"context"
	"math"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

// ChunkSource loads the full corpus. Implementations live in internal/corpus,
// internal/repository and internal/storage.
type ChunkSource interface {
	Load(ctx context.Context) ([]domain.Chunk, error)
}

// ChunkProvider returns the chunks currently known to an index.
type ChunkProvider interface {
	Chunks(ctx context.Context) ([]domain.Chunk, error)
}

// StaticSource serves a fixed chunk slice.
type StaticSource []domain.Chunk

// Load implements ChunkSource.
func (s StaticSource) Load(context.Context) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, len(s))
	copy(out, s)
	return out, nil
}

// Chunks implements ChunkProvider.
func (s StaticSource) Chunks(ctx context.Context) ([]domain.Chunk, error) {
	return s.Load(ctx)
}

// matchesAgent keeps chunks that belong to agentType or to no agent at all.
func matchesAgent(c domain.Chunk, agentType string) bool {
	return agentType == "" || c.Metadata.AgentType == "" || c.Metadata.AgentType == agentType
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if len(a) != len(b) || aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}
