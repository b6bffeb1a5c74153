package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/cloo-solutions/agentkb/internal/textproc"
)

// DefaultHashingDimensions is the vector width of the hashing embedder.
const DefaultHashingDimensions = 512

// HashingEmbedder is a deterministic, dependency-free embedder based on
// signed feature hashing of terms and term bigrams. It keeps the vector path
// usable when no embedding service is configured.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder returns a hashing embedder producing dims-wide vectors.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// GenerateEmbedding implements Backend.
func (h *HashingEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, h.dims)
	terms := textproc.Terms(text)
	for i, t := range terms {
		h.add(vec, t, 1.0)
		if i > 0 {
			h.add(vec, terms[i-1]+" "+t, 0.5)
		}
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dims)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (h *HashingEmbedder) add(vec []float64, feature string, weight float64) {
	hs := fnv.New64a()
	_, _ = hs.Write([]byte(feature))
	sum := hs.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
