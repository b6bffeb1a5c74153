package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/logging"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// QueryEmbedder embeds query text. *embedding.Loader satisfies it.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the semantic index. *index.VectorIndex satisfies it.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int, agentType string) ([]domain.RetrievalResult, error)
	Generation() uint64
}

// LexicalSearcher is the TF-IDF fallback. *index.LexicalIndex satisfies it.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, k int, agentType string) ([]domain.RetrievalResult, error)
}

// RetrievalOutcome is what the retriever hands to the quality gate.
type RetrievalOutcome struct {
	// Results are sorted best first and may include scores below MinScore.
	Results        []domain.RetrievalResult
	Method         domain.RetrievalMethod
	FallbackReason string
	Elapsed        time.Duration
}

// Retriever runs vector search first and falls back to TF-IDF when the
// vector path fails, returns nothing, or only returns weak matches.
type Retriever struct {
	embedder         QueryEmbedder
	vector           VectorSearcher
	lexical          LexicalSearcher
	minScore         float64
	embeddingTimeout time.Duration
	logger           *zap.Logger
	metrics          *telemetry.Metrics
}

// NewRetriever wires the retrieval chain. vector or lexical may be nil.
func NewRetriever(embedder QueryEmbedder, vector VectorSearcher, lexical LexicalSearcher, opts EngineOptions, logger *zap.Logger, metrics *telemetry.Metrics) *Retriever {
	opts = opts.withDefaults()
	return &Retriever{
		embedder:         embedder,
		vector:           vector,
		lexical:          lexical,
		minScore:         opts.MinScore,
		embeddingTimeout: opts.EmbeddingTimeout,
		logger:           logging.OrNop(logger).Named("retriever"),
		metrics:          metrics,
	}
}

// Generation returns the corpus generation of the vector index.
func (r *Retriever) Generation() uint64 {
	if r.vector == nil {
		return 0
	}
	return r.vector.Generation()
}

// Retrieve returns up to k results for text. It never fails: an outcome with
// no results means neither index could answer.
func (r *Retriever) Retrieve(ctx context.Context, text string, k int, agentType string) RetrievalOutcome {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "Retriever.Retrieve", telemetry.SpanAttributes{
		AgentType: agentType,
		Operation: "retrieve",
	})
	defer span.End()

	out := RetrievalOutcome{Method: domain.RetrievalMethodNone}

	vectorResults, vectorErr := r.searchVector(ctx, text, k, agentType)
	if vectorErr == nil && len(vectorResults) > 0 && vectorResults[0].Score >= r.minScore {
		out.Results = vectorResults
		out.Method = domain.RetrievalMethodVector
		return r.finish(out, start, span)
	}

	switch {
	case vectorErr != nil:
		out.FallbackReason = "vector unavailable"
		r.logger.Debug("vector retrieval unavailable, using tfidf", zap.Error(vectorErr))
	case len(vectorResults) == 0:
		out.FallbackReason = "vector empty"
	default:
		out.FallbackReason = "vector weak"
	}

	lexicalResults, lexicalErr := r.searchLexical(ctx, text, k, agentType)
	if lexicalErr != nil {
		r.logger.Debug("tfidf retrieval unavailable", zap.Error(lexicalErr))
	}

	out.Results = mergeResults(vectorResults, vectorErr == nil, lexicalResults, k)
	if len(out.Results) > 0 {
		out.Method = out.Results[0].Method
	}
	return r.finish(out, start, span)
}

func (r *Retriever) finish(out RetrievalOutcome, start time.Time, span *telemetry.Span) RetrievalOutcome {
	out.Elapsed = time.Since(start)
	span.SetTag("method", string(out.Method))
	r.metrics.ObserveRetrieval(string(out.Method), out.Elapsed)
	return out
}

func (r *Retriever) searchVector(ctx context.Context, text string, k int, agentType string) ([]domain.RetrievalResult, error) {
	if r.vector == nil || r.embedder == nil {
		return nil, domain.ErrIndexUnavailable
	}

	ectx, cancel := context.WithTimeout(ctx, r.embeddingTimeout)
	vec, err := r.embedder.Embed(ectx, text)
	cancel()
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeUnavailable, domain.ErrEmbeddingFailed.Message, err)
	}

	results, err := r.vector.Search(ctx, vec, k, agentType)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && agentType != "" {
		return r.vector.Search(ctx, vec, k, "")
	}
	return results, nil
}

func (r *Retriever) searchLexical(ctx context.Context, text string, k int, agentType string) ([]domain.RetrievalResult, error) {
	if r.lexical == nil {
		return nil, domain.ErrIndexUnavailable
	}
	results, err := r.lexical.Search(ctx, text, k, agentType)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && agentType != "" {
		return r.lexical.Search(ctx, text, k, "")
	}
	return results, nil
}

// mergeResults combines both result lists by chunk id. When the vector search
// succeeded its score is authoritative for any chunk it scored; lexical
// scores only fill in chunks the vector search did not return.
func mergeResults(vector []domain.RetrievalResult, vectorOK bool, lexical []domain.RetrievalResult, k int) []domain.RetrievalResult {
	byID := make(map[string]domain.RetrievalResult, len(vector)+len(lexical))
	if vectorOK {
		for _, res := range vector {
			byID[res.Chunk.ID] = res
		}
	}
	for _, res := range lexical {
		if _, ok := byID[res.Chunk.ID]; ok {
			continue
		}
		byID[res.Chunk.ID] = res
	}

	out := make([]domain.RetrievalResult, 0, len(byID))
	for _, res := range byID {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Method != out[j].Method {
			return out[i].Method == domain.RetrievalMethodVector
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
