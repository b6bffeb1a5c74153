package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/logging"
	"github.com/cloo-solutions/agentkb/internal/textproc"
)

// LexicalConfig tunes the TF-IDF fallback index.
type LexicalConfig struct {
	TTL time.Duration
}

type sparseVector map[int]float64

type tfidfModel struct {
	chunks  []domain.Chunk
	vocab   map[string]int
	idf     []float64
	docs    []sparseVector
	builtAt time.Time
}

// LexicalStats describes the current TF-IDF model.
type LexicalStats struct {
	Documents   int       `json:"documents"`
	Terms       int       `json:"terms"`
	BuiltAt     time.Time `json:"built_at"`
	LastAttempt time.Time `json:"last_attempt"`
	Builds      int64     `json:"builds"`
}

// LexicalIndex is a TF-IDF index rebuilt lazily on first use after its TTL
// has elapsed. Concurrent callers that find it stale share a single rebuild,
// and at most one rebuild is attempted per TTL window. A failed rebuild keeps
// serving the previous model.
type LexicalIndex struct {
	provider ChunkProvider
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	model       *tfidfModel
	lastAttempt time.Time
	builds      int64
}

// NewLexicalIndex creates a lexical index reading chunks from provider.
func NewLexicalIndex(provider ChunkProvider, cfg LexicalConfig, logger *zap.Logger) *LexicalIndex {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	return &LexicalIndex{
		provider: provider,
		ttl:      cfg.TTL,
		logger:   logging.OrNop(logger).Named("lexical_index"),
		now:      time.Now,
	}
}

// Search scores chunks against the query terms with cosine similarity over
// L2-normalized TF-IDF vectors.
func (l *LexicalIndex) Search(ctx context.Context, query string, k int, agentType string) ([]domain.RetrievalResult, error) {
	model, err := l.ensureFresh(ctx)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	q := model.vectorize(textproc.Terms(query))
	if len(q) == 0 {
		return nil, nil
	}

	results := make([]domain.RetrievalResult, 0, k)
	for i, doc := range model.docs {
		c := model.chunks[i]
		if !matchesAgent(c, agentType) {
			continue
		}
		score := dot(q, doc)
		if score <= 0 {
			continue
		}
		results = append(results, domain.RetrievalResult{Chunk: c, Score: score, Method: domain.RetrievalMethodTFIDF})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Invalidate makes the next search rebuild the model.
func (l *LexicalIndex) Invalidate() {
	l.mu.Lock()
	l.lastAttempt = time.Time{}
	l.mu.Unlock()
}

// Stats reports the current model state.
func (l *LexicalIndex) Stats() LexicalStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := LexicalStats{LastAttempt: l.lastAttempt, Builds: l.builds}
	if l.model != nil {
		st.Documents = len(l.model.docs)
		st.Terms = len(l.model.vocab)
		st.BuiltAt = l.model.builtAt
	}
	return st
}

// current returns the model and whether the current TTL window is still open.
func (l *LexicalIndex) current() (*tfidfModel, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	within := !l.lastAttempt.IsZero() && l.now().Sub(l.lastAttempt) < l.ttl
	return l.model, within
}

func (l *LexicalIndex) ensureFresh(ctx context.Context) (*tfidfModel, error) {
	m, within := l.current()
	if within {
		if m == nil {
			return nil, domain.ErrIndexUnavailable
		}
		return m, nil
	}

	_, err, _ := l.group.Do("rebuild", func() (any, error) {
		if _, within := l.current(); within {
			return nil, nil
		}

		chunks, err := l.provider.Chunks(context.WithoutCancel(ctx))
		var built *tfidfModel
		if err == nil {
			built, err = buildTFIDF(chunks, l.now())
		}

		l.mu.Lock()
		l.lastAttempt = l.now()
		if err == nil {
			l.model = built
			l.builds++
		}
		l.mu.Unlock()

		if err != nil {
			l.logger.Warn("tfidf rebuild failed", zap.Error(err))
			return nil, err
		}
		l.logger.Debug("tfidf rebuilt", zap.Int("documents", len(built.docs)), zap.Int("terms", len(built.vocab)))
		return nil, nil
	})

	m, _ = l.current()
	if m == nil {
		if err == nil {
			err = errors.New("tfidf model not built")
		}
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeUnavailable, "lexical index unavailable", err)
	}
	return m, nil
}

func buildTFIDF(chunks []domain.Chunk, now time.Time) (*tfidfModel, error) {
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyCorpus
	}

	docTerms := make([][]string, len(chunks))
	df := make(map[string]int)
	for i, c := range chunks {
		terms := textproc.Terms(c.Title + " " + c.Text)
		docTerms[i] = terms
		seen := make(map[string]struct{}, len(terms))
		for _, t := range terms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}
	if len(df) == 0 {
		return nil, fmt.Errorf("no indexable terms in %d chunks", len(chunks))
	}

	vocabTerms := make([]string, 0, len(df))
	for t := range df {
		vocabTerms = append(vocabTerms, t)
	}
	sort.Strings(vocabTerms)

	m := &tfidfModel{
		chunks:  chunks,
		vocab:   make(map[string]int, len(vocabTerms)),
		idf:     make([]float64, len(vocabTerms)),
		docs:    make([]sparseVector, len(chunks)),
		builtAt: now,
	}
	n := float64(len(chunks))
	for i, t := range vocabTerms {
		m.vocab[t] = i
		// smoothed IDF
		m.idf[i] = math.Log((1+n)/(1+float64(df[t]))) + 1.0
	}
	for i, terms := range docTerms {
		m.docs[i] = m.vectorize(terms)
	}
	return m, nil
}

func (m *tfidfModel) vectorize(terms []string) sparseVector {
	tf := make(map[int]int)
	total := 0
	for _, t := range terms {
		if idx, ok := m.vocab[t]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	vec := make(sparseVector, len(tf))
	norm := 0.0
	for idx, count := range tf {
		w := float64(count) / float64(total) * m.idf[idx]
		vec[idx] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for idx := range vec {
		vec[idx] /= norm
	}
	return vec
}

func dot(a, b sparseVector) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for idx, w := range a {
		sum += w * b[idx]
	}
	return sum
}
