package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/logging"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
	"github.com/cloo-solutions/agentkb/internal/textproc"
)

// State is a step of the request state machine.
type State string

const (
	StateReceived           State = "RECEIVED"
	StateClassified         State = "CLASSIFIED"
	StateCacheCheck         State = "CACHE_CHECK"
	StateCacheHit           State = "CACHE_HIT"
	StateCacheMiss          State = "CACHE_MISS"
	StateRetrieve           State = "RETRIEVE"
	StateQualityGate        State = "QUALITY_GATE"
	StateLightweightCompose State = "LIGHTWEIGHT_COMPOSE"
	StateLLMEnhance         State = "LLM_ENHANCE"
	StateCacheStore         State = "CACHE_STORE"
	StateResponded          State = "RESPONDED"
)

// RetrievalBackend is the retrieval chain seen by the orchestrator.
type RetrievalBackend interface {
	Retrieve(ctx context.Context, text string, k int, agentType string) RetrievalOutcome
	Generation() uint64
}

// ChatInput is one inbound chat request.
type ChatInput struct {
	Message       string
	SessionID     string
	AgentContext  domain.AgentContext
	ModelOverride string
}

// ChatDeps are the collaborators of the chat service.
type ChatDeps struct {
	Classifier    *Classifier
	Retriever     RetrievalBackend
	Enhancer      *Enhancer
	Cache         *ResponseCache
	Conversations ConversationStore
	Logger        *zap.Logger
	Metrics       *telemetry.Metrics
}

// ChatService orchestrates one request through classification, caching,
// retrieval, gating, composition and the optional LLM enhancement. Every
// path ends in a response; only a request without a message is rejected.
type ChatService struct {
	classifier    *Classifier
	retriever     RetrievalBackend
	gate          QualityGate
	responder     Responder
	enhancer      *Enhancer
	cache         *ResponseCache
	conversations ConversationStore
	opts          EngineOptions
	logger        *zap.Logger
	metrics       *telemetry.Metrics
	now           func() time.Time
}

// NewChatService wires a chat service. Missing collaborators get in-memory
// or disabled defaults.
func NewChatService(deps ChatDeps, opts EngineOptions) *ChatService {
	opts = opts.withDefaults()
	s := &ChatService{
		classifier:    deps.Classifier,
		retriever:     deps.Retriever,
		gate:          NewQualityGate(opts),
		enhancer:      deps.Enhancer,
		cache:         deps.Cache,
		conversations: deps.Conversations,
		opts:          opts,
		logger:        logging.OrNop(deps.Logger).Named("chat"),
		metrics:       deps.Metrics,
		now:           time.Now,
	}
	if s.classifier == nil {
		s.classifier = NewClassifier(DefaultVocabulary())
	}
	if s.cache == nil {
		s.cache = NewResponseCache(opts.ResponseCacheTTL, opts.CacheMaxEntries)
	}
	if s.conversations == nil {
		s.conversations = NewMemoryConversationStore(opts.MaxTurns, 0)
	}
	if s.enhancer == nil {
		s.enhancer = NewEnhancer(nil, opts.ChatModel, opts.LLMTimeout, deps.Logger, deps.Metrics)
	}
	return s
}

type trace []string

func (t *trace) add(states ...State) {
	for _, st := range states {
		*t = append(*t, string(st))
	}
}

// Chat answers one message.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (*domain.Response, error) {
	start := s.now()
	var tr trace
	tr.add(StateReceived)

	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, domain.ErrMissingMessage
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	q := domain.Query{
		Raw:          msg,
		Normalized:   textproc.Normalize(msg),
		SessionID:    sessionID,
		Timestamp:    start,
		AgentContext: in.AgentContext,
	}
	if q.Normalized == "" {
		q.Normalized = strings.ToLower(msg)
	}

	ctx, span := telemetry.StartSpan(ctx, "ChatService.Chat", telemetry.SpanAttributes{
		SessionID: sessionID,
		AgentType: in.AgentContext.AgentType,
		Operation: "chat",
	})
	defer span.End()

	class := s.classifier.Classify(q)
	tr.add(StateClassified)

	history, err := s.conversations.Recent(ctx, sessionID, s.opts.HistoryTurns)
	if err != nil {
		s.logger.Warn("failed to load conversation history", zap.String("session_id", sessionID), zap.Error(err))
	}
	text := resolveFollowUp(q, history)

	model := in.ModelOverride
	if model == "" {
		model = s.opts.ChatModel
	}

	tr.add(StateCacheCheck)
	base := CacheKey{Normalized: text, Agent: q.AgentContext, Model: model, Generation: s.generation()}
	ck := base
	if s.enhancer.Enabled() && len(history) > 0 {
		// the enhancer sees this session's history, so its reply stays private
		ck.Scope = sessionID
	}
	cached, ok := s.cache.Lookup(ck)
	if !ok && ck.Scope != "" {
		cached, ok = s.cache.Lookup(base)
	}
	if ok {
		s.metrics.ObserveCacheLookup(true)
		tr.add(StateCacheHit, StateResponded)
		cached.Cached = true
		cached.SessionID = sessionID
		cached.Timing = domain.Timing{TotalMS: s.since(start)}
		cached.Trace = tr
		s.remember(ctx, q, cached)
		s.metrics.ObserveResponse(string(cached.ConfidenceTier), true, s.now().Sub(start))
		s.logger.Debug("response cache hit", zap.String("session_id", sessionID))
		return &cached, nil
	}
	s.metrics.ObserveCacheLookup(false)
	tr.add(StateCacheMiss, StateRetrieve)

	outcome := RetrievalOutcome{Method: domain.RetrievalMethodNone}
	if class.IsDomain && s.retriever != nil {
		outcome = s.retriever.Retrieve(ctx, text, s.opts.TopK, class.AgentHint)
	}

	key := Fingerprint(ck, resultIDs(outcome.Results))
	resp, _, err := s.cache.Compose(key, func() (domain.Response, error) {
		if existing, ok := s.cache.Get(key); ok {
			existing.Cached = true
			existing.Trace = []string{string(StateCacheHit)}
			return existing, nil
		}
		composeCtx := context.WithoutCancel(ctx)
		return s.compose(composeCtx, q, class, outcome, history, in.ModelOverride, key, ck), nil
	})
	if err != nil {
		telemetry.CaptureError(ctx, err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to compose response", err)
	}

	tr = append(tr, resp.Trace...)
	tr.add(StateResponded)
	resp.Trace = tr
	resp.SessionID = sessionID
	resp.Timing.RetrievalMS = outcome.Elapsed.Milliseconds()
	if resp.Cached {
		resp.Timing.LLMMS = 0
	}
	resp.Timing.TotalMS = s.since(start)

	s.remember(ctx, q, resp)
	s.metrics.ObserveResponse(string(resp.ConfidenceTier), resp.Cached, s.now().Sub(start))
	s.logger.Debug("chat response",
		zap.String("session_id", sessionID),
		zap.String("tier", string(resp.ConfidenceTier)),
		zap.String("method", string(resp.Method)),
		zap.Bool("degraded", resp.Degraded),
		zap.Int64("total_ms", resp.Timing.TotalMS),
	)
	return &resp, nil
}

// compose runs QUALITY_GATE through CACHE_STORE for a cache miss.
func (s *ChatService) compose(
	ctx context.Context,
	q domain.Query,
	class Classification,
	outcome RetrievalOutcome,
	history []domain.ConversationTurn,
	modelOverride, key string,
	ck CacheKey,
) domain.Response {
	var tr trace
	tr.add(StateQualityGate)

	var assessment Assessment
	var draft Draft
	tier := domain.TierGeneral
	if class.IsDomain {
		assessment = s.gate.Assess(outcome.Results)
		tier = assessment.Tier
		draft = s.responder.Compose(q, assessment)
	} else {
		draft = s.responder.OutOfDomain(q)
	}
	tr.add(StateLightweightCompose)

	resp := domain.Response{
		Reply:          draft.Reply,
		Sources:        []domain.Source{},
		ConfidenceTier: tier,
		Method:         outcome.Method,
	}
	if assessment.UsePrimary {
		resp.Sources = sourceList(assessment.Usable)
	}

	if s.enhancer.Enabled() {
		tr.add(StateLLMEnhance)
		er := s.enhancer.Enhance(ctx, EnhanceInput{
			Query:   q,
			Draft:   draft,
			Results: assessment.Usable,
			History: history,
			Model:   modelOverride,
		})
		resp.Reply = er.Reply
		resp.Degraded = er.Degraded
		resp.Timing.LLMMS = er.Elapsed.Milliseconds()
		if er.Degraded {
			resp.DegradeReason = DegradeReason(er.Reason)
			s.metrics.ObserveDegraded(resp.DegradeReason)
			telemetry.AddBreadcrumb(ctx, "llm", "enhancement degraded: "+resp.DegradeReason)
		}
	}

	tr.add(StateCacheStore)
	resp.Trace = tr
	s.cache.Store(key, ck, resp)
	return resp
}

func (s *ChatService) remember(ctx context.Context, q domain.Query, resp domain.Response) {
	ids := make([]string, 0, len(resp.Sources))
	for _, src := range resp.Sources {
		ids = append(ids, src.ChunkID)
	}
	err := s.conversations.Append(ctx, domain.ConversationTurn{
		SessionID:    q.SessionID,
		Query:        q.Raw,
		Reply:        resp.Reply,
		RetrievedIDs: ids,
		Timestamp:    q.Timestamp,
	})
	if err != nil {
		s.logger.Warn("failed to record conversation turn", zap.String("session_id", q.SessionID), zap.Error(err))
	}
}

func (s *ChatService) generation() uint64 {
	if s.retriever == nil {
		return 0
	}
	return s.retriever.Generation()
}

func (s *ChatService) since(start time.Time) int64 {
	return s.now().Sub(start).Milliseconds()
}

// History returns the stored turns of a session, oldest first.
func (s *ChatService) History(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrMissingRequiredField
	}
	turns, err := s.conversations.Recent(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []domain.ConversationTurn{}
	}
	return turns, nil
}

// ResetSession forgets a session's history.
func (s *ChatService) ResetSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return domain.ErrMissingRequiredField
	}
	return s.conversations.Clear(ctx, sessionID)
}

// FlushCache empties the response cache.
func (s *ChatService) FlushCache() int {
	n := s.cache.Flush()
	s.logger.Info("response cache flushed", zap.Int("entries", n))
	return n
}

func resultIDs(results []domain.RetrievalResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Chunk.ID)
	}
	return ids
}

var followUpPattern = regexp.MustCompile(`^(and|also|what about|how about|what else|tell me more|more)\b|\b(it|its|it's|that|this|they|them|those|these|their)\b`)

// resolveFollowUp expands a short follow-up such as "and its threshold?"
// with the previous question so retrieval has something to match.
func resolveFollowUp(q domain.Query, history []domain.ConversationTurn) string {
	if len(history) == 0 {
		return q.Normalized
	}
	if len(textproc.Terms(q.Normalized)) > 3 || !followUpPattern.MatchString(q.Normalized) {
		return q.Normalized
	}
	prev := textproc.Normalize(history[len(history)-1].Query)
	if prev == "" || prev == q.Normalized {
		return q.Normalized
	}
	return prev + " " + q.Normalized
}
