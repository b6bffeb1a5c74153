package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/logging"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// LLMClient is a chat completion backend. *openai.Client satisfies it.
type LLMClient interface {
	Complete(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// EnhanceInput is everything the enhancer sends to the model.
type EnhanceInput struct {
	Query   domain.Query
	Draft   Draft
	Results []domain.RetrievalResult
	History []domain.ConversationTurn
	Model   string
}

// EnhanceResult is the outcome of one enhancement attempt.
type EnhanceResult struct {
	Reply    string
	Attempt  bool
	Degraded bool
	Reason   error
	Elapsed  time.Duration
}

// Enhancer rewrites a draft with an LLM. It makes exactly one call per
// request, bounded by a hard deadline; it never retries and never falls back
// to a second model call. Any failure leaves the draft as the reply.
type Enhancer struct {
	client  LLMClient
	model   string
	timeout time.Duration
	logger  *zap.Logger
	metrics *telemetry.Metrics

	attempts atomic.Int64
}

// NewEnhancer creates an enhancer. A nil client disables enhancement.
func NewEnhancer(client LLMClient, model string, timeout time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Enhancer {
	if timeout <= 0 {
		timeout = DefaultEngineOptions().LLMTimeout
	}
	return &Enhancer{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  logging.OrNop(logger).Named("enhancer"),
		metrics: metrics,
	}
}

// Enabled reports whether an LLM backend is configured.
func (e *Enhancer) Enabled() bool {
	return e != nil && e.client != nil
}

// Attempts returns the number of LLM calls made so far.
func (e *Enhancer) Attempts() int64 {
	return e.attempts.Load()
}

type completion struct {
	text string
	err  error
}

// Enhance makes the single LLM call for in. The call runs in its own
// goroutine and is raced against the deadline; when the deadline wins, the
// call's context is cancelled and its eventual result is discarded.
func (e *Enhancer) Enhance(ctx context.Context, in EnhanceInput) EnhanceResult {
	if !e.Enabled() {
		return EnhanceResult{Reply: in.Draft.Reply}
	}

	model := in.Model
	if model == "" {
		model = e.model
	}
	messages := buildMessages(in)

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.attempts.Add(1)
	done := make(chan completion, 1)
	go func() {
		text, err := e.client.Complete(callCtx, model, messages)
		done <- completion{text: text, err: err}
	}()

	var res completion
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = completion{err: callCtx.Err()}
	}
	elapsed := time.Since(start)

	out := EnhanceResult{Attempt: true, Elapsed: elapsed}
	switch {
	case res.err != nil && (errors.Is(res.err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)):
		out.Reason = domain.ErrLLMTimeout
	case res.err != nil:
		out.Reason = domain.NewDomainErrorWithCause(domain.ErrCodeUnavailable, domain.ErrLLMBackend.Message, res.err)
	case strings.TrimSpace(res.text) == "":
		out.Reason = domain.ErrLLMEmptyResponse
	}

	if out.Reason != nil {
		out.Degraded = true
		out.Reply = in.Draft.Reply
		e.metrics.ObserveLLMCall(DegradeReason(out.Reason), elapsed)
		e.logger.Info("llm enhancement degraded, serving lightweight reply",
			zap.String("session_id", in.Query.SessionID),
			zap.String("model", model),
			zap.String("reason", DegradeReason(out.Reason)),
			zap.Duration("elapsed", elapsed),
		)
		e.logger.Debug("llm enhancement failure detail", zap.Error(res.err))
		return out
	}

	e.metrics.ObserveLLMCall("ok", elapsed)
	out.Reply = finalizeEnhanced(strings.TrimSpace(res.text), in.Draft)
	return out
}

// DegradeReason maps an enhancement failure to a short label.
func DegradeReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrLLMTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrLLMEmptyResponse):
		return "empty"
	default:
		return "error"
	}
}

// finalizeEnhanced keeps the disclaimer on top of general answers and the
// attribution line at the bottom of grounded ones.
func finalizeEnhanced(text string, d Draft) string {
	if d.Preamble != "" && !strings.Contains(text, strings.TrimPrefix(d.Preamble, "> ")) {
		text = d.Preamble + "\n\n" + text
	}
	if d.Attribution != "" && !strings.Contains(text, d.Attribution) {
		text = text + "\n\n" + d.Attribution
	}
	return text
}

const (
	groundedSystemPrompt = "You are an assistant for banking agent documentation. Rewrite the draft answer into a clear, well structured markdown reply. Use only facts present in the draft and the excerpts. Keep every number and the final attribution line unchanged."
	generalSystemPrompt  = "You are an assistant for banking agent documentation. The knowledge base has no good match for this question. Give a short, careful general-knowledge answer and say clearly that it is not based on the documentation."
)

func buildMessages(in EnhanceInput) []domain.ChatMessage {
	system := groundedSystemPrompt
	if in.Draft.Mode == DraftGeneral {
		system = generalSystemPrompt
	}
	msgs := []domain.ChatMessage{{Role: domain.RoleSystem, Content: system}}

	for _, t := range in.History {
		msgs = append(msgs,
			domain.ChatMessage{Role: domain.RoleUser, Content: t.Query},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: t.Reply},
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", strings.TrimSpace(in.Query.Raw))
	if len(in.Results) > 0 {
		b.WriteString("Excerpts:\n")
		for i, r := range in.Results {
			fmt.Fprintf(&b, "[%d] %s (score %.2f)\n%s\n\n", i+1, r.Chunk.DisplayTitle(), r.Score, r.Chunk.Text)
		}
	}
	b.WriteString("Draft answer:\n")
	b.WriteString(in.Draft.Reply)
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: b.String()})
	return msgs
}
