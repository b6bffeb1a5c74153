package domain

import (
	"sort"
	"strings"
	"time"
)

// AgentContext identifies the page and agent a question was asked from.
type AgentContext struct {
	PageID    string            `json:"page_id,omitempty"`
	AgentType string            `json:"agent_type,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// IsZero reports whether no context signal was supplied.
func (a AgentContext) IsZero() bool {
	return a.PageID == "" && a.AgentType == "" && len(a.Extra) == 0
}

// Canonical renders the context as a stable string suitable for hashing.
func (a AgentContext) Canonical() string {
	var b strings.Builder
	b.WriteString("page=")
	b.WriteString(a.PageID)
	b.WriteString("|agent=")
	b.WriteString(a.AgentType)

	keys := make([]string, 0, len(a.Extra))
	for k := range a.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(a.Extra[k])
	}
	return b.String()
}

// Query is a single user question as seen by the engine.
type Query struct {
	Raw          string
	Normalized   string
	SessionID    string
	Timestamp    time.Time
	AgentContext AgentContext
}

// RetrievalMethod names the index that produced a result.
type RetrievalMethod string

const (
	RetrievalMethodVector RetrievalMethod = "vector"
	RetrievalMethodTFIDF  RetrievalMethod = "tfidf"
	RetrievalMethodNone   RetrievalMethod = "none"
)

// RetrievalResult is a scored chunk.
type RetrievalResult struct {
	Chunk  Chunk
	Score  float64
	Method RetrievalMethod
}

// ConversationTurn is one question/answer exchange within a session.
type ConversationTurn struct {
	SessionID    string    `json:"session_id"`
	Query        string    `json:"query"`
	Reply        string    `json:"reply"`
	RetrievedIDs []string  `json:"retrieved_ids,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConfidenceTier grades how well the corpus covered a question.
type ConfidenceTier string

const (
	TierExcellent ConfidenceTier = "excellent"
	TierGood      ConfidenceTier = "good"
	TierFair      ConfidenceTier = "fair"
	TierLow       ConfidenceTier = "low"
	// TierGeneral marks questions outside the documentation domain.
	TierGeneral ConfidenceTier = "general"
)

// Source is a document reference attached to a reply.
type Source struct {
	ChunkID  string          `json:"chunk_id"`
	SourceID string          `json:"source_id"`
	Title    string          `json:"title"`
	Score    float64         `json:"score"`
	Method   RetrievalMethod `json:"method"`
}

// Timing reports per-stage latency in milliseconds.
type Timing struct {
	RetrievalMS int64 `json:"retrieval_ms"`
	LLMMS       int64 `json:"llm_ms"`
	TotalMS     int64 `json:"total_ms"`
}

// Response is the engine's answer to a chat request.
type Response struct {
	Reply          string          `json:"reply"`
	Sources        []Source        `json:"sources"`
	ConfidenceTier ConfidenceTier  `json:"confidence_tier"`
	Timing         Timing          `json:"timing"`
	Degraded       bool            `json:"degraded"`
	DegradeReason  string          `json:"degrade_reason,omitempty"`
	SessionID      string          `json:"session_id"`
	Cached         bool            `json:"cached"`
	Method         RetrievalMethod `json:"method"`
	Trace          []string        `json:"trace,omitempty"`
}

// Clone returns a deep copy so cached responses are never shared mutably.
func (r Response) Clone() Response {
	out := r
	if r.Sources != nil {
		out.Sources = append([]Source(nil), r.Sources...)
	}
	if r.Trace != nil {
		out.Trace = append([]string(nil), r.Trace...)
	}
	return out
}

// ChatMessage is a role-tagged message sent to a chat completion backend.
type ChatMessage struct {
	Role    string
	Content string
}

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
