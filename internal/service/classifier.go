package service

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/textproc"
)

// Vocabulary drives query classification. Terms are matched against the
// normalized query; multi-word entries match as phrases.
type Vocabulary struct {
	Domain  []string            `yaml:"domain"`
	Agents  map[string][]string `yaml:"agents"`
	General []string            `yaml:"general"`
}

// DefaultVocabulary returns the built-in banking vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Domain: []string{
			"account", "accounts", "aml", "apr", "balance", "bank", "banking", "basel", "borrower", "branch",
			"capital", "card", "cards", "collateral", "compliance", "credit", "customer", "customers", "default",
			"deposit", "deposits", "ead", "exposure", "fee", "fees", "fraud", "interest", "kyc", "lgd", "limit",
			"liquidity", "loan", "loans", "mortgage", "npl", "overdraft", "payment", "payments", "pd", "policy",
			"portfolio", "rate", "rating", "regulation", "repayment", "risk", "rwa", "score", "scoring",
			"segment", "settlement", "statement", "transaction", "transactions", "transfer", "underwriting",
			"agent", "agents", "dashboard", "report", "metric", "metrics", "threshold", "document", "documents",
			"probability of default", "loss given default", "exposure at default", "know your customer",
			"anti money laundering", "risk weighted assets", "non performing loan",
		},
		Agents: map[string][]string{
			"credit_risk": {"pd", "lgd", "ead", "default", "collateral", "rating", "scoring", "underwriting", "borrower", "npl"},
			"compliance":  {"aml", "kyc", "regulation", "compliance", "sanctions", "basel", "audit"},
			"fraud":       {"fraud", "chargeback", "suspicious", "anomaly", "transaction", "transactions"},
			"customer":    {"account", "card", "balance", "statement", "overdraft", "deposit", "fee", "fees"},
		},
		General: []string{
			"hi", "hello", "hey", "thanks", "thank you", "good morning", "good afternoon", "good evening",
			"how are you", "who are you", "what can you do", "tell me a joke", "joke", "weather",
			"what time is it", "what day is it", "bye", "goodbye", "there", "today",
		},
	}
}

// LoadVocabulary reads a YAML vocabulary file. Empty sections fall back to
// the built-in defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("failed to parse vocabulary %s: %w", path, err)
	}

	def := DefaultVocabulary()
	if len(v.Domain) == 0 {
		v.Domain = def.Domain
	}
	if len(v.Agents) == 0 {
		v.Agents = def.Agents
	}
	if len(v.General) == 0 {
		v.General = def.General
	}
	return v, nil
}

// Classification is the classifier's verdict for one query.
type Classification struct {
	IsDomain  bool
	AgentHint string
	Reason    string
}

type termSet struct {
	words   map[string]struct{}
	phrases []string
}

func newTermSet(terms []string) termSet {
	ts := termSet{words: make(map[string]struct{})}
	for _, t := range terms {
		t = textproc.Normalize(t)
		if t == "" {
			continue
		}
		if strings.Contains(t, " ") {
			ts.phrases = append(ts.phrases, t)
			continue
		}
		ts.words[t] = struct{}{}
	}
	return ts
}

func (ts termSet) hits(normalized string, tokens []string) int {
	n := 0
	for _, tok := range tokens {
		if _, ok := ts.words[tok]; ok {
			n++
		}
	}
	padded := " " + normalized + " "
	for _, p := range ts.phrases {
		if strings.Contains(padded, " "+p+" ") {
			n++
		}
	}
	return n
}

// Classifier separates documentation questions from general conversation.
// Anything it is unsure about is treated as a documentation question.
type Classifier struct {
	domain  termSet
	general termSet
	agents  map[string]termSet
	order   []string
}

// NewClassifier builds a classifier from v.
func NewClassifier(v Vocabulary) *Classifier {
	c := &Classifier{
		domain:  newTermSet(v.Domain),
		general: newTermSet(v.General),
		agents:  make(map[string]termSet, len(v.Agents)),
	}
	for name, terms := range v.Agents {
		c.agents[name] = newTermSet(terms)
		c.order = append(c.order, name)
	}
	sort.Strings(c.order)
	return c
}

// Classify decides whether q should go through retrieval.
func (c *Classifier) Classify(q domain.Query) Classification {
	norm := q.Normalized
	if norm == "" {
		norm = textproc.Normalize(q.Raw)
	}
	tokens := textproc.Tokens(norm)

	out := Classification{IsDomain: true, AgentHint: q.AgentContext.AgentType}
	if out.AgentHint == "" {
		out.AgentHint = c.agentHint(norm, tokens)
	}

	if c.domain.hits(norm, tokens) > 0 {
		out.Reason = "domain vocabulary"
		return out
	}
	if c.isSmallTalk(norm, tokens) {
		out.IsDomain = false
		out.Reason = "general conversation"
		return out
	}
	if !q.AgentContext.IsZero() {
		out.Reason = "agent context"
		return out
	}
	out.Reason = "ambiguous"
	return out
}

// isSmallTalk requires the whole query to be conversational: every
// non-stopword token must come from the general vocabulary.
func (c *Classifier) isSmallTalk(norm string, tokens []string) bool {
	if c.general.hits(norm, tokens) == 0 {
		return false
	}
	padded := " " + norm + " "
	for _, p := range c.general.phrases {
		padded = strings.ReplaceAll(padded, " "+p+" ", "  ")
	}
	for _, tok := range textproc.Terms(padded) {
		if _, ok := c.general.words[tok]; ok {
			continue
		}
		return false
	}
	return true
}

func (c *Classifier) agentHint(norm string, tokens []string) string {
	best, bestHits := "", 0
	for _, name := range c.order {
		if h := c.agents[name].hits(norm, tokens); h > bestHits {
			best, bestHits = name, h
		}
	}
	return best
}
