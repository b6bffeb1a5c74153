package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

const (
	defaultSnippetMaxChars = 220
	leadMaxChars           = 360
)

var definitionPattern = regexp.MustCompile(`(?i)^\s*(?:what\s+is|what's|whats|what\s+are|define|definition\s+of|meaning\s+of|explain)\s+(?:an?\s+|the\s+)?(.+?)[\s?.!]*$`)

// DraftMode tells the enhancer what kind of answer it is refining.
type DraftMode string

const (
	DraftGrounded DraftMode = "grounded"
	DraftGeneral  DraftMode = "general"
)

// Draft is the deterministic reply plus the parts an enhanced reply must keep.
type Draft struct {
	Reply       string
	Mode        DraftMode
	Preamble    string
	Attribution string
}

// Responder renders replies without any model call. Output depends only on
// its inputs.
type Responder struct{}

// AttributionLine is the source summary closing every grounded reply.
func AttributionLine(n int, score float64) string {
	return fmt.Sprintf("_Based on %d relevant documents, score: %.2f_", n, score)
}

// Compose renders the reply for a gated retrieval outcome.
func (r Responder) Compose(q domain.Query, a Assessment) Draft {
	if a.Gap {
		return r.Gap(q)
	}
	if !a.UsePrimary {
		return r.LowConfidence(q, a)
	}

	var b strings.Builder
	top := a.Usable[0]
	if term, ok := definitionSubject(q.Raw); ok {
		fmt.Fprintf(&b, "### Definition: %s\n\n", term)
	} else {
		b.WriteString("### Answer\n\n")
	}
	b.WriteString(leadSentences(top.Chunk.Text, 2))
	b.WriteString("\n\n")

	if len(a.Usable) > 1 {
		b.WriteString("**Key points**\n\n")
		for _, res := range a.Usable {
			fmt.Fprintf(&b, "- **%s** (score %.2f): %s\n", res.Chunk.DisplayTitle(), res.Score, makeSnippet(res.Chunk.Text))
		}
		b.WriteString("\n")
	}

	if a.Partial {
		b.WriteString("> Partial match: the documents only partly cover this question.\n\n")
	}

	b.WriteString("**Sources**\n\n")
	for i, s := range sourceList(a.Usable) {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, s.Title, s.SourceID)
	}
	b.WriteString("\n")

	attribution := AttributionLine(len(a.Usable), a.BestScore)
	b.WriteString(attribution)

	return Draft{Reply: b.String(), Mode: DraftGrounded, Attribution: attribution}
}

// LowConfidence renders the general-knowledge fallback for weak matches.
func (Responder) LowConfidence(q domain.Query, a Assessment) Draft {
	disclaimer := "> " + a.Disclaimer
	var b strings.Builder
	b.WriteString(disclaimer)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "I could not find documentation that answers %q. ", strings.TrimSpace(q.Raw))
	b.WriteString("Try rephrasing with the exact product, metric or policy name.")
	return Draft{Reply: b.String(), Mode: DraftGeneral, Preamble: disclaimer}
}

// Gap renders the reply for a question with no retrieval results at all.
func (Responder) Gap(q domain.Query) Draft {
	disclaimer := "> " + gapDisclaimer
	var b strings.Builder
	b.WriteString(disclaimer)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "No document covers %q yet.", strings.TrimSpace(q.Raw))
	return Draft{Reply: b.String(), Mode: DraftGeneral, Preamble: disclaimer}
}

// OutOfDomain renders the reply for general conversation.
func (Responder) OutOfDomain(q domain.Query) Draft {
	disclaimer := "> " + generalDisclaimer
	var b strings.Builder
	b.WriteString(disclaimer)
	b.WriteString("\n\n")
	b.WriteString("I answer questions about the banking agent documentation, such as risk metrics, ")
	b.WriteString("compliance checks and account policies. Ask about a term or a dashboard to get started.")
	return Draft{Reply: b.String(), Mode: DraftGeneral, Preamble: disclaimer}
}

// definitionSubject extracts X from questions like "What is X?".
func definitionSubject(raw string) (string, bool) {
	m := definitionPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", false
	}
	subject := strings.TrimSpace(m[1])
	words := strings.Fields(subject)
	if len(words) == 0 || len(words) > 6 {
		return "", false
	}
	switch strings.ToLower(words[0]) {
	case "how", "why", "when", "where", "which", "who":
		return "", false
	}
	return subject, true
}

// leadSentences returns up to n sentences from the start of text.
func leadSentences(text string, n int) string {
	clean := strings.Join(strings.Fields(text), " ")
	runes := []rune(clean)
	count := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		count++
		if count == n {
			clean = string(runes[:i+1])
			break
		}
	}
	if len([]rune(clean)) > leadMaxChars {
		return string([]rune(clean)[:leadMaxChars-3]) + "..."
	}
	return clean
}

func makeSnippet(content string) string {
	if content == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(content), " ")
	runes := []rune(clean)
	if len(runes) <= defaultSnippetMaxChars {
		return clean
	}
	return string(runes[:defaultSnippetMaxChars-3]) + "..."
}

// sourceList turns results into response sources, one per chunk, best first.
func sourceList(results []domain.RetrievalResult) []domain.Source {
	out := make([]domain.Source, 0, len(results))
	for _, r := range results {
		out = append(out, domain.Source{
			ChunkID:  r.Chunk.ID,
			SourceID: r.Chunk.SourceID,
			Title:    r.Chunk.DisplayTitle(),
			Score:    r.Score,
			Method:   r.Method,
		})
	}
	return out
}
