package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

func pdResults() []domain.RetrievalResult {
	return []domain.RetrievalResult{
		{
			Chunk: domain.Chunk{
				ID: "pd-1", SourceID: "credit-glossary", Title: "Probability of Default",
				Text: "PD (probability of default) is the likelihood that a borrower fails to meet obligations within one year. It is estimated per rating grade. Models are recalibrated annually.",
			},
			Score:  0.67,
			Method: domain.RetrievalMethodVector,
		},
		{
			Chunk: domain.Chunk{
				ID: "pd-2", SourceID: "risk-dashboard", Title: "PD on the risk dashboard",
				Text: "The risk dashboard shows PD per segment next to LGD and EAD.",
			},
			Score:  0.67,
			Method: domain.RetrievalMethodVector,
		},
	}
}

func TestResponder_DefinitionAnswer(t *testing.T) {
	gate := NewQualityGate(DefaultEngineOptions())
	a := gate.Assess(pdResults())

	d := Responder{}.Compose(domain.Query{Raw: "What is PD?"}, a)

	assert.Equal(t, DraftGrounded, d.Mode)
	assert.True(t, strings.HasPrefix(d.Reply, "### Definition: PD\n\n"))
	parts := strings.Split(d.Reply, "\n\n")
	require.GreaterOrEqual(t, len(parts), 2)
	assert.Equal(t, "PD (probability of default) is the likelihood that a borrower fails to meet obligations within one year. It is estimated per rating grade.", parts[1])
	assert.Contains(t, d.Reply, "**Key points**")
	assert.Contains(t, d.Reply, "1. Probability of Default (credit-glossary)")
	assert.Contains(t, d.Reply, "2. PD on the risk dashboard (risk-dashboard)")
	assert.True(t, strings.HasSuffix(d.Reply, "Based on 2 relevant documents, score: 0.67_"))
	assert.Equal(t, "_Based on 2 relevant documents, score: 0.67_", d.Attribution)
}

func TestResponder_IsDeterministic(t *testing.T) {
	gate := NewQualityGate(DefaultEngineOptions())
	q := domain.Query{Raw: "What is PD?"}

	first := Responder{}.Compose(q, gate.Assess(pdResults()))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Responder{}.Compose(q, gate.Assess(pdResults())))
	}
}

func TestResponder_AnswerHeadingForNonDefinition(t *testing.T) {
	gate := NewQualityGate(DefaultEngineOptions())
	results := pdResults()[:1]

	d := Responder{}.Compose(domain.Query{Raw: "How is PD estimated?"}, gate.Assess(results))

	assert.True(t, strings.HasPrefix(d.Reply, "### Answer\n\n"))
	assert.NotContains(t, d.Reply, "**Key points**")
	assert.Contains(t, d.Reply, "Based on 1 relevant documents, score: 0.67")
}

func TestResponder_PartialMatch(t *testing.T) {
	gate := NewQualityGate(DefaultEngineOptions())
	results := pdResults()
	results[0].Score, results[1].Score = 0.32, 0.31

	d := Responder{}.Compose(domain.Query{Raw: "What is PD?"}, gate.Assess(results))

	assert.Contains(t, d.Reply, "> Partial match")
	assert.Contains(t, d.Reply, "score: 0.32")
}

func TestResponder_LowConfidence(t *testing.T) {
	gate := NewQualityGate(DefaultEngineOptions())
	results := pdResults()
	results[0].Score, results[1].Score = 0.20, 0.10

	d := Responder{}.Compose(domain.Query{Raw: "What is the moon made of?"}, gate.Assess(results))

	assert.Equal(t, DraftGeneral, d.Mode)
	assert.True(t, strings.HasPrefix(d.Reply, "> **Low confidence / general knowledge:**"))
	assert.Contains(t, d.Reply, "best score 0.20")
	assert.Equal(t, d.Preamble, strings.SplitN(d.Reply, "\n", 2)[0])
	assert.Empty(t, d.Attribution)
}

func TestResponder_Gap(t *testing.T) {
	d := Responder{}.Compose(domain.Query{Raw: "What is a swaption?"}, NewQualityGate(DefaultEngineOptions()).Assess(nil))

	assert.Equal(t, DraftGeneral, d.Mode)
	assert.Contains(t, d.Reply, "not found in knowledge base, consider uploading more documents")
	assert.Contains(t, d.Reply, `"What is a swaption?"`)
}

func TestResponder_OutOfDomain(t *testing.T) {
	d := Responder{}.OutOfDomain(domain.Query{Raw: "hello"})
	assert.True(t, strings.HasPrefix(d.Reply, "> **General knowledge:**"))
	assert.Equal(t, DraftGeneral, d.Mode)
}

func TestDefinitionSubject(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"What is PD?", "PD", true},
		{"what's an LGD", "LGD", true},
		{"Define exposure at default", "exposure at default", true},
		{"explain the KYC refresh cycle.", "KYC refresh cycle", true},
		{"what is how we score", "", false},
		{"How is PD estimated?", "", false},
		{"What is the process for escalating a suspicious transaction to compliance review", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := definitionSubject(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLeadSentencesAndSnippet(t *testing.T) {
	assert.Equal(t, "One. Two.", leadSentences("One. Two. Three.", 2))
	assert.Equal(t, "Version 2.5 applies. Next.", leadSentences("Version 2.5 applies.  Next. Later.", 2))
	assert.Equal(t, "no terminator", leadSentences("no terminator", 2))

	long := strings.Repeat("x", 500)
	snippet := makeSnippet(long)
	require.Len(t, []rune(snippet), defaultSnippetMaxChars)
	assert.True(t, strings.HasSuffix(snippet, "..."))
	assert.Equal(t, "", makeSnippet(""))
}
