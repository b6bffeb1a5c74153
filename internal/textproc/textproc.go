// Package textproc holds the query normalization and tokenization shared by
// the classifier, the lexical index and the hashing embedder.
package textproc

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+(?:[.,]\p{N}+)*`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// Normalize folds a query into the canonical form used for caching and
// retrieval: NFKC, lower case, collapsed whitespace, no trailing punctuation.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = spacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Tokens splits text into lower-cased word and number tokens, stopwords included.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(norm.NFKC.String(text)), -1)
}

// Terms returns the tokens of text with stopwords removed.
func Terms(text string) []string {
	raw := Tokens(text)
	out := raw[:0]
	for _, t := range raw {
		if IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// IsStopword reports whether t carries no retrieval signal.
func IsStopword(t string) bool {
	_, ok := stopwords[t]
	return ok
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such",
		"into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off",
		"own", "same", "too", "very", "can", "will", "just", "don", "should", "now", "what", "whats",
		"what's", "which", "who", "whom", "how", "why", "when", "where", "do", "does", "did", "i", "me",
		"my", "we", "our", "you", "your", "please", "tell", "explain", "define", "meaning", "mean",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
