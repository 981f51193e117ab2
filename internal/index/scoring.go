package index

import (
	"strings"
	"unicode"

	"github.com/viterin/vek/vek32"
)

// Hybrid weight defaults. The vector side dominates; keyword overlap acts
// as a lexical tiebreaker for exact-term queries.
const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// cosineScore maps cosine similarity into [0, 1]. Mismatched or empty
// vectors score zero so a degraded query embedding cannot poison ranking.
func cosineScore(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	sim := vek32.CosineSimilarity(a, b)
	if sim != sim { // NaN from a zero vector
		return 0
	}
	return (sim + 1) / 2
}

// keywordScore is a normalized term-frequency match: for each distinct
// query term, occurrences in the chunk count toward the score with
// diminishing returns, averaged over the query terms.
func keywordScore(queryText, chunkText string) float32 {
	terms := tokenize(queryText)
	if len(terms) == 0 {
		return 0
	}

	counts := make(map[string]int)
	for _, tok := range tokenize(chunkText) {
		counts[tok]++
	}

	seen := make(map[string]struct{}, len(terms))
	var total float32
	var distinct int
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		distinct++

		tf := counts[term]
		if tf > 4 {
			tf = 4
		}
		total += float32(tf) / 4
	}
	return total / float32(distinct)
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
