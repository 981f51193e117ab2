package agent

import (
	"unicode/utf8"

	"github.com/hunterwarburton/sage/internal/core"
)

// Limits bounds how much retrieved knowledge and history text make it
// into one context bundle.
type Limits struct {
	MaxKnowledgeChars int
	MaxHistoryChars   int
}

// DefaultLimits keeps the bundle comfortably inside common model context
// windows.
var DefaultLimits = Limits{
	MaxKnowledgeChars: 8000,
	MaxHistoryChars:   4000,
}

// Assemble combines retrieval results and recent history into a context
// bundle. It is a pure function of its inputs: same results and turns,
// same bundle.
//
// Knowledge is budgeted best-first, so the lowest-relevance chunks are
// dropped first; history is budgeted newest-first, so the oldest turns
// are dropped first. When even the single best item exceeds its budget,
// its text is cut to fit rather than losing it entirely.
func Assemble(results []core.SearchResult, turns []core.Turn, limits Limits) core.ContextBundle {
	if limits.MaxKnowledgeChars <= 0 {
		limits.MaxKnowledgeChars = DefaultLimits.MaxKnowledgeChars
	}
	if limits.MaxHistoryChars <= 0 {
		limits.MaxHistoryChars = DefaultLimits.MaxHistoryChars
	}

	bundle := core.ContextBundle{
		Chunks:  make([]core.SearchResult, 0, len(results)),
		History: make([]core.Turn, 0, len(turns)),
	}

	remaining := limits.MaxKnowledgeChars
	for i, res := range results {
		size := len(res.Chunk.Text)
		if size > remaining {
			if i == 0 && remaining > 0 {
				res.Chunk.Text = truncateRunes(res.Chunk.Text, remaining)
				bundle.Chunks = append(bundle.Chunks, res)
			}
			break
		}
		bundle.Chunks = append(bundle.Chunks, res)
		remaining -= size
	}

	remaining = limits.MaxHistoryChars
	kept := 0
	for i := len(turns) - 1; i >= 0; i-- {
		size := len(turns[i].Content)
		if size > remaining {
			if kept == 0 && remaining > 0 {
				turn := turns[i]
				turn.Content = truncateRunes(turn.Content, remaining)
				bundle.History = append(bundle.History, turn)
				kept++
			}
			break
		}
		bundle.History = append(bundle.History, turns[i])
		kept++
		remaining -= size
	}

	// History was collected newest-first; the bundle wants oldest-first.
	for i, j := 0, len(bundle.History)-1; i < j; i, j = i+1, j-1 {
		bundle.History[i], bundle.History[j] = bundle.History[j], bundle.History[i]
	}

	return bundle
}

// truncateRunes cuts text to at most max bytes without splitting a rune.
func truncateRunes(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
