package knowledge

import "strings"

// DefaultChunkSize is the target number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the number of characters carried across chunk
// boundaries to preserve cross-boundary context.
const DefaultChunkOverlap = 200

// Chunker splits source text into overlapping chunks, preferring paragraph
// and sentence breaks over hard cuts near the target size.
type Chunker struct {
	chunkSize int
	overlap   int
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// NewChunker creates a chunker with the given options.
func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Overlap must leave room to make progress.
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split chunks the text. Empty or whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	total := len(runes)
	if total <= c.chunkSize {
		return []string{text}
	}

	estimated := total/(c.chunkSize-c.overlap) + 1
	chunks := make([]string, 0, estimated)

	start := 0
	for start < total {
		end := start + c.chunkSize
		if end >= total {
			end = total
		} else {
			end = c.breakPoint(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= total {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// breakPoint looks back from the hard cut for a paragraph break, then a
// sentence break, within the last quarter of the window. No break found
// means a hard cut.
func (c *Chunker) breakPoint(runes []rune, start, end int) int {
	window := string(runes[start:end])
	floor := len(window) - len(window)/4

	if i := strings.LastIndex(window, "\n\n"); i >= floor {
		return start + len([]rune(window[:i+2]))
	}
	for _, sep := range []string{". ", ".\n", "! ", "? "} {
		if i := strings.LastIndex(window, sep); i >= floor {
			return start + len([]rune(window[:i+len(sep)]))
		}
	}
	return end
}
