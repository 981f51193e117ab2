package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerEmptyInput(t *testing.T) {
	c := NewChunker()

	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\t  "))
}

func TestChunkerSmallInputSingleChunk(t *testing.T) {
	c := NewChunker()

	chunks := c.Split("a short document")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short document", chunks[0])
}

func TestChunkerRespectsSize(t *testing.T) {
	c := NewChunker(WithChunkSize(100), WithOverlap(20))

	text := strings.Repeat("lorem ipsum dolor sit amet. ", 50)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 100)
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestChunkerCoversWholeText(t *testing.T) {
	c := NewChunker(WithChunkSize(80), WithOverlap(10))

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("sentence number ")
		sb.WriteRune(rune('a' + i%26))
		sb.WriteString(". ")
	}
	text := strings.TrimSpace(sb.String())

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	// The first chunk starts the text, the last one ends it.
	assert.True(t, strings.HasPrefix(text, chunks[0]))
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
}

func TestChunkerPrefersParagraphBreaks(t *testing.T) {
	c := NewChunker(WithChunkSize(100), WithOverlap(0))

	para1 := strings.Repeat("x", 90)
	para2 := strings.Repeat("y", 90)
	chunks := c.Split(para1 + "\n\n" + para2)

	require.Len(t, chunks, 2)
	assert.Equal(t, para1, chunks[0])
	assert.Equal(t, para2, chunks[1])
}

func TestChunkerOverlapCarriesContext(t *testing.T) {
	c := NewChunker(WithChunkSize(50), WithOverlap(20))

	// Unbroken text forces hard cuts, making the overlap visible.
	text := strings.Repeat("abcdefghij", 20)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	tail := chunks[0][len(chunks[0])-20:]
	assert.True(t, strings.HasPrefix(chunks[1], tail))
}

func TestChunkerExcessiveOverlapStillProgresses(t *testing.T) {
	// Overlap >= size would loop forever without the constructor clamp.
	c := NewChunker(WithChunkSize(40), WithOverlap(100))

	chunks := c.Split(strings.Repeat("z", 500))
	assert.NotEmpty(t, chunks)
	assert.Greater(t, len(chunks), 1)
}
