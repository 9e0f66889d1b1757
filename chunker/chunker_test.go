package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/inkwell/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_QuickBrownFox(t *testing.T) {
	content := "the quick brown fox jumps"
	require.Len(t, content, 25)

	chunks, err := Split(content, 10, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	starts := make([]int, len(chunks))
	for i, c := range chunks {
		starts[i] = c.Start
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, []int{0, 7, 14, 21}, starts)

	last := chunks[len(chunks)-1]
	assert.Equal(t, 25, last.End)
	assert.Less(t, last.End-last.Start, 10)
	assert.Equal(t, "umps", last.Text)
	assert.Equal(t, "the quick ", chunks[0].Text)
}

func TestSplit_EmptyContent(t *testing.T) {
	chunks, err := Split("", 10, 3)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"overlap equals size", 5, 5},
		{"overlap exceeds size", 5, 8},
		{"negative overlap", 5, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some content", tt.size, tt.overlap)
			assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
		})
	}
}

func TestSplit_ShortContentIsSingleChunk(t *testing.T) {
	chunks, err := Split("hello", 10, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.Chunk{Index: 0, Text: "hello", Start: 0, End: 5}, chunks[0])
}

func TestSplit_ExactFitDoesNotEmitTrailingChunk(t *testing.T) {
	// 17 runes: windows [0,10) and [7,17) already cover everything.
	chunks, err := Split(strings.Repeat("a", 17), 10, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 17, chunks[1].End)
}

func TestSplit_RuneOffsets(t *testing.T) {
	content := "héllo wörld ünïcode"
	chunks, err := Split(content, 6, 2)
	require.NoError(t, err)

	runes := []rune(content)
	for _, c := range chunks {
		assert.Equal(t, string(runes[c.Start:c.End]), c.Text)
		assert.True(t, utf8.ValidString(c.Text))
	}
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)
}

func TestSplit_CoverageProperties(t *testing.T) {
	contents := []string{
		"a",
		"ab",
		strings.Repeat("x", 99),
		strings.Repeat("lorem ipsum ", 37),
		"日本語のテキストを分割します。日本語のテキストを分割します。",
	}
	params := []struct{ size, overlap int }{
		{1, 0}, {2, 1}, {3, 0}, {7, 3}, {10, 9}, {64, 16}, {500, 0},
	}

	for _, content := range contents {
		total := utf8.RuneCountInString(content)
		for _, p := range params {
			chunks, err := Split(content, p.size, p.overlap)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			assert.Equal(t, 0, chunks[0].Start)
			assert.Equal(t, total, chunks[len(chunks)-1].End)

			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.True(t, 0 <= c.Start && c.Start < c.End && c.End <= total,
					"bad offsets %d..%d for len %d", c.Start, c.End, total)
				assert.LessOrEqual(t, c.End-c.Start, p.size)
				if i > 0 {
					prev := chunks[i-1]
					assert.GreaterOrEqual(t, c.Start, prev.Start)
					// No gaps, and consecutive chunks share exactly the overlap.
					assert.LessOrEqual(t, c.Start, prev.End)
					assert.Equal(t, p.overlap, prev.End-c.Start)
				}
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	content := strings.Repeat("deterministic chunking ", 20)
	a, err := Split(content, 33, 7)
	require.NoError(t, err)
	b, err := Split(content, 33, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitDocument(t *testing.T) {
	doc := &core.Document{Id: 42, Content: "the quick brown fox jumps"}
	chunks, err := SplitDocument(doc, 10, 3)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, core.ID(42), c.DocumentId)
	}
}

func TestNew(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, c.Size())
	assert.Equal(t, DefaultChunkOverlap, c.Overlap())

	c, err = New(WithChunkSize(10), WithOverlap(3))
	require.NoError(t, err)
	assert.Len(t, c.Split("the quick brown fox jumps"), 4)

	_, err = New(WithChunkSize(4), WithOverlap(4))
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}
