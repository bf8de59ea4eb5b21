package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkSingleChunk(t *testing.T) {
	c := NewWithConfig(ChunkerConfig{ChunkSize: 500, ChunkOverlap: 50})

	text := "Patient admitted with chest pain. Troponin I elevated at 2.4. Started on heparin drip."
	chunks, err := c.Chunk(text)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "Troponin I elevated at 2.4")
}

func TestChunkInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		config ChunkerConfig
		text   string
	}{
		{"zero size", ChunkerConfig{ChunkSize: -1, ChunkOverlap: -1}, "some text"},
		{"overlap equals size", ChunkerConfig{ChunkSize: 100, ChunkOverlap: 100}, "some text"},
		{"overlap exceeds size", ChunkerConfig{ChunkSize: 100, ChunkOverlap: 150}, "some text"},
		{"empty text", ChunkerConfig{ChunkSize: 100, ChunkOverlap: 10}, "   \n\t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewWithConfig(tt.config)
			_, err := c.Chunk(tt.text)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestChunkOverlapCarriesContext(t *testing.T) {
	c := NewWithConfig(ChunkerConfig{ChunkSize: 120, ChunkOverlap: 30, MinChunkLength: 20})

	text := "The patient presented with acute shortness of breath and wheezing. " +
		"Oxygen saturation measured at 88 percent on room air during triage. " +
		"Nebulized albuterol was administered with moderate improvement noted. " +
		"The care team escalated to BiPAP support overnight for comfort."

	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1])
		lastWord := prevWords[len(prevWords)-1]
		assert.Contains(t, chunks[i], lastWord,
			"chunk %d should start with the tail of chunk %d", i, i-1)
	}
}

func TestChunkBound(t *testing.T) {
	size := 200
	overlap := 40
	c := NewWithConfig(ChunkerConfig{ChunkSize: size, ChunkOverlap: overlap, MinChunkLength: 20})

	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("Vital signs remained stable throughout the overnight observation period. ")
	}

	chunks, err := c.Chunk(sb.String())
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// A chunk may exceed the size by the overlap seed plus one sentence
	// boundary, never by more.
	slack := overlap + 2
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), size+slack, "chunk %d too long", i)
		assert.GreaterOrEqual(t, len(chunk), 20, "chunk %d below minimum", i)
	}
}

func TestChunkCoverage(t *testing.T) {
	c := NewWithConfig(ChunkerConfig{ChunkSize: 150, ChunkOverlap: 20, MinChunkLength: 1})

	sentences := []string{
		"Morning labs drawn at six with results pending review",
		"Chest radiograph showed bilateral infiltrates worse on the left",
		"Diuresis continued with furosemide at forty milligrams twice daily",
		"Renal function remained within normal limits on repeat panel",
		"Family meeting scheduled to discuss goals of care tomorrow",
	}
	text := strings.Join(sentences, ". ") + "."

	chunks, err := c.Chunk(text)
	require.NoError(t, err)

	joined := strings.Join(chunks, " ")
	for _, sentence := range sentences {
		assert.Contains(t, joined, sentence)
	}
}

func TestChunkNoSentencePunctuation(t *testing.T) {
	c := NewWithConfig(ChunkerConfig{ChunkSize: 100, ChunkOverlap: 10, MinChunkLength: 10})

	// One giant "sentence" with no punctuation must terminate and
	// produce output rather than spin.
	text := strings.Repeat("word ", 500)
	chunks, err := c.Chunk(text)

	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
	assert.LessOrEqual(t, len(chunks), MaxChunks)
}

func TestChunkDropsShortFragments(t *testing.T) {
	c := NewWithConfig(ChunkerConfig{ChunkSize: 500, ChunkOverlap: 50, MinChunkLength: 50})

	chunks, err := c.Chunk("Stable. Fine. OK.")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
