package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragindex/internal/chunk"
)

func TestSemanticSectionsApplicabilityRequiresHeaders(t *testing.T) {
	t.Parallel()
	s := NewSemanticSections()
	assert.Equal(t, 0.1, s.Applicability("just plain text with no headers", chunk.Metadata{}))

	withHeaders := "# Intro\n\nsome text\n\n## Details\n\nmore text\n\n### Notes\n\nfinal text\n"
	assert.Greater(t, s.Applicability(withHeaders, chunk.Metadata{}), 0.1)
}

func TestSemanticSectionsChunkPrefixesEachSectionWithItsHeader(t *testing.T) {
	t.Parallel()
	s := NewSemanticSections()
	text := "# Intro\n\nintro body text\n\n## Details\n\ndetails body text\n"
	chunks, err := s.Chunk(text, s.Defaults())
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "# Intro")
	assert.Contains(t, chunks[0], "intro body text")
	assert.Contains(t, chunks[1], "## Details")
	assert.Contains(t, chunks[1], "details body text")
}

func TestSemanticSectionsChunkFallsBackWithoutHeaders(t *testing.T) {
	t.Parallel()
	s := NewSemanticSections()
	chunks, err := s.Chunk("no headers anywhere in this text", s.Defaults())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestSemanticSectionsChunkSplitsOversizeSection(t *testing.T) {
	t.Parallel()
	s := NewSemanticSections()
	cfg := chunk.Config{MaxChars: 40}
	text := "# Big Section\n\nThis is paragraph one with some length.\n\nThis is paragraph two with more length."
	chunks, err := s.Chunk(text, cfg)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Contains(t, c, "# Big Section")
	}
}
