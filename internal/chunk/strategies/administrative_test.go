package strategies

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragindex/internal/chunk"
)

func TestAdministrativeApplicabilityScoresHigherWithSpecialSections(t *testing.T) {
	t.Parallel()
	a := NewAdministrative()
	structured := "BESLUIT\nHet college besluit de vergunning te verlenen.\n\nMOTIVERING\nOmdat de aanvraag voldoet aan de voorwaarden die gelden.\n"
	plain := "Just some plain prose about the weather with nothing official in it."
	assert.Greater(t, a.Applicability(structured, chunk.Metadata{}), a.Applicability(plain, chunk.Metadata{}))
}

func TestAdministrativeChunkAlwaysEmitsSpecialSectionsSeparately(t *testing.T) {
	t.Parallel()
	a := NewAdministrative()
	text := "BESLUIT\nHet college besluit de vergunning te verlenen.\n\nMOTIVERING\nOmdat de aanvraag voldoet aan de voorwaarden.\n"
	chunks, err := a.Chunk(text, a.Defaults())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	tagged := 0
	for _, c := range chunks {
		if strings.Contains(c, "[TYPE: BELANGRIJK]") {
			tagged++
		}
	}
	assert.Equal(t, 2, tagged)
}

func TestAdministrativeChunkFallsBackWithoutSections(t *testing.T) {
	t.Parallel()
	a := NewAdministrative()
	text := "just some unremarkable prose with no administrative structure at all."
	chunks, err := a.Chunk(text, a.Defaults())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}
