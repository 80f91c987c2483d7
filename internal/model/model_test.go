package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocumentLive(t *testing.T) {
	t.Parallel()
	d := Document{}
	assert.True(t, d.Live())

	now := time.Now()
	d.DeletedAt = &now
	assert.False(t, d.Live())
}

func TestChunkLive(t *testing.T) {
	t.Parallel()
	c := Chunk{}
	assert.True(t, c.Live())

	now := time.Now()
	c.DeletedAt = &now
	assert.False(t, c.Live())
}

func TestChunkEmbeddingInputPrefersEnrichedText(t *testing.T) {
	t.Parallel()
	c := Chunk{Text: "raw text", EmbedText: "enriched text"}
	assert.Equal(t, "enriched text", c.EmbeddingInput())
}

func TestChunkEmbeddingInputFallsBackToRawText(t *testing.T) {
	t.Parallel()
	c := Chunk{Text: "raw text"}
	assert.Equal(t, "raw text", c.EmbeddingInput())
}

func TestIndexMetadataKey(t *testing.T) {
	t.Parallel()
	m := IndexMetadata{TenantID: "t1", Namespace: "ns1", EmbeddingVersion: "v1"}
	assert.Equal(t, IndexKey{TenantID: "t1", Namespace: "ns1", EmbeddingVersion: "v1"}, m.Key())
}
