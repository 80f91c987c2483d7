package chunk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	name    string
	score   float64
	chunks  []string
	chunkFn func(text string, cfg Config) ([]string, error)
}

func (f fakeStrategy) Name() string        { return f.name }
func (f fakeStrategy) Description() string { return f.name }
func (f fakeStrategy) Defaults() Config    { return Config{MaxChars: 1000, Overlap: 100} }
func (f fakeStrategy) Applicability(sample string, meta Metadata) float64 {
	return f.score
}
func (f fakeStrategy) Chunk(text string, cfg Config) ([]string, error) {
	if f.chunkFn != nil {
		return f.chunkFn(text, cfg)
	}
	return f.chunks, nil
}

func TestAutoDetectPicksHighestScore(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(fakeStrategy{name: "default", score: 0.1, chunks: []string{"a"}})
	r.Register(fakeStrategy{name: "legal", score: 0.9, chunks: []string{"b"}})
	r.Register(fakeStrategy{name: "reviews", score: 0.5, chunks: []string{"c"}})

	name, err := r.AutoDetect("some sample text", Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "legal", name)
}

func TestAutoDetectTiesBreakByRegistrationOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(fakeStrategy{name: "first", score: 0.5})
	r.Register(fakeStrategy{name: "second", score: 0.5})

	name, err := r.AutoDetect("text", Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "first", name)
}

func TestAutoDetectEmptyTextReturnsDefault(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(fakeStrategy{name: "default", score: 0.5})
	r.Register(fakeStrategy{name: "legal", score: 0.9})

	name, err := r.AutoDetect("   ", Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "default", name)
}

func TestChunkTextUsesExplicitStrategy(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(fakeStrategy{name: "default", chunks: []string{"d"}})
	r.Register(fakeStrategy{name: "legal", chunks: []string{"article one", "article two"}})

	chunks, used, err := r.ChunkText("some legal text", "legal", nil, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "legal", used)
	assert.Equal(t, []string{"article one", "article two"}, chunks)
}

func TestChunkTextUnknownStrategyFallsBackToDefault(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(fakeStrategy{name: "default", chunks: []string{"fallback"}})

	chunks, used, err := r.ChunkText("text", "does-not-exist", nil, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "default", used)
	assert.Equal(t, []string{"fallback"}, chunks)
}

func TestChunkTextFailingStrategyFallsBackToDefault(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(fakeStrategy{name: "default", chunks: []string{"fallback"}})
	r.Register(fakeStrategy{name: "broken", chunkFn: func(string, Config) ([]string, error) {
		return nil, errors.New("strategy exploded")
	}})

	chunks, used, err := r.ChunkText("text", "broken", nil, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "default", used)
	assert.Equal(t, []string{"fallback"}, chunks)
}

func TestChunkTextDefaultFailureSurfacesError(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(fakeStrategy{name: "default", chunkFn: func(string, Config) ([]string, error) {
		return nil, errors.New("default exploded")
	}})

	_, _, err := r.ChunkText("text", "default", nil, Metadata{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default exploded")
}

func TestChunkTextEmptyInputReturnsNoChunks(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(fakeStrategy{name: "default", chunks: []string{"should not be used"}})

	chunks, used, err := r.ChunkText("   ", "", nil, Metadata{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, "", used)
}

func TestChunkTextOverridesMergeOverDefaults(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var seen Config
	r.Register(fakeStrategy{name: "default", chunkFn: func(text string, cfg Config) ([]string, error) {
		seen = cfg
		return []string{"x"}, nil
	}})

	_, _, err := r.ChunkText("text", "default", map[string]any{"overlap": 50, "min_chunk_chars": 10}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 50, seen.Overlap)
	assert.Equal(t, 1000, seen.MaxChars)
	assert.Equal(t, 10, seen.IntExtra("min_chunk_chars", 0))
}
