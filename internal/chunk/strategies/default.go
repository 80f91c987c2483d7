// Package strategies implements the built-in content-aware chunkers.
package strategies

import (
	"ragindex/internal/chunk"
)

// Default is the paragraph-accumulator fallback strategy every other
// strategy falls back to.
type Default struct{}

func NewDefault() *Default { return &Default{} }

func (Default) Name() string        { return "default" }
func (Default) Description() string { return "paragraph accumulator with trailing-character overlap" }

func (Default) Defaults() chunk.Config {
	return chunk.Config{MaxChars: 800, Overlap: 0, Extra: map[string]any{}}
}

// Applicability is a low constant floor: default is always a candidate but
// never wins over a more specific strategy that also matches.
func (Default) Applicability(sample string, meta chunk.Metadata) float64 {
	return 0.1
}

func (Default) Chunk(text string, cfg chunk.Config) ([]string, error) {
	paragraphs := chunk.SplitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil, nil
	}
	return chunk.AccumulateParagraphs(paragraphs, cfg.MaxChars, cfg.Overlap), nil
}
