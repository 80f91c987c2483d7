package strategies

import (
	"regexp"
	"strings"

	"ragindex/internal/chunk"
)

// PagePlusTableAware splits on explicit [PAGE n] markers emitted by
// upstream PDF/OCR extraction; oversize pages fall back to the default
// paragraph accumulator with the page header retained on every
// subchunk, so a retrieved chunk always carries its page provenance.
type PagePlusTableAware struct{}

func NewPagePlusTableAware() *PagePlusTableAware { return &PagePlusTableAware{} }

func (PagePlusTableAware) Name() string { return "page_plus_table_aware" }
func (PagePlusTableAware) Description() string {
	return "splits on [PAGE n] markers, retaining the page header on every subchunk"
}

func (PagePlusTableAware) Defaults() chunk.Config {
	return chunk.Config{MaxChars: 1500, Overlap: 0, Extra: map[string]any{}}
}

var pageMarkerRE = regexp.MustCompile(`(?m)^\s*\[PAGE\s+(\d+)\]\s*$`)

func (PagePlusTableAware) Applicability(sample string, meta chunk.Metadata) float64 {
	matches := pageMarkerRE.FindAllString(sample, -1)
	if len(matches) == 0 {
		return 0.05
	}
	score := 0.5
	if len(matches) >= 2 {
		score += 0.3
	}
	if strings.Count(sample, "|") > 3 {
		score += 0.1
	}
	return clamp(score)
}

func (p PagePlusTableAware) Chunk(text string, cfg chunk.Config) ([]string, error) {
	matches := pageMarkerRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}

	var chunks []string
	for i, m := range matches {
		header := strings.TrimSpace(text[m[0]:m[1]])
		contentStart := m[1]
		contentEnd := len(text)
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		}
		content := strings.TrimSpace(text[contentStart:contentEnd])
		if content == "" {
			continue
		}
		if len(content) <= cfg.MaxChars {
			chunks = append(chunks, header+"\n\n"+content)
			continue
		}
		for _, sub := range chunk.AccumulateParagraphs(chunk.SplitParagraphs(content), cfg.MaxChars, 0) {
			chunks = append(chunks, header+"\n\n"+sub)
		}
	}
	if len(chunks) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}
	return chunks, nil
}
