package strategies

import (
	"regexp"
	"strings"

	"ragindex/internal/chunk"
)

// SemanticSections splits Markdown-structured prose on its headers — ATX
// (#, ##, ###) or Setext (underlined with ===/---) — carrying each
// section's header as a prefix on every emitted chunk; oversize
// sections fall back to the default accumulator.
type SemanticSections struct{}

func NewSemanticSections() *SemanticSections { return &SemanticSections{} }

func (SemanticSections) Name() string { return "semantic_sections" }
func (SemanticSections) Description() string {
	return "splits on markdown-style headers, prefixing each section with its header"
}

func (SemanticSections) Defaults() chunk.Config {
	return chunk.Config{MaxChars: 1200, Overlap: 0, Extra: map[string]any{}}
}

var atxHeaderRE = regexp.MustCompile(`(?m)^(#{1,3})\s+(.+)$`)
var setextHeaderRE = regexp.MustCompile(`(?m)^(.+)\n(={3,}|-{3,})\s*$`)

func (SemanticSections) Applicability(sample string, meta chunk.Metadata) float64 {
	atx := len(atxHeaderRE.FindAllString(sample, -1))
	setext := len(setextHeaderRE.FindAllString(sample, -1))
	total := atx + setext
	if total == 0 {
		return 0.1
	}
	score := 0.35
	switch {
	case total >= 3:
		score += 0.35
	case total >= 1:
		score += 0.2
	}
	return clamp(score)
}

type semanticHeading struct {
	start  int
	pos    int
	header string
}

func (s SemanticSections) Chunk(text string, cfg chunk.Config) ([]string, error) {
	headings := collectSemanticHeadings(text)
	if len(headings) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}

	var chunks []string
	for i, h := range headings {
		end := len(text)
		if i+1 < len(headings) {
			end = headings[i+1].start
		}
		sectionEnd := end
		contentStart := h.pos
		// contentStart already points past the heading line (see collectSemanticHeadings).
		content := strings.TrimSpace(text[contentStart:sectionEnd])
		if content == "" {
			continue
		}
		body := h.header
		if content != "" {
			body += "\n\n" + content
		}
		if len(body) <= cfg.MaxChars {
			chunks = append(chunks, body)
			continue
		}
		for _, sub := range chunk.AccumulateParagraphs(chunk.SplitParagraphs(content), cfg.MaxChars, 0) {
			chunks = append(chunks, h.header+"\n\n"+sub)
		}
	}
	if len(chunks) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}
	return chunks, nil
}

func collectSemanticHeadings(text string) []semanticHeading {
	var raw []semanticHeading
	for _, m := range atxHeaderRE.FindAllStringSubmatchIndex(text, -1) {
		header := strings.TrimSpace(text[m[0]:m[1]])
		raw = append(raw, semanticHeading{start: m[0], pos: m[1], header: header})
	}
	for _, m := range setextHeaderRE.FindAllStringSubmatchIndex(text, -1) {
		header := strings.TrimSpace(text[m[0]:m[1]])
		raw = append(raw, semanticHeading{start: m[0], pos: m[1], header: header})
	}
	for i := 1; i < len(raw); i++ {
		for j := i; j > 0 && raw[j].pos < raw[j-1].pos; j-- {
			raw[j], raw[j-1] = raw[j-1], raw[j]
		}
	}
	return raw
}
