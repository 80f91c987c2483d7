package strategies

import (
	"regexp"
	"strings"

	"ragindex/internal/chunk"
)

// Administrative handles government and policy documents: decisions,
// grants, permits. Special sections (Besluit, Motivering, Voorwaarden,
// Uitsluitingen, Procedure, Termijnen) are always emitted as their own
// chunk, even when short, so "do I qualify for X" questions retrieve the
// whole clause. Grounded on
// chunking_strategies/strategies/administrative.py.
type Administrative struct{}

func NewAdministrative() *Administrative { return &Administrative{} }

func (Administrative) Name() string { return "administrative" }
func (Administrative) Description() string {
	return "section-aware chunker for government decisions, grants and permits"
}

func (Administrative) Defaults() chunk.Config {
	return chunk.Config{MaxChars: 1200, Overlap: 100, Extra: map[string]any{"split_special_sections": true}}
}

var administrativeSpecialSections = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:^|\n)\s*(BESLUIT|BESLISSING|BESCHIKKING)`),
	regexp.MustCompile(`(?i)(?:^|\n)\s*(MOTIVERING|OVERWEGINGEN?|TOELICHTING)`),
	regexp.MustCompile(`(?i)(?:^|\n)\s*(RANDVOORWAARDEN?|VOORWAARDEN?|BEPALINGEN)`),
	regexp.MustCompile(`(?i)(?:^|\n)\s*(UITSLUITINGEN?|NIET IN AANMERKING)`),
	regexp.MustCompile(`(?i)(?:^|\n)\s*(PROCEDURE|AANVRAAGPROCEDURE|STAPPEN)`),
	regexp.MustCompile(`(?i)(?:^|\n)\s*(TERMIJNEN?|DEADLINES?)`),
}

var administrativeGeneralSections = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^(\d+\.?\s+[A-Z].{4,59})$`),
	regexp.MustCompile(`(?m)^([A-Z][A-Z\s]{10,50})$`),
}

var administrativeTerms = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(college van b\s*&\s*w|burgemeester|wethouder)\b`),
	regexp.MustCompile(`(?i)\b(gemeenteraad|raadsbesluit|raadsvergadering)\b`),
	regexp.MustCompile(`(?i)\b(besluit|besluiten|beslissing|beschikking)\b`),
	regexp.MustCompile(`(?i)\b(subsidie|subsidieverlening)\b`),
	regexp.MustCompile(`(?i)\b(vergunning|ontheffing|toestemming)\b`),
	regexp.MustCompile(`(?i)\b(beleid|beleidsplan|beleidsnota)\b`),
	regexp.MustCompile(`(?i)\b(advies|adviseert|geadviseerd)\b`),
	regexp.MustCompile(`(?i)\b(overwegende dat|gelet op|gezien)\b`),
	regexp.MustCompile(`(?i)\b(krachtens|ingevolge|op grond van)\b`),
}

var administrativeSubsidyTerms = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(in aanmerking|aanspraak|komen voor)\b`),
	regexp.MustCompile(`(?i)\b(voorwaarde|voldoen aan|vereist)\b`),
	regexp.MustCompile(`(?i)\b(uitgesloten|niet in aanmerking|afgewezen)\b`),
	regexp.MustCompile(`(?i)\b(aanvraag|indienen|aanvrager)\b`),
	regexp.MustCompile(`(?i)\b(termijn|uiterlijk)\b`),
	regexp.MustCompile(`(?i)\b(budget|beschikbaar|maximaal bedrag)\b`),
}

var administrativeBodyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(gemeente\s+[\w\-]+)`),
	regexp.MustCompile(`(?i)(college van b\s*&\s*w)`),
	regexp.MustCompile(`(?i)(gemeenteraad)`),
	regexp.MustCompile(`(?i)(provincie\s+[\w\-]+)`),
	regexp.MustCompile(`(?i)(ministerie|minister van)`),
	regexp.MustCompile(`(?i)(waterschap)`),
}

var administrativeDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:d\.?d\.?|datum|vastgesteld op)\s*:?\s*(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`),
	regexp.MustCompile(`(?i)(\d{1,2}\s+(?:januari|februari|maart|april|mei|juni|juli|augustus|september|oktober|november|december)\s+\d{4})`),
}

var administrativeHints = []string{
	"besluit", "beleid", "nota", "subsidie", "vergunning",
	"raad", "college", "gemeente", "advies", "beschikking",
}

func (Administrative) Applicability(sample string, meta chunk.Metadata) float64 {
	if len(sample) > 3000 {
		sample = sample[:3000]
	}
	score := 0.3

	specialCount := 0
	for _, p := range administrativeSpecialSections {
		if p.MatchString(sample) {
			specialCount++
		}
	}
	switch {
	case specialCount >= 2:
		score += 0.25
	case specialCount == 1:
		score += 0.15
	}

	adminCount := chunk.CountMatches(sample, administrativeTerms...)
	switch {
	case adminCount >= 5:
		score += 0.2
	case adminCount >= 3:
		score += 0.1
	}

	if chunk.CountMatches(sample, administrativeSubsidyTerms...) >= 3 {
		score += 0.15
	}

	for _, p := range administrativeBodyPatterns {
		if p.MatchString(sample) {
			score += 0.15
			break
		}
	}

	if chunk.CountMatches(sample, administrativeDatePatterns...) > 0 {
		score += 0.1
	}

	fn := strings.ToLower(meta.Filename())
	for _, hint := range administrativeHints {
		if strings.Contains(fn, hint) {
			score += 0.15
			break
		}
	}

	return clamp(score)
}

type administrativeSection struct {
	kind    string // "special", "important", "regular"
	header  string
	content string
}

func (a Administrative) Chunk(text string, cfg chunk.Config) ([]string, error) {
	splitSpecial := cfg.BoolExtra("split_special_sections", true)

	sections := splitAdministrativeSections(text)
	if len(sections) == 0 {
		return administrativeFallback(text, cfg), nil
	}

	var chunks []string
	for _, sec := range sections {
		if splitSpecial && (sec.kind == "special" || sec.kind == "important") {
			chunks = append(chunks, formatAdministrativeChunk(sec.kind, sec.header, sec.content))
			continue
		}
		if len(sec.content) > cfg.MaxChars {
			chunks = append(chunks, splitAdministrativeSection(sec.header, sec.content, cfg)...)
		} else {
			chunks = append(chunks, formatAdministrativeChunk(sec.kind, sec.header, sec.content))
		}
	}
	if len(chunks) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}
	return chunks, nil
}

func splitAdministrativeSections(text string) []administrativeSection {
	type hit struct {
		pos    int
		header string
		kind   string
	}
	var hits []hit

	for _, p := range administrativeSpecialSections {
		for _, loc := range p.FindAllStringSubmatchIndex(text, -1) {
			header := submatch(text, loc, 1)
			if header == "" {
				header = strings.TrimSpace(text[loc[0]:loc[1]])
			}
			hits = append(hits, hit{pos: loc[0], header: header, kind: "special"})
		}
	}
	for _, p := range administrativeGeneralSections {
		for _, loc := range p.FindAllStringSubmatchIndex(text, -1) {
			start := loc[0]
			overlaps := false
			for _, h := range hits {
				d := h.pos - start
				if d > -10 && d < 10 {
					overlaps = true
					break
				}
			}
			if overlaps {
				continue
			}
			header := strings.TrimSpace(submatch(text, loc, 1))
			hits = append(hits, hit{pos: start, header: header, kind: "regular"})
		}
	}

	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	if len(hits) == 0 {
		return nil
	}

	var sections []administrativeSection
	for i, h := range hits {
		end := len(text)
		if i+1 < len(hits) {
			end = hits[i+1].pos
		}
		contentStart := h.pos + len(h.header)
		if contentStart > end {
			contentStart = h.pos
		}
		content := strings.TrimSpace(text[contentStart:end])
		sections = append(sections, administrativeSection{kind: h.kind, header: h.header, content: content})
	}
	if hits[0].pos > 50 {
		preamble := strings.TrimSpace(text[:hits[0].pos])
		if preamble != "" {
			sections = append([]administrativeSection{{kind: "important", header: "Inleiding", content: preamble}}, sections...)
		}
	}
	return sections
}

func splitAdministrativeSection(header, content string, cfg chunk.Config) []string {
	paragraphs := chunk.SplitParagraphs(content)
	var chunks []string
	var cur strings.Builder
	for _, p := range paragraphs {
		if cur.Len() > 0 && cur.Len()+2+len(p) > cfg.MaxChars {
			chunks = append(chunks, formatAdministrativeChunk("regular", header, strings.TrimSpace(cur.String())))
			text := cur.String()
			cur.Reset()
			if cfg.Overlap > 0 && len(text) > cfg.Overlap {
				cur.WriteString(tailRunesAdmin(text, cfg.Overlap))
				cur.WriteString("\n\n")
			}
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, formatAdministrativeChunk("regular", header, strings.TrimSpace(cur.String())))
	}
	return chunks
}

func tailRunesAdmin(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func formatAdministrativeChunk(kind, header, content string) string {
	var parts []string
	switch kind {
	case "special":
		parts = append(parts, "[SECTIE: "+header+"]", "[TYPE: BELANGRIJK]")
	case "important":
		parts = append(parts, "[SECTIE: "+header+"]")
	default:
		if header != "" {
			parts = append(parts, "["+header+"]")
		}
	}
	parts = append(parts, "", content)
	return strings.Join(parts, "\n")
}

func administrativeFallback(text string, cfg chunk.Config) []string {
	paragraphs := chunk.SplitParagraphs(text)
	if len(paragraphs) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	var chunks []string
	var cur strings.Builder
	for _, p := range paragraphs {
		if cur.Len() > 0 && cur.Len()+2+len(p) > cfg.MaxChars {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			text := cur.String()
			cur.Reset()
			if cfg.Overlap > 0 && len(text) > cfg.Overlap {
				cur.WriteString(tailRunesAdmin(text, cfg.Overlap))
				cur.WriteString("\n\n")
			}
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(cur.String()))
	}
	return chunks
}
