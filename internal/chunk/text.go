package chunk

import (
	"regexp"
	"strings"
)

var sentenceSplitRE = regexp.MustCompile(`([.!?]+\s+)`)

// SplitSentences splits text into whole sentences, preserving terminal
// punctuation, never breaking mid-sentence. Grounded on
// chunking_strategies/strategies/legal.py's _split_into_sentences.
func SplitSentences(text string) []string {
	parts := sentenceSplitRE.Split(text, -1)
	seps := sentenceSplitRE.FindAllString(text, -1)

	var out []string
	for i, p := range parts {
		sentence := p
		if i < len(seps) {
			sentence += seps[i]
		}
		if s := strings.TrimSpace(sentence); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var blankLineRE = regexp.MustCompile(`\n\s*\n`)

// SplitParagraphs splits text on blank lines, trimming empty results.
func SplitParagraphs(text string) []string {
	raw := blankLineRE.Split(text, -1)
	var out []string
	for _, p := range raw {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AccumulateParagraphs implements the shared paragraph-accumulator used by
// the default, semantic_sections and page_plus_table_aware strategies:
// append paragraphs while the
// combined length stays within maxChars, flush on overflow, and carry the
// last `overlap` characters of the flushed chunk into the next one.
func AccumulateParagraphs(paragraphs []string, maxChars, overlap int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
		if overlap > 0 && len(text) > 0 {
			tail := tailRunes(text, overlap)
			current.WriteString(tail)
			current.WriteString("\n\n")
		}
	}

	for _, p := range paragraphs {
		if current.Len() > 0 && current.Len()+2+len(p) > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}

func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// NonEmpty filters out empty/whitespace-only strings, matching the CSR
// error semantics requirement that strategies never emit blank chunks.
func NonEmpty(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if s := strings.TrimSpace(c); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CountMatches sums the number of regexp matches across patterns within
// sample, used by several strategies' applicability scoring.
func CountMatches(sample string, patterns ...*regexp.Regexp) int {
	total := 0
	for _, p := range patterns {
		total += len(p.FindAllString(sample, -1))
	}
	return total
}
