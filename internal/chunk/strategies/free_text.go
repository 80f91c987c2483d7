package strategies

import (
	"strings"

	"ragindex/internal/chunk"
)

// FreeText is the general-purpose prose strategy: like Default but splits
// oversize paragraphs at sentence boundaries (never mid-sentence), counts
// overlap in whole sentences, and merges undersized chunks with a
// neighbour. Grounded on
// chunking_strategies/strategies/free_text.py.
type FreeText struct{}

func NewFreeText() *FreeText { return &FreeText{} }

func (FreeText) Name() string        { return "free_text" }
func (FreeText) Description() string { return "sentence-aware prose chunker with neighbour-merge for small chunks" }

func (FreeText) Defaults() chunk.Config {
	return chunk.Config{MaxChars: 1000, Overlap: 100, Extra: map[string]any{"min_chunk_chars": 200}}
}

func (FreeText) Applicability(sample string, meta chunk.Metadata) float64 {
	// Free text is the generic prose detector: score by sentence density
	// and absence of strong structural signals (pipes, numbered articles).
	sentences := chunk.SplitSentences(sample)
	if len(sentences) == 0 {
		return 0.2
	}
	avgLen := len(sample) / max(len(sentences), 1)
	score := 0.4
	if avgLen > 20 && avgLen < 220 {
		score += 0.2
	}
	if strings.Count(sample, "|") < 3 && !strings.Contains(sample, "[PAGE") {
		score += 0.1
	}
	return clamp(score)
}

func (FreeText) Chunk(text string, cfg chunk.Config) ([]string, error) {
	minChunkChars := cfg.IntExtra("min_chunk_chars", 200)
	paragraphs := chunk.SplitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil, nil
	}

	// Split any paragraph longer than MaxChars at sentence boundaries
	// first, so the accumulator never has to break mid-sentence.
	var units []string
	for _, p := range paragraphs {
		if len(p) <= cfg.MaxChars {
			units = append(units, p)
			continue
		}
		units = append(units, splitLongParagraph(p, cfg.MaxChars)...)
	}

	chunks := accumulateSentenceAware(units, cfg.MaxChars, cfg.Overlap)
	return mergeSmallChunks(chunks, minChunkChars), nil
}

// splitLongParagraph breaks an oversize paragraph into sentence-bounded
// pieces each within maxChars.
func splitLongParagraph(p string, maxChars int) []string {
	sentences := chunk.SplitSentences(p)
	if len(sentences) == 0 {
		return []string{p}
	}
	var out []string
	var cur strings.Builder
	for _, s := range sentences {
		if cur.Len() > 0 && cur.Len()+1+len(s) > maxChars {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		out = append(out, strings.TrimSpace(cur.String()))
	}
	return out
}

// accumulateSentenceAware mirrors chunk.AccumulateParagraphs but carries
// overlap measured in whole trailing sentences rather than raw characters.
func accumulateSentenceAware(units []string, maxChars, overlap int) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text == "" {
			return
		}
		chunks = append(chunks, text)
		cur.Reset()
		if overlap > 0 {
			sentences := chunk.SplitSentences(text)
			tailChars := 0
			var tail []string
			for i := len(sentences) - 1; i >= 0 && tailChars < overlap; i-- {
				tail = append([]string{sentences[i]}, tail...)
				tailChars += len(sentences[i])
			}
			if len(tail) > 0 {
				cur.WriteString(strings.Join(tail, " "))
				cur.WriteString(" ")
			}
		}
	}

	for _, u := range units {
		if cur.Len() > 0 && cur.Len()+2+len(u) > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(u)
	}
	flush()
	return chunks
}

// mergeSmallChunks merges any chunk smaller than minChunkChars with the
// following neighbour, as long as the merged size stays within
// 3*minChunkChars.
func mergeSmallChunks(chunks []string, minChunkChars int) []string {
	if len(chunks) < 2 {
		return chunks
	}
	var out []string
	i := 0
	for i < len(chunks) {
		c := chunks[i]
		for len(c) < minChunkChars && i+1 < len(chunks) && len(c)+2+len(chunks[i+1]) <= 3*minChunkChars {
			i++
			c = c + "\n\n" + chunks[i]
		}
		out = append(out, c)
		i++
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
