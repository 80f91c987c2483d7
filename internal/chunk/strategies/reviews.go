package strategies

import (
	"fmt"
	"regexp"
	"strings"

	"ragindex/internal/chunk"
)

// Reviews never puts more than one review in a chunk. Multi-review input
// is split on rating-prefix or "Review by" markers; reviews over
// max_tokens are split on sentence boundaries with a part i/n marker.
// Grounded on chunking_strategies/strategies/reviews.py.
type Reviews struct{}

func NewReviews() *Reviews { return &Reviews{} }

func (Reviews) Name() string        { return "reviews" }
func (Reviews) Description() string { return "one review per chunk, never mixed, with long-review splitting" }

func (Reviews) Defaults() chunk.Config {
	return chunk.Config{
		MaxChars: 2800, // max_tokens 700 * ~4 chars/token
		Overlap:  0,
		Extra:    map[string]any{"max_tokens": 700, "min_review_length": 10, "split_long_reviews": true},
	}
}

var reviewIndicatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(rating|beoordeling|sterren|stars)\b`),
	regexp.MustCompile(`(?i)\b(review|recensie|ervaring)\b`),
	regexp.MustCompile(`(?i)\b(google|yelp|tripadvisor)\b`),
	regexp.MustCompile(`[★⭐]{1,5}`),
	regexp.MustCompile(`\b[1-5]/5\b`),
}

var reviewSentimentWords = []string{
	"geweldig", "fantastisch", "uitstekend", "top", "prima", "goed", "fijn", "aanrader",
	"slecht", "teleurstellend", "nooit meer", "niet aanraden", "verschrikkelijk", "onacceptabel",
}

var reviewHints = []string{"review", "recensie", "google", "yelp", "feedback"}

func (Reviews) Applicability(sample string, meta chunk.Metadata) float64 {
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	score := 0.3

	indicatorCount := chunk.CountMatches(sample, reviewIndicatorPatterns...)
	switch {
	case indicatorCount >= 2:
		score += 0.25
	case indicatorCount == 1:
		score += 0.15
	}

	lower := strings.ToLower(sample)
	sentimentCount := 0
	for _, w := range reviewSentimentWords {
		if strings.Contains(lower, w) {
			sentimentCount++
		}
	}
	switch {
	case sentimentCount >= 3:
		score += 0.2
	case sentimentCount >= 1:
		score += 0.1
	}

	if dt, _ := meta["doc_type"].(string); dt == "review" {
		score += 0.3
	}
	if src, _ := meta["source"].(string); src == "google" || src == "yelp" || src == "tripadvisor" || src == "reviews" {
		score += 0.25
	}
	if _, ok := meta["rating"]; ok {
		score += 0.15
	}

	fn := strings.ToLower(meta.Filename())
	for _, hint := range reviewHints {
		if strings.Contains(fn, hint) {
			score += 0.15
			break
		}
	}

	if len(sample) < 1000 {
		score += 0.1
	}

	return clamp(score)
}

var reviewRatingSplitRE = regexp.MustCompile(`(?:Rating:|Beoordeling:|\*+|★+)\s*[1-5](?:/5)?\s*\n`)
var reviewByAuthorRE = regexp.MustCompile(`(?:Review by|Recensie van|Door)\s+([A-Z][a-z]+(?:\s+[A-Z]\.?)?)\s*\n`)

func (r Reviews) Chunk(text string, cfg chunk.Config) ([]string, error) {
	maxTokens := cfg.IntExtra("max_tokens", 700)
	minLength := cfg.IntExtra("min_review_length", 10)
	splitLong := cfg.BoolExtra("split_long_reviews", true)
	maxChars := maxTokens * 4

	bodies := extractIndividualReviews(text)
	if len(bodies) == 0 {
		bodies = []string{text}
	}

	var chunks []string
	for _, body := range bodies {
		trimmed := strings.TrimSpace(body)
		if len(trimmed) < minLength {
			continue
		}
		if splitLong && len(trimmed) > maxChars {
			chunks = append(chunks, splitLongReview(trimmed, maxChars)...)
		} else {
			chunks = append(chunks, formatReviewChunk(trimmed, ""))
		}
	}
	if len(chunks) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}
	return chunks, nil
}

func extractIndividualReviews(text string) []string {
	if matches := reviewRatingSplitRE.FindAllString(text, -1); len(matches) > 1 {
		parts := reviewRatingSplitRE.Split(text, -1)
		var out []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	if matches := reviewByAuthorRE.FindAllStringIndex(text, -1); len(matches) > 1 {
		parts := reviewByAuthorRE.Split(text, -1)
		var out []string
		for _, p := range parts[1:] {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	return nil
}

func splitLongReview(text string, maxChars int) []string {
	sentences := chunk.SplitSentences(text)

	var parts []string
	var cur strings.Builder
	for _, s := range sentences {
		if cur.Len() > 0 && cur.Len()+len(s) > maxChars {
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		parts = append(parts, strings.TrimSpace(cur.String()))
	}

	var chunks []string
	for i, p := range parts {
		chunks = append(chunks, formatReviewChunk(p, fmt.Sprintf("%d/%d", i+1, len(parts))))
	}
	return chunks
}

func formatReviewChunk(text, part string) string {
	var lines []string
	lines = append(lines, "[REVIEW]")
	if part != "" {
		lines = append(lines, "[PART: "+part+"]")
	}
	lines = append(lines, "", fmt.Sprintf("Reviewtekst:\n%q", text))
	return strings.Join(lines, "\n")
}
