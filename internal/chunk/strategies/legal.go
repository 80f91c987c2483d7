package strategies

import (
	"fmt"
	"regexp"
	"strings"

	"ragindex/internal/chunk"
)

// Legal chunks article-structured legal/regulatory text one article (or
// sub-clause) per chunk, with forced zero overlap for referential
// precision.
type Legal struct{}

func NewLegal() *Legal { return &Legal{} }

func (Legal) Name() string { return "legal" }
func (Legal) Description() string {
	return "article-based chunking for contracts, terms, laws and regulations; no overlap"
}

func (Legal) Defaults() chunk.Config {
	return chunk.Config{
		MaxChars: 2000,
		Overlap:  0, // referential precision requires no cross-article overlap
		Extra:    map[string]any{"split_subarticles": true},
	}
}

var legalArticlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^[ \t]*(Artikel|Art\.|Article|ARTIKEL)\s+(\d+[.\d]*)`),
	regexp.MustCompile(`(?m)^[ \t]*§\s*(\d+[.\d]*)`),
	regexp.MustCompile(`(?m)^[ \t]*(\d+)\.\s+[A-Z]`),
}

var legalSubArticlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^[ \t]*(\d+)\.\s`),
	regexp.MustCompile(`(?m)^[ \t]*([a-z])\)\s`),
	regexp.MustCompile(`(?m)^[ \t]*([a-z])\.\s`),
	regexp.MustCompile(`(?m)^[ \t]*\(([a-z0-9]+)\)\s`),
}

var legalTermPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(artikel|art\.|§|paragraaf|lid)\b`),
	regexp.MustCompile(`(?i)\b(bepaling|voorwaarde|verplichting)\b`),
	regexp.MustCompile(`(?i)\b(partij(en)?|contractant|schuldeiser)\b`),
	regexp.MustCompile(`(?i)\b(overeenkomst|contract|verbintenis)\b`),
	regexp.MustCompile(`(?i)\b(aansprakelijk(heid)?|schade|vordering)\b`),
	regexp.MustCompile(`(?i)\b(opzeggen|ontbinden|beëindigen)\b`),
	regexp.MustCompile(`(?i)\b(wet|wetgeving|regelgeving|richtlijn)\b`),
	regexp.MustCompile(`(?i)\b(rechtbank|rechter|arbitrage)\b`),
	regexp.MustCompile(`(?i)\b(dwingend|aanvullend|vernietigbaar)\b`),
}

var legalJurisdictionHints = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(nederlands? recht|nederlandse? wet)`),
	regexp.MustCompile(`(?i)(eu[- ]?richtlijn|europese? unie)`),
	regexp.MustCompile(`(?i)(gemeente|gemeentelijk|APV)`),
	regexp.MustCompile(`(?i)(provinc(ie|iaal))`),
	regexp.MustCompile(`(?i)(rijks|nationaal)`),
}

var legalFilenameHints = []string{
	"contract", "overeenkomst", "voorwaarden", "algemene",
	"wet", "regeling", "apv", "verordening", "richtlijn",
	"subsidie", "beleid", "juridisch", "legal",
}

var legalNumberedLineRE = regexp.MustCompile(`(?m)^\s*\d+\.`)

func (Legal) Applicability(sample string, meta chunk.Metadata) float64 {
	if len(sample) > 3000 {
		sample = sample[:3000]
	}
	score := 0.3

	articleCount := 0
	for _, p := range legalArticlePatterns {
		articleCount += len(p.FindAllString(sample, -1))
	}
	switch {
	case articleCount >= 3:
		score += 0.35
	case articleCount >= 1:
		score += 0.2
	}

	subarticleCount := chunk.CountMatches(sample, legalSubArticlePatterns...)
	if subarticleCount >= 5 {
		score += 0.15
	}

	legalTermCount := chunk.CountMatches(sample, legalTermPatterns...)
	switch {
	case legalTermCount >= 5:
		score += 0.2
	case legalTermCount >= 3:
		score += 0.1
	}

	for _, p := range legalJurisdictionHints {
		if p.MatchString(sample) {
			score += 0.1
			break
		}
	}

	fn := strings.ToLower(meta.Filename())
	for _, hint := range legalFilenameHints {
		if strings.Contains(fn, hint) {
			score += 0.15
			break
		}
	}

	if len(legalNumberedLineRE.FindAllString(sample, -1)) > 10 {
		score += 0.1
	}

	return clamp(score)
}

type legalArticle struct {
	number  string
	title   string
	content string
}

func (l Legal) Chunk(text string, cfg chunk.Config) ([]string, error) {
	splitSubarticles := cfg.BoolExtra("split_subarticles", true)

	articles := splitIntoArticles(text)
	if len(articles) == 0 {
		return legalFallbackParagraphs(text, cfg), nil
	}

	var chunks []string
	for _, a := range articles {
		if splitSubarticles && len(a.content) > cfg.MaxChars {
			chunks = append(chunks, splitArticleIntoSubarticles(a, cfg)...)
		} else {
			chunks = append(chunks, formatArticleChunk(a.number, a.title, a.content))
		}
	}
	if len(chunks) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}
	return chunks, nil
}

func splitIntoArticles(text string) []legalArticle {
	for _, pattern := range legalArticlePatterns {
		matches := pattern.FindAllStringSubmatchIndex(text, -1)
		if len(matches) < 2 {
			continue
		}
		var articles []legalArticle
		for i, m := range matches {
			start := m[0]
			end := len(text)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}

			lineEnd := strings.IndexByte(text[start:], '\n')
			if lineEnd == -1 {
				lineEnd = min(start+100, len(text)) - start
			}
			headerEnd := start + lineEnd
			header := strings.TrimSpace(text[start:headerEnd])

			articleNum := submatch(text, m, 2)
			if articleNum == "" {
				articleNum = submatch(text, m, 1)
			}

			contentStart := headerEnd + 1
			if contentStart > end || headerEnd >= len(text) {
				contentStart = start
			}
			content := strings.TrimSpace(text[contentStart:end])

			title := ""
			if idx := strings.Index(header, articleNum); idx >= 0 {
				rest := header[idx+len(articleNum):]
				title = strings.Trim(strings.TrimSpace(rest), ":.-")
			}

			articles = append(articles, legalArticle{number: articleNum, title: title, content: content})
		}
		if len(articles) > 0 {
			return articles
		}
	}
	return nil
}

// submatch returns capture group idx (1-based) from a FindAllStringSubmatchIndex
// match entry, or "" if that group did not participate.
func submatch(text string, m []int, group int) string {
	i := group * 2
	if i+1 >= len(m) || m[i] < 0 || m[i+1] < 0 {
		return ""
	}
	return text[m[i]:m[i+1]]
}

func splitArticleIntoSubarticles(a legalArticle, cfg chunk.Config) []string {
	for _, pattern := range legalSubArticlePatterns {
		matches := pattern.FindAllStringIndex(a.content, -1)
		if len(matches) < 2 {
			continue
		}
		var chunks []string
		for i, m := range matches {
			start := m[0]
			end := len(a.content)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}
			subNum := extractSubNum(pattern, a.content[m[0]:m[1]])
			subContent := strings.TrimSpace(a.content[start:end])
			chunks = append(chunks, formatSubarticleChunk(a.number, a.title, subNum, subContent))
		}
		return chunks
	}

	// No sub-article structure: split on sentences.
	var chunks []string
	var cur strings.Builder
	for _, s := range chunk.SplitSentences(a.content) {
		if cur.Len() > 0 && cur.Len()+1+len(s) > cfg.MaxChars {
			chunks = append(chunks, formatArticleChunk(a.number, a.title, strings.TrimSpace(cur.String())))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, formatArticleChunk(a.number, a.title, strings.TrimSpace(cur.String())))
	}
	return chunks
}

func extractSubNum(pattern *regexp.Regexp, matchText string) string {
	sub := pattern.FindStringSubmatch(matchText)
	if len(sub) > 1 {
		return sub[1]
	}
	return strings.TrimSpace(matchText)
}

func formatArticleChunk(num, title, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[ARTIKEL %s]\n", num)
	if title != "" {
		fmt.Fprintf(&b, "[TITEL: %s]\n", title)
	}
	b.WriteString("\n")
	b.WriteString(content)
	return b.String()
}

func formatSubarticleChunk(articleNum, title, subNum, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[ARTIKEL %s.%s]\n", articleNum, subNum)
	if title != "" {
		fmt.Fprintf(&b, "[TITEL: %s]\n", title)
	}
	b.WriteString("\n")
	b.WriteString(content)
	return b.String()
}

func legalFallbackParagraphs(text string, cfg chunk.Config) []string {
	paragraphs := chunk.SplitParagraphs(text)
	var chunks []string
	var cur strings.Builder
	for _, p := range paragraphs {
		if cur.Len() > 0 && cur.Len()+2+len(p) > cfg.MaxChars {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(cur.String()))
	}
	if len(chunks) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return chunks
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
