package strategies

import (
	"regexp"
	"strings"

	"ragindex/internal/chunk"
)

// TableAware is a line-based strategy: contiguous table lines (pipe or
// plus/minus border rows, or lines with at least two tab separators)
// become a single chunk prefixed with a table marker; surrounding
// non-table lines accumulate up to max_chars like the default strategy.
type TableAware struct{}

func NewTableAware() *TableAware { return &TableAware{} }

func (TableAware) Name() string        { return "table_aware" }
func (TableAware) Description() string { return "groups contiguous table lines into their own chunk" }

func (TableAware) Defaults() chunk.Config {
	return chunk.Config{MaxChars: 1000, Overlap: 0, Extra: map[string]any{}}
}

var tableAwarePipeRE = regexp.MustCompile(`^\s*\|.*\|`)
var tableAwareBorderRE = regexp.MustCompile(`^\s*[-+|]+\s*$`)

func isTableAwareLine(line string) bool {
	if tableAwarePipeRE.MatchString(line) {
		return true
	}
	if tableAwareBorderRE.MatchString(line) && strings.TrimSpace(line) != "" {
		return true
	}
	return strings.Count(line, "\t") >= 2
}

func (TableAware) Applicability(sample string, meta chunk.Metadata) float64 {
	lines := strings.Split(sample, "\n")
	tableLines := 0
	for _, l := range lines {
		if isTableAwareLine(l) {
			tableLines++
		}
	}
	if tableLines == 0 {
		return 0.05
	}
	ratio := float64(tableLines) / float64(max(len(lines), 1))
	score := 0.3 + ratio*0.6
	return clamp(score)
}

func (t TableAware) Chunk(text string, cfg chunk.Config) ([]string, error) {
	lines := strings.Split(text, "\n")
	type block struct {
		isTable bool
		lines   []string
	}
	var blocks []block
	for _, line := range lines {
		isTable := isTableAwareLine(line)
		if len(blocks) == 0 || blocks[len(blocks)-1].isTable != isTable {
			blocks = append(blocks, block{isTable: isTable})
		}
		blocks[len(blocks)-1].lines = append(blocks[len(blocks)-1].lines, line)
	}

	var chunks []string
	var cur strings.Builder
	flushText := func() {
		if cur.Len() == 0 {
			return
		}
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, b := range blocks {
		joined := strings.TrimSpace(strings.Join(b.lines, "\n"))
		if joined == "" {
			continue
		}
		if b.isTable {
			flushText()
			chunks = append(chunks, "[TABLE]\n"+joined)
			continue
		}
		for _, p := range chunk.SplitParagraphs(joined) {
			if cur.Len() > 0 && cur.Len()+2+len(p) > cfg.MaxChars {
				flushText()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(p)
		}
	}
	flushText()

	if len(chunks) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}
	return chunks, nil
}
