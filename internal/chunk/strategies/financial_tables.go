package strategies

import (
	"fmt"
	"regexp"
	"strings"

	"ragindex/internal/chunk"
)

// FinancialTables handles annual reports, quotes and contracts: it splits
// into financial/contract sections, extracts tables within each section,
// and chunks tables row-per-chunk (small tables) or column-per-KPI over a
// year range (large tables). Grounded on
// chunking_strategies/strategies/financial_tables.py.
type FinancialTables struct{}

func NewFinancialTables() *FinancialTables { return &FinancialTables{} }

func (FinancialTables) Name() string { return "financial_tables" }
func (FinancialTables) Description() string {
	return "section + table aware chunker for financial reports, quotes and contracts"
}

func (FinancialTables) Defaults() chunk.Config {
	return chunk.Config{
		MaxChars: 1500,
		Overlap:  100,
		Extra:    map[string]any{"table_mode": "hybrid", "preserve_section_headers": true},
	}
}

var financialSectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(balans|balance\s+sheet)`),
	regexp.MustCompile(`(?i)(resultatenrekening|winst[- ]en[- ]verlies|profit\s+and\s+loss|p&l|v&w)`),
	regexp.MustCompile(`(?i)(kasstroom|cashflow|cash\s+flow)`),
	regexp.MustCompile(`(?i)(toelichting|notes?|verklarende)`),
	regexp.MustCompile(`(?i)(waardering|valuation)`),
	regexp.MustCompile(`(?i)(eigen\s+vermogen|equity)`),
	regexp.MustCompile(`(?i)(bezittingen|assets|activa)`),
	regexp.MustCompile(`(?i)(schulden|liabilities|passiva)`),
}

var contractSectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(scope|omvang|werkzaamheden)`),
	regexp.MustCompile(`(?i)(prijs|price|bedrag|tarief|kosten)`),
	regexp.MustCompile(`(?i)(looptijd|duration|termijn)`),
	regexp.MustCompile(`(?i)(levering|delivery|voorwaarden)`),
	regexp.MustCompile(`(?i)(betalings?voorwaarden|payment\s+terms)`),
	regexp.MustCompile(`(?i)(garantie|warranty)`),
}

var kpiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(omzet|revenue|turnover)`),
	regexp.MustCompile(`(?i)(ebitda|ebit)`),
	regexp.MustCompile(`(?i)(winst|profit|result)`),
	regexp.MustCompile(`(?i)(marge|margin)`),
	regexp.MustCompile(`(?i)(kosten|costs|expenses)`),
	regexp.MustCompile(`(?i)(activa|assets|bezittingen)`),
	regexp.MustCompile(`(?i)(passiva|liabilities|schulden)`),
	regexp.MustCompile(`(?i)(eigen\s+vermogen|equity)`),
	regexp.MustCompile(`(?i)(liquiditeit|liquidity|solvabiliteit)`),
}

var (
	financialYearRE       = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	financialDecimalsRE   = regexp.MustCompile(`\d+[.,]\d{2,}`)
	financialCurrencyRE   = regexp.MustCompile(`[€$£]\s*\d+|EUR|USD`)
	financialPipeTableRE  = regexp.MustCompile(`\|.*\|.*\|`)
	financialTabLineRE    = regexp.MustCompile(`\t.*\t`)
	financialBorderLineRE = regexp.MustCompile(`(?m)^\s*[-+]+\s*$`)
)

var financialFilenameHints = []string{
	"jaarrekening", "annual", "financial", "financieel",
	"balans", "resultaat", "offerte", "quote", "contract",
	"prijslijst", "tarief", "kosten", "taxatie",
}

func (FinancialTables) Applicability(sample string, meta chunk.Metadata) float64 {
	if len(sample) > 3000 {
		sample = sample[:3000]
	}
	score := 0.3

	financialCount := 0
	for _, p := range financialSectionPatterns {
		if p.MatchString(sample) {
			financialCount++
		}
	}
	switch {
	case financialCount >= 2:
		score += 0.3
	case financialCount == 1:
		score += 0.15
	}

	contractCount := 0
	for _, p := range contractSectionPatterns {
		if p.MatchString(sample) {
			contractCount++
		}
	}
	if contractCount >= 2 {
		score += 0.2
	}

	kpiCount := 0
	for _, p := range kpiPatterns {
		if p.MatchString(sample) {
			kpiCount++
		}
	}
	if kpiCount >= 3 {
		score += 0.2
	}

	if len(financialPipeTableRE.FindAllString(sample, -1)) > 3 ||
		len(financialTabLineRE.FindAllString(sample, -1)) > 3 ||
		len(financialBorderLineRE.FindAllString(sample, -1)) > 3 {
		score += 0.2
	}

	if len(financialDecimalsRE.FindAllString(sample, -1)) > 10 ||
		len(financialCurrencyRE.FindAllString(sample, -1)) > 5 {
		score += 0.15
	}

	years := map[string]bool{}
	for _, y := range financialYearRE.FindAllString(sample, -1) {
		years[y] = true
	}
	if len(years) >= 2 {
		score += 0.15
	}

	fn := strings.ToLower(meta.Filename())
	for _, hint := range financialFilenameHints {
		if strings.Contains(fn, hint) {
			score += 0.15
			break
		}
	}

	return clamp(score)
}

type financialSection struct {
	header  string
	content string
}

func (f FinancialTables) Chunk(text string, cfg chunk.Config) ([]string, error) {
	tableMode := cfg.StringExtra("table_mode", "hybrid")
	preserveHeaders := cfg.BoolExtra("preserve_section_headers", true)

	sections := splitFinancialSections(text)

	var chunks []string
	for _, sec := range sections {
		for _, part := range extractTableParts(sec.content) {
			if part.isTable {
				chunks = append(chunks, chunkFinancialTable(part.content, sec.header, tableMode)...)
				continue
			}
			body := part.content
			if preserveHeaders && sec.header != "" {
				body = fmt.Sprintf("[%s]\n\n%s", sec.header, part.content)
			}
			if len(body) > cfg.MaxChars {
				chunks = append(chunks, accumulateSentenceAware(chunk.SplitParagraphs(body), cfg.MaxChars, 0)...)
			} else if strings.TrimSpace(body) != "" {
				chunks = append(chunks, body)
			}
		}
	}

	if len(chunks) == 0 {
		chunks = accumulateSentenceAware(chunk.SplitParagraphs(text), cfg.MaxChars, 0)
	}
	return chunks, nil
}

func splitFinancialSections(text string) []financialSection {
	type match = struct {
		pos    int
		header string
	}
	var matches []match
	allPatterns := append(append([]*regexp.Regexp{}, financialSectionPatterns...), contractSectionPatterns...)
	for _, p := range allPatterns {
		for _, loc := range p.FindAllStringIndex(text, -1) {
			start := loc[0]
			lineStart := strings.LastIndexByte(text[:start], '\n') + 1
			lineEnd := strings.IndexByte(text[start:], '\n')
			if lineEnd == -1 {
				lineEnd = len(text)
			} else {
				lineEnd += start
			}
			header := strings.TrimSpace(text[lineStart:lineEnd])
			matches = append(matches, match{pos: start, header: header})
		}
	}
	if len(matches) == 0 {
		return []financialSection{{header: "", content: text}}
	}

	sortMatchesByPos(matches)

	var sections []financialSection
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1].pos
		}
		content := text[m.pos:end]
		if idx := strings.Index(content, m.header); idx >= 0 {
			content = content[idx+len(m.header):]
		}
		sections = append(sections, financialSection{header: m.header, content: strings.TrimSpace(content)})
	}
	if matches[0].pos > 0 {
		preamble := strings.TrimSpace(text[:matches[0].pos])
		if preamble != "" {
			sections = append([]financialSection{{header: "Inleiding", content: preamble}}, sections...)
		}
	}
	return sections
}

func sortMatchesByPos(matches []struct {
	pos    int
	header string
}) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].pos < matches[j-1].pos; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

type financialPart struct {
	isTable bool
	content string
}

func extractTableParts(text string) []financialPart {
	lines := strings.Split(text, "\n")
	var parts []financialPart
	var cur []string
	curIsTable := false
	started := false

	flush := func() {
		if len(cur) == 0 {
			return
		}
		parts = append(parts, financialPart{isTable: curIsTable, content: strings.Join(cur, "\n")})
		cur = nil
	}

	for _, line := range lines {
		isTableLine := isFinancialTableLine(line)
		if !started {
			curIsTable = isTableLine
			started = true
		}
		if isTableLine != curIsTable {
			flush()
			curIsTable = isTableLine
		}
		cur = append(cur, line)
	}
	flush()
	return parts
}

var financialNumberRE = regexp.MustCompile(`\b\d+[.,]?\d*\b`)
var financialBorderCellRE = regexp.MustCompile(`^\s*[-+=|]+\s*$`)
var financialPipeLineRE = regexp.MustCompile(`^\s*\|.*\|.*\|`)

func isFinancialTableLine(line string) bool {
	if financialPipeLineRE.MatchString(line) {
		return true
	}
	if strings.Count(line, "\t") >= 2 {
		return true
	}
	if financialBorderCellRE.MatchString(line) {
		return true
	}
	nums := financialNumberRE.FindAllString(line, -1)
	if len(nums) >= 3 && len(strings.TrimSpace(line)) < 200 {
		return true
	}
	return false
}

func chunkFinancialTable(tableText, sectionHeader, mode string) []string {
	var lines []string
	for _, l := range strings.Split(tableText, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	headerIdx := 0
	for i, l := range lines {
		if !financialBorderCellRE.MatchString(l) {
			headerIdx = i
			break
		}
	}
	header := ""
	if headerIdx < len(lines) {
		header = lines[headerIdx]
	}
	var dataLines []string
	for _, l := range lines[min(headerIdx+1, len(lines)):] {
		if !financialBorderCellRE.MatchString(l) {
			dataLines = append(dataLines, l)
		}
	}

	context := ""
	if sectionHeader != "" {
		context = fmt.Sprintf("[%s]\n", sectionHeader)
	}
	context += "[TABEL]\n"

	var chunks []string
	useColumn := mode == "column" || (mode == "hybrid" && len(dataLines) > 20)
	if useColumn {
		if kpis := parseFinancialKPITable(header, dataLines); len(kpis) > 0 {
			for _, kpi := range kpis {
				chunks = append(chunks, context+kpi)
			}
			return chunks
		}
		limit := min(10, len(dataLines))
		for _, row := range dataLines[:limit] {
			chunks = append(chunks, fmt.Sprintf("%s%s\n%s", context, header, row))
		}
		return chunks
	}

	for _, row := range dataLines {
		chunks = append(chunks, fmt.Sprintf("%s%s\n%s", context, header, row))
	}
	if len(chunks) == 0 {
		return []string{context + tableText}
	}
	return chunks
}

func parseFinancialKPITable(header string, rows []string) []string {
	cols := splitFinancialTableRow(header)
	var yearCols []string
	for _, c := range cols[1:] {
		if y := financialYearRE.FindString(c); y != "" {
			yearCols = append(yearCols, y)
		}
	}
	if len(yearCols) == 0 {
		return nil
	}

	limit := min(50, len(rows))
	var out []string
	for _, row := range rows[:limit] {
		cells := splitFinancialTableRow(row)
		if len(cells) < 2 {
			continue
		}
		kpiName := cells[0]
		values := cells[1:]
		if len(values) > len(yearCols) {
			values = values[:len(yearCols)]
		}
		var b strings.Builder
		fmt.Fprintf(&b, "KPI: %s\n", kpiName)
		for i, v := range values {
			if v == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", yearCols[i], v)
		}
		out = append(out, strings.TrimSpace(b.String()))
	}
	return out
}

var financialMultiSpaceRE = regexp.MustCompile(`\s{2,}`)

func splitFinancialTableRow(row string) []string {
	var raw []string
	switch {
	case strings.Contains(row, "|"):
		raw = strings.Split(row, "|")
	case strings.Contains(row, "\t"):
		raw = strings.Split(row, "\t")
	default:
		raw = financialMultiSpaceRE.Split(row, -1)
	}
	var out []string
	for _, c := range raw {
		if s := strings.TrimSpace(c); s != "" {
			out = append(out, s)
		}
	}
	return out
}
