package strategies

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"ragindex/internal/chunk"
)

// Menus emits one chunk per dish, never mixing dishes in a chunk. It
// parses either the structured "Dish: ... Price: ..." form or a loose
// name-then-price block form, and can additionally emit per-section
// summary chunks. Grounded on
// chunking_strategies/strategies/menus.py.
type Menus struct{}

func NewMenus() *Menus { return &Menus{} }

func (Menus) Name() string        { return "menus" }
func (Menus) Description() string { return "one dish per chunk, with optional section summaries" }

func (Menus) Defaults() chunk.Config {
	return chunk.Config{
		MaxChars: 600,
		Overlap:  0,
		Extra:    map[string]any{"chunk_type": "item", "min_item_length": 5, "emit_summaries": true},
	}
}

var menuSections = map[string][]string{
	"starter":   {"voorgerecht", "starter", "appetizer", "vooraf", "amuse"},
	"main":      {"hoofdgerecht", "main", "entrée", "hoofdgerechten"},
	"side":      {"bijgerecht", "side", "garnering", "bijgerechten"},
	"dessert":   {"nagerecht", "dessert", "toetje", "zoet"},
	"drinks":    {"dranken", "drinks", "beverages", "drankjes"},
	"wine":      {"wijnen", "wine", "wijnkaart"},
	"beer":      {"bier", "beer", "speciaalbier"},
	"breakfast": {"ontbijt", "breakfast"},
	"lunch":     {"lunch", "lunchgerechten"},
	"dinner":    {"diner", "dinner", "avondkaart"},
}

var menuSectionOrder = []string{"starter", "main", "side", "dessert", "drinks", "wine", "beer", "breakfast", "lunch", "dinner"}

var menuPricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[€$£]\s*\d+[.,]\d{2}`),
	regexp.MustCompile(`\d+[.,]\d{2}\s*(?:EUR|USD|euro)`),
}

var menuCulinaryTerms = []string{"gerecht", "ingredient", "bereid", "geserveerd", "menu", "kaart"}
var menuFilenameHints = []string{"menu", "kaart", "gerecht", "dish", "food"}
var menuItemLinePairRE = regexp.MustCompile(`(?i)(?:gerecht|dish|item)\s*:.*?(?:prijs|price)\s*:`)

func (Menus) Applicability(sample string, meta chunk.Metadata) float64 {
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	score := 0.3
	lower := strings.ToLower(sample)

	priceCount := 0
	for _, p := range menuPricePatterns {
		priceCount += len(p.FindAllString(sample, -1))
	}
	switch {
	case priceCount >= 3:
		score += 0.25
	case priceCount >= 1:
		score += 0.15
	}

	sectionCount := 0
	for _, kws := range menuSections {
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				sectionCount++
			}
		}
	}
	if sectionCount >= 2 {
		score += 0.2
	}

	culinaryCount := 0
	for _, kw := range menuCulinaryTerms {
		if strings.Contains(lower, kw) {
			culinaryCount++
		}
	}
	if culinaryCount >= 2 {
		score += 0.15
	}

	if dt, _ := meta["doc_type"].(string); dt == "menu" || dt == "menu_item" || dt == "dish" {
		score += 0.3
	}
	if _, ok := meta["price"]; ok {
		score += 0.2
	} else if _, ok := meta["dish_id"]; ok {
		score += 0.2
	}

	fn := strings.ToLower(meta.Filename())
	for _, hint := range menuFilenameHints {
		if strings.Contains(fn, hint) {
			score += 0.15
			break
		}
	}

	if len(menuItemLinePairRE.FindAllString(sample, -1)) >= 2 {
		score += 0.2
	}

	return clamp(score)
}

type menuItem struct {
	name    string
	section string
	desc    string
	price   float64
	hasPx   bool
}

var menuStructuredRE = regexp.MustCompile(`(?is)(?:gerecht|dish|item)\s*:\s*([^\n]+)\s*\n.*?(?:prijs|price)\s*:\s*([€$£]?\s*[\d.,]+(?:\s*(?:EUR|USD|euro))?)`)
var menuSectionHeaderRE = regexp.MustCompile(`(?m)^===.*===$|^#{1,3}\s+`)
var menuPriceInlineRE = regexp.MustCompile(`[€$£\x{20ac}]?\s*(\d+[.,]\d{2})(?:\s*(?:EUR|USD|euro))?`)

func (m Menus) Chunk(text string, cfg chunk.Config) ([]string, error) {
	chunkType := cfg.StringExtra("chunk_type", "item")
	minItemLength := cfg.IntExtra("min_item_length", 5)
	emitSummaries := cfg.BoolExtra("emit_summaries", true)

	items := extractMenuItems(text)
	if len(items) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}

	var chunks []string
	for _, item := range items {
		if len(item.name) < minItemLength {
			continue
		}
		if chunkType == "enriched" {
			chunks = append(chunks, formatEnrichedMenuItem(item))
		} else {
			chunks = append(chunks, formatMenuItem(item))
		}
	}

	if emitSummaries {
		chunks = append(chunks, menuSectionSummaries(items)...)
	}

	if len(chunks) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}
	return chunks, nil
}

func extractMenuItems(text string) []menuItem {
	var items []menuItem
	for _, m := range menuStructuredRE.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		price, ok := parseMenuPrice(m[2])
		items = append(items, menuItem{name: name, price: price, hasPx: ok, section: detectMenuSection(m[0])})
	}
	if len(items) > 0 {
		return items
	}

	for _, block := range strings.Split(text, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) == 0 || lines[0] == "" {
			continue
		}
		first := strings.TrimSpace(lines[0])
		if menuSectionHeaderRE.MatchString(first) {
			continue
		}
		name := first
		var price float64
		hasPx := false
		var descParts []string
		for _, line := range lines[1:] {
			if m := menuPriceInlineRE.FindStringSubmatch(line); m != nil {
				price, _ = strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
				hasPx = true
			} else {
				descParts = append(descParts, line)
			}
		}
		if name != "" && hasPx {
			items = append(items, menuItem{
				name: name, price: price, hasPx: true,
				desc:    strings.TrimSpace(strings.Join(descParts, " ")),
				section: detectMenuSection(block),
			})
		}
	}
	return items
}

func parseMenuPrice(s string) (float64, bool) {
	m := regexp.MustCompile(`\d+[.,]\d{2}`).FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	return v, err == nil
}

func detectMenuSection(text string) string {
	lower := strings.ToLower(text)
	for _, name := range menuSectionOrder {
		for _, kw := range menuSections[name] {
			if strings.Contains(lower, kw) {
				return name
			}
		}
	}
	return "other"
}

func formatMenuItem(item menuItem) string {
	var lines []string
	lines = append(lines, "[MENU ITEM]", "")
	lines = append(lines, fmt.Sprintf("Gerecht: %s", item.name))
	if item.section != "" {
		lines = append(lines, fmt.Sprintf("Categorie: %s", translateMenuSection(item.section)))
	}
	if item.desc != "" {
		lines = append(lines, fmt.Sprintf("Omschrijving: %s", item.desc))
	}
	if item.hasPx {
		lines = append(lines, fmt.Sprintf("Prijs: %.2f EUR", item.price))
	}
	return strings.Join(lines, "\n")
}

func formatEnrichedMenuItem(item menuItem) string {
	var lines []string
	lines = append(lines, "[MENU ITEM ENRICHED]", "")
	lines = append(lines, fmt.Sprintf("%s.", translateMenuSection(item.section)))
	if item.hasPx {
		lines = append(lines, fmt.Sprintf("Prijsniveau: %s.", menuPriceLevel(item.price)))
	}
	lines = append(lines, "", fmt.Sprintf("%q", item.name+": "+item.desc))
	return strings.Join(lines, "\n")
}

func translateMenuSection(section string) string {
	translations := map[string]string{
		"starter": "Voorgerecht", "main": "Hoofdgerecht", "side": "Bijgerecht",
		"dessert": "Nagerecht", "drinks": "Dranken", "wine": "Wijnen", "beer": "Bieren",
		"breakfast": "Ontbijt", "lunch": "Lunch", "dinner": "Diner", "other": "Overig",
	}
	if t, ok := translations[section]; ok {
		return t
	}
	return strings.ToUpper(section[:1]) + section[1:]
}

func menuPriceLevel(price float64) string {
	switch {
	case price < 8:
		return "laag"
	case price < 15:
		return "midden-laag"
	case price < 25:
		return "midden"
	case price < 35:
		return "midden-hoog"
	default:
		return "hoog"
	}
}

func menuSectionSummaries(items []menuItem) []string {
	grouped := map[string][]menuItem{}
	for _, item := range items {
		grouped[item.section] = append(grouped[item.section], item)
	}

	var summaries []string
	for _, section := range menuSectionOrder {
		secItems, ok := grouped[section]
		if !ok {
			continue
		}
		summaries = append(summaries, formatMenuSectionSummary(section, secItems))
	}
	if other, ok := grouped["other"]; ok {
		summaries = append(summaries, formatMenuSectionSummary("other", other))
	}
	return summaries
}

func formatMenuSectionSummary(section string, items []menuItem) string {
	var minPx, maxPx float64
	first := true
	for _, item := range items {
		if !item.hasPx {
			continue
		}
		if first {
			minPx, maxPx = item.price, item.price
			first = false
			continue
		}
		if item.price < minPx {
			minPx = item.price
		}
		if item.price > maxPx {
			maxPx = item.price
		}
	}

	lines := []string{
		"[MENU SECTION SUMMARY]",
		"",
		fmt.Sprintf("%s bevatten %d items.", translateMenuSection(section), len(items)),
	}
	if !first {
		lines = append(lines, fmt.Sprintf("Prijsrange: %.2f – %.2f EUR.", minPx, maxPx))
	}
	return strings.Join(lines, "\n")
}
