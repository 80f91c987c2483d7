// Package analyzer splits a large document into page batches and fans
// them out across device-pinned LLM endpoints under the GPU phase lock,
// then aggregates the per-batch domain/topic/entity guesses into a
// single document-level classification. Batch concurrency is sized by
// the number of GPU devices currently free, so the fan-out never
// exceeds the fleet's actual capacity.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ragindex/internal/apperr"
	"ragindex/internal/gpulock"
	"ragindex/internal/gputask"
	"ragindex/internal/metrics"
	"ragindex/internal/status"
)

// ParallelSizeThreshold and ParallelPageThreshold gate whether a
// document is large enough to warrant parallel batch analysis instead
// of a single pass.
const (
	ParallelSizeThreshold = 3 * 1024 * 1024
	ParallelPageThreshold = 50
)

// DefaultPagesPerBatch is the default number of pages grouped into one
// analysis call.
const DefaultPagesPerBatch = 5

var pageMarkerRE = regexp.MustCompile(`(?m)^\[PAGE\s+(\d+)\]\s*$`)

// BatchClient analyzes one batch of page text against a device-pinned LLM
// endpoint. The concrete implementation (internal/llmclient.Client.
// Generate) is an external collaborator.
type BatchClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// batchResult is the tolerant-JSON-parsed output of one batch call.
type batchResult struct {
	Domain       string   `json:"domain"`
	DocumentType string   `json:"document_type"`
	MainTopics   []string `json:"main_topics"`
	MainEntities []string `json:"main_entities"`
	HasTables    bool     `json:"has_tables"`
}

// Result is the aggregated analysis across all batches.
type Result struct {
	Domain                 string
	DocumentType           string
	MainTopics             []string
	MainEntities           []string
	HasTables              bool
	SuggestedChunkStrategy string
	DurationSec            float64
	BatchErrors            []string
	Verification           string
}

const maxAggregatedItems = 50

// Config tunes analyzer behaviour.
type Config struct {
	PagesPerBatch     int
	MinFreeMBForBatch int
	MaxGPUTempC       int
	GPLTimeout        time.Duration
	CooldownTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.PagesPerBatch <= 0 {
		c.PagesPerBatch = DefaultPagesPerBatch
	}
	if c.MinFreeMBForBatch <= 0 {
		c.MinFreeMBForBatch = 2048
	}
	if c.MaxGPUTempC <= 0 {
		c.MaxGPUTempC = 85
	}
	if c.GPLTimeout <= 0 {
		c.GPLTimeout = 15 * time.Minute
	}
	if c.CooldownTimeout <= 0 {
		c.CooldownTimeout = 2 * time.Minute
	}
}

// Analyzer runs batch LLM classification over a document and aggregates
// the results.
type Analyzer struct {
	gtm      *gputask.Manager
	clients  []BatchClient
	verifier BatchClient
	reporter *status.Reporter
	cfg      Config
	log      *zap.Logger
}

func New(gtm *gputask.Manager, clients []BatchClient, cfg Config, log *zap.Logger) *Analyzer {
	cfg.setDefaults()
	return &Analyzer{gtm: gtm, clients: clients, cfg: cfg, log: log}
}

// WithVerifier attaches an optional larger-model cross-check pass,
// invoked only when a verifier client is configured and merged as a
// `Verification` annotation that never overwrites the primary
// aggregation.
func (a *Analyzer) WithVerifier(v BatchClient) *Analyzer {
	a.verifier = v
	return a
}

func (a *Analyzer) WithReporter(r *status.Reporter) *Analyzer {
	a.reporter = r
	return a
}

// ShouldParallelize reports whether text is large or paginated enough to
// warrant splitting into batches instead of one analysis call.
func ShouldParallelize(text string) bool {
	if len(text) > ParallelSizeThreshold {
		return true
	}
	return len(pageMarkerRE.FindAllStringIndex(text, -1)) > ParallelPageThreshold
}

// splitPages splits on [PAGE n] markers, falling back to ~2KiB paragraph
// windows when none are present.
func splitPages(text string) []string {
	locs := pageMarkerRE.FindAllStringIndex(text, -1)
	if len(locs) > 0 {
		var pages []string
		for i, loc := range locs {
			start := loc[1]
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			page := strings.TrimSpace(text[start:end])
			if page != "" {
				pages = append(pages, page)
			}
		}
		return pages
	}
	return paragraphWindows(text, 2048)
}

func paragraphWindows(text string, windowSize int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var windows []string
	var cur strings.Builder
	for _, p := range paragraphs {
		if cur.Len() > 0 && cur.Len()+len(p) > windowSize {
			windows = append(windows, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		windows = append(windows, cur.String())
	}
	return windows
}

func batchPages(pages []string, size int) [][]string {
	var batches [][]string
	for i := 0; i < len(pages); i += size {
		end := i + size
		if end > len(pages) {
			end = len(pages)
		}
		batches = append(batches, pages[i:end])
	}
	return batches
}

// Analyze splits text into page batches, fans them out across the
// configured batch clients, and aggregates the results into one Result.
func (a *Analyzer) Analyze(ctx context.Context, docID, text string) (Result, error) {
	start := time.Now()
	if len(a.clients) == 0 {
		return Result{}, apperr.Fatal("analyzer.analyze", fmt.Errorf("no analysis clients configured"))
	}

	pages := splitPages(text)
	batches := batchPages(pages, a.cfg.PagesPerBatch)
	if len(batches) == 0 {
		return Result{}, nil
	}

	freeDevices := a.freeDeviceCount(ctx)
	workers := freeDevices
	if workers <= 0 {
		workers = 1
	}
	if workers > len(batches) {
		workers = len(batches)
	}

	results := make([]*batchResult, len(batches))
	batchErrs := make([]string, 0)
	var errMu sync.Mutex

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, batch := range batches {
		i, batch := i, batch
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			client := a.clients[i%len(a.clients)]
			r, err := a.analyzeBatch(ctx, client, docID, batch)
			if err != nil {
				metrics.AnalyzerBatches.WithLabelValues("error").Inc()
				errMu.Lock()
				batchErrs = append(batchErrs, fmt.Sprintf("batch %d: %v", i, err))
				errMu.Unlock()
				return
			}
			metrics.AnalyzerBatches.WithLabelValues("ok").Inc()
			results[i] = r

			if a.reporter != nil {
				pct := 10 + int(float64(i+1)/float64(len(batches))*20)
				a.reporter.Report(docID, status.StageAnalyzing, &pct, fmt.Sprintf("analyzed batch %d/%d", i+1, len(batches)), nil, "")
			}
		}()
	}
	wg.Wait()

	if len(batches) > 0 && float64(len(batchErrs))/float64(len(batches)) > 0.5 {
		if a.gtm != nil {
			_ = a.gtm.Release(ctx, true)
		}
		return Result{BatchErrors: batchErrs}, apperr.Dependency("analyzer.analyze",
			fmt.Errorf("%d/%d batches failed, aborting", len(batchErrs), len(batches)))
	}

	agg := aggregate(results)
	agg.BatchErrors = batchErrs
	agg.SuggestedChunkStrategy = suggestStrategy(agg)
	agg.DurationSec = time.Since(start).Seconds()

	if a.verifier != nil {
		if v, err := a.analyzeBatch(ctx, a.verifier, docID, pages); err == nil && v != nil {
			agg.Verification = fmt.Sprintf("domain=%s document_type=%s", v.Domain, v.DocumentType)
		} else if err != nil && a.log != nil {
			a.log.Warn("verifier pass failed, keeping primary aggregation only", zap.Error(err))
		}
	}

	return agg, nil
}

// freeDeviceCount sizes the batch worker pool: it prefers every device
// that is already free, and when none are, it waits for the coolest
// candidate to actually cross the temperature threshold rather than
// dispatching onto a GPU that is still too hot.
func (a *Analyzer) freeDeviceCount(ctx context.Context) int {
	devices, err := gputask.Devices(ctx)
	if err != nil {
		if a.log != nil {
			a.log.Warn("gpu device query failed, assuming a single worker", zap.Error(err))
		}
		return 1
	}
	free := gputask.FreeDevices(devices, a.cfg.MinFreeMBForBatch, a.cfg.MaxGPUTempC)
	if len(free) > 0 {
		return len(free)
	}

	coolest := gputask.CoolestDevice(devices, 0)
	if coolest < 0 {
		return 1
	}
	cooled, err := gputask.WaitForCooldown(ctx, coolest, a.cfg.MaxGPUTempC, a.cfg.CooldownTimeout)
	if err != nil {
		if a.log != nil {
			a.log.Warn("gpu cooldown wait failed, assuming a single worker", zap.Error(err))
		}
		return 1
	}
	if !cooled && a.log != nil {
		a.log.Warn("gpu did not cool down before timeout, dispatching anyway", zap.Int("device_index", coolest))
	}
	return 1
}

func (a *Analyzer) analyzeBatch(ctx context.Context, client BatchClient, docID string, pages []string) (*batchResult, error) {
	var parsed *batchResult
	err := gpulock.WithLock(a.log, "ollama_analysis", docID, []gpulock.Option{gpulock.WithTimeout(a.cfg.GPLTimeout)}, func() error {
		if a.gtm != nil {
			return a.gtm.WithTask(ctx, gputask.TaskOllamaAnalysis, docID, false, func() error {
				r, err := a.runBatch(ctx, client, pages)
				parsed = r
				return err
			})
		}
		r, err := a.runBatch(ctx, client, pages)
		parsed = r
		return err
	})
	return parsed, err
}

func (a *Analyzer) runBatch(ctx context.Context, client BatchClient, pages []string) (*batchResult, error) {
	prompt := analysisPrompt(pages)
	raw, err := client.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseTolerantJSON(raw)
}

func analysisPrompt(pages []string) string {
	var b strings.Builder
	b.WriteString("Analyze the following document pages and respond with a single JSON object ")
	b.WriteString(`with keys "domain", "document_type", "main_topics" (array), "main_entities" (array), "has_tables" (bool):`)
	b.WriteString("\n\n")
	b.WriteString(strings.Join(pages, "\n\n---\n\n"))
	return b.String()
}

// parseTolerantJSON extracts the first balanced JSON object from raw and
// decodes it, since LLM output often wraps JSON in prose or code fences.
func parseTolerantJSON(raw string) (*batchResult, error) {
	obj, err := firstBalancedObject(raw)
	if err != nil {
		return nil, err
	}
	var r batchResult
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return nil, apperr.Dependency("analyzer.parse", fmt.Errorf("decode batch json: %w", err))
	}
	return &r, nil
}

func firstBalancedObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", apperr.Dependency("analyzer.parse", fmt.Errorf("no JSON object found in model output"))
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", apperr.Dependency("analyzer.parse", fmt.Errorf("unbalanced JSON object in model output"))
}

// aggregate dedups entities/topics preserving first occurrence (capped),
// takes a majority vote on domain/document_type, and ORs table presence
// across batches.
func aggregate(results []*batchResult) Result {
	domainVotes := map[string]int{}
	typeVotes := map[string]int{}
	var domainOrder, typeOrder []string
	seenTopics := map[string]bool{}
	seenEntities := map[string]bool{}
	var topics, entities []string
	hasTables := false

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Domain != "" {
			if domainVotes[r.Domain] == 0 {
				domainOrder = append(domainOrder, r.Domain)
			}
			domainVotes[r.Domain]++
		}
		if r.DocumentType != "" {
			if typeVotes[r.DocumentType] == 0 {
				typeOrder = append(typeOrder, r.DocumentType)
			}
			typeVotes[r.DocumentType]++
		}
		hasTables = hasTables || r.HasTables
		for _, t := range r.MainTopics {
			if t != "" && !seenTopics[t] && len(topics) < maxAggregatedItems {
				seenTopics[t] = true
				topics = append(topics, t)
			}
		}
		for _, e := range r.MainEntities {
			if e != "" && !seenEntities[e] && len(entities) < maxAggregatedItems {
				seenEntities[e] = true
				entities = append(entities, e)
			}
		}
	}

	return Result{
		Domain:       majority(domainVotes, domainOrder),
		DocumentType: majority(typeVotes, typeOrder),
		MainTopics:   topics,
		MainEntities: entities,
		HasTables:    hasTables,
	}
}

// majority returns the most-voted key; ties go to the key seen first.
func majority(votes map[string]int, order []string) string {
	best, bestCount := "", -1
	for _, k := range order {
		if v := votes[k]; v > bestCount {
			best, bestCount = k, v
		}
	}
	return best
}

// suggestStrategy chooses a chunk strategy name from document_type /
// table presence, left as a free-text hint the
// caller feeds into chunk.Registry.ChunkText's strategyName parameter
// (an empty suggestion triggers auto-detection; a name that doesn't
// match a registered strategy falls back to "default").
func suggestStrategy(r Result) string {
	switch strings.ToLower(r.DocumentType) {
	case "legal", "contract", "statute":
		return "legal"
	case "financial", "invoice", "balance_sheet":
		return "financial_tables"
	case "conversation", "chat", "transcript":
		return "conversation_turns"
	case "review":
		return "reviews"
	case "menu":
		return "menus"
	case "administrative", "form":
		return "administrative"
	}
	if r.HasTables {
		return "table_aware"
	}
	return ""
}
