package chunk

import (
	"fmt"
	"strings"
)

// Registry holds named strategies and implements selection. It is an
// explicit, constructed service rather than a package-level singleton,
// so tests and multi-tenant callers can each hold an independently
// configured set of strategies.
type Registry struct {
	byName map[string]Strategy
	order  []string // registration order, for tie-breaking
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Strategy)}
}

func (r *Registry) Register(s Strategy) {
	if _, exists := r.byName[s.Name()]; !exists {
		r.order = append(r.order, s.Name())
	}
	r.byName[s.Name()] = s
}

func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

func (r *Registry) List() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// AutoDetect scores every registered strategy against sample/meta and
// returns the name of the highest scorer, ties broken by registration
// order.
func (r *Registry) AutoDetect(text string, meta Metadata) (string, error) {
	if len(r.order) == 0 {
		return "", fmt.Errorf("chunk: no strategies registered")
	}
	if strings.TrimSpace(text) == "" {
		return "default", nil
	}
	sample := Sample(text)

	best := r.order[0]
	bestScore := -1.0
	for _, name := range r.order {
		score := r.byName[name].Applicability(sample, meta)
		if score > bestScore {
			bestScore = score
			best = name
		}
	}
	return best, nil
}

// merge overlays override on top of base, returning a new map.
func merge(base Config, override map[string]any) Config {
	merged := Config{MaxChars: base.MaxChars, Overlap: base.Overlap, Extra: map[string]any{}}
	for k, v := range base.Extra {
		merged.Extra[k] = v
	}
	if mc, ok := override["max_chars"].(int); ok {
		merged.MaxChars = mc
	}
	if ov, ok := override["overlap"].(int); ok {
		merged.Overlap = ov
	}
	for k, v := range override {
		merged.Extra[k] = v
	}
	return merged
}

// ChunkText runs the full selection + chunking algorithm. strategyName
// may be empty to trigger auto-detection. On a strategy
// failure (error, or zero chunks for non-empty input) it falls back to
// the "default" strategy; if default itself fails, the error surfaces.
func (r *Registry) ChunkText(text string, strategyName string, overrides map[string]any, meta Metadata) ([]string, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, strategyName, nil
	}

	name := strategyName
	if name == "" {
		detected, err := r.AutoDetect(text, meta)
		if err != nil {
			return nil, "", err
		}
		name = detected
	}

	strat, ok := r.byName[name]
	if !ok {
		def, ok := r.byName["default"]
		if !ok {
			return nil, "", fmt.Errorf("chunk: strategy %q not found and no default registered", name)
		}
		strat = def
		name = "default"
	}

	cfg := merge(strat.Defaults(), overrides)
	chunks, err := strat.Chunk(text, cfg)
	chunks = NonEmpty(chunks)

	if err == nil && len(chunks) > 0 {
		return chunks, name, nil
	}

	if name == "default" {
		if err != nil {
			return nil, name, fmt.Errorf("chunk: default strategy failed: %w", err)
		}
		return nil, name, fmt.Errorf("chunk: default strategy produced zero chunks for non-empty input")
	}

	def, ok := r.byName["default"]
	if !ok {
		return nil, name, fmt.Errorf("chunk: strategy %q failed and no default registered: %w", name, err)
	}
	defCfg := merge(def.Defaults(), overrides)
	chunks, ferr := def.Chunk(text, defCfg)
	if ferr != nil {
		return nil, "default", fmt.Errorf("chunk: fallback to default also failed: %w", ferr)
	}
	chunks = NonEmpty(chunks)
	if len(chunks) == 0 {
		return nil, "default", fmt.Errorf("chunk: fallback to default produced zero chunks for non-empty input")
	}
	return chunks, "default", nil
}

