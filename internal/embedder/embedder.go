// Package embedder is a device-worker pool that balances embedding
// batches across multiple external embedding endpoints, falls back to a
// single endpoint on worker failure, and caches embeddings in Redis.
package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ragindex/internal/apperr"
)

// Client embeds a batch of texts against one backend instance. The
// concrete implementation is an external collaborator; this package only
// owns balancing, batching, caching, and fallback.
type Client interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// OllamaClient calls an Ollama-compatible /api/embed endpoint with
// batched input.
type OllamaClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{BaseURL: baseURL, HTTP: &http.Client{Timeout: 2 * time.Minute}}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OllamaClient) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, apperr.Validation("embedder.ollama", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Dependency("embedder.ollama", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, apperr.Transient("embedder.ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		out, _ := io.ReadAll(resp.Body)
		return nil, apperr.Dependency("embedder.ollama", fmt.Errorf("status %d: %s", resp.StatusCode, string(out)))
	}

	var decoded ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperr.Dependency("embedder.ollama", fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Embeddings) != len(texts) {
		return nil, apperr.Dependency("embedder.ollama", fmt.Errorf("expected %d embeddings, got %d", len(texts), len(decoded.Embeddings)))
	}
	return decoded.Embeddings, nil
}

// Cache is the embedding cache contract, keyed by model+text so a
// repeated chunk across documents never re-embeds.
type Cache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool)
	Set(ctx context.Context, model, text string, vec []float32)
}

// RedisCache stores embeddings as raw little-endian float32 blobs under
// a sha256(model||text) key.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return "ragindex:embed:" + hex.EncodeToString(h[:])
}

func (c *RedisCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(model, text)).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeVector(raw), true
}

func (c *RedisCache) Set(ctx context.Context, model, text string, vec []float32) {
	if err := c.rdb.Set(ctx, cacheKey(model, text), encodeVector(vec), c.ttl).Err(); err != nil && c.log != nil {
		c.log.Warn("embedding cache write failed", zap.Error(err))
	}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// Pool balances embedding batches across one Client per device, falling
// back to the first configured client alone on a worker failure.
type Pool struct {
	clients        []Client
	model          string
	batchSize      int
	minForParallel int
	cache          Cache
	log            *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

func WithCache(c Cache) Option             { return func(p *Pool) { p.cache = c } }
func WithBatchSize(n int) Option           { return func(p *Pool) { p.batchSize = n } }
func WithMinTextsForParallel(n int) Option { return func(p *Pool) { p.minForParallel = n } }

// New builds a Pool over clients (one per device/instance); clients[0]
// is also the fallback target when parallel batches fail.
func New(clients []Client, model string, log *zap.Logger, opts ...Option) *Pool {
	p := &Pool{clients: clients, model: model, batchSize: 32, minForParallel: 10, log: log}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Embed returns L2-normalized embeddings for texts, in input order.
func (p *Pool) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apperr.Validationf("embedder.embed", "no texts to embed")
	}
	if len(p.clients) == 0 {
		return nil, apperr.Fatal("embedder.embed", fmt.Errorf("no embedding clients configured"))
	}

	resolved := make([][]float32, len(texts))
	toEmbed := make([]string, 0, len(texts))
	toEmbedIdx := make([]int, 0, len(texts))

	if p.cache != nil {
		for i, t := range texts {
			if vec, ok := p.cache.Get(ctx, p.model, t); ok {
				resolved[i] = vec
				continue
			}
			toEmbed = append(toEmbed, t)
			toEmbedIdx = append(toEmbedIdx, i)
		}
	} else {
		toEmbed = texts
		for i := range texts {
			toEmbedIdx = append(toEmbedIdx, i)
		}
	}

	if len(toEmbed) > 0 {
		fresh, err := p.embedUncached(ctx, toEmbed)
		if err != nil {
			return nil, err
		}
		for j, vec := range fresh {
			normalize(vec)
			resolved[toEmbedIdx[j]] = vec
			if p.cache != nil {
				p.cache.Set(ctx, p.model, toEmbed[j], vec)
			}
		}
	}
	return resolved, nil
}

func (p *Pool) embedUncached(ctx context.Context, texts []string) ([][]float32, error) {
	if len(p.clients) == 1 || len(texts) < p.minForParallel {
		return p.embedInSubBatches(ctx, p.clients[0], texts)
	}

	batches := distribute(texts, len(p.clients))
	results := make([][][]float32, len(batches))
	errs := make([]error, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, batch []string) {
			defer wg.Done()
			vecs, err := p.embedInSubBatches(ctx, p.clients[i], batch)
			if err != nil {
				if p.log != nil {
					p.log.Warn("embedding worker failed", zap.Int("worker", i), zap.Error(err))
				}
				errs[i] = err
				return
			}
			results[i] = vecs
		}(i, batch)
	}
	wg.Wait()

	for i := range batches {
		if errs[i] != nil {
			if p.log != nil {
				p.log.Warn("falling back to single embedding client after worker failure")
			}
			return p.embedInSubBatches(ctx, p.clients[0], texts)
		}
	}

	out := make([][]float32, 0, len(texts))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// embedInSubBatches chunks texts into batchSize-sized groups before
// calling client, bounding the size of any single request to a device.
func (p *Pool) embedInSubBatches(ctx context.Context, client Client, texts []string) ([][]float32, error) {
	if p.batchSize <= 0 || len(texts) <= p.batchSize {
		return client.Embed(ctx, p.model, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := client.Embed(ctx, p.model, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// distribute splits texts into n contiguous, roughly equal batches.
func distribute(texts []string, n int) [][]string {
	if n <= 0 {
		n = 1
	}
	perBatch := (len(texts) + n - 1) / n
	var batches [][]string
	for i := 0; i < n; i++ {
		start := i * perBatch
		if start >= len(texts) {
			batches = append(batches, nil)
			continue
		}
		end := start + perBatch
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[start:end])
	}
	return batches
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}
