// Command api-server runs the v1 HTTP surface: document upsert/delete,
// index rebuild enqueue, job status, and search. Wiring follows a single
// composition root in main() feeding one gin.Engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ragindex/internal/chunk/builtin"
	"ragindex/internal/config"
	"ragindex/internal/embedder"
	"ragindex/internal/enrich"
	"ragindex/internal/httpapi"
	"ragindex/internal/llmclient"
	"ragindex/internal/logging"
	"ragindex/internal/queue"
	"ragindex/internal/rerankclient"
	"ragindex/internal/search"
	"ragindex/internal/status"
	"ragindex/internal/store"
	"ragindex/internal/upsert"

	"go.uber.org/zap"

	"ragindex/internal/observability/tracing"
)

func main() {
	config.Load()
	cfg := config.FromEnv()
	log := logging.FromEnv("api-server")
	defer log.Sync()

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, "api-server")
	if err != nil {
		log.Warn("tracing init failed, continuing without traces", zap.Error(err))
	} else {
		defer shutdownTracing(context.Background())
	}

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.IndexDir, 0o755); err != nil {
		log.Fatal("create index dir", zap.Error(err))
	}

	registry := builtin.NewRegistry()
	embedPool := newEmbedPool(cfg, log)
	reporter := status.New(status.Config{
		URL: cfg.WebhookURL, Secret: cfg.WebhookSecret, Enabled: cfg.WebhookEnabled, Timeout: cfg.WebhookTimeout,
	}, log)
	defer reporter.Close()

	generationModel := config.Str("OLLAMA_MODEL", "llama3")
	llm := llmclient.New(ollamaBaseURL(cfg, 0), generationModel, 90*time.Second, log)
	enricher := enrich.New(llm, cfg.ContextEnabled, 4, log)

	coordinator := upsert.New(st, registry, embedPool, cfg.IndexDir, cfg.EmbedModelName, cfg.EmbeddingVersion, log,
		upsert.WithEnricher(enricher), upsert.WithReporter(reporter))

	searchCfg := search.Config{DefaultEmbeddingVersion: cfg.EmbeddingVersion, RerankCandidates: cfg.RerankCandidates}
	searchOpts := []search.Option{search.WithReporter(reporter), search.WithQueryRewriter(llm)}
	if cfg.RerankEnabled && cfg.RerankServiceURL != "" {
		searchOpts = append(searchOpts, search.WithReranker(rerankclient.New(cfg.RerankServiceURL, 30*time.Second)))
	}
	searchEngine := search.New(st, embedPool, cfg.IndexDir, searchCfg, log, searchOpts...)

	q := queue.New(st.Pool())

	srv := httpapi.New(st, q, coordinator, searchEngine, cfg.IndexDir, cfg.EmbeddingVersion, log)

	httpSrv := &http.Server{
		Addr:              config.Str("API_SERVER_ADDR", ":8080"),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("api-server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen and serve", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newEmbedPool(cfg *config.Config, log *zap.Logger) *embedder.Pool {
	urls := ollamaBaseURLs(cfg)
	clients := make([]embedder.Client, len(urls))
	for i, u := range urls {
		clients[i] = embedder.NewOllamaClient(u)
	}

	opts := []embedder.Option{embedder.WithBatchSize(cfg.BatchSizePerGPU)}
	if cfg.RedisURL != "" {
		if opt, err := redis.ParseURL(cfg.RedisURL); err == nil {
			rdb := redis.NewClient(opt)
			opts = append(opts, embedder.WithCache(embedder.NewRedisCache(rdb, 24*time.Hour, log)))
		} else {
			log.Warn("parse REDIS_URL failed, running without embedding cache", zap.Error(err))
		}
	}
	return embedder.New(clients, cfg.EmbedModelName, log, opts...)
}

// ollamaBaseURLs returns one base URL per configured device instance,
// mapping device index to its external LLM endpoint port.
func ollamaBaseURLs(cfg *config.Config) []string {
	n := 1
	if cfg.OllamaMultiGPU && cfg.OllamaNumInstances > 1 {
		n = cfg.OllamaNumInstances
	}
	urls := make([]string, n)
	for i := 0; i < n; i++ {
		urls[i] = ollamaBaseURL(cfg, i)
	}
	return urls
}

func ollamaBaseURL(cfg *config.Config, device int) string {
	return fmt.Sprintf("http://localhost:%d", cfg.OllamaBasePort+device)
}

