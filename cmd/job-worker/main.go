// Command job-worker polls the persistent job queue and dispatches
// ingest_docs jobs to the upsert coordinator and rebuild_index jobs to
// the rebuild engine. Wiring mirrors cmd/api-server's composition root,
// sharing the same embedder/registry construction so both binaries
// treat a chunk the same way.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ragindex/internal/apperr"
	"ragindex/internal/chunk/builtin"
	"ragindex/internal/config"
	"ragindex/internal/embedder"
	"ragindex/internal/enrich"
	"ragindex/internal/jobpayload"
	"ragindex/internal/llmclient"
	"ragindex/internal/logging"
	"ragindex/internal/model"
	"ragindex/internal/observability/tracing"
	"ragindex/internal/queue"
	"ragindex/internal/rebuild"
	"ragindex/internal/status"
	"ragindex/internal/store"
	"ragindex/internal/upsert"
)

func main() {
	config.Load()
	cfg := config.FromEnv()
	log := logging.FromEnv("job-worker")
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if shutdownTracing, err := tracing.Init(ctx, "job-worker"); err != nil {
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
	rebuilder := rebuild.New(st, embedPool, cfg.IndexDir, log, rebuild.WithEmbeddingModelID(cfg.EmbedModelName))

	q := queue.New(st.Pool())
	worker := queue.NewWorker(q, log, 2*time.Second)
	worker.Register(model.JobIngestDocs, ingestDocsHandler(coordinator))
	worker.Register(model.JobRebuildIndex, rebuildIndexHandler(rebuilder))

	go worker.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancel()
}

// ingestDocsHandler adapts an ingest_docs job payload into a sequence of
// upsert.Coordinator.Upsert calls, one per document.
func ingestDocsHandler(coordinator *upsert.Coordinator) queue.Handler {
	return func(ctx context.Context, job *model.Job) error {
		var payload jobpayload.IngestDocs
		if err := jobpayload.Decode(job.Payload, &payload); err != nil {
			return apperr.Fatal("job.ingest_docs", err)
		}

		var failed []string
		for _, d := range payload.Docs {
			_, err := coordinator.Upsert(ctx, upsert.Request{
				TenantID:      d.TenantID,
				Namespace:     d.Namespace,
				DocID:         d.DocID,
				Text:          d.Text,
				Source:        d.Source,
				Metadata:      d.Metadata,
				PolicyID:      d.PolicyID,
				ChunkStrategy: d.ChunkStrategy,
				ChunkOverlap:  d.ChunkOverlap,
				EnrichContext: d.Enrich(),
			})
			if err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", d.DocID, err))
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d/%d documents failed: %v", len(failed), len(payload.Docs), failed)
		}
		return nil
	}
}

// rebuildIndexHandler adapts a rebuild_index job payload into a
// rebuild.Engine.Rebuild call.
func rebuildIndexHandler(engine *rebuild.Engine) queue.Handler {
	return func(ctx context.Context, job *model.Job) error {
		var payload jobpayload.RebuildIndex
		if err := jobpayload.Decode(job.Payload, &payload); err != nil {
			return apperr.Fatal("job.rebuild_index", err)
		}

		_, err := engine.Rebuild(ctx, rebuild.Request{
			TenantID:            payload.TenantID,
			Namespace:           payload.Namespace,
			EmbeddingVersion:    payload.EmbeddingVersion,
			Reembed:             payload.Reembed,
			NewEmbeddingVersion: payload.NewEmbeddingVersion,
		})
		return err
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
