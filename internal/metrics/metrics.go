// Package metrics defines the Prometheus collectors exposed by the
// GET /metrics routes already wired into httpapi and cmd/analyzer-server
// (both serve promhttp.Handler() against the default registry). Grounded
// on cuda-mock-gateway/server.go's promauto.NewCounterVec/NewHistogramVec
// style of registering collectors as package-level vars next to the code
// that increments them.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ragindex/internal/gputask"
)

var (
	DocumentsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragindex_documents_upserted_total",
		Help: "Documents processed by the upsert coordinator, by outcome.",
	}, []string{"outcome"})

	DocumentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragindex_documents_deleted_total",
		Help: "Documents soft-deleted.",
	})

	ChunksPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragindex_chunks_persisted_total",
		Help: "Chunks written to the document/chunk store, by strategy.",
	}, []string{"strategy"})

	UpsertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ragindex_upsert_duration_seconds",
		Help:    "Upsert pipeline latency (chunk+enrich+embed+persist).",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragindex_search_requests_total",
		Help: "Search requests, by outcome.",
	}, []string{"outcome"})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ragindex_search_duration_seconds",
		Help:    "Search latency including reranking.",
		Buckets: prometheus.DefBuckets,
	})

	RerankRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragindex_rerank_requests_total",
		Help: "Reranker service calls, by outcome.",
	}, []string{"outcome"})

	AnalyzerBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragindex_analyzer_batches_total",
		Help: "Parallel analyzer page batches, by outcome.",
	}, []string{"outcome"})

	QueueJobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragindex_queue_jobs_enqueued_total",
		Help: "Jobs created in the job queue, by type.",
	}, []string{"job_type"})

	QueueJobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragindex_queue_jobs_completed_total",
		Help: "Jobs finished by the worker, by type and outcome.",
	}, []string{"job_type", "outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ragindex_queue_depth",
		Help: "Pending+running jobs last observed in the queue.",
	})

	GPUFreeMemoryMB = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ragindex_gpu_free_memory_mb",
		Help: "Free memory per GPU device, last observed.",
	}, []string{"device"})

	GPUTemperatureC = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ragindex_gpu_temperature_celsius",
		Help: "Temperature per GPU device, last observed.",
	}, []string{"device"})
)

// ObserveGPUDevices refreshes the GPU gauges from a fresh nvidia-smi
// snapshot.
func ObserveGPUDevices(devices []gputask.Device) {
	for _, d := range devices {
		label := prometheus.Labels{"device": strconv.Itoa(d.Index)}
		GPUFreeMemoryMB.With(label).Set(float64(d.FreeMemoryMB))
		GPUTemperatureC.With(label).Set(float64(d.TemperatureC))
	}
}
