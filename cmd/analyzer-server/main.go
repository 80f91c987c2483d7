// Command analyzer-server runs the standalone analyzer surface of spec
// §6: synchronous and async document analysis, async job tracking, and
// GPU device introspection. Wiring mirrors cmd/api-server's composition
// root but builds one BatchClient per Ollama device instead of an
// embedding pool.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ragindex/internal/analyzer"
	"ragindex/internal/analyzerjobs"
	"ragindex/internal/apperr"
	"ragindex/internal/config"
	"ragindex/internal/gputask"
	"ragindex/internal/llmclient"
	"ragindex/internal/logging"
	"ragindex/internal/metrics"
	"ragindex/internal/observability/tracing"
	"ragindex/internal/status"
)

func main() {
	config.Load()
	cfg := config.FromEnv()
	log := logging.FromEnv("analyzer-server")
	defer log.Sync()

	if shutdownTracing, err := tracing.Init(context.Background(), "analyzer-server"); err != nil {
		log.Warn("tracing init failed, continuing without traces", zap.Error(err))
	} else {
		defer shutdownTracing(context.Background())
	}

	gtm := gputask.New(log)

	clients := make([]analyzer.BatchClient, 0, len(ollamaBaseURLs(cfg)))
	analysisModel := config.Str("AI3_ANALYSIS_MODEL", "llama3")
	for _, u := range ollamaBaseURLs(cfg) {
		if cfg.AnalyzerUseQUIC {
			clients = append(clients, llmclient.NewQUIC(u, analysisModel, 120*time.Second, log))
		} else {
			clients = append(clients, llmclient.New(u, analysisModel, 120*time.Second, log))
		}
	}

	az := analyzer.New(gtm, clients, analyzer.Config{
		PagesPerBatch:     config.Int("AI3_PAGES_PER_BATCH", analyzer.DefaultPagesPerBatch),
		MinFreeMBForBatch: cfg.MinFreeMBForEmbed,
		MaxGPUTempC:       cfg.MaxGPUTempEmbed,
		GPLTimeout:        config.Duration("AI3_GPL_TIMEOUT", 15*time.Minute),
	}, log)

	if cfg.VerifyModel != "" {
		az = az.WithVerifier(llmclient.New(ollamaBaseURL(cfg, 0), cfg.VerifyModel, 120*time.Second, log))
	}

	reporter := status.New(status.Config{
		URL: cfg.WebhookURL, Secret: cfg.WebhookSecret, Enabled: cfg.WebhookEnabled, Timeout: cfg.WebhookTimeout,
	}, log)
	defer reporter.Close()
	az = az.WithReporter(reporter)

	jobs := analyzerjobs.New(az, config.Duration("AI3_JOB_MAX_AGE", 24*time.Hour), log)

	srv := &server{analyzer: az, jobs: jobs, log: log}

	httpSrv := &http.Server{
		Addr:              config.Str("ANALYZER_SERVER_ADDR", ":8090"),
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("analyzer-server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen and serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

type server struct {
	analyzer *analyzer.Analyzer
	jobs     *analyzerjobs.Service
	log      *zap.Logger
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	r.Use(cors.New(corsCfg))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", s.health)

	r.POST("/analyze", s.analyzeSync(false))
	r.POST("/analyze/parallel", s.analyzeSync(true))
	r.POST("/analyze/async", s.analyzeAsync(false))
	r.POST("/analyze/async/parallel", s.analyzeAsync(true))
	r.GET("/analyze/status/:job_id", s.jobStatus)
	r.GET("/analyze/jobs", s.listJobs)
	r.DELETE("/analyze/jobs/:job_id", s.cancelJob)

	r.GET("/gpu/status", s.gpuStatus)
	r.GET("/gpu/temperatures", s.gpuTemperatures)

	return r
}

type analyzeReq struct {
	DocID    string `json:"doc_id"`
	Document string `json:"document" binding:"required"`
}

// analyzeSync runs the analyzer inline and returns the aggregated result.
// forceParallel has no effect on Analyze itself (it always fans out
// across free devices); the distinct routes exist for callers that want
// to document intent at the call site.
func (s *server) analyzeSync(forceParallel bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req analyzeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErr(c, apperr.Validation("analyzer-server.analyze", err))
			return
		}
		docID := req.DocID
		if docID == "" {
			docID = newDocID()
		}
		result, err := s.analyzer.Analyze(c.Request.Context(), docID, req.Document)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"doc_id":                   docID,
			"domain":                   result.Domain,
			"document_type":            result.DocumentType,
			"main_topics":              result.MainTopics,
			"main_entities":            result.MainEntities,
			"has_tables":               result.HasTables,
			"suggested_chunk_strategy": result.SuggestedChunkStrategy,
			"duration_sec":             result.DurationSec,
			"batch_errors":             result.BatchErrors,
			"verification":             result.Verification,
			"forced_parallel":          forceParallel,
		})
	}
}

func (s *server) analyzeAsync(forceParallel bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req analyzeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErr(c, apperr.Validation("analyzer-server.analyze_async", err))
			return
		}
		jobID := s.jobs.Submit(c.Request.Context(), req.Document, req.DocID, "text/plain", forceParallel)
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "pending"})
	}
}

func (s *server) jobStatus(c *gin.Context) {
	job, err := s.jobs.Status(c.Param("job_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToJSON(job))
}

func (s *server) listJobs(c *gin.Context) {
	jobs := s.jobs.List()
	out := make([]gin.H, len(jobs))
	for i, j := range jobs {
		out[i] = jobToJSON(j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *server) cancelJob(c *gin.Context) {
	if err := s.jobs.Cancel(c.Param("job_id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func jobToJSON(j *analyzerjobs.Job) gin.H {
	out := gin.H{
		"job_id":       j.JobID,
		"filename":     j.Filename,
		"mime_type":    j.MimeType,
		"status":       j.Status,
		"progress_pct": j.ProgressPct,
		"message":      j.Message,
		"created_at":   j.CreatedAt,
		"updated_at":   j.UpdatedAt,
	}
	if j.CompletedAt != nil {
		out["completed_at"] = *j.CompletedAt
	}
	if j.Error != "" {
		out["error"] = j.Error
	}
	if j.Result != nil {
		out["result"] = gin.H{
			"domain":                   j.Result.Domain,
			"document_type":            j.Result.DocumentType,
			"main_topics":              j.Result.MainTopics,
			"main_entities":            j.Result.MainEntities,
			"has_tables":               j.Result.HasTables,
			"suggested_chunk_strategy": j.Result.SuggestedChunkStrategy,
			"duration_sec":             j.Result.DurationSec,
		}
	}
	return out
}

func (s *server) gpuStatus(c *gin.Context) {
	devices, err := gputask.Devices(c.Request.Context())
	if err != nil {
		writeErr(c, apperr.Dependency("analyzer-server.gpu_status", err))
		return
	}
	metrics.ObserveGPUDevices(devices)
	out := make([]gin.H, len(devices))
	for i, d := range devices {
		out[i] = gin.H{
			"index":           d.Index,
			"name":            d.Name,
			"total_memory_mb": d.TotalMemoryMB,
			"free_memory_mb":  d.FreeMemoryMB,
			"used_memory_mb":  d.UsedMemoryMB,
			"utilization_pct": d.UtilizationPct,
			"temperature_c":   d.TemperatureC,
		}
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

func (s *server) gpuTemperatures(c *gin.Context) {
	devices, err := gputask.Devices(c.Request.Context())
	if err != nil {
		writeErr(c, apperr.Dependency("analyzer-server.gpu_temperatures", err))
		return
	}
	metrics.ObserveGPUDevices(devices)
	out := make(map[int]int, len(devices))
	for _, d := range devices {
		out[d.Index] = d.TemperatureC
	}
	c.JSON(http.StatusOK, gin.H{"temperatures": out})
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.Is(err, apperr.KindValidation):
		status = http.StatusBadRequest
	case apperr.Is(err, apperr.KindNotFound):
		status = http.StatusNotFound
	case apperr.Is(err, apperr.KindConflict):
		status = http.StatusConflict
	case apperr.Is(err, apperr.KindDependency):
		status = http.StatusBadGateway
	case apperr.Is(err, apperr.KindTransient):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func newDocID() string {
	return fmt.Sprintf("analyze-%d", time.Now().UnixNano())
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
