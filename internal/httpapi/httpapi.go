// Package httpapi is the v1 HTTP surface: document upsert/delete, index
// rebuild, job status, search, health, and stats. Route handlers stay
// thin, delegating to the Store/Queue/Coordinator/Searcher interfaces
// below so the routing layer never depends on their concrete
// implementations; internal/apperr errors are mapped to HTTP status via
// errors.As.
package httpapi

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ragindex/internal/apperr"
	"ragindex/internal/jobpayload"
	"ragindex/internal/model"
	"ragindex/internal/queue"
	"ragindex/internal/search"
	"ragindex/internal/upsert"
)

// Store is the subset of *store.Store the HTTP surface depends on for
// stats and health.
type Store interface {
	ListIndexMetadata(ctx context.Context) ([]*model.IndexMetadata, error)
	Ping(ctx context.Context) error
}

// Queue is the subset of *queue.Queue the HTTP surface depends on.
type Queue interface {
	Create(ctx context.Context, jobID string, jobType model.JobType, payload model.JSON) (string, error)
	Get(ctx context.Context, jobID string) (*model.Job, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Coordinator is the subset of *upsert.Coordinator the HTTP surface
// depends on.
type Coordinator interface {
	Upsert(ctx context.Context, req upsert.Request) (upsert.Result, error)
	Delete(ctx context.Context, docID, tenantID, namespace string) (int64, error)
}

// Searcher is the subset of *search.Engine the HTTP surface depends on.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (search.Result, error)
}

// Server holds the wired dependencies for the v1 router.
type Server struct {
	store                   Store
	queue                   Queue
	coordinator             Coordinator
	searcher                Searcher
	indexDir                string
	defaultEmbeddingVersion string
	log                     *zap.Logger
}

func New(store Store, q Queue, coordinator Coordinator, searcher Searcher, indexDir, defaultEmbeddingVersion string, log *zap.Logger) *Server {
	return &Server{
		store:                   store,
		queue:                   q,
		coordinator:             coordinator,
		searcher:                searcher,
		indexDir:                indexDir,
		defaultEmbeddingVersion: defaultEmbeddingVersion,
		log:                     log,
	}
}

// Router builds the gin.Engine for the v1 surface.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsCfg))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/docs/upsert", s.upsertOne)
		v1.POST("/docs/upsert/batch", s.upsertBatch)
		v1.DELETE("/docs/:doc_id", s.deleteDoc)
		v1.POST("/index/rebuild", s.rebuildIndex)
		v1.GET("/jobs/:job_id", s.jobStatus)
		v1.POST("/search", s.search)
		v1.GET("/health", s.health)
		v1.GET("/index/stats", s.indexStats)
		v1.GET("/queue/stats", s.queueStats)
	}
	return r
}

func (s *Server) toUpsertRequest(d jobpayload.UpsertDoc) upsert.Request {
	return upsert.Request{
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
	}
}

func (s *Server) upsertOne(c *gin.Context) {
	var doc jobpayload.UpsertDoc
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.coordinator.Upsert(c.Request.Context(), s.toUpsertRequest(doc))
	if err != nil {
		writeErr(c, err)
		return
	}

	resp := gin.H{"accepted": 1, "chunk_strategy": result.Strategy}
	if result.Skipped {
		resp["upserted_docs"] = 0
		resp["skipped_docs"] = 1
		resp["chunks_created"] = 0
	} else {
		resp["upserted_docs"] = 1
		resp["skipped_docs"] = 0
		resp["chunks_created"] = result.ChunksCreated
	}
	c.JSON(http.StatusOK, resp)
}

type batchUpsertBody struct {
	Docs      []jobpayload.UpsertDoc `json:"docs" binding:"required"`
	AsyncMode bool                   `json:"async_mode"`
}

func (s *Server) upsertBatch(c *gin.Context) {
	var body batchUpsertBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if body.AsyncMode {
		payload, err := jobpayload.Encode(jobpayload.IngestDocs{Docs: body.Docs})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		jobID, err := s.queue.Create(c.Request.Context(), "", model.JobIngestDocs, payload)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "accepted": len(body.Docs)})
		return
	}

	var upsertedDocs, skippedDocs, chunksCreated int
	var errs []string
	for _, d := range body.Docs {
		result, err := s.coordinator.Upsert(c.Request.Context(), s.toUpsertRequest(d))
		if err != nil {
			errs = append(errs, d.DocID+": "+err.Error())
			continue
		}
		if result.Skipped {
			skippedDocs++
			continue
		}
		upsertedDocs++
		chunksCreated += result.ChunksCreated
	}

	resp := gin.H{
		"accepted":       len(body.Docs),
		"upserted_docs":  upsertedDocs,
		"skipped_docs":   skippedDocs,
		"chunks_created": chunksCreated,
	}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) deleteDoc(c *gin.Context) {
	docID := c.Param("doc_id")
	tenantID := c.Query("tenant_id")
	namespace := c.Query("namespace")

	chunksDeleted, err := s.coordinator.Delete(c.Request.Context(), docID, tenantID, namespace)
	if err != nil {
		writeErr(c, err)
		return
	}

	payload, err := jobpayload.Encode(jobpayload.RebuildIndex{
		TenantID: tenantID, Namespace: namespace, EmbeddingVersion: s.defaultEmbeddingVersion,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	jobID, err := s.queue.Create(c.Request.Context(), "", model.JobRebuildIndex, payload)
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true, "chunks_deleted": chunksDeleted, "job_id": jobID})
}

func (s *Server) rebuildIndex(c *gin.Context) {
	var body jobpayload.RebuildIndex
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.EmbeddingVersion == "" {
		body.EmbeddingVersion = s.defaultEmbeddingVersion
	}

	payload, err := jobpayload.Encode(body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	jobID, err := s.queue.Create(c.Request.Context(), "", model.JobRebuildIndex, payload)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

func (s *Server) jobStatus(c *gin.Context) {
	job, err := s.queue.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type searchBody struct {
	Tenant           string `json:"tenant" binding:"required"`
	Namespace        string `json:"namespace" binding:"required"`
	Query            string `json:"query" binding:"required"`
	TopK             int    `json:"top_k"`
	EmbeddingVersion string `json:"embedding_version"`
	Hybrid           bool   `json:"hybrid"`
	Rerank           bool   `json:"rerank"`
}

func (s *Server) search(c *gin.Context) {
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.searcher.Search(c.Request.Context(), search.Request{
		TenantID:         body.Tenant,
		Namespace:        body.Namespace,
		Query:            body.Query,
		TopK:             body.TopK,
		EmbeddingVersion: body.EmbeddingVersion,
		Hybrid:           body.Hybrid,
		Rerank:           body.Rerank,
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	chunks := make([]gin.H, len(result.Hits))
	for i, h := range result.Hits {
		chunks[i] = gin.H{
			"chunk_id": h.ChunkID,
			"doc_id":   h.DocID,
			"text":     h.Text,
			"score":    h.Score,
			"metadata": h.Metadata,
			"reranked": h.Reranked,
		}
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks, "total_found": result.TotalFound})
}

func (s *Server) health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := s.store.Ping(c.Request.Context()); err != nil {
		checks["database"] = "unreachable: " + err.Error()
		checks["queue"] = "unreachable"
		healthy = false
	} else {
		checks["database"] = "ok"
		checks["queue"] = "ok"
	}

	if _, err := os.Stat(s.indexDir); err != nil {
		checks["index_store"] = "unreachable: " + err.Error()
		healthy = false
	} else {
		checks["index_store"] = "ok"
	}

	status := http.StatusOK
	statusText := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "unhealthy"
	}
	c.JSON(status, gin.H{"status": statusText, "checks": checks})
}

func (s *Server) indexStats(c *gin.Context) {
	metas, err := s.store.ListIndexMetadata(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	out := make([]gin.H, len(metas))
	for i, m := range metas {
		out[i] = gin.H{
			"tenant_id":         m.TenantID,
			"namespace":         m.Namespace,
			"embedding_version": m.EmbeddingVersion,
			"ntotal":            m.Ntotal,
			"dimension":         m.Dimension,
			"dirty":             m.Dirty,
			"faiss_path":        m.FaissPath,
			"updated_at":        m.UpdatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"indices": out})
}

func (s *Server) queueStats(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     stats.Total,
		"pending":   stats.Pending,
		"running":   stats.Running,
		"completed": stats.Completed,
		"failed":    stats.Failed,
	})
}

func statusFor(err error) int {
	switch {
	case apperr.Is(err, apperr.KindValidation):
		return http.StatusBadRequest
	case apperr.Is(err, apperr.KindNotFound):
		return http.StatusNotFound
	case apperr.Is(err, apperr.KindConflict):
		return http.StatusConflict
	case apperr.Is(err, apperr.KindDependency):
		return http.StatusBadGateway
	case apperr.Is(err, apperr.KindTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
