// Package model defines the persistent entities of the indexing and
// search service: documents, chunks, index metadata, and jobs.
package model

import "time"

// JSON is an opaque, caller-defined metadata blob persisted as jsonb.
type JSON map[string]any

// Document is a tenant-owned unit of ingested text (§3 "Document").
type Document struct {
	DocID            string     `json:"doc_id"`
	TenantID         string     `json:"tenant_id"`
	Namespace        string     `json:"namespace"`
	Source           string     `json:"source,omitempty"`
	DocHash          string     `json:"doc_hash"`
	Metadata         JSON       `json:"metadata,omitempty"`
	PolicyID         string     `json:"policy_id,omitempty"`
	EmbeddingModelID string     `json:"embedding_model_id"`
	EmbeddingVersion string     `json:"embedding_version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// Live reports whether the document has not been soft-deleted.
func (d *Document) Live() bool { return d.DeletedAt == nil }

// Chunk is a retrieval unit owned by exactly one Document (§3 "Chunk").
type Chunk struct {
	ChunkID          string     `json:"chunk_id"`
	DocID            string     `json:"doc_id"`
	TenantID         string     `json:"tenant_id"`
	Namespace        string     `json:"namespace"`
	ChunkHash        string     `json:"chunk_hash"`
	Text             string     `json:"text"`
	EmbedText        string     `json:"embed_text,omitempty"`
	ParentChunkID    string     `json:"parent_chunk_id,omitempty"`
	OffsetStart      *int       `json:"offset_start,omitempty"`
	OffsetEnd        *int       `json:"offset_end,omitempty"`
	Metadata         JSON       `json:"metadata,omitempty"`
	PolicyID         string     `json:"policy_id,omitempty"`
	EmbeddingModelID string     `json:"embedding_model_id"`
	EmbeddingVersion string     `json:"embedding_version"`
	FaissID          *int64     `json:"faiss_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// Live reports whether the chunk has not been soft-deleted.
func (c *Chunk) Live() bool { return c.DeletedAt == nil }

// EmbeddingInput returns the text presented to the embedder: the enriched
// text when present, otherwise the raw chunk text (§3 Chunk.embed_text).
func (c *Chunk) EmbeddingInput() string {
	if c.EmbedText != "" {
		return c.EmbedText
	}
	return c.Text
}

// IndexMetadata tracks the on-disk vector index for one (tenant, namespace,
// embedding_version) key (§3 "IndexMetadata").
type IndexMetadata struct {
	TenantID         string    `json:"tenant_id"`
	Namespace        string    `json:"namespace"`
	EmbeddingVersion string    `json:"embedding_version"`
	FaissPath        string    `json:"faiss_path"`
	Ntotal           int64     `json:"ntotal"`
	Dimension        int       `json:"dimension"`
	Dirty            bool      `json:"dirty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Key identifies an IndexMetadata row.
type IndexKey struct {
	TenantID         string
	Namespace        string
	EmbeddingVersion string
}

func (m *IndexMetadata) Key() IndexKey {
	return IndexKey{TenantID: m.TenantID, Namespace: m.Namespace, EmbeddingVersion: m.EmbeddingVersion}
}

// JobStatus is one of the states in the Job state machine (§3 "Job").
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobType identifies which handler processes a Job.
type JobType string

const (
	JobIngestDocs   JobType = "ingest_docs"
	JobRebuildIndex JobType = "rebuild_index"
)

// Job is a durable unit of background work (§3 "Job", §4.6).
type Job struct {
	JobID       string     `json:"job_id"`
	Type        JobType    `json:"type"`
	Payload     JSON       `json:"payload"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
