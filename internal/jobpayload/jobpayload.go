// Package jobpayload defines the JSON shape of the two job types the
// queue carries in its jobs.payload column, shared by internal/httpapi
// (which builds payloads when enqueuing) and cmd/job-worker (which
// decodes them to drive internal/upsert and internal/rebuild).
package jobpayload

import (
	"fmt"

	"ragindex/internal/model"
	"ragindex/internal/xjson"
)

// UpsertDoc is one document in an ingest_docs job, or the body of a
// synchronous single-document upsert.
type UpsertDoc struct {
	TenantID      string     `json:"tenant_id"`
	Namespace     string     `json:"namespace"`
	DocID         string     `json:"doc_id"`
	Source        string     `json:"source,omitempty"`
	Text          string     `json:"text"`
	Metadata      model.JSON `json:"metadata,omitempty"`
	PolicyID      string     `json:"policy_id,omitempty"`
	ChunkStrategy string     `json:"chunk_strategy,omitempty"`
	ChunkOverlap  int        `json:"chunk_overlap,omitempty"`
	EnrichContext *bool      `json:"enrich_context,omitempty"`
}

// Enrich reports whether contextual enrichment should run, defaulting to
// true when the caller omits the field.
func (d UpsertDoc) Enrich() bool {
	if d.EnrichContext == nil {
		return true
	}
	return *d.EnrichContext
}

// IngestDocs is the payload of a JobIngestDocs job.
type IngestDocs struct {
	Docs []UpsertDoc `json:"docs"`
}

// RebuildIndex is the payload of a JobRebuildIndex job.
type RebuildIndex struct {
	TenantID            string `json:"tenant_id"`
	Namespace           string `json:"namespace"`
	EmbeddingVersion    string `json:"embedding_version,omitempty"`
	Reembed             bool   `json:"reembed"`
	NewEmbeddingVersion string `json:"new_embedding_version,omitempty"`
}

// Encode round-trips v through JSON into a model.JSON map, the shape the
// queue's jobs.payload jsonb column stores.
func Encode(v any) (model.JSON, error) {
	raw, err := xjson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jobpayload.encode: %w", err)
	}
	var out model.JSON
	if err := xjson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("jobpayload.encode: %w", err)
	}
	return out, nil
}

// Decode round-trips a model.JSON payload back into a typed struct.
func Decode(payload model.JSON, v any) error {
	raw, err := xjson.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobpayload.decode: %w", err)
	}
	if err := xjson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("jobpayload.decode: %w", err)
	}
	return nil
}
