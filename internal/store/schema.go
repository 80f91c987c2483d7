package store

// schema is applied idempotently on startup, the way
// document-chunker/main.go's initializeSchema does it: plain DDL behind
// CREATE TABLE/INDEX IF NOT EXISTS, no migration framework.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	doc_id             TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	namespace          TEXT NOT NULL,
	source             TEXT NOT NULL DEFAULT '',
	doc_hash           TEXT NOT NULL,
	metadata           JSONB NOT NULL DEFAULT '{}',
	policy_id          TEXT NOT NULL DEFAULT '',
	embedding_model_id TEXT NOT NULL,
	embedding_version  TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant_ns ON documents(tenant_id, namespace);
CREATE INDEX IF NOT EXISTS idx_documents_tenant_ns_deleted ON documents(tenant_id, namespace, deleted_at);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(doc_hash);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id           TEXT PRIMARY KEY,
	doc_id             TEXT NOT NULL REFERENCES documents(doc_id),
	tenant_id          TEXT NOT NULL,
	namespace          TEXT NOT NULL,
	chunk_hash         TEXT NOT NULL,
	text               TEXT NOT NULL,
	embed_text         TEXT NOT NULL DEFAULT '',
	parent_chunk_id    TEXT NOT NULL DEFAULT '',
	offset_start       INTEGER,
	offset_end         INTEGER,
	metadata           JSONB NOT NULL DEFAULT '{}',
	policy_id          TEXT NOT NULL DEFAULT '',
	embedding_model_id TEXT NOT NULL,
	embedding_version  TEXT NOT NULL,
	faiss_id           BIGINT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at         TIMESTAMPTZ,
	-- shadow embedding column: operator-recovery only, never read by search.
	shadow_embedding   vector(1536)
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_chunks_tenant_ns_version ON chunks(tenant_id, namespace, embedding_version);
CREATE INDEX IF NOT EXISTS idx_chunks_tenant_ns_deleted ON chunks(tenant_id, namespace, deleted_at);
CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(chunk_hash);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_faiss_id ON chunks(tenant_id, namespace, embedding_version, faiss_id) WHERE faiss_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS index_metadata (
	tenant_id         TEXT NOT NULL,
	namespace         TEXT NOT NULL,
	embedding_version TEXT NOT NULL,
	faiss_path        TEXT NOT NULL,
	ntotal            BIGINT NOT NULL DEFAULT 0,
	dimension         INTEGER NOT NULL,
	dirty             BOOLEAN NOT NULL DEFAULT false,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, namespace, embedding_version)
);

CREATE INDEX IF NOT EXISTS idx_index_metadata_dirty ON index_metadata(dirty);

CREATE TABLE IF NOT EXISTS jobs (
	job_id       TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	payload      JSONB NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL DEFAULT 'pending',
	progress     INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`
