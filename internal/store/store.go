// Package store is the transactional persistence layer for documents,
// chunks, index metadata and jobs, on pgx/pgxpool.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ragindex/internal/apperr"
	"ragindex/internal/model"
)

// Store wraps a bounded pgx connection pool, rather than opening a
// connection per request.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL, applies the schema, and bounds the pool.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, apperr.Fatal("store.open", fmt.Errorf("parse database url: %w", err))
	}
	cfg.MaxConns = 16
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperr.Fatal("store.open", fmt.Errorf("connect: %w", err))
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return apperr.Fatal("store.migrate", err)
	}
	return nil
}

func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying connection pool for sibling components
// (internal/queue) that need to share it rather than open a second one.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// withTx runs fn inside a transaction, so every logical operation
// commits or rolls back as a unit.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Transient("store.tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Transient("store.tx", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// GetDocument returns the document by id, including soft-deleted rows so
// callers can distinguish "never existed" from "deleted".
func (s *Store) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT doc_id, tenant_id, namespace, source, doc_hash, metadata, policy_id,
		       embedding_model_id, embedding_version, created_at, updated_at, deleted_at
		FROM documents WHERE doc_id = $1`, docID)

	d := &model.Document{}
	if err := row.Scan(&d.DocID, &d.TenantID, &d.Namespace, &d.Source, &d.DocHash, &d.Metadata,
		&d.PolicyID, &d.EmbeddingModelID, &d.EmbeddingVersion, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("store.get_document", "document %q not found", docID)
		}
		return nil, apperr.Transient("store.get_document", err)
	}
	return d, nil
}

// PutDocument inserts or updates a document by doc_id.
func (s *Store) PutDocument(ctx context.Context, d *model.Document) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (doc_id, tenant_id, namespace, source, doc_hash, metadata,
			                       policy_id, embedding_model_id, embedding_version, created_at, updated_at, deleted_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (doc_id) DO UPDATE SET
				source = EXCLUDED.source,
				doc_hash = EXCLUDED.doc_hash,
				metadata = EXCLUDED.metadata,
				policy_id = EXCLUDED.policy_id,
				embedding_model_id = EXCLUDED.embedding_model_id,
				embedding_version = EXCLUDED.embedding_version,
				updated_at = EXCLUDED.updated_at,
				deleted_at = EXCLUDED.deleted_at`,
			d.DocID, d.TenantID, d.Namespace, d.Source, d.DocHash, d.Metadata,
			d.PolicyID, d.EmbeddingModelID, d.EmbeddingVersion, d.CreatedAt, d.UpdatedAt, d.DeletedAt)
		if err != nil {
			return apperr.Transient("store.put_document", err)
		}
		return nil
	})
}

// InsertChunks inserts a batch of chunks in a single transaction.
func (s *Store) InsertChunks(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(`
				INSERT INTO chunks (chunk_id, doc_id, tenant_id, namespace, chunk_hash, text, embed_text,
				                    parent_chunk_id, offset_start, offset_end, metadata, policy_id,
				                    embedding_model_id, embedding_version, faiss_id, created_at, deleted_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
				ON CONFLICT (chunk_id) DO UPDATE SET
					chunk_hash = EXCLUDED.chunk_hash,
					text = EXCLUDED.text,
					embed_text = EXCLUDED.embed_text,
					metadata = EXCLUDED.metadata,
					faiss_id = EXCLUDED.faiss_id,
					deleted_at = EXCLUDED.deleted_at`,
				c.ChunkID, c.DocID, c.TenantID, c.Namespace, c.ChunkHash, c.Text, c.EmbedText,
				c.ParentChunkID, c.OffsetStart, c.OffsetEnd, c.Metadata, c.PolicyID,
				c.EmbeddingModelID, c.EmbeddingVersion, c.FaissID, c.CreatedAt, c.DeletedAt)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range chunks {
			if _, err := br.Exec(); err != nil {
				return apperr.Transient("store.insert_chunks", err)
			}
		}
		return nil
	})
}

// MarkChunksDeleted soft-deletes every live chunk owned by docID.
func (s *Store) MarkChunksDeleted(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chunks SET deleted_at = now() WHERE doc_id = $1 AND deleted_at IS NULL`, docID)
	if err != nil {
		return apperr.Transient("store.mark_chunks_deleted", err)
	}
	return nil
}

// MarkDocumentDeleted soft-deletes a document and all of its chunks as
// one transaction, returning the number of chunks it soft-deleted.
func (s *Store) MarkDocumentDeleted(ctx context.Context, docID string) (int64, error) {
	var chunksDeleted int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE documents SET deleted_at = now(), updated_at = now()
			WHERE doc_id = $1 AND deleted_at IS NULL`, docID)
		if err != nil {
			return apperr.Transient("store.mark_document_deleted", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFoundf("store.mark_document_deleted", "document %q not found or already deleted", docID)
		}
		chunkTag, err := tx.Exec(ctx, `UPDATE chunks SET deleted_at = now()
			WHERE doc_id = $1 AND deleted_at IS NULL`, docID)
		if err != nil {
			return apperr.Transient("store.mark_document_deleted", err)
		}
		chunksDeleted = chunkTag.RowsAffected()
		return nil
	})
	return chunksDeleted, err
}

// LiveChunks returns every live chunk in (tenant, namespace, embeddingVersion).
func (s *Store) LiveChunks(ctx context.Context, tenant, namespace, embeddingVersion string) ([]*model.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, doc_id, tenant_id, namespace, chunk_hash, text, embed_text, parent_chunk_id,
		       offset_start, offset_end, metadata, policy_id, embedding_model_id, embedding_version,
		       faiss_id, created_at, deleted_at
		FROM chunks
		WHERE tenant_id = $1 AND namespace = $2 AND embedding_version = $3 AND deleted_at IS NULL
		ORDER BY chunk_id`, tenant, namespace, embeddingVersion)
	if err != nil {
		return nil, apperr.Transient("store.live_chunks", err)
	}
	defer rows.Close()

	var out []*model.Chunk
	for rows.Next() {
		c := &model.Chunk{}
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.TenantID, &c.Namespace, &c.ChunkHash, &c.Text, &c.EmbedText,
			&c.ParentChunkID, &c.OffsetStart, &c.OffsetEnd, &c.Metadata, &c.PolicyID, &c.EmbeddingModelID,
			&c.EmbeddingVersion, &c.FaissID, &c.CreatedAt, &c.DeletedAt); err != nil {
			return nil, apperr.Transient("store.live_chunks", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("store.live_chunks", err)
	}
	return out, nil
}

// SetFaissID sets a chunk's position in its FAISS index file.
func (s *Store) SetFaissID(ctx context.Context, chunkID string, faissID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chunks SET faiss_id = $2 WHERE chunk_id = $1`, chunkID, faissID)
	if err != nil {
		return apperr.Transient("store.set_faiss_id", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("store.set_faiss_id", "chunk %q not found", chunkID)
	}
	return nil
}

// UpdateChunkEmbeddingVersion moves a chunk onto a new embedding
// version/model and its new position in that version's FAISS index, in
// one statement. The rebuild engine calls this after re-embedding a
// chunk, so the chunk row and its FAISS placement change atomically —
// leaving faiss_id updated without embedding_version would point the
// chunk's old version at the new index file's contents.
func (s *Store) UpdateChunkEmbeddingVersion(ctx context.Context, chunkID, embeddingVersion, embeddingModelID string, faissID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chunks SET faiss_id = $2, embedding_version = $3, embedding_model_id = $4
		WHERE chunk_id = $1`, chunkID, faissID, embeddingVersion, embeddingModelID)
	if err != nil {
		return apperr.Transient("store.update_chunk_embedding_version", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("store.update_chunk_embedding_version", "chunk %q not found", chunkID)
	}
	return nil
}

// SetEmbeddingShadow writes a chunk's embedding into the pgvector shadow
// column. This is an operator-recovery aid only: the search path never
// reads it and a write failure here is not fatal to the upsert
// pipeline.
func (s *Store) SetEmbeddingShadow(ctx context.Context, chunkID string, vector []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE chunks SET shadow_embedding = $2 WHERE chunk_id = $1`,
		chunkID, pgvector.NewVector(vector))
	if err != nil {
		return apperr.Transient("store.set_embedding_shadow", err)
	}
	return nil
}

// GetOrCreateIndexMetadata returns the IndexMetadata row for key,
// creating it with defaultPath/defaultDim if it doesn't exist yet (the
// row is created lazily on first upsert into a namespace).
func (s *Store) GetOrCreateIndexMetadata(ctx context.Context, key model.IndexKey, defaultPath string, defaultDim int) (*model.IndexMetadata, error) {
	var m *model.IndexMetadata
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT tenant_id, namespace, embedding_version, faiss_path, ntotal, dimension, dirty, updated_at
			FROM index_metadata WHERE tenant_id = $1 AND namespace = $2 AND embedding_version = $3`,
			key.TenantID, key.Namespace, key.EmbeddingVersion)

		m = &model.IndexMetadata{}
		err := row.Scan(&m.TenantID, &m.Namespace, &m.EmbeddingVersion, &m.FaissPath, &m.Ntotal, &m.Dimension, &m.Dirty, &m.UpdatedAt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return apperr.Transient("store.get_or_create_index_metadata", err)
		}

		m = &model.IndexMetadata{
			TenantID: key.TenantID, Namespace: key.Namespace, EmbeddingVersion: key.EmbeddingVersion,
			FaissPath: defaultPath, Ntotal: 0, Dimension: defaultDim, Dirty: false, UpdatedAt: time.Now(),
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO index_metadata (tenant_id, namespace, embedding_version, faiss_path, ntotal, dimension, dirty, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (tenant_id, namespace, embedding_version) DO NOTHING`,
			m.TenantID, m.Namespace, m.EmbeddingVersion, m.FaissPath, m.Ntotal, m.Dimension, m.Dirty, m.UpdatedAt)
		if err != nil {
			return apperr.Transient("store.get_or_create_index_metadata", err)
		}

		row2 := tx.QueryRow(ctx, `
			SELECT tenant_id, namespace, embedding_version, faiss_path, ntotal, dimension, dirty, updated_at
			FROM index_metadata WHERE tenant_id = $1 AND namespace = $2 AND embedding_version = $3`,
			key.TenantID, key.Namespace, key.EmbeddingVersion)
		return row2.Scan(&m.TenantID, &m.Namespace, &m.EmbeddingVersion, &m.FaissPath, &m.Ntotal, &m.Dimension, &m.Dirty, &m.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateIndexMetadata sets ntotal/dirty for key.
func (s *Store) UpdateIndexMetadata(ctx context.Context, key model.IndexKey, ntotal int64, dirty bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE index_metadata SET ntotal = $4, dirty = $5, updated_at = now()
		WHERE tenant_id = $1 AND namespace = $2 AND embedding_version = $3`,
		key.TenantID, key.Namespace, key.EmbeddingVersion, ntotal, dirty)
	if err != nil {
		return apperr.Transient("store.update_index_metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("store.update_index_metadata", "index metadata %+v not found", key)
	}
	return nil
}

// MarkIndexDirty flags an index as needing rebuild without touching ntotal.
func (s *Store) MarkIndexDirty(ctx context.Context, key model.IndexKey) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE index_metadata SET dirty = true, updated_at = now()
		WHERE tenant_id = $1 AND namespace = $2 AND embedding_version = $3`,
		key.TenantID, key.Namespace, key.EmbeddingVersion)
	if err != nil {
		return apperr.Transient("store.mark_index_dirty", err)
	}
	return nil
}

// DirtyIndexes lists every index-metadata key currently marked dirty, for
// the rebuild engine's sweep.
func (s *Store) DirtyIndexes(ctx context.Context) ([]model.IndexKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT tenant_id, namespace, embedding_version FROM index_metadata WHERE dirty`)
	if err != nil {
		return nil, apperr.Transient("store.dirty_indexes", err)
	}
	defer rows.Close()
	var out []model.IndexKey
	for rows.Next() {
		var k model.IndexKey
		if err := rows.Scan(&k.TenantID, &k.Namespace, &k.EmbeddingVersion); err != nil {
			return nil, apperr.Transient("store.dirty_indexes", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// FindChunkByFaissID is the single-id reverse lookup from a vector-index
// hit back to its chunk row; search uses the batched
// FindChunksByFaissIDs.
func (s *Store) FindChunkByFaissID(ctx context.Context, tenant, namespace, embeddingVersion string, faissID int64, notDeleted bool) (*model.Chunk, error) {
	query := `
		SELECT chunk_id, doc_id, tenant_id, namespace, chunk_hash, text, embed_text, parent_chunk_id,
		       offset_start, offset_end, metadata, policy_id, embedding_model_id, embedding_version,
		       faiss_id, created_at, deleted_at
		FROM chunks
		WHERE tenant_id = $1 AND namespace = $2 AND embedding_version = $3 AND faiss_id = $4`
	if notDeleted {
		query += ` AND deleted_at IS NULL`
	}

	row := s.pool.QueryRow(ctx, query, tenant, namespace, embeddingVersion, faissID)
	c := &model.Chunk{}
	if err := row.Scan(&c.ChunkID, &c.DocID, &c.TenantID, &c.Namespace, &c.ChunkHash, &c.Text, &c.EmbedText,
		&c.ParentChunkID, &c.OffsetStart, &c.OffsetEnd, &c.Metadata, &c.PolicyID, &c.EmbeddingModelID,
		&c.EmbeddingVersion, &c.FaissID, &c.CreatedAt, &c.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("store.find_chunk_by_faiss_id", "no chunk at faiss_id %d", faissID)
		}
		return nil, apperr.Transient("store.find_chunk_by_faiss_id", err)
	}
	return c, nil
}

// FindChunksByFaissIDs batches FindChunkByFaissID for a set of ids, as
// used by search to resolve a page of vector-index hits in one query.
func (s *Store) FindChunksByFaissIDs(ctx context.Context, tenant, namespace, embeddingVersion string, faissIDs []int64) (map[int64]*model.Chunk, error) {
	if len(faissIDs) == 0 {
		return map[int64]*model.Chunk{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, doc_id, tenant_id, namespace, chunk_hash, text, embed_text, parent_chunk_id,
		       offset_start, offset_end, metadata, policy_id, embedding_model_id, embedding_version,
		       faiss_id, created_at, deleted_at
		FROM chunks
		WHERE tenant_id = $1 AND namespace = $2 AND embedding_version = $3
		  AND faiss_id = ANY($4) AND deleted_at IS NULL`,
		tenant, namespace, embeddingVersion, faissIDs)
	if err != nil {
		return nil, apperr.Transient("store.find_chunks_by_faiss_ids", err)
	}
	defer rows.Close()

	out := map[int64]*model.Chunk{}
	for rows.Next() {
		c := &model.Chunk{}
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.TenantID, &c.Namespace, &c.ChunkHash, &c.Text, &c.EmbedText,
			&c.ParentChunkID, &c.OffsetStart, &c.OffsetEnd, &c.Metadata, &c.PolicyID, &c.EmbeddingModelID,
			&c.EmbeddingVersion, &c.FaissID, &c.CreatedAt, &c.DeletedAt); err != nil {
			return nil, apperr.Transient("store.find_chunks_by_faiss_ids", err)
		}
		if c.FaissID != nil {
			out[*c.FaissID] = c
		}
	}
	return out, rows.Err()
}

// ListIndexMetadata returns every index-metadata row, for the
// `GET /v1/index/stats` surface.
func (s *Store) ListIndexMetadata(ctx context.Context) ([]*model.IndexMetadata, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, namespace, embedding_version, faiss_path, ntotal, dimension, dirty, updated_at
		FROM index_metadata ORDER BY tenant_id, namespace, embedding_version`)
	if err != nil {
		return nil, apperr.Transient("store.list_index_metadata", err)
	}
	defer rows.Close()

	var out []*model.IndexMetadata
	for rows.Next() {
		m := &model.IndexMetadata{}
		if err := rows.Scan(&m.TenantID, &m.Namespace, &m.EmbeddingVersion, &m.FaissPath, &m.Ntotal, &m.Dimension, &m.Dirty, &m.UpdatedAt); err != nil {
			return nil, apperr.Transient("store.list_index_metadata", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Ping verifies the database connection is reachable, for `GET /v1/health`.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperr.Transient("store.ping", err)
	}
	return nil
}
