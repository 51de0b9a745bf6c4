package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// encodeVector packs an L2-normalized float32 vector into a little-endian
// blob, per the chunk-embedding storage invariant.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 blob back into a vector.
func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// UpsertChunkEmbedding replaces any existing embedding for (chunk_id,
// model_name) with a fresh one. The invariant calls for upsert-as-delete+insert
// rather than an in-place update, since dimensions can change across models.
func (s *Store) UpsertChunkEmbedding(e ChunkEmbedding) (ChunkEmbedding, error) {
	timer := s.log.StartTimer("UpsertChunkEmbedding")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return ChunkEmbedding{}, fmt.Errorf("store: upsert embedding: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunk_embeddings WHERE chunk_id = ? AND model_name = ?`, e.ChunkID, e.ModelName); err != nil {
		return ChunkEmbedding{}, fmt.Errorf("store: upsert embedding: delete: %w", err)
	}

	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	_, err = tx.Exec(
		`INSERT INTO chunk_embeddings (id, chunk_id, model_name, dimensions, vector, content_hash, provider_fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ChunkID, e.ModelName, e.Dimensions, encodeVector(e.Vector), e.ContentHash, e.ProviderFingerprint, e.CreatedAt,
	)
	if err != nil {
		return ChunkEmbedding{}, fmt.Errorf("store: upsert embedding: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ChunkEmbedding{}, fmt.Errorf("store: upsert embedding: commit: %w", err)
	}
	s.log.Debug("embedded chunk=%s model=%s dims=%d", e.ChunkID, e.ModelName, e.Dimensions)
	return e, nil
}

// GetChunkEmbedding loads the embedding for one chunk under one model, if any.
func (s *Store) GetChunkEmbedding(chunkID, modelName string) (ChunkEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, chunk_id, model_name, dimensions, vector, content_hash, provider_fingerprint, created_at
		 FROM chunk_embeddings WHERE chunk_id = ? AND model_name = ?`, chunkID, modelName,
	)
	return scanEmbedding(row)
}

// ListDomainEmbeddings loads every embedding for a domain under one model,
// the corpus the retrieval package's MMR selection runs over.
func (s *Store) ListDomainEmbeddings(domainID, modelName string) ([]ChunkEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT e.id, e.chunk_id, e.model_name, e.dimensions, e.vector, e.content_hash, e.provider_fingerprint, e.created_at
		 FROM chunk_embeddings e JOIN kb_chunks c ON c.id = e.chunk_id
		 WHERE c.domain_id = ? AND e.model_name = ?`, domainID, modelName,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list domain embeddings: %w", err)
	}
	defer rows.Close()

	var out []ChunkEmbedding
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmbedding(sc scannable) (ChunkEmbedding, error) {
	var e ChunkEmbedding
	var blob []byte
	err := sc.Scan(&e.ID, &e.ChunkID, &e.ModelName, &e.Dimensions, &blob, &e.ContentHash, &e.ProviderFingerprint, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return ChunkEmbedding{}, ErrNotFound
	}
	if err != nil {
		return ChunkEmbedding{}, fmt.Errorf("store: scan embedding: %w", err)
	}
	e.Vector = decodeVector(blob)
	return e, nil
}

// UpsertEmbeddingJob records progress for a (domain, model) embedding job.
func (s *Store) UpsertEmbeddingJob(j EmbeddingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO embedding_jobs (domain_id, model_name, status, total_count, completed_count, last_error, fingerprint, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(domain_id, model_name) DO UPDATE SET
		   status = excluded.status,
		   total_count = excluded.total_count,
		   completed_count = excluded.completed_count,
		   last_error = excluded.last_error,
		   fingerprint = excluded.fingerprint,
		   started_at = excluded.started_at,
		   updated_at = excluded.updated_at`,
		j.DomainID, j.ModelName, string(j.Status), j.Total, j.Completed, j.LastError, j.Fingerprint, j.StartedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert embedding job: %w", err)
	}
	return nil
}

// GetEmbeddingJob loads the job row for a (domain, model) pair, if any.
func (s *Store) GetEmbeddingJob(domainID, modelName string) (EmbeddingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var j EmbeddingJob
	var status string
	var started, updated sql.NullTime
	err := s.db.QueryRow(
		`SELECT domain_id, model_name, status, total_count, completed_count, last_error, fingerprint, started_at, updated_at
		 FROM embedding_jobs WHERE domain_id = ? AND model_name = ?`, domainID, modelName,
	).Scan(&j.DomainID, &j.ModelName, &status, &j.Total, &j.Completed, &j.LastError, &j.Fingerprint, &started, &updated)
	if err == sql.ErrNoRows {
		return EmbeddingJob{}, ErrNotFound
	}
	if err != nil {
		return EmbeddingJob{}, fmt.Errorf("store: get embedding job: %w", err)
	}
	j.Status = EmbeddingJobStatus(status)
	j.StartedAt = started.Time
	j.UpdatedAt = updated.Time
	return j, nil
}
