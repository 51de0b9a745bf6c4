package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertKBFile inserts or updates a KB file keyed by (domain_id, relative_path).
func (s *Store) UpsertKBFile(f KBFile) (KBFile, error) {
	timer := s.log.StartTimer("UpsertKBFile")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.LastSyncedAt.IsZero() {
		f.LastSyncedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO kb_files (id, domain_id, relative_path, content_hash, size_bytes, last_synced_at, tier, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(domain_id, relative_path) DO UPDATE SET
		   content_hash = excluded.content_hash,
		   size_bytes = excluded.size_bytes,
		   last_synced_at = excluded.last_synced_at,
		   tier = excluded.tier`,
		f.ID, f.DomainID, f.RelativePath, f.ContentHash, f.SizeBytes, f.LastSyncedAt, string(f.Tier),
	)
	if err != nil {
		return KBFile{}, fmt.Errorf("store: upsert kb file: %w", err)
	}
	return s.GetKBFileByPath(f.DomainID, f.RelativePath)
}

// GetKBFile loads a KB file by its id.
func (s *Store) GetKBFile(id string) (KBFile, error) {
	row := s.db.QueryRow(
		`SELECT id, domain_id, relative_path, content_hash, size_bytes, last_synced_at, tier, created_at
		 FROM kb_files WHERE id = ?`, id,
	)
	return scanKBFile(row)
}

// GetKBFileByPath loads a KB file by its domain-relative path.
func (s *Store) GetKBFileByPath(domainID, relativePath string) (KBFile, error) {
	row := s.db.QueryRow(
		`SELECT id, domain_id, relative_path, content_hash, size_bytes, last_synced_at, tier, created_at
		 FROM kb_files WHERE domain_id = ? AND relative_path = ?`, domainID, relativePath,
	)
	return scanKBFile(row)
}

// ListKBFiles returns every KB file tracked for a domain.
func (s *Store) ListKBFiles(domainID string) ([]KBFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, domain_id, relative_path, content_hash, size_bytes, last_synced_at, tier, created_at
		 FROM kb_files WHERE domain_id = ? ORDER BY relative_path`, domainID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list kb files: %w", err)
	}
	defer rows.Close()

	var out []KBFile
	for rows.Next() {
		f, err := scanKBFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteKBFile removes a file and cascades to its chunks/embeddings. Callers
// must have already validated the confirmation token required by the
// deletion-confirmation invariant; the store layer only performs the delete.
func (s *Store) DeleteKBFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM kb_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete kb file: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanKBFile(sc scannable) (KBFile, error) {
	var f KBFile
	var tier string
	err := sc.Scan(&f.ID, &f.DomainID, &f.RelativePath, &f.ContentHash, &f.SizeBytes, &f.LastSyncedAt, &tier, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return KBFile{}, ErrNotFound
	}
	if err != nil {
		return KBFile{}, fmt.Errorf("store: scan kb file: %w", err)
	}
	f.Tier = Tier(tier)
	return f, nil
}

// SyncChunks reconciles a file's chunk set against newly parsed chunks,
// matching by chunk_key: unchanged-hash chunks are left alone, changed
// chunks are updated in place, and keys no longer present are deleted
// (their embeddings cascade). Returns the reconciled chunk rows.
func (s *Store) SyncChunks(kbFileID, domainID, fileContentHash string, parsed []KBChunk) ([]KBChunk, error) {
	timer := s.log.StartTimer("SyncChunks")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: sync chunks: begin: %w", err)
	}
	defer tx.Rollback()

	existingKeys := map[string]bool{}
	rows, err := tx.Query(`SELECT chunk_key FROM kb_chunks WHERE kb_file_id = ?`, kbFileID)
	if err != nil {
		return nil, fmt.Errorf("store: sync chunks: list existing: %w", err)
	}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, err
		}
		existingKeys[key] = true
	}
	rows.Close()

	seen := map[string]bool{}
	now := time.Now().UTC()
	for _, c := range parsed {
		seen[c.ChunkKey] = true
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		_, err := tx.Exec(
			`INSERT INTO kb_chunks (id, kb_file_id, domain_id, chunk_key, content_hash, file_content_hash, ordinal_index, heading_path, char_count, token_estimate, line_start, line_end, has_line_range, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(kb_file_id, chunk_key) DO UPDATE SET
			   content_hash = excluded.content_hash,
			   file_content_hash = excluded.file_content_hash,
			   ordinal_index = excluded.ordinal_index,
			   heading_path = excluded.heading_path,
			   char_count = excluded.char_count,
			   token_estimate = excluded.token_estimate,
			   line_start = excluded.line_start,
			   line_end = excluded.line_end,
			   has_line_range = excluded.has_line_range,
			   updated_at = excluded.updated_at
			 WHERE kb_chunks.content_hash != excluded.content_hash`,
			c.ID, kbFileID, domainID, c.ChunkKey, c.ContentHash, fileContentHash, c.OrdinalIndex, c.HeadingPath,
			c.CharCount, c.TokenEstimate, c.LineStart, c.LineEnd, boolToInt(c.HasLineRange), now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("store: sync chunks: upsert %s: %w", c.ChunkKey, err)
		}
	}

	for key := range existingKeys {
		if !seen[key] {
			if _, err := tx.Exec(`DELETE FROM kb_chunks WHERE kb_file_id = ? AND chunk_key = ?`, kbFileID, key); err != nil {
				return nil, fmt.Errorf("store: sync chunks: delete stale %s: %w", key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: sync chunks: commit: %w", err)
	}
	return s.ListChunks(kbFileID)
}

// ListChunks returns every chunk belonging to a KB file, ordinal-ordered.
func (s *Store) ListChunks(kbFileID string) ([]KBChunk, error) {
	rows, err := s.db.Query(
		`SELECT id, kb_file_id, domain_id, chunk_key, content_hash, file_content_hash, ordinal_index, heading_path, char_count, token_estimate, line_start, line_end, has_line_range, created_at, updated_at
		 FROM kb_chunks WHERE kb_file_id = ? ORDER BY ordinal_index`, kbFileID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks: %w", err)
	}
	defer rows.Close()

	var out []KBChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListChunksByDomain returns every chunk across a domain's KB files, used by
// the retrieval package's BuildContext to resolve scored chunks back to their
// content.
func (s *Store) ListChunksByDomain(domainID string) ([]KBChunk, error) {
	rows, err := s.db.Query(
		`SELECT id, kb_file_id, domain_id, chunk_key, content_hash, file_content_hash, ordinal_index, heading_path, char_count, token_estimate, line_start, line_end, has_line_range, created_at, updated_at
		 FROM kb_chunks WHERE domain_id = ? ORDER BY kb_file_id, ordinal_index`, domainID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks by domain: %w", err)
	}
	defer rows.Close()

	var out []KBChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChunk(sc scannable) (KBChunk, error) {
	var c KBChunk
	var hasLineRange int
	err := sc.Scan(&c.ID, &c.KBFileID, &c.DomainID, &c.ChunkKey, &c.ContentHash, &c.FileContentHash, &c.OrdinalIndex,
		&c.HeadingPath, &c.CharCount, &c.TokenEstimate, &c.LineStart, &c.LineEnd, &hasLineRange, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return KBChunk{}, ErrNotFound
	}
	if err != nil {
		return KBChunk{}, fmt.Errorf("store: scan chunk: %w", err)
	}
	c.HasLineRange = hasLineRange != 0
	return c, nil
}
