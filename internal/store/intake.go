package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateIntakeItem inserts a new intake item, returning ErrDuplicateRun-style
// behavior via a plain error when (source_type, external_id) already exists —
// intake ingestion de-duplicates at the HTTP layer, so a collision here is
// treated as caller error rather than a silent skip.
func (s *Store) CreateIntakeItem(it IntakeItem) (IntakeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it.ID = uuid.NewString()
	it.CreatedAt = time.Now().UTC()
	if it.Status == "" {
		it.Status = "new"
	}
	_, err := s.db.Exec(
		`INSERT INTO intake_items (id, source_type, external_id, url, title, content, extraction_mode, classification, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.SourceType, it.ExternalID, it.URL, it.Title, it.Content, it.ExtractionMode, it.Classification, it.Status, it.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return IntakeItem{}, fmt.Errorf("store: intake item already exists for source=%s external_id=%s", it.SourceType, it.ExternalID)
		}
		return IntakeItem{}, fmt.Errorf("store: create intake item: %w", err)
	}
	return it, nil
}

// IntakeItemExists reports whether an intake item with the given
// (source_type, external_id) pair has already been recorded, backing the
// ingestion server's dedupe-check route.
func (s *Store) IntakeItemExists(sourceType, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM intake_items WHERE source_type = ? AND external_id = ?`,
		sourceType, externalID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: check intake item exists: %w", err)
	}
	return n > 0, nil
}

// SetIntakeClassification records the post-classification status/label.
func (s *Store) SetIntakeClassification(id, classification, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE intake_items SET classification = ?, status = ? WHERE id = ?`, classification, status, id)
	return err
}

// ListIntakeItemsByStatus returns intake items in a given status, oldest first.
func (s *Store) ListIntakeItemsByStatus(status string, limit int) ([]IntakeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, source_type, external_id, url, title, content, extraction_mode, classification, status, created_at
		 FROM intake_items WHERE status = ? ORDER BY created_at ASC LIMIT ?`, status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list intake items: %w", err)
	}
	defer rows.Close()

	var out []IntakeItem
	for rows.Next() {
		var it IntakeItem
		if err := rows.Scan(&it.ID, &it.SourceType, &it.ExternalID, &it.URL, &it.Title, &it.Content, &it.ExtractionMode, &it.Classification, &it.Status, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan intake item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
