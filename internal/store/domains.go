package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateDomain inserts a new domain, assigning it a fresh id.
func (s *Store) CreateDomain(d Domain) (Domain, error) {
	timer := s.log.StartTimer("CreateDomain")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	d.ID = uuid.NewString()
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	_, err := s.db.Exec(
		`INSERT INTO domains (id, name, kb_root_path, provider_override, model_override, allow_integration, sort_position, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.KBRootPath, d.ProviderOverride, d.ModelOverride, boolToInt(d.AllowIntegration), d.SortPosition, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return Domain{}, fmt.Errorf("store: create domain: %w", err)
	}
	return d, nil
}

// GetDomain loads one domain by id.
func (s *Store) GetDomain(id string) (Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, name, kb_root_path, provider_override, model_override, allow_integration, sort_position, created_at, updated_at
		 FROM domains WHERE id = ?`, id,
	)
	return scanDomain(row)
}

// ListDomains returns every domain ordered by sort_position.
func (s *Store) ListDomains() ([]Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, name, kb_root_path, provider_override, model_override, allow_integration, sort_position, created_at, updated_at
		 FROM domains ORDER BY sort_position ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list domains: %w", err)
	}
	defer rows.Close()

	var out []Domain
	for rows.Next() {
		d, err := scanDomainRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDomain removes a domain; foreign-key cascades remove its KB files,
// chunks, embeddings, automations, runs, missions runs, and sessions.
func (s *Store) DeleteDomain(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM domains WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete domain: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDomain(row *sql.Row) (Domain, error) {
	return scanDomainScannable(row)
}

func scanDomainRows(rows *sql.Rows) (Domain, error) {
	return scanDomainScannable(rows)
}

func scanDomainScannable(sc scannable) (Domain, error) {
	var d Domain
	var allowInt int
	err := sc.Scan(&d.ID, &d.Name, &d.KBRootPath, &d.ProviderOverride, &d.ModelOverride, &allowInt, &d.SortPosition, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return Domain{}, ErrNotFound
	}
	if err != nil {
		return Domain{}, fmt.Errorf("store: scan domain: %w", err)
	}
	d.AllowIntegration = allowInt != 0
	return d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
