package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession starts a new conversation session for a domain.
func (s *Store) CreateSession(domainID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess := Session{ID: uuid.NewString(), DomainID: domainID, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.Exec(`INSERT INTO sessions (id, domain_id, created_at, updated_at) VALUES (?, ?, ?, ?)`, sess.ID, sess.DomainID, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

// AppendChatMessage appends one message to a session's ordered log, assigning
// the next ordinal index.
func (s *Store) AppendChatMessage(m ChatMessage) (ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxOrdinal sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(ordinal_index) FROM chat_messages WHERE session_id = ?`, m.SessionID).Scan(&maxOrdinal); err != nil {
		return ChatMessage{}, fmt.Errorf("store: append chat message: read max ordinal: %w", err)
	}
	m.ID = uuid.NewString()
	m.OrdinalIndex = int(maxOrdinal.Int64) + 1
	m.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(
		`INSERT INTO chat_messages (id, session_id, role, raw_message, derived_text, tool_call_id, tool_name, ordinal_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.RawMessage, m.DerivedText, m.ToolCallID, m.ToolName, m.OrdinalIndex, m.CreatedAt,
	)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("store: append chat message: %w", err)
	}
	_, _ = s.db.Exec(`UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, m.SessionID)
	return m, nil
}

// ListChatMessages returns a session's transcript in order.
func (s *Store) ListChatMessages(sessionID string) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, role, raw_message, derived_text, tool_call_id, tool_name, ordinal_index, created_at
		 FROM chat_messages WHERE session_id = ? ORDER BY ordinal_index ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list chat messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.RawMessage, &m.DerivedText, &m.ToolCallID, &m.ToolName, &m.OrdinalIndex, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan chat message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutConversationSummary upserts a session's rolling digest.
func (s *Store) PutConversationSummary(sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO conversation_summaries (session_id, text, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_id) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`,
		sessionID, text,
	)
	return err
}

// GetConversationSummary loads a session's digest, if one exists.
func (s *Store) GetConversationSummary(sessionID string) (ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c ConversationSummary
	c.SessionID = sessionID
	err := s.db.QueryRow(`SELECT text, updated_at FROM conversation_summaries WHERE session_id = ?`, sessionID).Scan(&c.Text, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return ConversationSummary{}, ErrNotFound
	}
	if err != nil {
		return ConversationSummary{}, fmt.Errorf("store: get conversation summary: %w", err)
	}
	return c, nil
}
