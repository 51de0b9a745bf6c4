// Package store persists warden's domains, KB files/chunks, embeddings,
// automations, missions, intake, and session data in SQLite. A single Store
// owns the *sql.DB and a mutex guarding schema-affecting operations; it is
// constructed once by runtime.New and threaded into every component that
// needs persistence — there is no package-level database handle.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"warden/internal/logging"
)

// Store is the single persistence handle for a warden process.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	log    *logging.Logger
}

// New opens (creating if necessary) the SQLite database at path and ensures
// the schema is current.
func New(path string, log *logging.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("set busy_timeout failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("set journal_mode=WAL failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		log.Debug("set synchronous=NORMAL failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		log.Debug("set foreign_keys=ON failed: %v", err)
	}

	s := &Store{db: db, dbPath: path, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	log.Info("store ready at %s", path)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for components that need direct SQL.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	stmts := []string{
		domainsSchema,
		kbFilesSchema,
		kbChunksSchema,
		chunkEmbeddingsSchema,
		embeddingJobsSchema,
		automationsSchema,
		automationRunsSchema,
		missionsSchema,
		missionRunsSchema,
		missionRunOutputsSchema,
		missionRunGatesSchema,
		missionRunActionsSchema,
		intakeItemsSchema,
		sessionsSchema,
		conversationSummariesSchema,
		chatMessagesSchema,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

const domainsSchema = `
CREATE TABLE IF NOT EXISTS domains (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kb_root_path TEXT NOT NULL,
	provider_override TEXT DEFAULT '',
	model_override TEXT DEFAULT '',
	allow_integration INTEGER DEFAULT 0,
	sort_position INTEGER DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_domains_sort ON domains(sort_position);
`

const kbFilesSchema = `
CREATE TABLE IF NOT EXISTS kb_files (
	id TEXT PRIMARY KEY,
	domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	relative_path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	size_bytes INTEGER DEFAULT 0,
	last_synced_at DATETIME,
	tier TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(domain_id, relative_path)
);
CREATE INDEX IF NOT EXISTS idx_kb_files_domain ON kb_files(domain_id);
`

const kbChunksSchema = `
CREATE TABLE IF NOT EXISTS kb_chunks (
	id TEXT PRIMARY KEY,
	kb_file_id TEXT NOT NULL REFERENCES kb_files(id) ON DELETE CASCADE,
	domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	chunk_key TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	file_content_hash TEXT NOT NULL,
	ordinal_index INTEGER NOT NULL,
	heading_path TEXT DEFAULT '',
	char_count INTEGER DEFAULT 0,
	token_estimate INTEGER DEFAULT 0,
	line_start INTEGER DEFAULT 0,
	line_end INTEGER DEFAULT 0,
	has_line_range INTEGER DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(kb_file_id, chunk_key)
);
CREATE INDEX IF NOT EXISTS idx_kb_chunks_domain ON kb_chunks(domain_id);
CREATE INDEX IF NOT EXISTS idx_kb_chunks_file ON kb_chunks(kb_file_id);
`

const chunkEmbeddingsSchema = `
CREATE TABLE IF NOT EXISTS chunk_embeddings (
	id TEXT PRIMARY KEY,
	chunk_id TEXT NOT NULL REFERENCES kb_chunks(id) ON DELETE CASCADE,
	model_name TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	vector BLOB NOT NULL,
	content_hash TEXT NOT NULL,
	provider_fingerprint TEXT DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(chunk_id, model_name)
);
CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_model ON chunk_embeddings(model_name);
`

const embeddingJobsSchema = `
CREATE TABLE IF NOT EXISTS embedding_jobs (
	domain_id TEXT NOT NULL,
	model_name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	total_count INTEGER DEFAULT 0,
	completed_count INTEGER DEFAULT 0,
	last_error TEXT DEFAULT '',
	fingerprint TEXT DEFAULT '',
	started_at DATETIME,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (domain_id, model_name)
);
`

const automationsSchema = `
CREATE TABLE IF NOT EXISTS automations (
	id TEXT PRIMARY KEY,
	domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	prompt_template TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	trigger_cron TEXT DEFAULT '',
	trigger_event TEXT DEFAULT '',
	action_kind TEXT NOT NULL,
	action_config TEXT DEFAULT '{}',
	enabled INTEGER DEFAULT 1,
	failure_streak INTEGER DEFAULT 0,
	cooldown_until DATETIME,
	run_count INTEGER DEFAULT 0,
	last_run_at DATETIME,
	store_payloads INTEGER DEFAULT 0,
	catch_up_enabled INTEGER DEFAULT 0,
	deadline_window_days INTEGER DEFAULT 0,
	duplicate_skip_count INTEGER DEFAULT 0,
	last_duplicate_at DATETIME,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_automations_domain ON automations(domain_id);
CREATE INDEX IF NOT EXISTS idx_automations_trigger_event ON automations(trigger_event);
`

const automationRunsSchema = `
CREATE TABLE IF NOT EXISTS automation_runs (
	id TEXT PRIMARY KEY,
	automation_id TEXT NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
	domain_id TEXT NOT NULL,
	trigger_data TEXT DEFAULT '{}',
	dedupe_key TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'pending',
	error_code TEXT DEFAULT '',
	error_message TEXT DEFAULT '',
	prompt_hash TEXT DEFAULT '',
	response_hash TEXT DEFAULT '',
	action_result TEXT DEFAULT '',
	action_external_id TEXT DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME,
	duration_ms INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_automation_runs_automation ON automation_runs(automation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_automation_runs_status ON automation_runs(status);
`

const missionsSchema = `
CREATE TABLE IF NOT EXISTS missions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	definition TEXT NOT NULL,
	definition_hash TEXT NOT NULL,
	enabled INTEGER DEFAULT 1,
	domain_whitelist TEXT DEFAULT '[]',
	param_schema TEXT DEFAULT '{}',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

const missionRunsSchema = `
CREATE TABLE IF NOT EXISTS mission_runs (
	id TEXT PRIMARY KEY,
	mission_id TEXT NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
	domain_id TEXT NOT NULL,
	request_id TEXT DEFAULT '',
	merged_inputs TEXT DEFAULT '{}',
	definition_hash TEXT DEFAULT '',
	prompt_hash TEXT DEFAULT '',
	model TEXT DEFAULT '',
	provider TEXT DEFAULT '',
	context_digests TEXT DEFAULT '[]',
	context_health_hash TEXT DEFAULT '',
	context_char_count INTEGER DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	error TEXT DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_mission_runs_mission ON mission_runs(mission_id);
CREATE INDEX IF NOT EXISTS idx_mission_runs_request ON mission_runs(request_id);
`

const missionRunOutputsSchema = `
CREATE TABLE IF NOT EXISTS mission_run_outputs (
	id TEXT PRIMARY KEY,
	mission_run_id TEXT NOT NULL REFERENCES mission_runs(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_mission_run_outputs_run ON mission_run_outputs(mission_run_id);
`

const missionRunGatesSchema = `
CREATE TABLE IF NOT EXISTS mission_run_gates (
	id TEXT PRIMARY KEY,
	mission_run_id TEXT NOT NULL REFERENCES mission_runs(id) ON DELETE CASCADE,
	gate_id TEXT NOT NULL,
	message TEXT DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	decided_at DATETIME,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_mission_run_gates_run ON mission_run_gates(mission_run_id);
`

const missionRunActionsSchema = `
CREATE TABLE IF NOT EXISTS mission_run_actions (
	id TEXT PRIMARY KEY,
	mission_run_id TEXT NOT NULL REFERENCES mission_runs(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	result TEXT DEFAULT '',
	error TEXT DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_mission_run_actions_run ON mission_run_actions(mission_run_id);
`

const intakeItemsSchema = `
CREATE TABLE IF NOT EXISTS intake_items (
	id TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	external_id TEXT NOT NULL,
	url TEXT DEFAULT '',
	title TEXT DEFAULT '',
	content TEXT DEFAULT '',
	extraction_mode TEXT DEFAULT '',
	classification TEXT DEFAULT '',
	status TEXT DEFAULT 'new',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_type, external_id)
);
`

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_domain ON sessions(domain_id);
`

const conversationSummariesSchema = `
CREATE TABLE IF NOT EXISTS conversation_summaries (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	text TEXT DEFAULT '',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

const chatMessagesSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	raw_message BLOB,
	derived_text TEXT DEFAULT '',
	tool_call_id TEXT DEFAULT '',
	tool_name TEXT DEFAULT '',
	ordinal_index INTEGER NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, ordinal_index);
`
