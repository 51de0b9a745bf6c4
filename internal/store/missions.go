package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateMission inserts a new mission definition.
func (s *Store) CreateMission(m Mission) (Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = uuid.NewString()
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now

	whitelist, err := marshalJSON(m.DomainWhitelist)
	if err != nil {
		return Mission{}, err
	}
	_, err = s.db.Exec(
		`INSERT INTO missions (id, name, definition, definition_hash, enabled, domain_whitelist, param_schema, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Definition, m.DefinitionHash, boolToInt(m.Enabled), whitelist, m.ParamSchema, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return Mission{}, fmt.Errorf("store: create mission: %w", err)
	}
	return m, nil
}

// GetMission loads one mission by id.
func (s *Store) GetMission(id string) (Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m Mission
	var enabled int
	var whitelist string
	err := s.db.QueryRow(
		`SELECT id, name, definition, definition_hash, enabled, domain_whitelist, param_schema, created_at, updated_at FROM missions WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.Definition, &m.DefinitionHash, &enabled, &whitelist, &m.ParamSchema, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return Mission{}, ErrNotFound
	}
	if err != nil {
		return Mission{}, fmt.Errorf("store: get mission: %w", err)
	}
	m.Enabled = enabled != 0
	m.DomainWhitelist = unmarshalStringSlice(whitelist)
	return m, nil
}

// CreateMissionRun inserts a new pending mission run.
func (s *Store) CreateMissionRun(r MissionRun) (MissionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	if r.Status == "" {
		r.Status = MissionPending
	}
	_, err := s.db.Exec(
		`INSERT INTO mission_runs (id, mission_id, domain_id, request_id, merged_inputs, definition_hash, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MissionID, r.DomainID, r.RequestID, r.MergedInputs, r.DefinitionHash, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return MissionRun{}, fmt.Errorf("store: create mission run: %w", err)
	}
	return r, nil
}

// GetMissionRun loads one mission run by id.
func (s *Store) GetMissionRun(id string) (MissionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanMissionRun(s.db.QueryRow(missionRunSelect+" WHERE id = ?", id))
}

// FindMissionRunByRequestID returns the most recent run carrying the given
// caller-provided request id, whatever its status.
func (s *Store) FindMissionRunByRequestID(requestID string) (MissionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanMissionRun(s.db.QueryRow(missionRunSelect+" WHERE request_id = ? ORDER BY created_at DESC LIMIT 1", requestID))
}

// UpdateMissionRunStatus transitions a run's status and stamps started_at /
// completed_at as appropriate.
func (s *Store) UpdateMissionRunStatus(id string, status MissionRunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch status {
	case MissionRunning:
		_, err := s.db.Exec(`UPDATE mission_runs SET status = ?, started_at = COALESCE(started_at, CURRENT_TIMESTAMP) WHERE id = ?`, string(status), id)
		return err
	case MissionSuccess, MissionFailed, MissionCancelled:
		_, err := s.db.Exec(`UPDATE mission_runs SET status = ?, error = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), errMsg, id)
		return err
	default:
		_, err := s.db.Exec(`UPDATE mission_runs SET status = ? WHERE id = ?`, string(status), id)
		return err
	}
}

// SetMissionRunContext records prompt/model/provider/context-snapshot fields
// gathered after context assembly and prompt rendering.
func (s *Store) SetMissionRunContext(id, promptHash, model, provider, contextDigests, contextHealthHash string, contextCharCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE mission_runs SET prompt_hash = ?, model = ?, provider = ?, context_digests = ?, context_health_hash = ?, context_char_count = ? WHERE id = ?`,
		promptHash, model, provider, contextDigests, contextHealthHash, contextCharCount, id,
	)
	return err
}

const missionRunSelect = `SELECT id, mission_id, domain_id, request_id, merged_inputs, definition_hash, prompt_hash, model, provider,
	context_digests, context_health_hash, context_char_count, status, error, created_at, started_at, completed_at FROM mission_runs`

func scanMissionRun(sc scannable) (MissionRun, error) {
	var r MissionRun
	var status string
	var started, completed sql.NullTime
	err := sc.Scan(&r.ID, &r.MissionID, &r.DomainID, &r.RequestID, &r.MergedInputs, &r.DefinitionHash, &r.PromptHash, &r.Model, &r.Provider,
		&r.ContextDigests, &r.ContextHealthHash, &r.ContextCharCount, &status, &r.Error, &r.CreatedAt, &started, &completed)
	if err == sql.ErrNoRows {
		return MissionRun{}, ErrNotFound
	}
	if err != nil {
		return MissionRun{}, fmt.Errorf("store: scan mission run: %w", err)
	}
	r.Status = MissionRunStatus(status)
	r.StartedAt = started.Time
	r.CompletedAt = completed.Time
	return r, nil
}

// AppendMissionRunOutput inserts one append-only artifact row.
func (s *Store) AppendMissionRunOutput(o MissionRunOutput) (MissionRunOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.ID = uuid.NewString()
	o.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO mission_run_outputs (id, mission_run_id, kind, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		o.ID, o.MissionRunID, o.Kind, o.Content, o.CreatedAt,
	)
	if err != nil {
		return MissionRunOutput{}, fmt.Errorf("store: append mission run output: %w", err)
	}
	return o, nil
}

// ListMissionRunOutputs returns every output row for a run, in insertion order.
func (s *Store) ListMissionRunOutputs(missionRunID string) ([]MissionRunOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, mission_run_id, kind, content, created_at FROM mission_run_outputs WHERE mission_run_id = ? ORDER BY created_at`, missionRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list mission run outputs: %w", err)
	}
	defer rows.Close()

	var out []MissionRunOutput
	for rows.Next() {
		var o MissionRunOutput
		if err := rows.Scan(&o.ID, &o.MissionRunID, &o.Kind, &o.Content, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan mission run output: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OpenGate creates the pending gate for a run. Returns ErrGateAlreadyPending
// if one is already open, enforcing the "exactly one pending gate" invariant.
func (s *Store) OpenGate(missionRunID, gateID, message string) (MissionRunGate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM mission_run_gates WHERE mission_run_id = ? AND status = ?`, missionRunID, string(GatePending)).Scan(&existing); err != nil {
		return MissionRunGate{}, fmt.Errorf("store: open gate: check pending: %w", err)
	}
	if existing > 0 {
		return MissionRunGate{}, ErrGateAlreadyPending
	}

	g := MissionRunGate{ID: uuid.NewString(), MissionRunID: missionRunID, GateID: gateID, Message: message, Status: GatePending, CreatedAt: time.Now().UTC()}
	_, err := s.db.Exec(
		`INSERT INTO mission_run_gates (id, mission_run_id, gate_id, message, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.MissionRunID, g.GateID, g.Message, string(g.Status), g.CreatedAt,
	)
	if err != nil {
		return MissionRunGate{}, fmt.Errorf("store: open gate: %w", err)
	}
	return g, nil
}

// DecideGate records an operator's approve/reject decision on the pending gate.
func (s *Store) DecideGate(id string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := GateRejected
	if approved {
		status = GateApproved
	}
	_, err := s.db.Exec(`UPDATE mission_run_gates SET status = ?, decided_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	return err
}

// GetPendingGate returns the single pending gate for a run, if any.
func (s *Store) GetPendingGate(missionRunID string) (MissionRunGate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var g MissionRunGate
	var status string
	var decided sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, mission_run_id, gate_id, message, status, decided_at, created_at FROM mission_run_gates WHERE mission_run_id = ? AND status = ?`,
		missionRunID, string(GatePending),
	).Scan(&g.ID, &g.MissionRunID, &g.GateID, &g.Message, &status, &decided, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return MissionRunGate{}, ErrNotFound
	}
	if err != nil {
		return MissionRunGate{}, fmt.Errorf("store: get pending gate: %w", err)
	}
	g.Status = GateStatus(status)
	g.DecidedAt = decided.Time
	return g, nil
}

// QueueMissionRunAction inserts a pending side-effect row, queued at gate time.
func (s *Store) QueueMissionRunAction(a MissionRunAction) (MissionRunAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = uuid.NewString()
	a.CreatedAt = time.Now().UTC()
	if a.Status == "" {
		a.Status = MissionActionPending
	}
	_, err := s.db.Exec(
		`INSERT INTO mission_run_actions (id, mission_run_id, type, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.MissionRunID, a.Type, string(a.Status), a.CreatedAt,
	)
	if err != nil {
		return MissionRunAction{}, fmt.Errorf("store: queue mission run action: %w", err)
	}
	return a, nil
}

// FinalizeMissionRunAction records the terminal status/result of one queued action.
func (s *Store) FinalizeMissionRunAction(id string, status ActionStatus, result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE mission_run_actions SET status = ?, result = ?, error = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), result, errMsg, id,
	)
	return err
}

// ListMissionRunActions returns every queued action for a run.
func (s *Store) ListMissionRunActions(missionRunID string) ([]MissionRunAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, mission_run_id, type, status, result, error, created_at, completed_at FROM mission_run_actions WHERE mission_run_id = ? ORDER BY created_at`,
		missionRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list mission run actions: %w", err)
	}
	defer rows.Close()

	var out []MissionRunAction
	for rows.Next() {
		var a MissionRunAction
		var status string
		var completed sql.NullTime
		if err := rows.Scan(&a.ID, &a.MissionRunID, &a.Type, &status, &a.Result, &a.Error, &a.CreatedAt, &completed); err != nil {
			return nil, fmt.Errorf("store: scan mission run action: %w", err)
		}
		a.Status = ActionStatus(status)
		a.CompletedAt = completed.Time
		out = append(out, a)
	}
	return out, rows.Err()
}
