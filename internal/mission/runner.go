package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"warden/internal/bus"
	"warden/internal/logging"
	"warden/internal/provider"
	"warden/internal/store"
	"warden/internal/tools"
)

// maxDigestHeadChars bounds how much of each KB file's content is quoted
// verbatim into the prompt; DigestProvider implementations are expected to
// honor this as their own maxCharsPerFile argument.
const maxDigestHeadChars = 2000

// gateID is the fixed identifier used for a mission run's single approval
// gate; the "exactly one pending gate at a time" invariant makes a richer
// per-run gate identifier unnecessary.
const gateID = "approval"

var (
	errMissionNotFound    = errors.New("mission: not found")
	errMissionDisabled    = errors.New("mission: disabled")
	errDomainNotPermitted = errors.New("mission: domain not permitted for this mission")
)

// Runner drives mission runs against a store, an LLM provider registry, and
// a fixed set of injected domain dependencies. One Runner is constructed by
// Runtime and shared across every mission invocation; Run and
// ResumeAfterGate take all per-call state as arguments rather than storing
// it on the Runner.
type Runner struct {
	store     *store.Store
	bus       *bus.Bus
	providers *provider.Registry
	parsers   *ParserRegistry
	digests   DigestProvider
	health    HealthProvider
	indexer   KBIndexer
	gtasks    GTaskClient
	gmail     GmailComposer
	hooks     map[string]Hooks
	log       *logging.Logger
}

// New builds a Runner. parsers must already have RegisterMissionParsers
// applied (done once by Runtime.Init). digests/health/indexer/gtasks/gmail
// may be nil, meaning that integration is not connected; hooks may be nil.
func New(st *store.Store, b *bus.Bus, providers *provider.Registry, parsers *ParserRegistry, digests DigestProvider, health HealthProvider, indexer KBIndexer, gtasks GTaskClient, gmail GmailComposer, hooks map[string]Hooks, log *logging.Logger) *Runner {
	return &Runner{
		store: st, bus: b, providers: providers, parsers: parsers,
		digests: digests, health: health, indexer: indexer,
		gtasks: gtasks, gmail: gmail, hooks: hooks, log: log,
	}
}

// Run drives one mission invocation from validate through either a clean
// finalize or a pending gate. callerInputs are merged over the mission's
// parameter defaults. sink, if non-nil, receives the LLM response as it
// streams.
func (r *Runner) Run(ctx context.Context, missionID, domainID, requestID string, callerInputs map[string]any, sink ChunkSink) (store.MissionRun, error) {
	mission, err := r.store.GetMission(missionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.MissionRun{}, errMissionNotFound
		}
		return store.MissionRun{}, fmt.Errorf("mission: load: %w", err)
	}
	if !mission.Enabled {
		return store.MissionRun{}, errMissionDisabled
	}

	domain, err := r.store.GetDomain(domainID)
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: load domain: %w", err)
	}
	if !domainPermitted(mission.DomainWhitelist, domainID) {
		return store.MissionRun{}, errDomainNotPermitted
	}

	mergedJSON, merged, err := mergeInputs(mission.ParamSchema, callerInputs)
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: merge inputs: %w", err)
	}

	definitionHash, err := canonicalHashJSON(mission.Definition)
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: hash definition: %w", err)
	}

	run, err := r.store.CreateMissionRun(store.MissionRun{
		MissionID:      missionID,
		DomainID:       domainID,
		RequestID:      requestID,
		MergedInputs:   mergedJSON,
		DefinitionHash: definitionHash,
		Status:         store.MissionPending,
	})
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: create run: %w", err)
	}

	if err := r.store.UpdateMissionRunStatus(run.ID, store.MissionRunning, ""); err != nil {
		return run, fmt.Errorf("mission: mark running: %w", err)
	}

	if r.cancelled(ctx, run.ID) {
		return r.loadRun(run.ID)
	}

	health, digests := r.assembleContext(ctx, domainID)

	promptText := renderPrompt(health, digests, time.Now())
	if err := r.persistContext(run.ID, domain, health, digests, promptText); err != nil {
		return r.fail(run.ID, err)
	}

	if r.cancelled(ctx, run.ID) {
		return r.loadRun(run.ID)
	}

	rawResponse, err := r.streamLLM(ctx, domain, promptText, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return r.markCancelled(run.ID)
		}
		return r.fail(run.ID, err)
	}
	if r.cancelled(ctx, run.ID) {
		return r.markCancelled(run.ID)
	}

	blocks, err := r.persistOutputs(run.ID, domain, rawResponse)
	if err != nil {
		return r.fail(run.ID, err)
	}

	if r.cancelled(ctx, run.ID) {
		return r.markCancelled(run.ID)
	}

	decisions := actionDecisions(blocks)
	needed, message := gateNeeded(decisions, merged)
	if !needed {
		return r.finalizeSuccess(run.ID, domainID)
	}

	if _, err := r.store.OpenGate(run.ID, gateID, message); err != nil {
		return r.fail(run.ID, err)
	}
	for _, d := range decisions {
		if _, err := r.store.QueueMissionRunAction(store.MissionRunAction{MissionRunID: run.ID, Type: d.ActionType}); err != nil {
			return r.fail(run.ID, err)
		}
	}
	if err := r.store.UpdateMissionRunStatus(run.ID, store.MissionGated, ""); err != nil {
		return r.fail(run.ID, err)
	}
	r.bus.Emit(bus.Event{Type: bus.EventMissionGateOpened, Data: bus.EventData{
		DomainID: domainID,
		Metadata: map[string]any{"mission_run_id": run.ID, "gate_id": gateID},
	}})

	return r.loadRun(run.ID)
}

// ResumeAfterGate applies an operator's approve/reject decision: rejected
// skips every queued action; approved executes each in insertion order,
// mapping create_deadline/draft_email rows back to the Decision blocks that
// produced them by ordinal. The run finalizes success regardless of
// individual action outcomes — those are recorded on the action rows, not
// fatal to the run.
func (r *Runner) ResumeAfterGate(ctx context.Context, missionRunID string, approved bool) (store.MissionRun, error) {
	gate, err := r.store.GetPendingGate(missionRunID)
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: resume: %w", err)
	}
	if err := r.store.DecideGate(gate.ID, approved); err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: decide gate: %w", err)
	}

	run, err := r.store.GetMissionRun(missionRunID)
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: resume: load run: %w", err)
	}
	r.bus.Emit(bus.Event{Type: bus.EventMissionGateDecided, Data: bus.EventData{
		DomainID: run.DomainID,
		Metadata: map[string]any{"mission_run_id": missionRunID, "gate_id": gate.ID, "approved": approved},
	}})

	actions, err := r.store.ListMissionRunActions(missionRunID)
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: resume: list actions: %w", err)
	}

	if !approved {
		for _, a := range actions {
			if err := r.store.FinalizeMissionRunAction(a.ID, store.MissionActionSkipped, "", ""); err != nil && r.log != nil {
				r.log.Error("skip mission action %s: %v", a.ID, err)
			}
		}
		return r.finalizeSuccess(missionRunID, run.DomainID)
	}

	decisions, err := r.reloadDecisions(missionRunID)
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: resume: reload decisions: %w", err)
	}
	missionRow, err := r.store.GetMission(run.MissionID)
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: resume: load mission: %w", err)
	}
	h := r.hooks[missionRow.Name]

	for i, a := range actions {
		if ctx.Err() != nil {
			break
		}
		if i >= len(decisions) {
			if err := r.store.FinalizeMissionRunAction(a.ID, store.MissionActionFailed, "", "no matching decision output"); err != nil && r.log != nil {
				r.log.Error("finalize orphaned mission action %s: %v", a.ID, err)
			}
			continue
		}
		r.executeAction(ctx, a, decisions[i], h)
	}

	return r.finalizeSuccess(missionRunID, run.DomainID)
}

func (r *Runner) executeAction(ctx context.Context, a store.MissionRunAction, d Decision, h Hooks) {
	switch a.Type {
	case "create_deadline":
		if r.gtasks == nil {
			r.finalizeAction(a.ID, store.MissionActionFailed, "", "gtasks integration not connected")
			return
		}
		externalID, err := r.gtasks.CreateTask(ctx, d.Summary, d.Body)
		if err != nil {
			r.finalizeAction(a.ID, store.MissionActionFailed, "", err.Error())
			return
		}
		result, _ := json.Marshal(map[string]string{"external_id": externalID})
		r.finalizeAction(a.ID, store.MissionActionSuccess, string(result), "")

	case "draft_email":
		if r.gmail == nil {
			r.finalizeAction(a.ID, store.MissionActionFailed, "", "gmail integration not connected")
			return
		}
		subject, body := d.Subject, d.Body
		if h.DraftEmailContent != nil {
			subject, body = h.DraftEmailContent(d)
		}
		draftID, err := r.gmail.CreateDraft(ctx, d.Recipient, subject, body)
		if err != nil {
			r.finalizeAction(a.ID, store.MissionActionFailed, "", err.Error())
			return
		}
		result, _ := json.Marshal(map[string]string{"draft_id": draftID})
		r.finalizeAction(a.ID, store.MissionActionSuccess, string(result), "")

	default:
		r.finalizeAction(a.ID, store.MissionActionFailed, "", fmt.Sprintf("unknown action type %q", a.Type))
	}
}

func (r *Runner) finalizeAction(id string, status store.ActionStatus, result, errMsg string) {
	if err := r.store.FinalizeMissionRunAction(id, status, result, errMsg); err != nil && r.log != nil {
		r.log.Error("finalize mission action %s: %v", id, err)
	}
}

func (r *Runner) assembleContext(ctx context.Context, domainID string) (Health, []Digest) {
	var health Health
	if r.health != nil {
		if h, err := r.health.Health(ctx, domainID); err == nil {
			health = h
		} else if r.log != nil {
			r.log.Error("mission health lookup for domain %s: %v", domainID, err)
		}
	}
	var digests []Digest
	if r.digests != nil {
		if d, err := r.digests.Digests(ctx, domainID, maxDigestHeadChars); err == nil {
			digests = d
		} else if r.log != nil {
			r.log.Error("mission digest lookup for domain %s: %v", domainID, err)
		}
	}
	return health, digests
}

func (r *Runner) persistContext(runID string, domain store.Domain, health Health, digests []Digest, promptText string) error {
	promptHash, err := hashPrompt(promptText)
	if err != nil {
		return err
	}
	healthHash, err := canonicalHashValue(health)
	if err != nil {
		return err
	}
	type digestRef struct {
		Path string `json:"path"`
		Hash string `json:"hash"`
	}
	refs := make([]digestRef, len(digests))
	charCount := len(promptText)
	for i, d := range digests {
		refs[i] = digestRef{Path: d.Path, Hash: d.ContentHash}
		charCount += d.CharCount
	}
	digestsJSON, err := json.Marshal(refs)
	if err != nil {
		return err
	}

	providerName := domain.ProviderOverride
	return r.store.SetMissionRunContext(runID, promptHash, domain.ModelOverride, providerName, string(digestsJSON), healthHash, charCount)
}

func (r *Runner) streamLLM(ctx context.Context, domain store.Domain, promptText string, sink ChunkSink) (string, error) {
	var p provider.Provider
	var err error
	if domain.ProviderOverride == "" {
		p, err = r.providers.Default()
	} else {
		p, err = r.providers.Get(domain.ProviderOverride)
	}
	if err != nil {
		return "", err
	}

	stream, err := p.Chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: promptText}}, "")
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var full []byte
	for {
		if ctx.Err() != nil {
			return "", context.Canceled
		}
		chunk, err := stream.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		full = append(full, chunk.Text...)
		if sink != nil {
			sink.WriteChunk(chunk.Text)
		}
		if chunk.Done {
			break
		}
	}
	if sink != nil {
		sink.Done()
	}
	return string(full), nil
}

// persistOutputs records the raw LLM response, then one output row per
// parsed block. A kb-update block that fails path-safety or tier validation
// against domain's KB root is demoted to Unrecognized before it is persisted
// — the proposal is rejected and recorded as such, never applied to disk and
// never failing the run.
func (r *Runner) persistOutputs(runID string, domain store.Domain, rawResponse string) ([]ParsedBlock, error) {
	rawJSON, err := json.Marshal(map[string]string{"text": rawResponse})
	if err != nil {
		return nil, err
	}
	if _, err := r.store.AppendMissionRunOutput(store.MissionRunOutput{MissionRunID: runID, Kind: "raw", Content: string(rawJSON)}); err != nil {
		return nil, err
	}

	blocks := ExtractBlocks(r.parsers, rawResponse)
	for i, b := range blocks {
		if u, ok := b.(KBUpdate); ok {
			b = r.validateKBUpdateBlock(domain, u)
			blocks[i] = b
		}
		content, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		if _, err := r.store.AppendMissionRunOutput(store.MissionRunOutput{MissionRunID: runID, Kind: b.BlockKind(), Content: string(content)}); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

// validateKBUpdateBlock checks u's path safety and tier rules against
// domain's KB root, looking up any existing KBFile row for u.File to apply
// AcceptsWrite. A validation failure demotes u to Unrecognized rather than
// failing the run; a valid kb-update is still only a recorded proposal — it
// is never written to disk by the mission runner itself.
func (r *Runner) validateKBUpdateBlock(domain store.Domain, u KBUpdate) ParsedBlock {
	var existing *store.KBFile
	if f, err := r.store.GetKBFileByPath(domain.ID, u.File); err == nil {
		existing = &f
	} else if !errors.Is(err, store.ErrNotFound) {
		return Unrecognized{Tag: "kb-update", Raw: u.Content, Error: err.Error()}
	}
	if err := validateKBUpdate(domain.KBRootPath, u, existing); err != nil {
		return Unrecognized{Tag: "kb-update", Raw: u.Content, Error: err.Error()}
	}
	return u
}

// reloadDecisions reconstructs the action-bearing Decision blocks from a
// run's persisted outputs, in the same insertion order persistOutputs used
// — the order ResumeAfterGate relies on to map action rows back to the
// decisions that queued them.
func (r *Runner) reloadDecisions(runID string) ([]Decision, error) {
	outputs, err := r.store.ListMissionRunOutputs(runID)
	if err != nil {
		return nil, err
	}
	var decisions []Decision
	for _, o := range outputs {
		if o.Kind != "decision" {
			continue
		}
		var d Decision
		if err := json.Unmarshal([]byte(o.Content), &d); err != nil {
			return nil, err
		}
		if d.ActionType != "" {
			decisions = append(decisions, d)
		}
	}
	return decisions, nil
}

func (r *Runner) finalizeSuccess(runID, domainID string) (store.MissionRun, error) {
	if err := r.store.UpdateMissionRunStatus(runID, store.MissionSuccess, ""); err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: finalize: %w", err)
	}
	r.bus.Emit(bus.Event{Type: bus.EventMissionRunComplete, Data: bus.EventData{
		DomainID: domainID,
		Metadata: map[string]any{"mission_run_id": runID},
	}})
	return r.loadRun(runID)
}

func (r *Runner) fail(runID string, cause error) (store.MissionRun, error) {
	if err := r.store.UpdateMissionRunStatus(runID, store.MissionFailed, cause.Error()); err != nil && r.log != nil {
		r.log.Error("finalize failed mission run %s: %v", runID, err)
	}
	run, _ := r.loadRun(runID)
	return run, cause
}

func (r *Runner) markCancelled(runID string) (store.MissionRun, error) {
	if err := r.store.UpdateMissionRunStatus(runID, store.MissionCancelled, ""); err != nil && r.log != nil {
		r.log.Error("mark mission run %s cancelled: %v", runID, err)
	}
	return r.loadRun(runID)
}

func (r *Runner) cancelled(ctx context.Context, runID string) bool {
	if ctx.Err() == nil {
		return false
	}
	if err := r.store.UpdateMissionRunStatus(runID, store.MissionCancelled, ""); err != nil && r.log != nil {
		r.log.Error("mark mission run %s cancelled: %v", runID, err)
	}
	return true
}

func (r *Runner) loadRun(runID string) (store.MissionRun, error) {
	run, err := r.store.GetMissionRun(runID)
	if err != nil {
		return store.MissionRun{}, fmt.Errorf("mission: load run: %w", err)
	}
	return run, nil
}

func domainPermitted(whitelist []string, domainID string) bool {
	if len(whitelist) == 0 {
		return true
	}
	for _, d := range whitelist {
		if d == domainID {
			return true
		}
	}
	return false
}

// actionDecisions returns every Decision block with a non-empty ActionType,
// in the order ExtractBlocks produced them.
func actionDecisions(blocks []ParsedBlock) []Decision {
	var out []Decision
	for _, b := range blocks {
		if d, ok := b.(Decision); ok && d.ActionType != "" {
			out = append(out, d)
		}
	}
	return out
}

// gateNeeded applies the spec's gating rule: a gate opens iff any
// action-type output exists and createDeadlines is enabled in the merged
// inputs, or a draft_email decision carries a recipient.
func gateNeeded(decisions []Decision, merged map[string]any) (bool, string) {
	createDeadlines, _ := merged["createDeadlines"].(bool)
	var needed []string
	for _, d := range decisions {
		switch {
		case d.ActionType == "create_deadline" && createDeadlines:
			needed = append(needed, fmt.Sprintf("create deadline: %s", d.Summary))
		case d.ActionType == "draft_email" && d.Recipient != "":
			needed = append(needed, fmt.Sprintf("draft email to %s: %s", d.Recipient, d.Subject))
		}
	}
	if len(needed) == 0 {
		return false, ""
	}
	message := "Mission proposes:\n"
	for _, n := range needed {
		message += "- " + n + "\n"
	}
	return true, message
}

// mergeInputs layers callerInputs over the mission's parameter schema
// defaults, reusing the tools.ToolSchema/Property JSON shape the chat
// tool-loop's own schemas use (spec's "parameter schema with defaults" has
// no shape of its own, so it adopts the one this codebase already defines).
// Returns the merged map's canonical JSON encoding alongside the map.
func mergeInputs(paramSchemaJSON string, callerInputs map[string]any) (string, map[string]any, error) {
	merged := make(map[string]any)

	if paramSchemaJSON != "" {
		var schema tools.ToolSchema
		if err := json.Unmarshal([]byte(paramSchemaJSON), &schema); err != nil {
			return "", nil, fmt.Errorf("parse param schema: %w", err)
		}
		for name, prop := range schema.Properties {
			if prop.Default != nil {
				merged[name] = prop.Default
			}
		}
	}
	for k, v := range callerInputs {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return "", nil, err
	}
	return string(data), merged, nil
}
