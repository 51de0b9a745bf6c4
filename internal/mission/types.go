// Package mission drives the ten-step mission state machine: validate,
// assemble context, render a prompt, stream the LLM, parse its output,
// persist outputs, evaluate approval gates, resume after a gate decision,
// execute queued actions, and finalize. A Runner is constructed once per
// Runtime and reused across mission runs; it holds no per-run state of its
// own — everything about an in-flight run lives in store rows plus the
// local run struct threaded through Run's private step methods.
package mission

import (
	"context"
	"time"

	"warden/internal/store"
)

// ParsedBlock is the closed set of typed outputs a mission's LLM response
// can produce. Unrecognized is the forward-compatible catch-all for any
// fenced block whose tag no parser claims.
type ParsedBlock interface {
	BlockKind() string
}

// KBUpdate proposes a create/update/delete against one file in a domain's
// knowledge base.
type KBUpdate struct {
	File      string
	Action    string // create | update | delete
	Tier      store.Tier
	Mode      string // full | append | patch
	Basis     string
	Reasoning string
	Confirm   string // required echo of "DELETE <filename>" for Action == "delete"
	Content   string
}

func (KBUpdate) BlockKind() string { return "kb-update" }

// Decision records a mission's proposed side effect. ActionType, when
// non-empty, queues a pending MissionRunAction at gate time.
type Decision struct {
	Summary    string
	ActionType string // "" | create_deadline | draft_email
	Deadline   time.Time
	Recipient  string
	Subject    string
	Body       string
}

func (Decision) BlockKind() string { return "decision" }

// GapFlag records a mission's observation that its context was insufficient
// to reach a decision.
type GapFlag struct {
	Area   string
	Detail string
}

func (GapFlag) BlockKind() string { return "gap-flag" }

// StopBlock records a mission's own request to halt further automated
// processing on a domain (e.g. a detected inconsistency it will not paper
// over).
type StopBlock struct {
	Reason string
}

func (StopBlock) BlockKind() string { return "stop" }

// Advisory is a non-actionable note surfaced to the operator.
type Advisory struct {
	Text string
}

func (Advisory) BlockKind() string { return "advisory" }

// Unrecognized preserves a fenced block whose tag matched no registered
// parser, or whose body failed that parser's validation, so a run never
// silently drops LLM output.
type Unrecognized struct {
	Tag   string
	Raw   string
	Error string
}

func (Unrecognized) BlockKind() string { return "unrecognized" }

// Digest is a head-bounded, content-addressed summary of one domain KB file,
// assembled into the mission's prompt context.
type Digest struct {
	Path        string
	ContentHash string
	Head        string
	CharCount   int
}

// Health summarizes a domain's state for the prompt: a short narrative plus
// named counts (e.g. "overdue_external_tasks").
type Health struct {
	Summary string
	Counts  map[string]int
}

// DigestProvider supplies per-domain KB digests for context assembly.
type DigestProvider interface {
	Digests(ctx context.Context, domainID string, maxCharsPerFile int) ([]Digest, error)
}

// HealthProvider supplies a domain's portfolio health snapshot.
type HealthProvider interface {
	Health(ctx context.Context, domainID string) (Health, error)
}

// KBIndexer re-syncs a KB file's chunks and embeddings after its content
// changes on disk, satisfied by internal/embedding's indexer.
type KBIndexer interface {
	IndexFile(ctx context.Context, domainID, relativePath string) error
}

// GTaskClient creates a task from an approved create_deadline action.
type GTaskClient interface {
	CreateTask(ctx context.Context, title, notes string) (externalID string, err error)
}

// GmailComposer drafts an email from an approved draft_email action.
type GmailComposer interface {
	CreateDraft(ctx context.Context, to, subject, body string) (draftID string, err error)
}

// ChunkSink receives incremental LLM output during a mission's streaming
// step, mirroring the chat tool-loop's StreamSink.
type ChunkSink interface {
	WriteChunk(text string)
	Done()
}

// Hooks lets a mission definition customize how a Decision becomes a queued
// action's final content, without the runner itself branching on mission
// name. A nil hook field means "use the Decision's own fields verbatim."
type Hooks struct {
	// DraftEmailContent, when set, overrides the subject/body a draft_email
	// action sends, given the Decision that produced it.
	DraftEmailContent func(d Decision) (subject, body string)
}
