// Package chatloop drives a provider-agnostic tool-use conversation: it
// repeatedly invokes a Provider's tool-use completion, executes the tools it
// asks for through a tools.Registry, and feeds results back until the model
// produces a final answer or a bound is hit.
package chatloop

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"warden/internal/logging"
	"warden/internal/provider"
	"warden/internal/tools"
)

const (
	maxRounds              = 5
	maxToolCallsPerRound   = 5
	maxTranscriptBytes     = 400 * 1024
	roundExhaustionSuffix  = "Tool loop reached max rounds. Respond with best available info using tool results already obtained."
	transcriptCapSuffix    = "The tool loop's transcript budget was exhausted. Answer with the material already gathered."
	skippedToolResult      = "[Skipped: per-round tool call limit reached]"
	toolExecutorErrPrefix  = "TOOL_ERROR: executor"
	rowysMessageIDNotFound = "GMAIL_ERROR: access — Message ID not found in recent search results. Run gmail_search first."
)

// historicalStandIn is a non-nil RawMessage placeholder for assistant
// messages that pre-date the loop and never had a provider-native raw
// object. Every Provider adapter type-asserts RawMessage against its own
// shape and falls back to DerivedText on mismatch, so any non-nil stand-in
// satisfies both the loop's own validation and the adapter's synthesis path.
type historicalStandIn struct{ Text string }

// StreamSink receives the final answer's text, pseudo-streamed on paragraph
// boundaries once the loop is done, and one-shot UI signals.
type StreamSink interface {
	WriteParagraph(text string)
	Done()
}

// Result is what a completed (or cancelled) round produces.
type Result struct {
	FinalText  string
	Cancelled  bool
	Transcript []provider.Message
}

// Loop drives one conversation's tool-use rounds against a single provider
// and tool registry. A Loop is not reused across conversations with
// different providers/models; construct one per conversation.
type Loop struct {
	provider     provider.Provider
	providerName string
	model        string
	baseURL      string
	registry     *tools.Registry
	caps         *CapabilityCache
	log          *logging.Logger
}

// New builds a Loop. caps is typically owned by the process-wide Runtime and
// shared across conversations so capability negatives persist between them.
func New(p provider.Provider, providerName, model, baseURL string, registry *tools.Registry, caps *CapabilityCache, log *logging.Logger) *Loop {
	return &Loop{
		provider:     p,
		providerName: providerName,
		model:        model,
		baseURL:      baseURL,
		registry:     registry,
		caps:         caps,
		log:          log,
	}
}

// stalePattern matches a fixed set of assistant claims that tool access is
// unavailable; history matching these gets an ephemeral correction note
// injected ahead of the final user turn when tools are now available.
var stalePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i don't have access to your email`),
	regexp.MustCompile(`(?i)unable to connect to gmail`),
	regexp.MustCompile(`(?i)please paste the email`),
	regexp.MustCompile(`(?i)i don't have access to (your )?(gmail|google tasks|the (knowledge base|kb))`),
}

// searchResultID extracts message ids emitted by the gmail_search tool's
// "id=<id> from=... subject=..." output lines.
var searchResultID = regexp.MustCompile(`id=(\S+)`)

// Run drives the conversation to completion: up to maxRounds tool rounds,
// then a final completion. systemPrompt is passed through to every provider
// call. toolSpecs lists the tools available this round (already filtered
// for the domain's connected integrations).
func (l *Loop) Run(ctx context.Context, history []provider.Message, userTurn string, systemPrompt string, toolSpecs []provider.ToolSpec, sink StreamSink) (Result, error) {
	t := NewTranscript(synthesizeHistory(history))
	injectStaleClaimNote(t, toolSpecs)
	t.AppendUser(userTurn)

	searchedGmailIDs := make(map[string]bool)
	consecutiveMaxTokens := 0

	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil {
			return l.cancelled(t), nil
		}

		if err := t.Validate(); err != nil {
			return Result{}, fmt.Errorf("chatloop: %w", err)
		}

		if l.caps.State(l.providerName, l.model, l.baseURL) == capNotSupported {
			return l.fallbackComplete(ctx, t, systemPrompt, sink)
		}

		result, err := l.provider.CreateToolUseMessage(ctx, t.Messages(), systemPrompt, toolSpecs)
		if err != nil {
			if err == provider.ErrToolsNotSupported {
				l.caps.MarkNotSupported(l.providerName, l.model, l.baseURL)
				return l.fallbackComplete(ctx, t, systemPrompt, sink)
			}
			return Result{}, fmt.Errorf("chatloop: tool-use completion: %w", err)
		}

		if ctx.Err() != nil {
			return l.cancelled(t), nil
		}

		t.AppendAssistant(result.RawMessage, result.DerivedText)

		if result.StopReason == provider.StopMaxTokens {
			consecutiveMaxTokens++
		} else {
			consecutiveMaxTokens = 0
		}

		// max_tokens twice in a row, or once with zero tool calls, exhausts
		// the round regardless of what tool calls (if any) came back with it.
		if result.StopReason == provider.StopMaxTokens && (consecutiveMaxTokens >= 2 || len(result.ToolCalls) == 0) {
			return l.fallbackComplete(ctx, t, systemPrompt, sink)
		}

		hasToolCalls := len(result.ToolCalls) > 0 && (result.StopReason == provider.StopToolUse || result.StopReason == provider.StopMaxTokens)
		if !hasToolCalls {
			l.caps.ObserveToolFreeTurn(l.providerName, l.model, l.baseURL)
			l.pseudoStream(result.DerivedText, sink)
			return Result{FinalText: result.DerivedText, Transcript: t.Messages()}, nil
		}

		for i, call := range result.ToolCalls {
			if ctx.Err() != nil {
				return l.cancelled(t), nil
			}

			if i >= maxToolCallsPerRound {
				t.AppendTool(call.ID, call.Name, skippedToolResult)
				continue
			}

			content := l.executeToolCall(ctx, call, searchedGmailIDs)

			if ctx.Err() != nil {
				return l.cancelled(t), nil
			}

			t.AppendTool(call.ID, call.Name, content)
		}

		if t.ByteLen() > maxTranscriptBytes {
			return l.fallbackCompleteWithSuffix(ctx, t, systemPrompt, transcriptCapSuffix, sink)
		}
	}

	return l.fallbackCompleteWithSuffix(ctx, t, systemPrompt, roundExhaustionSuffix, sink)
}

// executeToolCall runs one tool call, applying the ROWYS guard, secret
// stripping, and byte truncation. Any throw is wrapped so a tool-result
// message is always emitted.
func (l *Loop) executeToolCall(ctx context.Context, call provider.ToolCall, searchedGmailIDs map[string]bool) string {
	args, err := decodeToolArgs(call.Input)
	if err != nil {
		return fmt.Sprintf("%s — %v", toolExecutorErrPrefix, err)
	}

	if call.Name == "gmail_read" {
		id, _ := args["message_id"].(string)
		if !searchedGmailIDs[id] {
			return rowysMessageIDNotFound
		}
	}

	result, err := l.registry.Execute(ctx, call.Name, args)
	var raw string
	if err != nil {
		raw = wrapToolError(err)
	} else {
		raw = result.Result
		if l.caps != nil {
			l.caps.MarkSupported(l.providerName, l.model, l.baseURL)
		}
	}

	if call.Name == "gmail_search" {
		for _, m := range searchResultID.FindAllStringSubmatch(raw, -1) {
			searchedGmailIDs[m[1]] = true
		}
	}

	return sanitizeToolOutput(raw)
}

// domainErrorPrefixes lists the tool-output error prefixes a domain tool may
// already have attached to its own error (see internal/tools/gmail,
// internal/tools/gtasks, internal/tools/kb). Errors carrying one of these
// pass through unchanged; anything else (tool-not-found, missing required
// argument, malformed arguments) gets the generic executor wrap.
var domainErrorPrefixes = []string{"GMAIL_ERROR:", "GTASKS_ERROR:", "KB_ERROR:"}

func wrapToolError(err error) string {
	msg := err.Error()
	for _, prefix := range domainErrorPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return msg
		}
	}
	return fmt.Sprintf("%s — %v", toolExecutorErrPrefix, err)
}

func (l *Loop) cancelled(t *Transcript) Result {
	lastText := ""
	for i := len(t.Messages()) - 1; i >= 0; i-- {
		if m := t.Messages()[i]; m.Role == provider.RoleAssistant {
			lastText = m.DerivedText
			break
		}
	}
	return Result{FinalText: lastText, Cancelled: true, Transcript: t.Messages()}
}

func (l *Loop) fallbackComplete(ctx context.Context, t *Transcript, systemPrompt string, sink StreamSink) (Result, error) {
	return l.fallbackCompleteWithSuffix(ctx, t, systemPrompt, "", sink)
}

func (l *Loop) fallbackCompleteWithSuffix(ctx context.Context, t *Transcript, systemPrompt, suffix string, sink StreamSink) (Result, error) {
	if ctx.Err() != nil {
		return l.cancelled(t), nil
	}
	finalSystem := systemPrompt
	if suffix != "" {
		finalSystem = strings.TrimSpace(systemPrompt + "\n\n" + suffix)
	}
	text, err := l.provider.ChatComplete(ctx, Flatten(t.Messages()), finalSystem)
	if err != nil {
		return Result{}, fmt.Errorf("chatloop: fallback completion: %w", err)
	}
	l.pseudoStream(text, sink)
	t.AppendAssistant(historicalStandIn{Text: text}, text)
	return Result{FinalText: text, Transcript: t.Messages()}, nil
}

// pseudoStream writes text to sink one paragraph at a time. sink may be nil
// for callers that only want the final Result.
func (l *Loop) pseudoStream(text string, sink StreamSink) {
	if sink == nil {
		return
	}
	for _, p := range strings.Split(text, "\n\n") {
		if p == "" {
			continue
		}
		sink.WriteParagraph(p)
	}
	sink.Done()
}

// synthesizeHistory gives every assistant message in history a non-nil
// RawMessage, synthesizing a stand-in for any that pre-date the loop.
func synthesizeHistory(history []provider.Message) []provider.Message {
	out := make([]provider.Message, len(history))
	for i, m := range history {
		if m.Role == provider.RoleAssistant && m.RawMessage == nil {
			m.RawMessage = historicalStandIn{Text: m.DerivedText}
		}
		out[i] = m
	}
	return out
}

// injectStaleClaimNote scans history for assistant messages asserting a
// lack of tool access; if any match and tools are available this round, an
// ephemeral system note is inserted immediately before the last user turn.
// The note is never persisted by the caller (Transcript lives only for the
// duration of Run).
func injectStaleClaimNote(t *Transcript, toolSpecs []provider.ToolSpec) {
	if len(toolSpecs) == 0 {
		return
	}
	stale := false
	for _, m := range t.Messages() {
		if m.Role != provider.RoleAssistant {
			continue
		}
		for _, p := range stalePatterns {
			if p.MatchString(m.DerivedText) {
				stale = true
			}
		}
	}
	if !stale {
		return
	}

	names := make([]string, len(toolSpecs))
	for i, s := range toolSpecs {
		names[i] = s.Name
	}
	note := fmt.Sprintf("[System note: Your tool capabilities have changed since earlier messages in this conversation. You now have LIVE, AUTHENTICATED access to: %s. Any earlier assistant messages claiming you lack access to these are OUTDATED and INCORRECT.]", strings.Join(names, ", "))
	t.AppendUser(note)
}
