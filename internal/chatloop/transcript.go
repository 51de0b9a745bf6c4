package chatloop

import (
	"errors"
	"fmt"

	"warden/internal/provider"
)

// Transcript is an ordered, append-only sequence of messages exchanged
// between the user, the model, and the tool executor. It is the single
// source of truth the loop validates before every provider call.
type Transcript struct {
	messages []provider.Message
}

// NewTranscript seeds a transcript with prior history (e.g. persisted chat
// turns). History is not validated here; Validate catches malformed entries
// before the first provider call.
func NewTranscript(history []provider.Message) *Transcript {
	t := &Transcript{messages: make([]provider.Message, len(history))}
	copy(t.messages, history)
	return t
}

// Messages returns the transcript's messages. The returned slice must not be
// mutated by the caller.
func (t *Transcript) Messages() []provider.Message {
	return t.messages
}

// AppendUser appends a user turn.
func (t *Transcript) AppendUser(content string) {
	t.messages = append(t.messages, provider.Message{Role: provider.RoleUser, Content: content})
}

// AppendAssistant appends an assistant turn produced by a tool-use or
// streaming completion.
func (t *Transcript) AppendAssistant(rawMessage any, derivedText string) {
	t.messages = append(t.messages, provider.Message{Role: provider.RoleAssistant, RawMessage: rawMessage, DerivedText: derivedText})
}

// AppendTool appends a tool-result turn.
func (t *Transcript) AppendTool(toolCallID, toolName, content string) {
	t.messages = append(t.messages, provider.Message{Role: provider.RoleTool, ToolCallID: toolCallID, ToolName: toolName, Content: content})
}

// ByteLen returns the transcript's approximate size in bytes, summing
// Content and DerivedText across all messages. RawMessage is opaque and
// excluded; it is bounded in practice by the same text it mirrors.
func (t *Transcript) ByteLen() int {
	n := 0
	for _, m := range t.messages {
		n += len(m.Content) + len(m.DerivedText)
	}
	return n
}

var (
	errNilRawMessage     = errors.New("chatloop: assistant message missing rawMessage")
	errEmptyToolCallID   = errors.New("chatloop: tool message missing toolCallId")
	errEmptyToolName     = errors.New("chatloop: tool message missing toolName")
	errToolContentNotStr = errors.New("chatloop: tool message content must be a string")
)

// Validate checks the closed transcript shape required before every
// provider call: every assistant message carries a non-nil RawMessage, and
// every tool message carries a non-empty ToolCallID/ToolName and string
// Content. Violations fail the round fast with a diagnostic rather than
// silently sending a malformed transcript to the provider.
func (t *Transcript) Validate() error {
	for i, m := range t.messages {
		switch m.Role {
		case provider.RoleAssistant:
			if m.RawMessage == nil {
				return fmt.Errorf("%w (message %d)", errNilRawMessage, i)
			}
		case provider.RoleTool:
			if m.ToolCallID == "" {
				return fmt.Errorf("%w (message %d)", errEmptyToolCallID, i)
			}
			if m.ToolName == "" {
				return fmt.Errorf("%w (message %d)", errEmptyToolName, i)
			}
		}
	}
	return nil
}

// Flatten produces a tool-free transcript for the fallback ChatComplete
// path. The mapping is deterministic and never merges adjacent messages:
// user -> user, assistant -> assistant(derivedText), tool -> user with a
// "[Tool result (<name>): <content>]" wrapper.
func Flatten(messages []provider.Message) []provider.Message {
	out := make([]provider.Message, len(messages))
	for i, m := range messages {
		switch m.Role {
		case provider.RoleUser:
			out[i] = provider.Message{Role: provider.RoleUser, Content: m.Content}
		case provider.RoleAssistant:
			out[i] = provider.Message{Role: provider.RoleAssistant, Content: m.DerivedText}
		case provider.RoleTool:
			out[i] = provider.Message{Role: provider.RoleUser, Content: fmt.Sprintf("[Tool result (%s): %s]", m.ToolName, m.Content)}
		default:
			out[i] = m
		}
	}
	return out
}
