// Package anthropic adapts warden's provider.Provider contract onto the
// Anthropic Claude Messages API via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"warden/internal/provider"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements provider.Provider on top of the Anthropic Messages API.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// New builds an Anthropic-backed provider from a pre-constructed Messages
// client (real or test double).
func New(msg MessagesClient, model string, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, model: model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, model string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, model, maxTokens)
}

// rawAssistantMessage is the opaque RawMessage shape persisted for assistant
// transcript entries: the ordered content blocks Anthropic returned, kept in
// a JSON-friendly form so Serialize/Deserialize round-trip byte-for-byte.
type rawAssistantMessage struct {
	Content []rawBlock `json:"content"`
}

type rawBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// CreateToolUseMessage issues a non-streaming Messages.New request with tool
// definitions attached.
func (c *Client) CreateToolUseMessage(ctx context.Context, messages []provider.Message, systemPrompt string, tools []provider.ToolSpec) (provider.ToolUseResult, error) {
	msgs, err := encodeMessages(messages)
	if err != nil {
		return provider.ToolUseResult{}, err
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  msgs,
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		toolParams, err := encodeTools(tools)
		if err != nil {
			return provider.ToolUseResult{}, err
		}
		params.Tools = toolParams
	}

	resp, err := c.msg.New(ctx, params)
	if err != nil {
		return provider.ToolUseResult{}, wrapCallError(err)
	}
	return translateToolUseResponse(resp)
}

// Chat is unsupported in this adapter: streaming is handled by the no-tools
// ChatComplete path, matching the teacher's non-streaming-only LLM client.
func (c *Client) Chat(ctx context.Context, messages []provider.Message, systemPrompt string) (provider.Streamer, error) {
	return nil, fmt.Errorf("anthropic: streaming not implemented, use ChatComplete")
}

// ChatComplete performs a non-streaming, tool-free completion over a
// flattened transcript.
func (c *Client) ChatComplete(ctx context.Context, messages []provider.Message, systemPrompt string) (string, error) {
	msgs, err := encodeMessages(messages)
	if err != nil {
		return "", err
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  msgs,
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	resp, err := c.msg.New(ctx, params)
	if err != nil {
		return "", wrapCallError(err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// Serialize marshals an assistant RawMessage (a rawAssistantMessage produced
// by this adapter) to durable bytes.
func (c *Client) Serialize(raw any) ([]byte, error) {
	r, ok := raw.(rawAssistantMessage)
	if !ok {
		return nil, fmt.Errorf("anthropic: serialize: unexpected raw message type %T", raw)
	}
	return json.Marshal(r)
}

// Deserialize reconstructs a rawAssistantMessage from bytes previously
// produced by Serialize.
func (c *Client) Deserialize(data []byte) (any, error) {
	var r rawAssistantMessage
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("anthropic: deserialize: %w", err)
	}
	return r, nil
}

func encodeMessages(messages []provider.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case provider.RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case provider.RoleTool:
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		case provider.RoleAssistant:
			blocks, err := encodeAssistantBlocks(m)
			if err != nil {
				return nil, err
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	return out, nil
}

// encodeAssistantBlocks rebuilds provider-native content blocks from a raw
// message if present, or synthesizes a single text block for pre-loop
// history that never had a rawMessage (historical-assistant synthesis).
func encodeAssistantBlocks(m provider.Message) ([]sdk.ContentBlockParamUnion, error) {
	raw, ok := m.RawMessage.(rawAssistantMessage)
	if !ok {
		text := m.DerivedText
		if text == "" {
			text = m.Content
		}
		return []sdk.ContentBlockParamUnion{sdk.NewTextBlock(text)}, nil
	}
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(raw.Content))
	for _, b := range raw.Content {
		switch b.Type {
		case "text":
			blocks = append(blocks, sdk.NewTextBlock(b.Text))
		case "tool_use":
			var input any
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return nil, fmt.Errorf("anthropic: decode tool_use input: %w", err)
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(b.ID, input, b.Name))
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, sdk.NewTextBlock(m.DerivedText))
	}
	return blocks, nil
}

func encodeTools(tools []provider.ToolSpec) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema, err := toolInputSchema(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", t.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func translateToolUseResponse(msg *sdk.Message) (provider.ToolUseResult, error) {
	if msg == nil {
		return provider.ToolUseResult{}, errors.New("anthropic: nil response")
	}
	raw := rawAssistantMessage{}
	var derived strings.Builder
	var calls []provider.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			raw.Content = append(raw.Content, rawBlock{Type: "text", Text: block.Text})
			derived.WriteString(block.Text)
		case "tool_use":
			inputJSON, err := json.Marshal(block.Input)
			if err != nil {
				return provider.ToolUseResult{}, fmt.Errorf("anthropic: marshal tool_use input: %w", err)
			}
			raw.Content = append(raw.Content, rawBlock{Type: "tool_use", ID: block.ID, Name: block.Name, Input: inputJSON})
			calls = append(calls, provider.ToolCall{ID: block.ID, Name: block.Name, Input: inputJSON})
		}
	}

	stop := provider.StopEndTurn
	switch msg.StopReason {
	case "tool_use":
		stop = provider.StopToolUse
	case "max_tokens":
		stop = provider.StopMaxTokens
	}

	return provider.ToolUseResult{
		RawMessage:  raw,
		DerivedText: derived.String(),
		ToolCalls:   calls,
		StopReason:  stop,
	}, nil
}

func wrapCallError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return &provider.TransientError{Err: err, Retryable: true}
	}
	return fmt.Errorf("anthropic: messages.new: %w", err)
}
