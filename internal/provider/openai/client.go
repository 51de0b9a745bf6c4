// Package openai adapts warden's provider.Provider contract onto the OpenAI
// Chat Completions API via github.com/openai/openai-go.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"warden/internal/provider"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a fake.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Client implements provider.Provider on top of OpenAI Chat Completions.
type Client struct {
	chat      ChatClient
	model     string
	maxTokens int
}

// New builds an OpenAI-backed provider from a pre-constructed chat client
// (real or test double).
func New(chat ChatClient, model string, maxTokens int) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if model == "" {
		return nil, errors.New("openai: model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{chat: chat, model: model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, model string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, model, maxTokens)
}

// rawAssistantMessage is the opaque RawMessage shape persisted for assistant
// transcript entries.
type rawAssistantMessage struct {
	Content   string        `json:"content"`
	ToolCalls []rawToolCall `json:"tool_calls,omitempty"`
}

type rawToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CreateToolUseMessage issues a Chat Completions request with function tools
// attached.
func (c *Client) CreateToolUseMessage(ctx context.Context, messages []provider.Message, systemPrompt string, tools []provider.ToolSpec) (provider.ToolUseResult, error) {
	params := sdk.ChatCompletionNewParams{
		Model:     sdk.ChatModel(c.model),
		Messages:  encodeMessages(messages, systemPrompt),
		MaxTokens: sdk.Int(int64(c.maxTokens)),
	}
	if len(tools) > 0 {
		params.Tools = encodeTools(tools)
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return provider.ToolUseResult{}, wrapCallError(err)
	}
	return translateToolUseResponse(resp)
}

// Chat is unsupported: this adapter only implements the non-streaming path.
func (c *Client) Chat(ctx context.Context, messages []provider.Message, systemPrompt string) (provider.Streamer, error) {
	return nil, fmt.Errorf("openai: streaming not implemented, use ChatComplete")
}

// ChatComplete performs a non-streaming, tool-free completion.
func (c *Client) ChatComplete(ctx context.Context, messages []provider.Message, systemPrompt string) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model:     sdk.ChatModel(c.model),
		Messages:  encodeMessages(messages, systemPrompt),
		MaxTokens: sdk.Int(int64(c.maxTokens)),
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", wrapCallError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Serialize marshals an assistant RawMessage to durable bytes.
func (c *Client) Serialize(raw any) ([]byte, error) {
	r, ok := raw.(rawAssistantMessage)
	if !ok {
		return nil, fmt.Errorf("openai: serialize: unexpected raw message type %T", raw)
	}
	return json.Marshal(r)
}

// Deserialize reconstructs a rawAssistantMessage from Serialize's bytes.
func (c *Client) Deserialize(data []byte) (any, error) {
	var r rawAssistantMessage
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("openai: deserialize: %w", err)
	}
	return r, nil
}

func encodeMessages(messages []provider.Message, systemPrompt string) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, sdk.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case provider.RoleUser:
			out = append(out, sdk.UserMessage(m.Content))
		case provider.RoleTool:
			out = append(out, sdk.ToolMessage(m.Content, m.ToolCallID))
		case provider.RoleAssistant:
			text := m.DerivedText
			if text == "" {
				text = m.Content
			}
			out = append(out, sdk.AssistantMessage(text))
		}
	}
	return out
}

func encodeTools(tools []provider.ToolSpec) []sdk.ChatCompletionToolParam {
	out := make([]sdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		params, _ := json.Marshal(t.InputSchema)
		var schema map[string]any
		_ = json.Unmarshal(params, &schema)
		out = append(out, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				Parameters:  schema,
			},
		})
	}
	return out
}

func translateToolUseResponse(resp *sdk.ChatCompletion) (provider.ToolUseResult, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return provider.ToolUseResult{}, errors.New("openai: no choices returned")
	}
	choice := resp.Choices[0]
	raw := rawAssistantMessage{Content: choice.Message.Content}
	var calls []provider.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		raw.ToolCalls = append(raw.ToolCalls, rawToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		calls = append(calls, provider.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: []byte(tc.Function.Arguments)})
	}

	stop := provider.StopEndTurn
	switch choice.FinishReason {
	case "tool_calls":
		stop = provider.StopToolUse
	case "length":
		stop = provider.StopMaxTokens
	}

	return provider.ToolUseResult{
		RawMessage:  raw,
		DerivedText: choice.Message.Content,
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
	if strings.Contains(err.Error(), "rate_limit") {
		return &provider.TransientError{Err: err, Retryable: true}
	}
	return fmt.Errorf("openai: chat completion: %w", err)
}
