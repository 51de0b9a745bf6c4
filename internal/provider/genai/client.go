// Package genai adapts warden's provider.Provider contract onto Google's
// Gemini API via google.golang.org/genai, mirroring the construction pattern
// the teacher uses for its embedding engine of the same name.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"warden/internal/provider"
)

// Client implements provider.Provider on top of the Gemini GenerateContent
// API.
type Client struct {
	client         *genai.Client
	model          string
	enableThinking bool
	thinkingLevel  string
}

// Options configures Gemini-specific tuning.
type Options struct {
	EnableThinking bool
	ThinkingLevel  string // minimal, low, medium, high
}

// New constructs a Gemini-backed provider.
func New(apiKey, model string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("genai: api key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	c, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	return &Client{client: c, model: model, enableThinking: opts.EnableThinking, thinkingLevel: opts.ThinkingLevel}, nil
}

// rawAssistantMessage is the opaque RawMessage shape persisted for assistant
// transcript entries.
type rawAssistantMessage struct {
	Parts []rawPart `json:"parts"`
}

type rawPart struct {
	Text         string          `json:"text,omitempty"`
	FunctionName string          `json:"function_name,omitempty"`
	FunctionArgs json.RawMessage `json:"function_args,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
}

// CreateToolUseMessage issues a GenerateContent call with function
// declarations attached.
func (c *Client) CreateToolUseMessage(ctx context.Context, messages []provider.Message, systemPrompt string, tools []provider.ToolSpec) (provider.ToolUseResult, error) {
	contents := encodeMessages(messages)
	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if len(tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: encodeTools(tools)}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return provider.ToolUseResult{}, wrapCallError(err)
	}
	return translateToolUseResponse(resp)
}

// Chat is unsupported: this adapter only implements the non-streaming path.
func (c *Client) Chat(ctx context.Context, messages []provider.Message, systemPrompt string) (provider.Streamer, error) {
	return nil, fmt.Errorf("genai: streaming not implemented, use ChatComplete")
}

// ChatComplete performs a non-streaming, tool-free completion.
func (c *Client) ChatComplete(ctx context.Context, messages []provider.Message, systemPrompt string) (string, error) {
	contents := encodeMessages(messages)
	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", wrapCallError(err)
	}
	return resp.Text(), nil
}

// Serialize marshals an assistant RawMessage to durable bytes.
func (c *Client) Serialize(raw any) ([]byte, error) {
	r, ok := raw.(rawAssistantMessage)
	if !ok {
		return nil, fmt.Errorf("genai: serialize: unexpected raw message type %T", raw)
	}
	return json.Marshal(r)
}

// Deserialize reconstructs a rawAssistantMessage from Serialize's bytes.
func (c *Client) Deserialize(data []byte) (any, error) {
	var r rawAssistantMessage
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("genai: deserialize: %w", err)
	}
	return r, nil
}

func encodeMessages(messages []provider.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case provider.RoleUser:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		case provider.RoleTool:
			out = append(out, genai.NewContentFromText(fmt.Sprintf("[Tool result (%s): %s]", m.ToolName, m.Content), genai.RoleUser))
		case provider.RoleAssistant:
			text := m.DerivedText
			if text == "" {
				text = m.Content
			}
			out = append(out, genai.NewContentFromText(text, genai.RoleModel))
		}
	}
	return out
}

func encodeTools(tools []provider.ToolSpec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema genai.Schema
		if data, err := json.Marshal(t.InputSchema); err == nil {
			_ = json.Unmarshal(data, &schema)
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  &schema,
		})
	}
	return out
}

func translateToolUseResponse(resp *genai.GenerateContentResponse) (provider.ToolUseResult, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return provider.ToolUseResult{}, errors.New("genai: no candidates returned")
	}
	cand := resp.Candidates[0]
	raw := rawAssistantMessage{}
	var derived strings.Builder
	var calls []provider.ToolCall

	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				raw.Parts = append(raw.Parts, rawPart{Text: p.Text})
				derived.WriteString(p.Text)
				continue
			}
			if p.FunctionCall != nil {
				argsJSON, err := json.Marshal(p.FunctionCall.Args)
				if err != nil {
					return provider.ToolUseResult{}, fmt.Errorf("genai: marshal function call args: %w", err)
				}
				id := p.FunctionCall.ID
				raw.Parts = append(raw.Parts, rawPart{FunctionName: p.FunctionCall.Name, FunctionArgs: argsJSON, CallID: id})
				calls = append(calls, provider.ToolCall{ID: id, Name: p.FunctionCall.Name, Input: argsJSON})
			}
		}
	}

	stop := provider.StopEndTurn
	if len(calls) > 0 {
		stop = provider.StopToolUse
	} else if string(cand.FinishReason) == "MAX_TOKENS" {
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
	if strings.Contains(strings.ToLower(err.Error()), "resource_exhausted") || strings.Contains(err.Error(), "429") {
		return &provider.TransientError{Err: err, Retryable: true}
	}
	return fmt.Errorf("genai: generate content: %w", err)
}
