// Package gmail provides the chat tool-loop's Gmail search, read, and draft
// tools. The ROWYS guard over gmail_read (message ids must have come from a
// prior gmail_search in the same conversation) is enforced by the caller
// (internal/chatloop), not by these tools themselves: the executors here are
// dumb wrappers over Client and know nothing about transcript history.
package gmail

import (
	"context"
	"fmt"

	"warden/internal/tools"
)

// Message is the subset of a Gmail message surfaced to the LLM.
type Message struct {
	ID      string
	From    string
	Subject string
	Snippet string
	Body    string
}

// Client is the narrow Gmail surface the tools depend on. A nil Client
// (missing OAuth scope) is a caller concern: RegisterAll is simply not
// called for domains without one.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) ([]Message, error)
	Read(ctx context.Context, messageID string) (Message, error)
	CreateDraft(ctx context.Context, to, subject, body string) (draftID string, err error)
}

// RegisterAll registers the gmail_search, gmail_read, and gmail_draft tools
// against client.
func RegisterAll(registry *tools.Registry, client Client) error {
	all := []*tools.Tool{
		searchTool(client),
		readTool(client),
		draftTool(client),
	}
	for _, t := range all {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func searchTool(client Client) *tools.Tool {
	return &tools.Tool{
		Name:        "gmail_search",
		Description: "Search the connected Gmail account and return matching message ids, senders, and subjects",
		Category:    tools.CategoryGmail,
		Priority:    80,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("GMAIL_ERROR: validation — query is required")
			}
			maxResults := tools.IntArg(args, "max_results", 10)

			messages, err := client.Search(ctx, query, maxResults)
			if err != nil {
				return "", wrapGmailErr(err)
			}
			return formatSearchResults(messages), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query":       {Type: "string", Description: "Gmail search query, e.g. 'from:boss is:unread'"},
				"max_results": {Type: "integer", Description: "Maximum messages to return (default 10)", Default: 10},
			},
		},
	}
}

func readTool(client Client) *tools.Tool {
	return &tools.Tool{
		Name:        "gmail_read",
		Description: "Fetch the full body of a Gmail message by id. The id must have come from a prior gmail_search in this conversation",
		Category:    tools.CategoryGmail,
		Priority:    75,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			id, _ := args["message_id"].(string)
			if id == "" {
				return "", fmt.Errorf("GMAIL_ERROR: validation — message_id is required")
			}

			msg, err := client.Read(ctx, id)
			if err != nil {
				return "", wrapGmailErr(err)
			}
			return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", msg.From, msg.Subject, msg.Body), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"message_id"},
			Properties: map[string]tools.Property{
				"message_id": {Type: "string", Description: "Message id returned by a prior gmail_search call"},
			},
		},
	}
}

func draftTool(client Client) *tools.Tool {
	return &tools.Tool{
		Name:        "gmail_draft",
		Description: "Create a Gmail draft to the given recipient",
		Category:    tools.CategoryGmail,
		Priority:    70,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			to, _ := args["to"].(string)
			subject, _ := args["subject"].(string)
			body, _ := args["body"].(string)
			if to == "" {
				return "", fmt.Errorf("GMAIL_ERROR: validation — to is required")
			}

			draftID, err := client.CreateDraft(ctx, to, subject, body)
			if err != nil {
				return "", wrapGmailErr(err)
			}
			return fmt.Sprintf("Draft created: %s", draftID), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"to", "subject", "body"},
			Properties: map[string]tools.Property{
				"to":      {Type: "string", Description: "Recipient email address"},
				"subject": {Type: "string", Description: "Draft subject line"},
				"body":    {Type: "string", Description: "Draft body"},
			},
		},
	}
}

// wrapGmailErr normalizes a client error into the GMAIL_ERROR taxonomy. Every
// client error is reported under the access sub-reason; permission,
// rate-limit and not-found failures are not told apart.
func wrapGmailErr(err error) error {
	return fmt.Errorf("GMAIL_ERROR: access — %w", err)
}

func formatSearchResults(messages []Message) string {
	if len(messages) == 0 {
		return "No matching messages."
	}
	out := ""
	for _, m := range messages {
		out += fmt.Sprintf("id=%s from=%s subject=%q\n", m.ID, m.From, m.Subject)
	}
	return out
}
