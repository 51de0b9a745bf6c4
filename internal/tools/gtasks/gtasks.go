// Package gtasks provides the chat tool-loop's Google Tasks creation and
// lookup tools.
package gtasks

import (
	"context"
	"fmt"

	"warden/internal/tools"
)

// Task is the subset of a Google Tasks entry surfaced to the LLM.
type Task struct {
	ID    string
	Title string
	Notes string
	Done  bool
}

// Client is the narrow Google Tasks surface the tools depend on.
type Client interface {
	CreateTask(ctx context.Context, title, notes string) (externalID string, err error)
	ListTasks(ctx context.Context, includeCompleted bool) ([]Task, error)
}

// RegisterAll registers the create_gtask and list_gtasks tools against client.
func RegisterAll(registry *tools.Registry, client Client) error {
	all := []*tools.Tool{
		createTool(client),
		listTool(client),
	}
	for _, t := range all {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func createTool(client Client) *tools.Tool {
	return &tools.Tool{
		Name:        "create_gtask",
		Description: "Create a task in the connected Google Tasks list",
		Category:    tools.CategoryGTasks,
		Priority:    80,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			title, _ := args["title"].(string)
			if title == "" {
				return "", fmt.Errorf("GTASKS_ERROR: validation — title is required")
			}
			notes, _ := args["notes"].(string)

			id, err := client.CreateTask(ctx, title, notes)
			if err != nil {
				return "", wrapGTasksErr(err)
			}
			return fmt.Sprintf("Task created: %s (%s)", title, id), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"title"},
			Properties: map[string]tools.Property{
				"title": {Type: "string", Description: "Task title"},
				"notes": {Type: "string", Description: "Task notes/body"},
			},
		},
	}
}

func listTool(client Client) *tools.Tool {
	return &tools.Tool{
		Name:        "list_gtasks",
		Description: "List tasks in the connected Google Tasks list",
		Category:    tools.CategoryGTasks,
		Priority:    60,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			includeCompleted, _ := args["include_completed"].(bool)

			tasks, err := client.ListTasks(ctx, includeCompleted)
			if err != nil {
				return "", wrapGTasksErr(err)
			}
			if len(tasks) == 0 {
				return "No tasks.", nil
			}
			out := ""
			for _, t := range tasks {
				out += fmt.Sprintf("id=%s done=%v title=%q\n", t.ID, t.Done, t.Title)
			}
			return out, nil
		},
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"include_completed": {Type: "boolean", Description: "Include completed tasks (default false)", Default: false},
			},
		},
	}
}

func wrapGTasksErr(err error) error {
	return fmt.Errorf("GTASKS_ERROR: executor — %w", err)
}
