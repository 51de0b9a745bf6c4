package gtasks

import (
	"context"
	"errors"
	"strings"
	"testing"

	"warden/internal/tools"
)

type fakeClient struct {
	createdTitle string
	createErr    error
	tasks        []Task
	listErr      error
}

func (f *fakeClient) CreateTask(ctx context.Context, title, notes string) (string, error) {
	f.createdTitle = title
	if f.createErr != nil {
		return "", f.createErr
	}
	return "t1", nil
}
func (f *fakeClient) ListTasks(ctx context.Context, includeCompleted bool) ([]Task, error) {
	return f.tasks, f.listErr
}

func TestCreateToolSucceeds(t *testing.T) {
	reg := tools.NewRegistry(nil)
	client := &fakeClient{}
	if err := RegisterAll(reg, client); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	result, err := reg.Execute(context.Background(), "create_gtask", map[string]any{"title": "Buy milk"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if client.createdTitle != "Buy milk" {
		t.Errorf("expected title passed through, got %q", client.createdTitle)
	}
	if !strings.Contains(result.Result, "t1") {
		t.Errorf("expected result to reference task id, got %q", result.Result)
	}
}

func TestCreateToolMissingTitle(t *testing.T) {
	reg := tools.NewRegistry(nil)
	if err := RegisterAll(reg, &fakeClient{}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	_, err := reg.Execute(context.Background(), "create_gtask", map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing title")
	}
}

func TestCreateToolWrapsClientError(t *testing.T) {
	reg := tools.NewRegistry(nil)
	client := &fakeClient{createErr: errors.New("boom")}
	if err := RegisterAll(reg, client); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	_, err := reg.Execute(context.Background(), "create_gtask", map[string]any{"title": "x"})
	if err == nil || !strings.HasPrefix(err.Error(), "GTASKS_ERROR: executor") {
		t.Fatalf("expected GTASKS_ERROR: executor prefix, got %v", err)
	}
}

func TestListToolEmpty(t *testing.T) {
	reg := tools.NewRegistry(nil)
	if err := RegisterAll(reg, &fakeClient{}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	result, err := reg.Execute(context.Background(), "list_gtasks", map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Result != "No tasks." {
		t.Errorf("expected empty-list message, got %q", result.Result)
	}
}
