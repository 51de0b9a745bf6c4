package gmail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"warden/internal/tools"
)

type fakeClient struct {
	searchResults []Message
	searchErr     error
	readMsg       Message
	readErr       error
	draftID       string
	draftErr      error
}

func (f *fakeClient) Search(ctx context.Context, query string, maxResults int) ([]Message, error) {
	return f.searchResults, f.searchErr
}
func (f *fakeClient) Read(ctx context.Context, messageID string) (Message, error) {
	return f.readMsg, f.readErr
}
func (f *fakeClient) CreateDraft(ctx context.Context, to, subject, body string) (string, error) {
	return f.draftID, f.draftErr
}

func TestSearchToolReturnsFormattedResults(t *testing.T) {
	reg := tools.NewRegistry(nil)
	client := &fakeClient{searchResults: []Message{{ID: "m1", From: "a@example.com", Subject: "hi"}}}
	if err := RegisterAll(reg, client); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	result, err := reg.Execute(context.Background(), "gmail_search", map[string]any{"query": "from:a"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Result, "id=m1") {
		t.Errorf("expected result to contain id=m1, got %q", result.Result)
	}
}

func TestSearchToolMissingQuery(t *testing.T) {
	reg := tools.NewRegistry(nil)
	if err := RegisterAll(reg, &fakeClient{}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	_, err := reg.Execute(context.Background(), "gmail_search", map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestReadToolWrapsClientError(t *testing.T) {
	reg := tools.NewRegistry(nil)
	client := &fakeClient{readErr: errors.New("not found")}
	if err := RegisterAll(reg, client); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	_, err := reg.Execute(context.Background(), "gmail_read", map[string]any{"message_id": "m9"})
	if err == nil || !strings.HasPrefix(err.Error(), "GMAIL_ERROR: access") {
		t.Fatalf("expected GMAIL_ERROR: access prefix, got %v", err)
	}
}

func TestDraftToolSucceeds(t *testing.T) {
	reg := tools.NewRegistry(nil)
	client := &fakeClient{draftID: "d1"}
	if err := RegisterAll(reg, client); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	result, err := reg.Execute(context.Background(), "gmail_draft", map[string]any{"to": "x@example.com", "subject": "s", "body": "b"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Result, "d1") {
		t.Errorf("expected result to contain draft id, got %q", result.Result)
	}
}
