package register

import (
	"context"

	"testing"

	"warden/internal/tools"
	"warden/internal/tools/gmail"
	"warden/internal/tools/gtasks"
	"warden/internal/tools/kb"
)

type stubGmail struct{}

func (stubGmail) Search(ctx context.Context, query string, maxResults int) ([]gmail.Message, error) {
	return nil, nil
}
func (stubGmail) Read(ctx context.Context, messageID string) (gmail.Message, error) {
	return gmail.Message{}, nil
}
func (stubGmail) CreateDraft(ctx context.Context, to, subject, body string) (string, error) {
	return "", nil
}

type stubGTasks struct{}

func (stubGTasks) CreateTask(ctx context.Context, title, notes string) (string, error) { return "", nil }
func (stubGTasks) ListTasks(ctx context.Context, includeCompleted bool) ([]gtasks.Task, error) {
	return nil, nil
}

type stubKB struct{}

func (stubKB) Search(ctx context.Context, domainID, query string, limit int) ([]kb.Result, error) {
	return nil, nil
}

func TestForDomainRegistersOnlyConnectedIntegrations(t *testing.T) {
	reg := tools.NewRegistry(nil)
	if err := ForDomain(reg, "dom-1", Clients{Gmail: stubGmail{}}); err != nil {
		t.Fatalf("ForDomain: %v", err)
	}
	if reg.Get("gmail_search") == nil {
		t.Error("expected gmail_search registered")
	}
	if reg.Get("create_gtask") != nil {
		t.Error("expected create_gtask not registered without a gtasks client")
	}
	if reg.Get("kb_search") != nil {
		t.Error("expected kb_search not registered without a kb searcher")
	}
}

func TestForDomainRegistersAllWhenFullyConnected(t *testing.T) {
	reg := tools.NewRegistry(nil)
	err := ForDomain(reg, "dom-1", Clients{Gmail: stubGmail{}, GTasks: stubGTasks{}, KB: stubKB{}})
	if err != nil {
		t.Fatalf("ForDomain: %v", err)
	}
	for _, name := range []string{"gmail_search", "gmail_read", "gmail_draft", "create_gtask", "list_gtasks", "kb_search"} {
		if reg.Get(name) == nil {
			t.Errorf("expected %s registered", name)
		}
	}
}
