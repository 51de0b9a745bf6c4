package kb

import (
	"context"
	"strings"
	"testing"

	"warden/internal/tools"
)

type fakeSearcher struct {
	results []Result
	err     error
	gotDoc  string
	gotQ    string
}

func (f *fakeSearcher) Search(ctx context.Context, domainID, query string, limit int) ([]Result, error) {
	f.gotDoc = domainID
	f.gotQ = query
	return f.results, f.err
}

func TestSearchToolReturnsPassages(t *testing.T) {
	reg := tools.NewRegistry(nil)
	searcher := &fakeSearcher{results: []Result{{Path: "notes.md", Heading: "Intro", Content: "hello world"}}}
	if err := RegisterAll(reg, searcher, "dom-1"); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	result, err := reg.Execute(context.Background(), "kb_search", map[string]any{"query": "hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Result, "notes.md") {
		t.Errorf("expected result to contain source path, got %q", result.Result)
	}
	if searcher.gotDoc != "dom-1" || searcher.gotQ != "hello" {
		t.Errorf("expected domainID/query threaded through, got %q/%q", searcher.gotDoc, searcher.gotQ)
	}
}

func TestSearchToolMissingQuery(t *testing.T) {
	reg := tools.NewRegistry(nil)
	if err := RegisterAll(reg, &fakeSearcher{}, "dom-1"); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	_, err := reg.Execute(context.Background(), "kb_search", map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestSearchToolNoResults(t *testing.T) {
	reg := tools.NewRegistry(nil)
	if err := RegisterAll(reg, &fakeSearcher{}, "dom-1"); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	result, err := reg.Execute(context.Background(), "kb_search", map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Result != "No matching knowledge-base content." {
		t.Errorf("unexpected empty-result message: %q", result.Result)
	}
}
