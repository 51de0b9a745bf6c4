package mission

import (
	"strings"
	"testing"
)

func newTestRegistry() *ParserRegistry {
	r := NewParserRegistry()
	RegisterMissionParsers(r)
	return r
}

func TestExtractBlocksParsesKBUpdate(t *testing.T) {
	text := "Here is my proposal:\n```kb-update\nfile: notes/weekly.md\naction: update\ntier: general\nmode: append\nbasis: weekly review\nreasoning: new items surfaced\n---\n# New section\ncontent here\n```\nDone."
	blocks := ExtractBlocks(newTestRegistry(), text)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	u, ok := blocks[0].(KBUpdate)
	if !ok {
		t.Fatalf("expected KBUpdate, got %T", blocks[0])
	}
	if u.File != "notes/weekly.md" || u.Action != "update" || u.Mode != "append" {
		t.Fatalf("unexpected fields: %+v", u)
	}
	if !strings.Contains(u.Content, "New section") {
		t.Fatalf("expected body content, got %q", u.Content)
	}
}

func TestExtractBlocksUnrecognizedTag(t *testing.T) {
	text := "```mystery\nwhatever\n```"
	blocks := ExtractBlocks(newTestRegistry(), text)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	u, ok := blocks[0].(Unrecognized)
	if !ok {
		t.Fatalf("expected Unrecognized, got %T", blocks[0])
	}
	if u.Tag != "mystery" {
		t.Fatalf("expected tag mystery, got %s", u.Tag)
	}
}

func TestExtractBlocksInvalidBlockBecomesUnrecognized(t *testing.T) {
	text := "```decision\nno summary here\n```"
	blocks := ExtractBlocks(newTestRegistry(), text)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	u, ok := blocks[0].(Unrecognized)
	if !ok {
		t.Fatalf("expected Unrecognized for a decision missing summary, got %T", blocks[0])
	}
	if u.Tag != "decision" || u.Error == "" {
		t.Fatalf("expected populated error, got %+v", u)
	}
}

func TestExtractBlocksDecisionWithActionType(t *testing.T) {
	text := "```decision\nsummary: follow up with vendor\naction_type: draft_email\nrecipient: vendor@example.com\nsubject: Following up\n---\nPlease confirm the invoice.\n```"
	blocks := ExtractBlocks(newTestRegistry(), text)
	d, ok := blocks[0].(Decision)
	if !ok {
		t.Fatalf("expected Decision, got %T", blocks[0])
	}
	if d.ActionType != "draft_email" || d.Recipient != "vendor@example.com" || d.Body != "Please confirm the invoice." {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestExtractBlocksMultipleBlocksInOrder(t *testing.T) {
	text := "```gap-flag\narea: billing\n---\nmissing invoice totals\n```\n```advisory\nConsider archiving stale leads.\n```"
	blocks := ExtractBlocks(newTestRegistry(), text)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if _, ok := blocks[0].(GapFlag); !ok {
		t.Fatalf("expected first block GapFlag, got %T", blocks[0])
	}
	if _, ok := blocks[1].(Advisory); !ok {
		t.Fatalf("expected second block Advisory, got %T", blocks[1])
	}
}
