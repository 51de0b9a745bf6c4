package mission

import (
	"testing"

	"warden/internal/store"
)

func TestValidateKBUpdateRejectsPathEscape(t *testing.T) {
	u := KBUpdate{File: "../outside.md", Action: "create", Mode: "full"}
	if err := validateKBUpdate("/kb/root", u, nil); err == nil {
		t.Fatalf("expected error for path escape")
	}
}

func TestValidateKBUpdateRejectsDisallowedExtension(t *testing.T) {
	u := KBUpdate{File: "notes/script.sh", Action: "create", Mode: "full"}
	if err := validateKBUpdate("/kb/root", u, nil); err == nil {
		t.Fatalf("expected error for disallowed extension")
	}
}

func TestValidateKBUpdateRejectsNullByte(t *testing.T) {
	u := KBUpdate{File: "notes/a.md", Action: "create", Mode: "full", Content: "hello\x00world"}
	if err := validateKBUpdate("/kb/root", u, nil); err == nil {
		t.Fatalf("expected error for null byte in content")
	}
}

func TestValidateKBUpdateRejectsDeleteWithoutConfirmation(t *testing.T) {
	u := KBUpdate{File: "notes/a.md", Action: "delete"}
	if err := validateKBUpdate("/kb/root", u, nil); err == nil {
		t.Fatalf("expected error for missing delete confirmation")
	}
}

func TestValidateKBUpdateAcceptsDeleteWithConfirmation(t *testing.T) {
	u := KBUpdate{File: "notes/a.md", Action: "delete", Confirm: "DELETE a.md"}
	if err := validateKBUpdate("/kb/root", u, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateKBUpdateRejectsStructuralTierNonPatchWrite(t *testing.T) {
	existing := &store.KBFile{Tier: store.TierStructural}
	u := KBUpdate{File: "notes/a.md", Action: "update", Mode: "full"}
	if err := validateKBUpdate("/kb/root", u, existing); err == nil {
		t.Fatalf("expected error for full-mode write to a structural-tier file")
	}
}

func TestValidateKBUpdateAcceptsStructuralTierPatchWrite(t *testing.T) {
	existing := &store.KBFile{Tier: store.TierStructural}
	u := KBUpdate{File: "notes/a.md", Action: "update", Mode: "patch"}
	if err := validateKBUpdate("/kb/root", u, existing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateKBUpdateAcceptsWellFormedCreate(t *testing.T) {
	u := KBUpdate{File: "notes/new.md", Action: "create", Mode: "full", Content: "hello"}
	if err := validateKBUpdate("/kb/root", u, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
