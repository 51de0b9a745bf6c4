package mission

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"warden/internal/store"
)

// allowedKBExtensions lists the file extensions a kb-update block may
// target.
var allowedKBExtensions = map[string]bool{
	".md": true, ".mdx": true, ".json": true, ".txt": true, ".yaml": true, ".yml": true,
}

// validateKBUpdate rejects a kb-update block that would escape the domain's
// KB root, target a disallowed extension, carry a null byte, resolve through
// a symlink outside the root, violate its target file's tier write rule, or
// (for a delete) lack the exact "DELETE <filename>" confirmation line.
func validateKBUpdate(kbRoot string, u KBUpdate, existing *store.KBFile) error {
	if u.Action != "create" && u.Action != "update" && u.Action != "delete" {
		return fmt.Errorf("kb-update: unknown action %q", u.Action)
	}

	ext := strings.ToLower(filepath.Ext(u.File))
	if !allowedKBExtensions[ext] {
		return fmt.Errorf("kb-update: extension %q not in allow-list", ext)
	}
	if strings.ContainsRune(u.File, 0) || strings.ContainsRune(u.Content, 0) {
		return fmt.Errorf("kb-update: null byte in path or content")
	}

	absPath, err := resolveWithinRoot(kbRoot, u.File)
	if err != nil {
		return err
	}

	if u.Action == "delete" {
		want := "DELETE " + filepath.Base(u.File)
		if u.Confirm != want {
			return fmt.Errorf("kb-update: delete requires confirm line %q", want)
		}
	}

	if existing != nil && u.Action != "create" && !existing.AcceptsWrite(u.Mode) {
		return fmt.Errorf("kb-update: mode %q not permitted for tier %q", u.Mode, existing.Tier)
	}

	_ = absPath
	return nil
}

// resolveWithinRoot cleans relPath against root, rejects any result that
// escapes root, and rejects a path whose final component is a symlink
// resolving outside root. The file need not exist yet (a create writes a
// new one), so a missing-file Lstat error is not itself a rejection.
func resolveWithinRoot(root, relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("kb-update: path %q must be relative", relPath)
	}
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, relPath)
	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("kb-update: path %q escapes KB root", relPath)
	}

	if info, err := os.Lstat(joined); err == nil && info.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(joined)
		if err != nil {
			return "", fmt.Errorf("kb-update: resolving symlink %q: %w", relPath, err)
		}
		targetRel, err := filepath.Rel(cleanRoot, target)
		if err != nil || targetRel == ".." || strings.HasPrefix(targetRel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("kb-update: path %q resolves outside KB root", relPath)
		}
	}

	return joined, nil
}
