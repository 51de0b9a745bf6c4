package main

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"warden/internal/runtime"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage a domain's knowledge-base index",
}

var kbReindexCmd = &cobra.Command{
	Use:   "reindex <domain>",
	Short: "Re-scan and re-embed every markdown file under a domain's KB root",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBReindex,
}

func init() {
	kbCmd.AddCommand(kbReindexCmd)
}

func runKBReindex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("wardend: build runtime: %w", err)
	}
	defer rt.Stop()

	domain, err := rt.Store.GetDomain(args[0])
	if err != nil {
		return fmt.Errorf("wardend: kb reindex: %w", err)
	}

	files, err := listMarkdownFiles(domain.KBRootPath)
	if err != nil {
		return fmt.Errorf("wardend: kb reindex: scan KB root: %w", err)
	}

	// IndexFile runs synchronously per file rather than going through the
	// background-job-coalescing IndexDomain, so this one-shot command blocks
	// until indexing actually completes instead of returning immediately.
	ctx := context.Background()
	for _, relPath := range files {
		if err := rt.EmbeddingManager.IndexFile(ctx, domain.ID, relPath); err != nil {
			return fmt.Errorf("wardend: kb reindex: %s: %w", relPath, err)
		}
	}
	fmt.Printf("indexed %d file(s) for domain %s\n", len(files), domain.ID)
	return nil
}

// listMarkdownFiles walks root and returns every ".md" file's path relative
// to root, the file-list shape indexDomainKB expects.
func listMarkdownFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
