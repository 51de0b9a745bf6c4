package retrieval

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"warden/internal/store"
)

// FallbackProfile names one of the string-based KB strategies BuildContext's
// caller switches to when ErrNoEmbeddingClient or ErrNoEmbeddings is
// returned, per spec §4.5.
type FallbackProfile string

const (
	// ProfileDigestOnly packs only each file's head, no full bodies.
	ProfileDigestOnly FallbackProfile = "digest_only"
	// ProfileDigestPlusStructural packs digests for every file plus the full
	// body of structural-tier files (READMEs, indexes, anything AcceptsWrite
	// treats as patch-only), the default middle ground.
	ProfileDigestPlusStructural FallbackProfile = "digest_plus_structural"
	// ProfileFull packs every tracked file's full body.
	ProfileFull FallbackProfile = "full"
)

// digestHeadChars bounds how much of a file's head a digest_only or
// digest_plus_structural section carries for a non-structural file.
const digestHeadChars = 1200

// BuildFallbackContext assembles file sections straight from the KB file
// table and filesystem, with no embeddings involved: the path BuildContext's
// caller takes on ErrNoEmbeddingClient or ErrNoEmbeddings. Sections are
// ordered structural tier first, then by relative path, so the most
// load-bearing files land earliest under a downstream token budget.
func (b *ContextBuilder) BuildFallbackContext(domain store.Domain, profile FallbackProfile) ([]FileSection, error) {
	files, err := b.store.ListKBFiles(domain.ID)
	if err != nil {
		return nil, fmt.Errorf("retrieval: fallback: list kb files: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		si, sj := files[i].Tier == store.TierStructural, files[j].Tier == store.TierStructural
		if si != sj {
			return si
		}
		return files[i].RelativePath < files[j].RelativePath
	})

	sections := make([]FileSection, 0, len(files))
	for _, f := range files {
		full := profile == ProfileFull || (profile == ProfileDigestPlusStructural && f.Tier == store.TierStructural)
		text, err := readKBFileFallback(domain.KBRootPath, f.RelativePath, full)
		if err != nil {
			if b.log != nil {
				b.log.Error("fallback context: read %s: %v", f.RelativePath, err)
			}
			continue
		}
		sections = append(sections, FileSection{
			FilePath:  f.RelativePath,
			Text:      text,
			Staleness: stalenessLabel(f.LastSyncedAt),
		})
	}
	return sections, nil
}

// readKBFileFallback reads relPath under kbRoot, returning its full content
// when full is true and otherwise truncating to digestHeadChars.
func readKBFileFallback(kbRoot, relPath string, full bool) (string, error) {
	abs := filepath.Join(kbRoot, filepath.Clean(string(filepath.Separator)+relPath))
	rel, err := filepath.Rel(kbRoot, abs)
	if err != nil || rel == ".." || len(rel) >= 2 && rel[:2] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("path escapes kb root: %s", relPath)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	text := string(data)
	if full || len(text) <= digestHeadChars {
		return text, nil
	}
	return text[:digestHeadChars], nil
}
