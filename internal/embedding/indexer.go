package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"warden/internal/logging"
	"warden/internal/store"
)

// =============================================================================
// CHUNKING
// =============================================================================

// chunkTargetChars is the target chunk size in characters. Kept well under
// any provider's per-item limit so a single chunk never needs further
// splitting before it is embedded.
const chunkTargetChars = 1500

// minChunkChars below which a chunk is skipped rather than embedded, per the
// indexing contract: near-empty sections (a lone heading, a stray blank
// line) aren't worth a vector.
const minChunkChars = 10

// maxBatchChars caps the total character count of one embed-batch request,
// independent of maxBatchSize's item-count cap, so a batch of long chunks
// can't blow past a provider's request-body limit.
const maxBatchChars = 20000

var headingLinePattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// chunkWithText pairs a synced KBChunk row with the text it was cut from,
// since the store only persists chunk metadata (hash, heading path, line
// range), never the chunk body itself.
type chunkWithText struct {
	chunk store.KBChunk
	text  string
}

// chunkFile splits file content into line-addressable chunks, grouping lines
// under their nearest markdown heading path and flushing a chunk once it
// reaches chunkTargetChars. This is deliberately simple line/size-based
// splitting, not a markdown-aware parser: headings only inform heading_path
// and chunk boundaries, nothing more.
func chunkFile(content string) []chunkWithText {
	lines := strings.Split(content, "\n")

	var chunks []chunkWithText
	var headingStack []string
	var buf strings.Builder
	bufStart := 1

	flush := func(endLine int) {
		text := buf.String()
		buf.Reset()
		if len(strings.TrimSpace(text)) < minChunkChars {
			return
		}
		chunks = append(chunks, chunkWithText{
			chunk: store.KBChunk{
				ContentHash:   hashString(text),
				OrdinalIndex:  len(chunks),
				HeadingPath:   strings.Join(headingStack, " > "),
				CharCount:     len(text),
				TokenEstimate: estimateTokens(text),
				LineStart:     bufStart,
				LineEnd:       endLine,
				HasLineRange:  true,
			},
			text: text,
		})
	}

	for i, line := range lines {
		lineNo := i + 1
		if m := headingLinePattern.FindStringSubmatch(line); m != nil {
			if buf.Len() > 0 {
				flush(lineNo - 1)
			}
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if level-1 < len(headingStack) {
				headingStack = headingStack[:level-1]
			}
			for len(headingStack) < level-1 {
				headingStack = append(headingStack, "")
			}
			headingStack = append(headingStack, title)
			bufStart = lineNo
		}

		if buf.Len() > 0 {
			buf.WriteString("\n")
		} else {
			bufStart = lineNo
		}
		buf.WriteString(line)

		if buf.Len() >= chunkTargetChars {
			flush(lineNo)
			bufStart = lineNo + 1
		}
	}
	if buf.Len() > 0 {
		flush(len(lines))
	}

	for i := range chunks {
		chunks[i].chunk.ChunkKey = chunkKey(chunks[i].chunk.HeadingPath, i)
	}
	return chunks
}

// chunkKey derives a stable key from a chunk's heading path and ordinal
// position. Re-chunking an unchanged file reproduces the same keys, which is
// what lets SyncChunks preserve unchanged rows instead of deleting and
// recreating them.
func chunkKey(headingPath string, ordinal int) string {
	slug := strings.ToLower(headingPath)
	slug = nonAlnumPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "root"
	}
	return fmt.Sprintf("%s#%d", slug, ordinal)
}

var nonAlnumPattern = regexp.MustCompile(`[^a-z0-9]+`)

// estimateTokens approximates token count from character count. Good enough
// for budget packing; nothing in this codebase depends on exact tokenization.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// INDEXING UNIT
// =============================================================================

// IndexProgress reports per-pass indexing progress: files processed out of
// total, and chunks embedded out of total, for the pass currently running.
type IndexProgress struct {
	ProcessedFiles int
	TotalFiles     int
	EmbeddedChunks int
	TotalChunks    int
}

// ProgressFunc receives one IndexProgress update per file processed and per
// embedding batch flushed.
type ProgressFunc func(IndexProgress)

// indexDomainKB runs one indexing pass over a domain's KB files: chunks each
// file, reconciles its chunk set in the store, finds chunks whose embedding
// is missing or stale against the active engine's fingerprint, batch-embeds
// them respecting the engine's batch size and a per-batch character cap, and
// upserts the results. Per spec, chunks under minChunkChars are skipped
// entirely (chunkFile already drops them before they reach the store).
func indexDomainKB(ctx context.Context, st *store.Store, eng EmbeddingEngine, domain store.Domain, files []string, onProgress ProgressFunc, log *logging.Logger) error {
	fingerprint := eng.Name()
	modelName := eng.Name()

	var allChunks []store.KBChunk
	textByChunkID := make(map[string]string)
	totalFiles := len(files)

	for i, relPath := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		synced, err := indexOneFile(st, domain, relPath, textByChunkID)
		if err != nil {
			log.Warn("indexDomainKB: %s: %v", relPath, err)
			continue
		}
		allChunks = append(allChunks, synced...)

		if onProgress != nil {
			onProgress(IndexProgress{ProcessedFiles: i + 1, TotalFiles: totalFiles})
		}
	}

	var stale []store.KBChunk
	for _, c := range allChunks {
		existing, err := st.GetChunkEmbedding(c.ID, modelName)
		if err != nil {
			stale = append(stale, c)
			continue
		}
		if existing.IsStale(c.ContentHash, fingerprint) {
			stale = append(stale, c)
		}
	}

	totalChunks := len(stale)
	embedded := 0

	for _, batch := range batchChunks(stale, maxBatchSize, maxBatchChars, textByChunkID) {
		if err := ctx.Err(); err != nil {
			return err
		}

		texts := make([]string, 0, len(batch))
		for _, c := range batch {
			texts = append(texts, textByChunkID[c.ID])
		}

		vectors, err := eng.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding: batch embed: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding: batch embed returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		for i, c := range batch {
			_, err := st.UpsertChunkEmbedding(store.ChunkEmbedding{
				ChunkID:             c.ID,
				ModelName:           modelName,
				Dimensions:          eng.Dimensions(),
				Vector:              vectors[i],
				ContentHash:         c.ContentHash,
				ProviderFingerprint: fingerprint,
			})
			if err != nil {
				return fmt.Errorf("embedding: upsert embedding for chunk %s: %w", c.ID, err)
			}
			embedded++
		}

		if onProgress != nil {
			onProgress(IndexProgress{ProcessedFiles: totalFiles, TotalFiles: totalFiles, EmbeddedChunks: embedded, TotalChunks: totalChunks})
		}
	}

	return nil
}

// indexOneFile chunks a single KB file and reconciles its chunk set in the
// store, registering the file itself if this is its first sync. Chunk text
// is recorded into textByChunkID since the store never persists chunk
// bodies, only their metadata.
func indexOneFile(st *store.Store, domain store.Domain, relPath string, textByChunkID map[string]string) ([]store.KBChunk, error) {
	content, err := readKBFile(domain.KBRootPath, relPath)
	if err != nil {
		return nil, err
	}
	contentHash := hashString(content)

	kbFile, err := st.GetKBFileByPath(domain.ID, relPath)
	if err != nil {
		if err != store.ErrNotFound {
			return nil, err
		}
		kbFile = store.KBFile{DomainID: domain.ID, RelativePath: relPath}
	}

	chunked := chunkFile(content)
	keyToText := make(map[string]string, len(chunked))
	parsed := make([]store.KBChunk, 0, len(chunked))
	for _, cw := range chunked {
		keyToText[cw.chunk.ChunkKey] = cw.text
		parsed = append(parsed, cw.chunk)
	}

	if kbFile.ContentHash == contentHash && kbFile.ID != "" {
		synced, err := st.ListChunks(kbFile.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range synced {
			textByChunkID[c.ID] = keyToText[c.ChunkKey]
		}
		return synced, nil
	}

	kbFile.ContentHash = contentHash
	kbFile.SizeBytes = int64(len(content))
	if kbFile.Tier == "" {
		kbFile.Tier = store.TierGeneral
	}
	kbFile, err = st.UpsertKBFile(kbFile)
	if err != nil {
		return nil, fmt.Errorf("upsert kb file: %w", err)
	}

	synced, err := st.SyncChunks(kbFile.ID, domain.ID, contentHash, parsed)
	if err != nil {
		return nil, err
	}
	for _, c := range synced {
		textByChunkID[c.ID] = keyToText[c.ChunkKey]
	}
	return synced, nil
}

// readKBFile reads a domain-relative KB path, rejecting any path that
// escapes the domain's KB root.
func readKBFile(kbRoot, relPath string) (string, error) {
	full := filepath.Join(kbRoot, filepath.Clean(string(filepath.Separator)+relPath))
	rel, err := filepath.Rel(kbRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes kb root: %s", relPath)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// batchChunks groups chunks into provider-sized batches honoring both a
// maximum item count and a maximum total character count per batch.
func batchChunks(chunks []store.KBChunk, maxItems, maxChars int, text map[string]string) [][]store.KBChunk {
	var batches [][]store.KBChunk
	var current []store.KBChunk
	currentChars := 0

	for _, c := range chunks {
		t := text[c.ID]
		if t == "" {
			continue
		}
		if len(current) > 0 && (len(current) >= maxItems || currentChars+len(t) > maxChars) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}
		current = append(current, c)
		currentChars += len(t)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
