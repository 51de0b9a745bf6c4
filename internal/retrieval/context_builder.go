package retrieval

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"warden/internal/embedding"
	"warden/internal/logging"
	"warden/internal/store"
)

// =============================================================================
// MMR-LITE VECTOR CONTEXT BUILDER
// =============================================================================

const (
	headingBoost  = 0.1
	minScore      = 0.3
	sameFileHeadingPenalty = 0.30
	sameFilePenalty        = 0.10
)

// headingBoostPattern matches heading paths worth surfacing ahead of raw
// similarity rank: status and deadline sections tend to carry the facts a
// mission or chat turn actually needs.
var headingBoostPattern = regexp.MustCompile(`(?i)\b(STATUS|OPEN GAP|DEADLINE|PRIORITIES|NEXT ACTION|OVERDUE|CRITICAL)\b`)

// staleness bands for a KB file's last sync time. Spec leaves exact
// thresholds unspecified ("derived from mtime bands"); these are a
// deliberately coarse default, not a tuned heuristic.
const (
	freshBand = 24 * time.Hour
	agingBand = 7 * 24 * time.Hour
)

// FileSection is one packed slice of context: the concatenated text of the
// chunks selected from one file, annotated with that file's staleness.
type FileSection struct {
	FilePath  string
	Text      string
	Staleness string
	Score     float64
}

var (
	// ErrNoEmbeddingClient is returned when BuildContext is called with no
	// embedding engine configured; callers should fall back to a string-based
	// KB strategy per spec §4.5.
	ErrNoEmbeddingClient = fmt.Errorf("retrieval: no embedding client configured")
	// ErrNoEmbeddings is returned when a domain has no stored embeddings yet.
	ErrNoEmbeddings = fmt.Errorf("retrieval: domain has no stored embeddings")
)

type scoredChunk struct {
	chunk     store.KBChunk
	file      store.KBFile
	effective float64
}

// ContextBuilder assembles chunk-level context for a query under a token
// budget via cosine similarity scoring, heading-path boosts, and MMR-lite
// greedy diversity selection.
type ContextBuilder struct {
	store  *store.Store
	engine embedding.EmbeddingEngine
	log    *logging.Logger
}

// NewContextBuilder builds a ContextBuilder over st, embedding queries and
// scoring stored chunks with engine. engine may be nil; BuildContext then
// always returns ErrNoEmbeddingClient, letting the caller fall back.
func NewContextBuilder(st *store.Store, engine embedding.EmbeddingEngine, log *logging.Logger) *ContextBuilder {
	return &ContextBuilder{store: st, engine: engine, log: log}
}

// BuildContext embeds query, scores every stored chunk for domain under
// modelName, and returns an ordered list of file sections packed to fit
// tokenBudget. topK bounds how many chunks MMR selection considers.
func (b *ContextBuilder) BuildContext(ctx context.Context, domain store.Domain, modelName, query string, topK, tokenBudget int) ([]FileSection, error) {
	if b.engine == nil {
		return nil, ErrNoEmbeddingClient
	}

	queryVec, err := b.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	embeddings, err := b.store.ListDomainEmbeddings(domain.ID, modelName)
	if err != nil {
		return nil, fmt.Errorf("retrieval: list domain embeddings: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, ErrNoEmbeddings
	}

	chunks, err := b.store.ListChunksByDomain(domain.ID)
	if err != nil {
		return nil, fmt.Errorf("retrieval: list chunks: %w", err)
	}
	chunkByID := make(map[string]store.KBChunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}

	files, err := b.store.ListKBFiles(domain.ID)
	if err != nil {
		return nil, fmt.Errorf("retrieval: list kb files: %w", err)
	}
	fileByID := make(map[string]store.KBFile, len(files))
	for _, f := range files {
		fileByID[f.ID] = f
	}

	candidates := scoreChunks(queryVec, embeddings, chunkByID, fileByID, b.log)
	selected := selectMMR(candidates, topK)
	return packSections(domain.KBRootPath, selected, tokenBudget), nil
}

// scoreChunks computes effective = cosine(query, stored) + headingBoost for
// every embedding, discarding anything under minScore.
func scoreChunks(queryVec []float32, embeddings []store.ChunkEmbedding, chunkByID map[string]store.KBChunk, fileByID map[string]store.KBFile, log *logging.Logger) []scoredChunk {
	var out []scoredChunk
	for _, e := range embeddings {
		c, ok := chunkByID[e.ChunkID]
		if !ok {
			continue
		}
		f, ok := fileByID[c.KBFileID]
		if !ok {
			continue
		}

		raw, err := embedding.CosineSimilarity(queryVec, e.Vector)
		if err != nil {
			if log != nil {
				log.Warn("retrieval: scoring chunk %s: %v", c.ID, err)
			}
			continue
		}

		boost := 0.0
		if headingBoostPattern.MatchString(c.HeadingPath) {
			boost = headingBoost
		}
		effective := raw + boost
		if effective < minScore {
			continue
		}
		out = append(out, scoredChunk{chunk: c, file: f, effective: effective})
	}
	return out
}

// selectMMR greedily picks the highest-scoring unused candidate, then
// penalizes remaining candidates from the same file: sameFileHeadingPenalty
// if their heading path matches the boost pattern, else sameFilePenalty.
// Stops at topK or when candidates are exhausted.
func selectMMR(candidates []scoredChunk, topK int) []scoredChunk {
	if topK <= 0 {
		topK = 10
	}

	remaining := make([]scoredChunk, len(candidates))
	copy(remaining, candidates)

	var selected []scoredChunk
	for len(selected) < topK && len(remaining) > 0 {
		best := 0
		for i := 1; i < len(remaining); i++ {
			if remaining[i].effective > remaining[best].effective {
				best = i
			}
		}
		picked := remaining[best]
		selected = append(selected, picked)
		remaining = append(remaining[:best], remaining[best+1:]...)

		for i := range remaining {
			if remaining[i].file.ID != picked.file.ID {
				continue
			}
			if headingBoostPattern.MatchString(remaining[i].chunk.HeadingPath) {
				remaining[i].effective -= sameFileHeadingPenalty
			} else {
				remaining[i].effective -= sameFilePenalty
			}
		}
	}
	return selected
}

// packSections groups selected chunks by file in selection order, reads each
// chunk's text from disk by its recorded line range, and concatenates them
// into one FileSection per file until tokenBudget is exhausted.
func packSections(kbRoot string, selected []scoredChunk, tokenBudget int) []FileSection {
	order := make([]string, 0)
	byFile := make(map[string][]scoredChunk)
	for _, s := range selected {
		if _, ok := byFile[s.file.ID]; !ok {
			order = append(order, s.file.ID)
		}
		byFile[s.file.ID] = append(byFile[s.file.ID], s)
	}

	var sections []FileSection
	budgetLeft := tokenBudget
	for _, fileID := range order {
		if budgetLeft <= 0 && tokenBudget > 0 {
			break
		}
		items := byFile[fileID]
		f := items[0].file

		sort.Slice(items, func(i, j int) bool { return items[i].chunk.LineStart < items[j].chunk.LineStart })

		var b strings.Builder
		best := items[0].effective
		for _, it := range items {
			text, err := readChunkLines(kbRoot, f.RelativePath, it.chunk)
			if err != nil {
				continue
			}
			estimate := it.chunk.TokenEstimate
			if tokenBudget > 0 && estimate > budgetLeft && b.Len() > 0 {
				break
			}
			if b.Len() > 0 {
				b.WriteString("\n...\n")
			}
			b.WriteString(text)
			budgetLeft -= estimate
			if it.effective > best {
				best = it.effective
			}
		}
		if b.Len() == 0 {
			continue
		}

		sections = append(sections, FileSection{
			FilePath:  f.RelativePath,
			Text:      b.String(),
			Staleness: stalenessLabel(f.LastSyncedAt),
			Score:     best,
		})
	}
	return sections
}

// readChunkLines slices relPath's content down to c's recorded line range.
func readChunkLines(kbRoot, relPath string, c store.KBChunk) (string, error) {
	full := filepath.Join(kbRoot, filepath.Clean(string(filepath.Separator)+relPath))
	rel, err := filepath.Rel(kbRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes kb root: %s", relPath)
	}

	f, err := os.Open(full)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if !c.HasLineRange {
		return "", fmt.Errorf("chunk %s has no recorded line range", c.ID)
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo >= c.LineStart && lineNo <= c.LineEnd {
			lines = append(lines, scanner.Text())
		}
		if lineNo > c.LineEnd {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// stalenessLabel buckets a KB file's last sync time into a coarse freshness
// band for display alongside its packed section.
func stalenessLabel(lastSynced time.Time) string {
	if lastSynced.IsZero() {
		return "unknown"
	}
	age := time.Since(lastSynced)
	switch {
	case age <= freshBand:
		return "fresh"
	case age <= agingBand:
		return "aging"
	default:
		return "stale"
	}
}
