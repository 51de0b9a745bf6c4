package embedding

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"warden/internal/logging"
	"warden/internal/store"
)

type fakeEngine struct {
	dims int
}

func (e *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (e *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *fakeEngine) Dimensions() int { return e.dims }
func (e *fakeEngine) Name() string    { return "fake:v1" }

func newTestStore(t *testing.T) (*store.Store, *logging.Logger) {
	t.Helper()
	reg, err := logging.NewRegistry(t.TempDir(), logging.Config{})
	require.NoError(t, err)
	st, err := store.New(":memory:", reg.Get(logging.CategoryStore))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, reg.Get(logging.CategoryEmbedding)
}

func TestChunkFileSplitsOnHeadingsAndSkipsTiny(t *testing.T) {
	content := "# Title\n\nIntro paragraph with enough characters to survive the minimum chunk size check.\n\n## Sub\n\nx\n"
	chunks := chunkFile(content)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.GreaterOrEqual(t, len(c.text), minChunkChars)
		require.True(t, c.chunk.HasLineRange)
	}
}

func TestIndexDomainKBEmbedsNewChunks(t *testing.T) {
	st, log := newTestStore(t)
	kbRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(kbRoot, "notes.md"),
		[]byte("# Notes\n\nThis paragraph is long enough to become a real chunk for embedding.\n"), 0o644))

	domain, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: kbRoot})
	require.NoError(t, err)

	eng := &fakeEngine{dims: 3}
	err = indexDomainKB(context.Background(), st, eng, domain, []string{"notes.md"}, nil, log)
	require.NoError(t, err)

	chunks, err := st.ListChunksByDomain(domain.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	emb, err := st.GetChunkEmbedding(chunks[0].ID, "fake:v1")
	require.NoError(t, err)
	require.Equal(t, chunks[0].ContentHash, emb.ContentHash)
}

func TestIndexDomainKBSkipsAlreadyFreshEmbeddings(t *testing.T) {
	st, log := newTestStore(t)
	kbRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(kbRoot, "notes.md"),
		[]byte("# Notes\n\nThis paragraph is long enough to become a real chunk for embedding.\n"), 0o644))

	domain, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: kbRoot})
	require.NoError(t, err)

	eng := &fakeEngine{dims: 3}
	require.NoError(t, indexDomainKB(context.Background(), st, eng, domain, []string{"notes.md"}, nil, log))

	var progress []IndexProgress
	require.NoError(t, indexDomainKB(context.Background(), st, eng, domain, []string{"notes.md"},
		func(p IndexProgress) { progress = append(progress, p) }, log))

	chunks, err := st.ListChunksByDomain(domain.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Len(t, progress, 1, "only the per-file callback fires when no embedding batch runs")
}
