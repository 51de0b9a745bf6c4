package retrieval_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"warden/internal/retrieval"
	"warden/internal/store"
)

func setupFallbackDomain(t *testing.T) (*retrieval.ContextBuilder, store.Domain) {
	t.Helper()
	st := newTestStore(t)
	kbRoot := t.TempDir()

	longBody := strings.Repeat("structural content line\n", 200)
	require.NoError(t, os.WriteFile(filepath.Join(kbRoot, "README.md"), []byte(longBody), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(kbRoot, "notes.md"), []byte(strings.Repeat("general content line\n", 200)), 0o644))

	domain, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: kbRoot})
	require.NoError(t, err)

	_, err = st.UpsertKBFile(store.KBFile{DomainID: domain.ID, RelativePath: "README.md", ContentHash: "h1", Tier: store.TierStructural})
	require.NoError(t, err)
	_, err = st.UpsertKBFile(store.KBFile{DomainID: domain.ID, RelativePath: "notes.md", ContentHash: "h2", Tier: store.TierGeneral})
	require.NoError(t, err)

	b := retrieval.NewContextBuilder(st, nil, nil)
	return b, domain
}

func TestBuildFallbackContextDigestOnlyTruncatesEveryFile(t *testing.T) {
	b, domain := setupFallbackDomain(t)

	sections, err := b.BuildFallbackContext(domain, retrieval.ProfileDigestOnly)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	for _, s := range sections {
		require.LessOrEqual(t, len(s.Text), 1200)
	}
}

func TestBuildFallbackContextDigestPlusStructuralKeepsStructuralFilesFull(t *testing.T) {
	b, domain := setupFallbackDomain(t)

	sections, err := b.BuildFallbackContext(domain, retrieval.ProfileDigestPlusStructural)
	require.NoError(t, err)
	require.Len(t, sections, 2)

	require.Equal(t, "README.md", sections[0].FilePath)
	require.Greater(t, len(sections[0].Text), 1200)

	require.Equal(t, "notes.md", sections[1].FilePath)
	require.LessOrEqual(t, len(sections[1].Text), 1200)
}

func TestBuildFallbackContextFullKeepsEveryFileFull(t *testing.T) {
	b, domain := setupFallbackDomain(t)

	sections, err := b.BuildFallbackContext(domain, retrieval.ProfileFull)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	for _, s := range sections {
		require.Greater(t, len(s.Text), 1200)
	}
}

func TestBuildFallbackContextSkipsMissingFiles(t *testing.T) {
	st := newTestStore(t)
	kbRoot := t.TempDir()
	domain, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: kbRoot})
	require.NoError(t, err)

	_, err = st.UpsertKBFile(store.KBFile{DomainID: domain.ID, RelativePath: "missing.md", ContentHash: "h1", Tier: store.TierGeneral})
	require.NoError(t, err)

	b := retrieval.NewContextBuilder(st, nil, nil)
	sections, err := b.BuildFallbackContext(domain, retrieval.ProfileDigestOnly)
	require.NoError(t, err)
	require.Empty(t, sections)
}
