package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"warden/internal/bus"
	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/retrieval"
	"warden/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Provider.APIKey = "test-anthropic-key"
	cfg.Ingest.AuthToken = "test-ingest-token"
	return cfg
}

func TestNewBuildsEveryWiredSubsystem(t *testing.T) {
	rt, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(rt.Stop)

	require.NotNil(t, rt.Store)
	require.NotNil(t, rt.Bus)
	require.NotNil(t, rt.Providers)
	require.NotNil(t, rt.Embedding)
	require.NotNil(t, rt.EmbeddingManager)
	require.NotNil(t, rt.Context)
	require.NotNil(t, rt.Parsers)
	require.NotNil(t, rt.Mission)
	require.NotNil(t, rt.Automation)
	require.NotNil(t, rt.Ingest)
	require.NotNil(t, rt.Secrets)
	require.NotNil(t, rt.Caps)
	require.True(t, rt.Secrets.IsAvailable())
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider.Provider = "carrier-pigeon"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestInitRegistersMissionParsers(t *testing.T) {
	rt, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(rt.Stop)

	require.NoError(t, rt.Init(context.Background()))
}

func TestNewDomainToolRegistryBuildsKBSearchTool(t *testing.T) {
	rt, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(rt.Stop)

	registry, err := rt.NewDomainToolRegistry("domain-1", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, registry)
}

func TestBusNotifierEmitsNotificationEvent(t *testing.T) {
	rt, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(rt.Stop)

	var gotTitle any
	rt.Bus.Subscribe(bus.EventNotification, func(e bus.Event) {
		gotTitle = e.Data.Metadata["title"]
	})

	notifier := &busNotifier{bus: rt.Bus}
	require.NoError(t, notifier.Notify(context.Background(), "domain-1", "hello", "world"))
	require.Equal(t, "hello", gotTitle)
}

func TestKBSearchAdapterFallsBackWithoutEmbeddingClient(t *testing.T) {
	reg, err := logging.NewRegistry(t.TempDir(), logging.Config{})
	require.NoError(t, err)
	st, err := store.New(":memory:", reg.Get(logging.CategoryStore))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	kbRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(kbRoot, "notes.md"), []byte("hello from the fallback path"), 0o644))
	domain, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: kbRoot})
	require.NoError(t, err)
	_, err = st.UpsertKBFile(store.KBFile{DomainID: domain.ID, RelativePath: "notes.md", ContentHash: "h1", Tier: store.TierGeneral})
	require.NoError(t, err)

	cfg := testConfig(t)
	rt := &Runtime{
		Config:  cfg,
		Store:   st,
		Context: retrieval.NewContextBuilder(st, nil, nil),
	}

	adapter := &kbSearchAdapter{runtime: rt}
	results, err := adapter.Search(context.Background(), domain.ID, "anything", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "notes.md", results[0].Path)
	require.Contains(t, results[0].Content, "hello from the fallback path")
}
