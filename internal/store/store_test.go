package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warden/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	reg, err := logging.NewRegistry(t.TempDir(), logging.Config{})
	require.NoError(t, err)
	s, err := New(":memory:", reg.Get(logging.CategoryStore))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetDomain(t *testing.T) {
	s := newTestStore(t)

	d, err := s.CreateDomain(Domain{Name: "personal", KBRootPath: "/kb/personal", SortPosition: 1})
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)

	got, err := s.GetDomain(d.ID)
	require.NoError(t, err)
	require.Equal(t, "personal", got.Name)
}

func TestChunkSyncReconciles(t *testing.T) {
	s := newTestStore(t)
	d, err := s.CreateDomain(Domain{Name: "d", KBRootPath: "/kb"})
	require.NoError(t, err)
	f, err := s.UpsertKBFile(KBFile{DomainID: d.ID, RelativePath: "notes.md", ContentHash: "h1", Tier: TierGeneral})
	require.NoError(t, err)

	chunks, err := s.SyncChunks(f.ID, d.ID, "h1", []KBChunk{
		{ChunkKey: "c1", ContentHash: "a", OrdinalIndex: 0},
		{ChunkKey: "c2", ContentHash: "b", OrdinalIndex: 1},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// Re-sync: c1 unchanged, c3 new, and c2, no longer listed, is dropped.
	chunks, err = s.SyncChunks(f.ID, d.ID, "h2", []KBChunk{
		{ChunkKey: "c1", ContentHash: "a", OrdinalIndex: 0},
		{ChunkKey: "c3", ContentHash: "c", OrdinalIndex: 1},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	keys := map[string]bool{}
	for _, c := range chunks {
		keys[c.ChunkKey] = true
	}
	require.True(t, keys["c1"])
	require.True(t, keys["c3"])
	require.False(t, keys["c2"])
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	d, _ := s.CreateDomain(Domain{Name: "d", KBRootPath: "/kb"})
	f, _ := s.UpsertKBFile(KBFile{DomainID: d.ID, RelativePath: "a.md", ContentHash: "h", Tier: TierGeneral})
	chunks, err := s.SyncChunks(f.ID, d.ID, "h", []KBChunk{{ChunkKey: "c1", ContentHash: "a"}})
	require.NoError(t, err)

	vec := []float32{0.1, 0.2, 0.3, 0.4}
	e, err := s.UpsertChunkEmbedding(ChunkEmbedding{ChunkID: chunks[0].ID, ModelName: "text-embed-3", Dimensions: 4, Vector: vec, ContentHash: "a"})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)

	got, err := s.GetChunkEmbedding(chunks[0].ID, "text-embed-3")
	require.NoError(t, err)
	require.InDeltaSlice(t, vec, got.Vector, 1e-6)
}

func TestInsertAutomationRunDedupe(t *testing.T) {
	s := newTestStore(t)
	d, _ := s.CreateDomain(Domain{Name: "d", KBRootPath: "/kb"})
	a, err := s.CreateAutomation(Automation{DomainID: d.ID, Name: "daily-digest", TriggerKind: TriggerSchedule, TriggerCron: "0 9 * * *", ActionKind: ActionNotification, Enabled: true})
	require.NoError(t, err)

	_, err = s.InsertAutomationRun(AutomationRun{AutomationID: a.ID, DomainID: d.ID, DedupeKey: "key-1"})
	require.NoError(t, err)

	_, err = s.InsertAutomationRun(AutomationRun{AutomationID: a.ID, DomainID: d.ID, DedupeKey: "key-1"})
	require.ErrorIs(t, err, ErrDuplicateRun)
}

func TestApplyFinalizeResultDisablesAtStreakThreshold(t *testing.T) {
	s := newTestStore(t)
	d, _ := s.CreateDomain(Domain{Name: "d", KBRootPath: "/kb"})
	a, err := s.CreateAutomation(Automation{DomainID: d.ID, Name: "flaky", TriggerKind: TriggerManual, ActionKind: ActionNotification, Enabled: true})
	require.NoError(t, err)

	var streak int
	var disabled bool
	for i := 0; i < 5; i++ {
		streak, disabled, err = s.ApplyFinalizeResult(a.ID, false, ErrCodeLLMError, 5)
		require.NoError(t, err)
	}
	require.Equal(t, 5, streak)
	require.True(t, disabled)

	got, err := s.GetAutomation(a.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)
}

func TestGateExclusivity(t *testing.T) {
	s := newTestStore(t)
	m, err := s.CreateMission(Mission{Name: "weekly-review", Definition: "{}", DefinitionHash: "h"})
	require.NoError(t, err)
	d, _ := s.CreateDomain(Domain{Name: "d", KBRootPath: "/kb"})
	run, err := s.CreateMissionRun(MissionRun{MissionID: m.ID, DomainID: d.ID})
	require.NoError(t, err)

	g, err := s.OpenGate(run.ID, "gate-1", "confirm deletion?")
	require.NoError(t, err)

	_, err = s.OpenGate(run.ID, "gate-2", "another?")
	require.ErrorIs(t, err, ErrGateAlreadyPending)

	require.NoError(t, s.DecideGate(g.ID, true))
}

func TestBackoffForClampsToLastEntry(t *testing.T) {
	require.Equal(t, 60*time.Second, BackoffFor(0))
	require.Equal(t, 3600*time.Second, BackoffFor(99))
}
