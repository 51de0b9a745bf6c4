package embedding

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warden/internal/store"
)

func TestManagerIndexDomainInvalidatesCacheAfterPass(t *testing.T) {
	st, log := newTestStore(t)
	kbRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(kbRoot, "notes.md"),
		[]byte("# Notes\n\nThis paragraph is long enough to become a real chunk for embedding.\n"), 0o644))

	domain, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: kbRoot})
	require.NoError(t, err)

	var invalidated int32
	m := NewManager(st, &fakeEngine{dims: 3}, func(domainID, modelName string) {
		atomic.AddInt32(&invalidated, 1)
	}, log)

	m.IndexDomain(domain, []string{"notes.md"})
	require.Eventually(t, func() bool { return !m.Active(domain.ID) }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&invalidated))
}

func TestManagerIndexDomainCoalescesConcurrentRequests(t *testing.T) {
	st, log := newTestStore(t)
	kbRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(kbRoot, "notes.md"),
		[]byte("# Notes\n\nThis paragraph is long enough to become a real chunk for embedding.\n"), 0o644))

	domain, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: kbRoot})
	require.NoError(t, err)

	var passes int32
	m := NewManager(st, &fakeEngine{dims: 3}, func(string, string) { atomic.AddInt32(&passes, 1) }, log)

	m.IndexDomain(domain, []string{"notes.md"})
	m.IndexDomain(domain, []string{"notes.md"}) // should flag dirty, not start a second goroutine

	require.Eventually(t, func() bool { return !m.Active(domain.ID) }, time.Second, time.Millisecond)
	require.GreaterOrEqual(t, atomic.LoadInt32(&passes), int32(2))
}

func TestManagerCancelRemovesJob(t *testing.T) {
	st, log := newTestStore(t)
	domain, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: t.TempDir()})
	require.NoError(t, err)

	m := NewManager(st, &fakeEngine{dims: 3}, nil, log)
	m.IndexDomain(domain, nil)
	m.Cancel(domain.ID)
	require.False(t, m.Active(domain.ID))
}

func TestManagerCancelAllClearsEveryJob(t *testing.T) {
	st, log := newTestStore(t)
	d1, err := st.CreateDomain(store.Domain{Name: "d1", KBRootPath: t.TempDir()})
	require.NoError(t, err)
	d2, err := st.CreateDomain(store.Domain{Name: "d2", KBRootPath: t.TempDir()})
	require.NoError(t, err)

	m := NewManager(st, &fakeEngine{dims: 3}, nil, log)
	m.IndexDomain(d1, nil)
	m.IndexDomain(d2, nil)
	m.CancelAll()
	require.False(t, m.Active(d1.ID))
	require.False(t, m.Active(d2.ID))
}
