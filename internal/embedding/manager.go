package embedding

import (
	"context"
	"sync"

	"warden/internal/logging"
	"warden/internal/store"
)

// =============================================================================
// PER-DOMAIN JOB COALESCING
// =============================================================================

// activeJob tracks one domain's in-flight indexing pass. A second
// IndexDomain call while a pass is running doesn't start a concurrent pass;
// it just flags the running one dirty so it loops once more after it
// finishes, the Go equivalent of the AbortController + dirty-flag coalescing
// pattern.
type activeJob struct {
	cancel context.CancelFunc
	dirty  bool
	done   chan struct{}
}

// InvalidateFunc is called once per completed indexing pass so a caller
// (typically the retrieval package) can drop any cached embeddings for
// (domainID, modelName).
type InvalidateFunc func(domainID, modelName string)

// Manager coalesces per-domain embedding indexing jobs: at most one pass runs
// per domain at a time, a request arriving mid-pass sets a dirty flag rather
// than starting a second goroutine, and cancellation is cooperative via
// context. Constructed once by runtime.New; never a package global.
type Manager struct {
	mu         sync.Mutex
	jobs       map[string]*activeJob
	st         *store.Store
	engine     EmbeddingEngine
	invalidate InvalidateFunc
	log        *logging.Logger
}

// NewManager builds a job-coalescing embedding manager over st using engine
// to embed chunks. invalidate may be nil, in which case cache invalidation is
// a no-op.
func NewManager(st *store.Store, engine EmbeddingEngine, invalidate InvalidateFunc, log *logging.Logger) *Manager {
	if invalidate == nil {
		invalidate = func(string, string) {}
	}
	return &Manager{
		jobs:       make(map[string]*activeJob),
		st:         st,
		engine:     engine,
		invalidate: invalidate,
		log:        log,
	}
}

// IndexDomain starts an indexing pass for domain over files if none is
// running, or flags the running pass dirty so it reruns once more after the
// current pass completes.
func (m *Manager) IndexDomain(domain store.Domain, files []string) {
	m.mu.Lock()
	if job, ok := m.jobs[domain.ID]; ok {
		job.dirty = true
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &activeJob{cancel: cancel, done: make(chan struct{})}
	m.jobs[domain.ID] = job
	m.mu.Unlock()

	go m.run(ctx, job, domain, files)
}

// run executes indexDomainKB, then reruns it in place if the job was marked
// dirty while it was running, until a pass completes clean or the job is
// cancelled.
func (m *Manager) run(ctx context.Context, job *activeJob, domain store.Domain, files []string) {
	defer close(job.done)

	for {
		if err := indexDomainKB(ctx, m.st, m.engine, domain, files, nil, m.log); err != nil {
			if ctx.Err() != nil {
				m.log.Info("indexing for domain %s cancelled", domain.ID)
			} else {
				m.log.Error("indexing for domain %s: %v", domain.ID, err)
			}
		}
		m.invalidate(domain.ID, m.engine.Name())

		m.mu.Lock()
		if ctx.Err() != nil {
			delete(m.jobs, domain.ID)
			m.mu.Unlock()
			return
		}
		if job.dirty {
			job.dirty = false
			m.mu.Unlock()
			continue
		}
		delete(m.jobs, domain.ID)
		m.mu.Unlock()
		return
	}
}

// Cancel aborts domain's in-flight job, if any, and blocks until its
// goroutine has actually exited.
func (m *Manager) Cancel(domainID string) {
	m.mu.Lock()
	job, ok := m.jobs[domainID]
	if ok {
		job.cancel()
	}
	m.mu.Unlock()
	if ok {
		<-job.done
	}
}

// CancelAll aborts every in-flight job and blocks until all of their
// goroutines have actually exited.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	jobs := make([]*activeJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		job.cancel()
		jobs = append(jobs, job)
	}
	m.mu.Unlock()
	for _, job := range jobs {
		<-job.done
	}
}

// Active reports whether domain currently has an indexing job running.
func (m *Manager) Active(domainID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[domainID]
	return ok
}

// IndexFile synchronously re-syncs and re-embeds one KB file, satisfying
// mission.KBIndexer for a mission run's post-approval KB-update step. Unlike
// IndexDomain it does not coalesce with a concurrent pass for the same
// domain; callers that also drive background indexing for domainID may
// briefly race it, which is harmless since indexDomainKB's sync step is
// itself idempotent per file.
func (m *Manager) IndexFile(ctx context.Context, domainID, relativePath string) error {
	domain, err := m.st.GetDomain(domainID)
	if err != nil {
		return err
	}
	if err := indexDomainKB(ctx, m.st, m.engine, domain, []string{relativePath}, nil, m.log); err != nil {
		return err
	}
	m.invalidate(domainID, m.engine.Name())
	return nil
}
