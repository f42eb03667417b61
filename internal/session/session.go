// Package session implements the Session & Page Manager: ownership,
// identifier allocation, lifecycle, and idle eviction. It is the one place
// that owns the two points of shared mutable state named by the spec this
// server implements — the session map and the page map — collapsed into a
// single Manager value per the "no module-level singletons" design note.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"browserd/internal/apperr"
	"browserd/internal/backend"
	"browserd/internal/capture"
	"browserd/internal/config"
	"browserd/internal/idgen"
)

// SessionSummary is the best-effort read model returned by ListSessions.
type SessionSummary struct {
	ID         string
	CreatedAt  time.Time
	Kind       backend.BrowserKind
	Headless   bool
	Pages      []PageSummary
}

// PageSummary is the per-page view nested in a SessionSummary.
type PageSummary struct {
	ID    string
	URL   string
	Title string
}

const sentinelUnavailable = "<unavailable>"

type sessionEntry struct {
	id         string
	kind       backend.BrowserKind
	headless   bool
	createdAt  time.Time
	lastActive time.Time
	handle     backend.BrowserHandle
	pageIDs    map[string]struct{}
}

type pageEntry struct {
	id        string
	sessionID string
	page      backend.Page
	recorder  *capture.Recorder
	createdAt time.Time
	cmdMu     sync.Mutex // serializes command dispatch against this page
}

// Manager owns every live session and page. The session map and the page
// map are both guarded by the single RWMutex mu, per the "collapse global
// state into a single Server value" design note; there is exactly one
// Manager per process.
type Manager struct {
	cfg     config.Config
	backend backend.Backend
	log     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	pages    map[string]*pageEntry

	sessionSem *semaphore.Weighted

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New constructs a Manager and starts its idle-eviction sweeper.
func New(cfg config.Config, b backend.Backend, log *zap.Logger) *Manager {
	m := &Manager{
		cfg:        cfg,
		backend:    b,
		log:        log,
		sessions:   make(map[string]*sessionEntry),
		pages:      make(map[string]*pageEntry),
		sessionSem: semaphore.NewWeighted(int64(cfg.MaxSessions)),
		stopSweep:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func validKind(kind backend.BrowserKind) bool {
	switch kind {
	case backend.Chromium, backend.Firefox, backend.WebKit:
		return true
	default:
		return false
	}
}

// CreateSession launches a browser of kind and creates an isolated context.
func (m *Manager) CreateSession(ctx context.Context, kind backend.BrowserKind, headless bool) (string, error) {
	if !validKind(kind) {
		return "", apperr.Newf(apperr.InvalidBrowserKind, "unsupported browser kind %q", kind)
	}

	if !m.sessionSem.TryAcquire(1) {
		return "", apperr.New(apperr.CapacityExceeded, "maximum concurrent sessions reached")
	}

	handle, err := m.backend.Launch(ctx, kind, headless)
	if err != nil {
		m.sessionSem.Release(1)
		return "", apperr.Wrap(apperr.BackendLaunchFailed, err, err.Error())
	}

	m.mu.Lock()
	id, err := idgen.Allocate(func(id string) bool { _, ok := m.sessions[id]; return ok })
	if err != nil {
		m.mu.Unlock()
		_ = handle.Close(ctx)
		m.sessionSem.Release(1)
		return "", apperr.Wrap(apperr.BackendLaunchFailed, err, "id allocation failed")
	}
	now := time.Now()
	m.sessions[id] = &sessionEntry{
		id:         id,
		kind:       kind,
		headless:   headless,
		createdAt:  now,
		lastActive: now,
		handle:     handle,
		pageIDs:    make(map[string]struct{}),
	}
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("session created", zap.String("session_id", id), zap.String("kind", string(kind)))
	}
	return id, nil
}

// ListSessions returns one summary per live session, reading page URL/title
// best-effort: a page that transiently fails is reported with sentinel
// strings rather than failing the whole call.
func (m *Manager) ListSessions(ctx context.Context) []SessionSummary {
	m.mu.RLock()
	sessions := make([]*sessionEntry, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, m.summarize(ctx, s))
	}
	return out
}

func (m *Manager) summarize(ctx context.Context, s *sessionEntry) SessionSummary {
	m.mu.RLock()
	pageIDs := make([]string, 0, len(s.pageIDs))
	for id := range s.pageIDs {
		pageIDs = append(pageIDs, id)
	}
	m.mu.RUnlock()

	pages := make([]PageSummary, 0, len(pageIDs))
	for _, pid := range pageIDs {
		m.mu.RLock()
		pe, ok := m.pages[pid]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		url, title := sentinelUnavailable, sentinelUnavailable
		if pe.page.Closed() {
			url, title = "<page gone>", "<page gone>"
		} else if u, t, _, err := pe.page.GetInfo(ctx); err == nil {
			url, title = u, t
		}
		pages = append(pages, PageSummary{ID: pid, URL: url, Title: title})
	}

	return SessionSummary{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Kind:      s.kind,
		Headless:  s.headless,
		Pages:     pages,
	}
}

// DeleteSession closes every child page, then the context/browser. Second
// call on an already-deleted id returns SessionNotFound.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.SessionNotFound, "session not found")
	}
	delete(m.sessions, id)
	pageEntries := make([]*pageEntry, 0, len(s.pageIDs))
	for pid := range s.pageIDs {
		if pe, ok := m.pages[pid]; ok {
			pageEntries = append(pageEntries, pe)
		}
		delete(m.pages, pid)
	}
	m.mu.Unlock()

	for _, pe := range pageEntries {
		pe.recorder.Stop()
		if err := pe.page.Close(ctx); err != nil && m.log != nil {
			m.log.Warn("page close error during session delete", zap.String("page_id", pe.id), zap.Error(err))
		}
	}
	if err := s.handle.Close(ctx); err != nil && m.log != nil {
		m.log.Warn("session close backend error", zap.String("session_id", id), zap.Error(err))
	}
	m.sessionSem.Release(1)

	if m.log != nil {
		m.log.Info("session deleted", zap.String("session_id", id))
	}
	return nil
}

// CreatePage allocates a page in sessionID's context, installs capture
// hooks, optionally navigates, and registers it.
func (m *Manager) CreatePage(ctx context.Context, sessionID, url string) (string, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", apperr.New(apperr.SessionNotFound, "session not found")
	}
	if m.cfg.MaxPagesPerSession > 0 && len(s.pageIDs) >= m.cfg.MaxPagesPerSession {
		m.mu.Unlock()
		return "", apperr.New(apperr.CapacityExceeded, "maximum pages per session reached")
	}
	m.mu.Unlock()

	backendPage, err := s.handle.NewPage(ctx, url)
	if err != nil {
		return "", apperr.Wrap(apperr.BackendLaunchFailed, err, err.Error())
	}

	sub, err := backendPage.Subscribe(ctx)
	if err != nil {
		_ = backendPage.Close(ctx)
		return "", apperr.Wrap(apperr.BackendLaunchFailed, err, "event subscription failed")
	}
	recorder := capture.Start(sub, m.log)

	m.mu.Lock()
	id, err := idgen.Allocate(func(id string) bool { _, ok := m.pages[id]; return ok })
	if err != nil {
		m.mu.Unlock()
		recorder.Stop()
		_ = backendPage.Close(ctx)
		return "", apperr.Wrap(apperr.BackendLaunchFailed, err, "id allocation failed")
	}
	pe := &pageEntry{
		id:        id,
		sessionID: sessionID,
		page:      backendPage,
		recorder:  recorder,
		createdAt: time.Now(),
	}
	m.pages[id] = pe
	s.pageIDs[id] = struct{}{}
	s.lastActive = time.Now()
	m.mu.Unlock()

	return id, nil
}

// TouchSession updates last-accessed for id. Called by every successful
// command dispatch against any of the session's pages.
func (m *Manager) TouchSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.lastActive = time.Now()
	}
}

// PageHandle is the lookup result handed to the dispatcher: the backend
// page, its recorder, the owning session id, and the per-page mutex it
// must hold for the duration of a command.
type PageHandle struct {
	ID        string
	SessionID string
	Backend   backend.Page
	Recorder  *capture.Recorder
	Mutex     *sync.Mutex
}

// LookupPage resolves pid, failing with PageNotFound if absent or PageGone
// if present but the backend reports it closed.
func (m *Manager) LookupPage(pid string) (PageHandle, error) {
	m.mu.RLock()
	pe, ok := m.pages[pid]
	m.mu.RUnlock()
	if !ok {
		return PageHandle{}, apperr.New(apperr.PageNotFound, "page not found")
	}
	if pe.page.Closed() {
		return PageHandle{}, apperr.New(apperr.PageGone, "page closed by backend")
	}
	return PageHandle{ID: pe.id, SessionID: pe.sessionID, Backend: pe.page, Recorder: pe.recorder, Mutex: &pe.cmdMu}, nil
}

// DeletePage closes the backend page, detaches capture, and removes it
// from both indices.
func (m *Manager) DeletePage(ctx context.Context, pid string) error {
	m.mu.Lock()
	pe, ok := m.pages[pid]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.PageNotFound, "page not found")
	}
	delete(m.pages, pid)
	if s, ok := m.sessions[pe.sessionID]; ok {
		delete(s.pageIDs, pid)
	}
	m.mu.Unlock()

	pe.recorder.Stop()
	if err := pe.page.Close(ctx); err != nil {
		return apperr.Wrap(apperr.BackendError, err, "close page")
	}
	return nil
}

// sweepLoop runs the idle-eviction sweeper on IdleSweepInterval.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	interval := m.cfg.IdleSweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce evicts every session idle longer than SessionIdleTimeout. The
// evict-or-lookup transition takes a short exclusive lock; the possibly-long
// backend close happens after releasing it, per the spec's eviction
// serialization requirement.
func (m *Manager) sweepOnce() {
	idleTimeout := m.cfg.SessionIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = time.Hour
	}
	now := time.Now()

	m.mu.Lock()
	var toEvict []string
	for id, s := range m.sessions {
		if now.Sub(s.lastActive) > idleTimeout {
			toEvict = append(toEvict, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toEvict {
		if err := m.DeleteSession(context.Background(), id); err != nil {
			if m.log != nil {
				m.log.Warn("idle eviction failed", zap.String("session_id", id), zap.Error(err))
			}
			continue
		}
		if m.log != nil {
			m.log.Info("session idle-evicted", zap.String("session_id", id))
		}
	}
}

// Shutdown closes all pages, contexts, and browsers, in that order, with a
// bounded per-close timeout via errgroup fan-out. Failures are logged but
// do not abort shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.stopSweep)
	<-m.sweepDone

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	grace := m.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	g, gctx := errgroup.WithContext(context.Background())
	for _, id := range ids {
		id := id
		g.Go(func() error {
			closeCtx, cancel := context.WithTimeout(gctx, grace)
			defer cancel()
			if err := m.DeleteSession(closeCtx, id); err != nil && m.log != nil {
				m.log.Warn("shutdown: session close failed", zap.String("session_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}
