// Package manager implements the Download Manager: the lifecycle owner of
// active Download Tasks. It dispatches commands by id, holds the shared
// HTTP client, and allocates per-download rate limiters.
package manager

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"dlcore/internal/domain"
	"dlcore/internal/ratelimit"
	"dlcore/internal/segment"
	"dlcore/internal/store"
	"dlcore/internal/task"
)

const (
	connectTimeout = 30 * time.Second
	bodyTimeout    = 90 * time.Second
	userAgent      = "dlcore/1.0 (+multi-segment download engine)"
)

// taskHandle is the Manager's in-memory record for one running Download Task.
type taskHandle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	paused  *atomic.Bool
	cancld  *atomic.Bool
	limiter *ratelimit.Limiter
}

// Manager owns every active Download Task and the shared HTTP client.
type Manager struct {
	store   *store.Store
	bus     *domain.Bus
	tempDir string
	client  *http.Client

	mu      sync.RWMutex
	handles map[domain.ID]*taskHandle
}

// New builds a Manager. tempDir is where segment temp files live
// (<data_dir>/temp).
func New(st *store.Store, bus *domain.Bus, tempDir string) *Manager {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   bodyTimeout,
	}
	return &Manager{
		store:   st,
		bus:     bus,
		tempDir: tempDir,
		client:  client,
		handles: make(map[domain.ID]*taskHandle),
	}
}

// requestOptions bundles the per-start parameters the spec names.
type requestOptions struct {
	EffectiveLimit int64 // bytes/sec; 0 = unlimited
	SegmentsN      int
}

// Start spawns a new Download Task for d. It rejects a download that is
// already active.
func (m *Manager) Start(d domain.Download, effectiveLimit int64, segmentsN int) error {
	m.mu.Lock()
	if _, exists := m.handles[d.ID]; exists {
		m.mu.Unlock()
		return domain.NewAlreadyExistsError(d.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &taskHandle{
		cancel:  cancel,
		done:    make(chan struct{}),
		paused:  new(atomic.Bool),
		cancld:  new(atomic.Bool),
		limiter: ratelimit.New(effectiveLimit),
	}
	m.handles[d.ID] = h
	m.mu.Unlock()

	if d.Destination == "" {
		d.Destination = "."
	}
	os.MkdirAll(m.tempDir, 0o755)

	tk := &task.Task{
		Download:     d,
		Client:       m.client,
		Limiter:      h.limiter,
		Store:        m.store,
		Bus:          m.bus,
		TempDir:      m.tempDir,
		SegmentCount: segmentsN,
		Paused:       h.paused,
		Cancelled:    h.cancld,
	}

	m.bus.Publish(domain.DownloadAdded{Download: d})

	go func() {
		defer close(h.done)
		defer func() {
			m.mu.Lock()
			delete(m.handles, d.ID)
			m.mu.Unlock()
		}()
		tk.Run(ctx)
	}()
	return nil
}

// Pause sets the paused flag on the active handle and persists the
// transition. It returns a NotFound error if the download is not currently
// active.
func (m *Manager) Pause(id domain.ID) error {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return domain.NewNotFoundError(id)
	}
	h.paused.Store(true)
	m.bus.Publish(domain.DownloadStatusChanged{ID: id, Status: domain.StatusPaused})
	go func() { _ = m.store.UpdateDownloadStatus(id, domain.StatusPaused, "") }()
	return nil
}

// Resume clears the paused flag and pushes a fresh rate limit into a still-
// active handle, or loads the download and starts a new task if it is not.
func (m *Manager) Resume(id domain.ID, effectiveLimit int64, segmentsN int) error {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if ok {
		h.paused.Store(false)
		h.limiter.SetLimit(effectiveLimit)
		m.bus.Publish(domain.DownloadStatusChanged{ID: id, Status: domain.StatusDownloading})
		return nil
	}

	d, err := m.store.LoadDownload(id)
	if err != nil {
		return err
	}
	return m.Start(d, effectiveLimit, segmentsN)
}

// Cancel sets the cancelled flag on the active handle (the task observes it
// and exits, and its handle is removed when it does) and persists Cancelled.
func (m *Manager) Cancel(id domain.ID) error {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if ok {
		h.cancld.Store(true)
	}
	if err := m.store.UpdateDownloadStatus(id, domain.StatusCancelled, ""); err != nil {
		return err
	}
	m.bus.Publish(domain.DownloadStatusChanged{ID: id, Status: domain.StatusCancelled})
	return nil
}

// Delete cancels an active download if needed, optionally removes the
// final file, always removes every segment temp file, then deletes the
// store rows.
func (m *Manager) Delete(id domain.ID, deleteFile bool) error {
	m.mu.RLock()
	h, active := m.handles[id]
	m.mu.RUnlock()
	if active {
		h.cancld.Store(true)
	}

	d, err := m.store.LoadDownload(id)
	if err != nil {
		return err
	}

	if deleteFile && d.Status == domain.StatusCompleted {
		os.Remove(filepath.Join(d.Destination, d.Filename))
	}
	for _, s := range d.Segments {
		os.Remove(segment.TempPath(m.tempDir, id, s.Index))
	}

	if err := m.store.DeleteDownload(id); err != nil {
		return err
	}
	m.bus.Publish(domain.DownloadRemoved{ID: id})
	return nil
}

// UpdateSpeedLimit persists a new per-download limit and, if the download
// is active, pushes it live into the task's limiter.
func (m *Manager) UpdateSpeedLimit(id domain.ID, limit int64) error {
	d, err := m.store.LoadDownload(id)
	if err != nil {
		return err
	}
	lim := limit
	d.SpeedLimit = &lim
	if err := m.store.UpsertDownload(d); err != nil {
		return err
	}

	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if ok {
		h.limiter.SetLimit(limit)
	}
	return nil
}

// RestoreDownloads loads every row on startup; any download left in
// Downloading is reset to Paused (no task is running yet). The decision to
// auto-resume is left to the caller.
func (m *Manager) RestoreDownloads() ([]domain.Download, error) {
	all, err := m.store.LoadAllDownloads()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Status == domain.StatusDownloading {
			all[i].Status = domain.StatusPaused
			_ = m.store.UpdateDownloadStatus(all[i].ID, domain.StatusPaused, "")
		}
	}
	return all, nil
}

// IsActive reports whether a Download Task is currently running for id.
func (m *Manager) IsActive(id domain.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handles[id]
	return ok
}

// ActiveCount reports how many Download Tasks are currently running.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// Client exposes the shared HTTP client, e.g. for probe_links.
func (m *Manager) Client() *http.Client { return m.client }
