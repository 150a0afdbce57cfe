// Queue Manager: groups downloads by queue, enforces per-queue
// max_concurrent, dequeues the next candidate when capacity frees, and
// propagates queue speed-limit changes.
package queue

import (
	"sync"

	"dlcore/internal/domain"
	"dlcore/internal/store"
)

// Resumer is the subset of the Download Manager the Queue Manager needs.
type Resumer interface {
	Resume(id domain.ID, effectiveLimit int64, segmentsN int) error
	Pause(id domain.ID) error
	IsActive(id domain.ID) bool
	UpdateSpeedLimit(id domain.ID, limit int64) error
}

// Manager groups downloads by queue and enforces capacity.
type Manager struct {
	store   *store.Store
	bus     *domain.Bus
	manager Resumer

	defaultSegments int

	mu      sync.Mutex
	running map[domain.ID]bool
}

// New builds a Queue Manager. defaultSegments is used when resuming
// downloads that were never probed (the segment-count argument to a task).
func New(st *store.Store, bus *domain.Bus, mgr Resumer, defaultSegments int) *Manager {
	return &Manager{
		store:           st,
		bus:             bus,
		manager:         mgr,
		defaultSegments: defaultSegments,
		running:         make(map[domain.ID]bool),
	}
}

// StartQueue marks qid running and resumes up to max_concurrent queued
// downloads in it.
func (m *Manager) StartQueue(qid domain.ID) error {
	m.mu.Lock()
	m.running[qid] = true
	m.mu.Unlock()

	q, err := m.findQueue(qid)
	if err != nil {
		return err
	}

	downloads, err := m.store.GetDownloadsByQueue(qid)
	if err != nil {
		return err
	}

	started := 0
	for _, d := range downloads {
		if started >= q.MaxConcurrent {
			break
		}
		if d.Status != domain.StatusQueued {
			continue
		}
		if err := m.manager.Resume(d.ID, effectiveLimit(q, d), m.defaultSegments); err == nil {
			started++
		}
	}

	m.bus.Publish(domain.QueueStarted{QueueID: qid})
	return nil
}

// StopQueue unmarks qid running and pauses every Downloading member.
func (m *Manager) StopQueue(qid domain.ID) error {
	m.mu.Lock()
	m.running[qid] = false
	m.mu.Unlock()

	downloads, err := m.store.GetDownloadsByQueue(qid)
	if err != nil {
		return err
	}
	for _, d := range downloads {
		if d.Status == domain.StatusDownloading {
			_ = m.manager.Pause(d.ID)
		}
	}
	m.bus.Publish(domain.QueueCompleted{QueueID: qid})
	return nil
}

// IsRunning reports whether qid is currently marked running.
func (m *Manager) IsRunning(qid domain.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[qid]
}

// TryStartNextDownload is called after any download's terminal transition.
// If the queue is running and active count is under max_concurrent, it
// resumes the next Queued download.
func (m *Manager) TryStartNextDownload(qid domain.ID) error {
	m.mu.Lock()
	running := m.running[qid]
	m.mu.Unlock()
	if !running {
		return nil
	}

	q, err := m.findQueue(qid)
	if err != nil {
		return err
	}

	downloads, err := m.store.GetDownloadsByQueue(qid)
	if err != nil {
		return err
	}

	active := 0
	for _, d := range downloads {
		if m.manager.IsActive(d.ID) {
			active++
		}
	}
	if active >= q.MaxConcurrent {
		return nil
	}

	for _, d := range downloads {
		if d.Status == domain.StatusQueued {
			return m.manager.Resume(d.ID, effectiveLimit(q, d), m.defaultSegments)
		}
	}
	return nil
}

// UpdateSpeedLimit persists a new queue-level speed limit and propagates it
// to every active download in the queue that has no per-download override.
func (m *Manager) UpdateSpeedLimit(qid domain.ID, limit int64) error {
	q, err := m.findQueue(qid)
	if err != nil {
		return err
	}
	lim := limit
	q.SpeedLimit = &lim
	if err := m.store.UpsertQueue(q); err != nil {
		return err
	}

	downloads, err := m.store.GetDownloadsByQueue(qid)
	if err != nil {
		return err
	}
	for _, d := range downloads {
		if d.SpeedLimit != nil {
			continue // per-download override replaces the queue default
		}
		if m.manager.IsActive(d.ID) {
			_ = m.manager.UpdateSpeedLimit(d.ID, limit)
		}
	}
	return nil
}

func (m *Manager) findQueue(qid domain.ID) (domain.Queue, error) {
	queues, err := m.store.LoadQueues()
	if err != nil {
		return domain.Queue{}, err
	}
	for _, q := range queues {
		if q.ID == qid {
			return q, nil
		}
	}
	return domain.Queue{}, domain.NewNotFoundError(qid)
}

// effectiveLimit resolves the Open Question: per-download overrides
// replace, queue limits are defaults applied at start.
func effectiveLimit(q domain.Queue, d domain.Download) int64 {
	if d.SpeedLimit != nil {
		return *d.SpeedLimit
	}
	if q.SpeedLimit != nil {
		return *q.SpeedLimit
	}
	return 0
}
