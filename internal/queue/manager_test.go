package queue

import (
	"sync"
	"testing"

	"dlcore/internal/domain"
	"dlcore/internal/store"
)

// fakeManager is a minimal Resumer double: it just tracks what would have
// happened without running real Download Tasks.
type fakeManager struct {
	mu     sync.Mutex
	active map[domain.ID]bool
	limits map[domain.ID]int64
}

func newFakeManager() *fakeManager {
	return &fakeManager{active: make(map[domain.ID]bool), limits: make(map[domain.ID]int64)}
}

func (f *fakeManager) Resume(id domain.ID, limit int64, segN int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[id] = true
	f.limits[id] = limit
	return nil
}

func (f *fakeManager) Pause(id domain.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[id] = false
	return nil
}

func (f *fakeManager) IsActive(id domain.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

func (f *fakeManager) UpdateSpeedLimit(id domain.ID, limit int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits[id] = limit
	return nil
}

func newTestSetup(t *testing.T, maxConcurrent int) (*Manager, *store.Store, *fakeManager, domain.ID) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	qid := domain.NewID()
	q := domain.Queue{ID: qid, Name: "test", MaxConcurrent: maxConcurrent}
	if err := s.UpsertQueue(q); err != nil {
		t.Fatalf("seed queue: %v", err)
	}

	fm := newFakeManager()
	qm := New(s, domain.NewBus(), fm, 4)
	return qm, s, fm, qid
}

func seedQueued(t *testing.T, s *store.Store, qid domain.ID, n int) []domain.Download {
	t.Helper()
	downloads := make([]domain.Download, n)
	for i := 0; i < n; i++ {
		d := domain.Download{
			ID: domain.NewID(), QueueID: qid, URL: "http://example.invalid/x",
			Filename: "f.bin", Status: domain.StatusQueued,
		}
		if err := s.UpsertDownload(d); err != nil {
			t.Fatalf("seed download: %v", err)
		}
		downloads[i] = d
	}
	return downloads
}

func TestStartQueueRespectsMaxConcurrent(t *testing.T) {
	qm, s, fm, qid := newTestSetup(t, 2)
	downloads := seedQueued(t, s, qid, 5)

	if err := qm.StartQueue(qid); err != nil {
		t.Fatalf("start queue: %v", err)
	}

	active := 0
	for _, d := range downloads {
		if fm.IsActive(d.ID) {
			active++
		}
	}
	if active != 2 {
		t.Errorf("expected exactly 2 active downloads, got %d", active)
	}
	if !qm.IsRunning(qid) {
		t.Error("expected queue to be marked running")
	}
}

func TestStopQueuePausesActiveMembers(t *testing.T) {
	qm, s, fm, qid := newTestSetup(t, 2)
	downloads := seedQueued(t, s, qid, 2)
	for _, d := range downloads {
		d.Status = domain.StatusDownloading
		if err := s.UpsertDownload(d); err != nil {
			t.Fatalf("seed: %v", err)
		}
		fm.active[d.ID] = true
	}

	if err := qm.StopQueue(qid); err != nil {
		t.Fatalf("stop queue: %v", err)
	}
	for _, d := range downloads {
		if fm.IsActive(d.ID) {
			t.Errorf("expected %s to be paused", d.ID)
		}
	}
	if qm.IsRunning(qid) {
		t.Error("expected queue to be marked not running")
	}
}

func TestTryStartNextDownloadFillsFreedSlot(t *testing.T) {
	qm, s, fm, qid := newTestSetup(t, 1)
	downloads := seedQueued(t, s, qid, 2)

	if err := qm.StartQueue(qid); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	if !fm.IsActive(downloads[0].ID) {
		t.Fatal("expected first download to start")
	}

	// Simulate the first download finishing.
	fm.active[downloads[0].ID] = false
	d0, _ := s.LoadDownload(downloads[0].ID)
	d0.Status = domain.StatusCompleted
	if err := s.UpsertDownload(d0); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := qm.TryStartNextDownload(qid); err != nil {
		t.Fatalf("try start next: %v", err)
	}
	if !fm.IsActive(downloads[1].ID) {
		t.Error("expected second download to start after slot freed")
	}
}

func TestTryStartNextDownloadNoopWhenNotRunning(t *testing.T) {
	qm, s, fm, qid := newTestSetup(t, 1)
	downloads := seedQueued(t, s, qid, 1)

	if err := qm.TryStartNextDownload(qid); err != nil {
		t.Fatalf("try start next: %v", err)
	}
	if fm.IsActive(downloads[0].ID) {
		t.Error("expected no download to start while queue is not running")
	}
}

func TestUpdateSpeedLimitSkipsPerDownloadOverride(t *testing.T) {
	qm, s, fm, qid := newTestSetup(t, 2)
	downloads := seedQueued(t, s, qid, 2)

	override := int64(500)
	d1 := downloads[1]
	d1.SpeedLimit = &override
	if err := s.UpsertDownload(d1); err != nil {
		t.Fatalf("seed override: %v", err)
	}

	if err := qm.StartQueue(qid); err != nil {
		t.Fatalf("start queue: %v", err)
	}

	if err := qm.UpdateSpeedLimit(qid, 1000); err != nil {
		t.Fatalf("update speed limit: %v", err)
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.limits[downloads[0].ID] != 1000 {
		t.Errorf("expected queue-level limit applied to download without override, got %d", fm.limits[downloads[0].ID])
	}
	if fm.limits[d1.ID] == 1000 {
		t.Error("expected per-download override to be preserved, not overwritten by queue limit")
	}
}
