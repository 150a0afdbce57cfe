package manager

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dlcore/internal/domain"
	"dlcore/internal/store"
)

func originServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
}

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	m := New(s, domain.NewBus(), filepath.Join(t.TempDir(), "temp"))
	return m, s
}

func TestStartRejectsDuplicate(t *testing.T) {
	srv := originServer(t, []byte("hello"))
	defer srv.Close()
	m, s := newTestManager(t)

	d := domain.Download{ID: domain.NewID(), URL: srv.URL, Filename: "a.bin", Destination: t.TempDir(), QueueID: domain.NilID}
	require(t, s.UpsertDownload(d))

	if err := m.Start(d, 0, 2); err != nil {
		t.Fatalf("first start should succeed: %v", err)
	}
	if err := m.Start(d, 0, 2); err == nil {
		t.Fatal("expected duplicate start to be rejected")
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	body := make([]byte, 4*1024*1024)
	srv := originServer(t, body)
	defer srv.Close()
	m, s := newTestManager(t)

	d := domain.Download{ID: domain.NewID(), URL: srv.URL, Filename: "a.bin", Destination: t.TempDir(), QueueID: domain.NilID}
	require(t, s.UpsertDownload(d))
	require(t, m.Start(d, 0, 4))

	if !m.IsActive(d.ID) {
		t.Fatal("expected download to be active immediately after Start")
	}

	if err := m.Pause(d.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.IsActive(d.ID) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	loaded, err := s.LoadDownload(d.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != domain.StatusPaused {
		t.Errorf("expected paused status, got %s", loaded.Status)
	}

	if err := m.Resume(d.ID, 0, 4); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !m.IsActive(d.ID) {
		t.Fatal("expected resume to restart the task")
	}
}

func TestCancelPersistsCancelled(t *testing.T) {
	body := make([]byte, 4*1024*1024)
	srv := originServer(t, body)
	defer srv.Close()
	m, s := newTestManager(t)

	d := domain.Download{ID: domain.NewID(), URL: srv.URL, Filename: "a.bin", Destination: t.TempDir(), QueueID: domain.NilID}
	require(t, s.UpsertDownload(d))
	require(t, m.Start(d, 0, 4))

	if err := m.Cancel(d.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	loaded, err := s.LoadDownload(d.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != domain.StatusCancelled {
		t.Errorf("expected cancelled status, got %s", loaded.Status)
	}
}

func TestDeleteRemovesRowAndTempFiles(t *testing.T) {
	m, s := newTestManager(t)
	d := domain.Download{
		ID: domain.NewID(), URL: "http://example.invalid/x", Filename: "a.bin",
		Destination: t.TempDir(), QueueID: domain.NilID,
		Segments: []domain.Segment{{Index: 0, Start: 0, End: 99}},
	}
	require(t, s.UpsertDownload(d))

	os.MkdirAll(m.tempDir, 0o755)
	tempPath := filepath.Join(m.tempDir, fmt.Sprintf("%s_segment_0.part", d.ID))
	require(t, os.WriteFile(tempPath, []byte("partial"), 0o644))

	if err := m.Delete(d.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.LoadDownload(d.ID); err == nil {
		t.Fatal("expected download row to be gone")
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Error("expected temp file to be removed")
	}
}

func TestRestoreDownloadsResetsDownloadingToPaused(t *testing.T) {
	m, s := newTestManager(t)
	d := domain.Download{ID: domain.NewID(), URL: "http://example.invalid/x", Filename: "a.bin", Destination: t.TempDir(), QueueID: domain.NilID, Status: domain.StatusDownloading}
	require(t, s.UpsertDownload(d))

	restored, err := m.RestoreDownloads()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(restored) != 1 || restored[0].Status != domain.StatusPaused {
		t.Fatalf("expected restored download to be Paused, got %+v", restored)
	}
	if m.IsActive(d.ID) {
		t.Error("RestoreDownloads must not itself resume the task")
	}
}

func require(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
