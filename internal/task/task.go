// Package task implements the Download Task: the one-per-download
// orchestrator that probes the origin, lays out segments, spawns Segment
// Workers, aggregates progress, and merges the result.
package task

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"dlcore/internal/domain"
	"dlcore/internal/probe"
	"dlcore/internal/ratelimit"
	"dlcore/internal/segment"
	"dlcore/internal/store"
)

const (
	minRangedSize        = 1 << 20 // 1 MiB; below this, a single segment is used
	progressTickInterval = 500 * time.Millisecond
	progressFlushEvery   = 5 * time.Second
	emaAlpha             = 0.3
)

// Task runs exactly one download to a terminal state (or to a clean pause).
type Task struct {
	Download domain.Download // working copy, mutated throughout Run
	Client   *http.Client
	Limiter  *ratelimit.Limiter
	Store    *store.Store
	Bus      *domain.Bus
	TempDir  string

	// SegmentCount is used only when segments must be freshly laid out.
	SegmentCount int

	Paused    *atomic.Bool
	Cancelled *atomic.Bool
}

// ErrSegmentMissing is returned by the merge guard when an expected temp
// file is absent; the caller is instructed to delete and restart.
var ErrSegmentMissing = domain.NewInvalidOperationError("segment missing -- delete and restart")

// Run executes the full run sequence described by the Download Task design
// and returns once the download reaches Paused (returning domain.ErrPaused,
// without marking the download failed), Cancelled, Failed, or Completed. The final status is always persisted and announced
// on the bus before Run returns.
func (t *Task) Run(ctx context.Context) error {
	d := &t.Download

	// Step 1: transition to Downloading.
	d.Status = domain.StatusDownloading
	t.persistStatus(domain.StatusDownloading, "")

	// Step 2: probe and partition if segments are not yet laid out.
	if len(d.Segments) == 0 {
		if err := t.probeAndPartition(ctx); err != nil {
			t.fail(err)
			return err
		}
		if err := t.Store.UpsertDownload(*d); err != nil {
			t.fail(err)
			return err
		}
	}

	// Step 3: everything already done.
	if allComplete(d.Segments) {
		return t.merge()
	}

	// Step 4: spawn workers, run the progress reporter, wait for all.
	total := new(atomic.Int64)
	for _, s := range d.Segments {
		total.Add(s.Downloaded)
	}

	var wg sync.WaitGroup
	outcomes := make(chan error, len(d.Segments))
	discovered := make(chan int64, len(d.Segments))

	for i := range d.Segments {
		if d.Segments[i].Complete {
			continue
		}
		wg.Add(1)
		go func(seg *domain.Segment) {
			defer wg.Done()
			w := &segment.Worker{
				DownloadID:      d.ID,
				Segment:         seg,
				URL:             firstNonEmpty(d.FinalURL, d.URL),
				TempDir:         t.TempDir,
				Client:          t.Client,
				Limiter:         t.Limiter,
				Store:           t.Store,
				Bus:             t.Bus,
				Paused:          t.Paused,
				Cancelled:       t.Cancelled,
				TotalDownloaded: total,
			}
			outcome, err := w.Run(ctx)
			if outcome.DiscoveredSize > 0 {
				discovered <- outcome.DiscoveredSize
			}
			outcomes <- err
		}(&d.Segments[i])
	}

	reporterDone := make(chan struct{})
	go t.reportProgress(total, reporterDone)

	wg.Wait()
	close(outcomes)
	close(discovered)
	close(reporterDone)

	if size, ok := <-discovered; ok && size > 0 && d.Size == 0 {
		d.Size = size
	}
	d.Downloaded = total.Load()

	// Step 5: collect outcomes.
	var failure error
	sawPaused, sawCancelled := false, false
	for err := range outcomes {
		switch {
		case err == nil:
		case isKind(err, domain.KindPaused):
			sawPaused = true
			t.Paused.Store(true)
		case isKind(err, domain.KindCancelled):
			sawCancelled = true
			t.Cancelled.Store(true)
		default:
			if failure == nil {
				failure = err
			}
			t.Cancelled.Store(true)
		}
	}

	_ = t.Store.UpsertDownload(*d)

	switch {
	case failure != nil:
		t.fail(failure)
		return failure
	case sawCancelled:
		d.Status = domain.StatusCancelled
		t.persistStatus(domain.StatusCancelled, "")
		return domain.ErrCancelled
	case sawPaused:
		d.Status = domain.StatusPaused
		t.persistStatus(domain.StatusPaused, "")
		return domain.ErrPaused
	}

	// Step 6: merge.
	return t.merge()
}

func (t *Task) probeAndPartition(ctx context.Context) error {
	d := &t.Download
	res, err := probe.Probe(ctx, t.Client, d.URL)
	if err != nil {
		return err
	}
	d.FinalURL = res.FinalURL
	if d.Filename == "" {
		d.Filename = res.Filename
	}
	d.Size = res.Size

	n := t.SegmentCount
	if n < 1 {
		n = 1
	}

	if res.AcceptRanges && res.Size > minRangedSize {
		d.Segments = partition(res.Size, n)
	} else if res.Size > 0 {
		d.Segments = []domain.Segment{{Index: 0, Start: 0, End: res.Size - 1}}
	} else {
		d.Segments = []domain.Segment{{Index: 0, Start: 0, End: domain.UnknownEnd}}
	}
	return nil
}

// partition splits [0, size-1] into n equal segments; the last absorbs the
// remainder from integer division.
func partition(size int64, n int) []domain.Segment {
	segs := make([]domain.Segment, n)
	chunk := size / int64(n)
	start := int64(0)
	for i := 0; i < n; i++ {
		end := start + chunk - 1
		if i == n-1 {
			end = size - 1
		}
		segs[i] = domain.Segment{Index: i, Start: start, End: end}
		start = end + 1
	}
	return segs
}

func allComplete(segs []domain.Segment) bool {
	for _, s := range segs {
		if !s.Complete {
			return false
		}
	}
	return len(segs) > 0
}

// reportProgress polls every 500ms, applies an EMA(alpha=0.3) to the
// instantaneous speed, emits DownloadProgress, and flushes to the store
// every 5s, until stopped.
func (t *Task) reportProgress(total *atomic.Int64, done <-chan struct{}) {
	ticker := time.NewTicker(progressTickInterval)
	defer ticker.Stop()

	var lastBytes int64 = total.Load()
	var lastTime = time.Now()
	var smoothedSpeed float64
	var sinceFlush time.Duration

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			if t.Paused.Load() || t.Cancelled.Load() {
				continue
			}
			current := total.Load()
			elapsed := now.Sub(lastTime).Seconds()
			if elapsed <= 0 {
				continue
			}
			instant := float64(current-lastBytes) / elapsed
			smoothedSpeed = emaAlpha*instant + (1-emaAlpha)*smoothedSpeed
			lastBytes = current
			lastTime = now

			var eta float64
			if smoothedSpeed > 0 && t.Download.Size > 0 {
				eta = float64(t.Download.Size-current) / smoothedSpeed
			}

			t.Bus.Publish(domain.DownloadProgress{
				ID:         t.Download.ID,
				Downloaded: current,
				Total:      t.Download.Size,
				Speed:      smoothedSpeed,
				ETA:        eta,
			})

			sinceFlush += progressTickInterval
			if sinceFlush >= progressFlushEvery {
				sinceFlush = 0
				_ = t.Store.UpdateDownloadProgress(t.Download.ID, current)
			}
		}
	}
}

// merge verifies every expected temp file exists, then streams them in
// index order into the destination file.
func (t *Task) merge() error {
	d := &t.Download
	paths := make([]string, len(d.Segments))
	for i, s := range d.Segments {
		p := segment.TempPath(t.TempDir, d.ID, s.Index)
		if _, err := os.Stat(p); err != nil {
			t.fail(ErrSegmentMissing)
			return ErrSegmentMissing
		}
		paths[i] = p
	}

	if err := os.MkdirAll(d.Destination, 0o755); err != nil {
		t.fail(domain.NewIOError(err))
		return domain.NewIOError(err)
	}
	outPath := filepath.Join(d.Destination, d.Filename)
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		t.fail(domain.NewIOError(err))
		return domain.NewIOError(err)
	}

	for _, p := range paths {
		if err := copyAndRemove(out, p); err != nil {
			out.Close()
			t.fail(domain.NewIOError(err))
			return domain.NewIOError(err)
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		t.fail(domain.NewIOError(err))
		return domain.NewIOError(err)
	}
	out.Close()

	now := time.Now()
	d.Status = domain.StatusCompleted
	d.CompletedAt = &now
	d.Downloaded = d.Size
	_ = t.Store.UpsertDownload(*d)
	t.persistStatus(domain.StatusCompleted, "")
	return nil
}

func copyAndRemove(out *os.File, tempPath string) error {
	in, err := os.Open(tempPath)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, in)
	in.Close()
	if copyErr != nil {
		return copyErr
	}
	return os.Remove(tempPath)
}

func (t *Task) fail(err error) {
	d := &t.Download
	d.Status = domain.StatusFailed
	d.Err = err.Error()
	_ = t.Store.UpsertDownload(*d)
	t.persistStatus(domain.StatusFailed, err.Error())
}

func (t *Task) persistStatus(status domain.Status, errMsg string) {
	_ = t.Store.UpdateDownloadStatus(t.Download.ID, status, errMsg)
	t.Bus.Publish(domain.DownloadStatusChanged{ID: t.Download.ID, Status: status, Err: errMsg})
}

func isKind(err error, kind domain.Kind) bool {
	de, ok := err.(*domain.Error)
	return ok && de.Kind == kind
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
