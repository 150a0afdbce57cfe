// Package segment implements the Segment Worker: one instance per byte
// range, responsible for streaming that range into its own temporary file
// and checkpointing progress so a crash or pause can resume exactly.
package segment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"dlcore/internal/domain"
	"dlcore/internal/ratelimit"
	"dlcore/internal/store"
)

// progressEmitInterval and checkpointInterval are the cadences named in the
// segment worker algorithm: emit at most every 300ms, checkpoint at most
// every 2s.
const (
	progressEmitInterval = 300 * time.Millisecond
	checkpointInterval   = 2 * time.Second
	readBufferSize       = 32 * 1024
)

// TempPath returns the deterministic temp file path for one segment.
func TempPath(tempDir string, downloadID domain.ID, index int) string {
	return filepath.Join(tempDir, fmt.Sprintf("%s_segment_%d.part", downloadID, index))
}

// Worker owns one segment's temp file and row for the duration of its run.
type Worker struct {
	DownloadID domain.ID
	Segment    *domain.Segment // mutated in place as progress is made
	URL        string
	TempDir    string
	Client     *http.Client
	Limiter    *ratelimit.Limiter
	Store      *store.Store
	Bus        *domain.Bus

	Paused          *atomic.Bool
	Cancelled       *atomic.Bool
	TotalDownloaded *atomic.Int64
}

// Outcome is returned by Run. DiscoveredSize is non-zero only when the
// segment's size was unknown and has just been learned mid-stream.
type Outcome struct {
	DiscoveredSize int64
}

// Run executes the nine-step algorithm described by the segment worker
// design. It returns domain.ErrPaused or domain.ErrCancelled (via
// errors.Is) to signal intent rather than failure, or another *domain.Error
// on genuine failure.
func (w *Worker) Run(ctx context.Context) (Outcome, error) {
	seg := w.Segment
	tempPath := TempPath(w.TempDir, w.DownloadID, seg.Index)

	// Step 2: already complete.
	if seg.Complete {
		return Outcome{}, nil
	}

	// Step 3: open/create, measure existing length, seek to resume point.
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return Outcome{}, domain.NewIOError(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Outcome{}, domain.NewIOError(err)
	}
	existing := info.Size()
	sizeUnknown := seg.End == domain.UnknownEnd
	segmentLen := seg.End - seg.Start + 1
	if existing > 0 && (sizeUnknown || existing <= segmentLen) {
		seg.Downloaded = existing
	}

	// Step 4: nothing left to fetch.
	startByte := seg.Start + seg.Downloaded
	if !sizeUnknown && startByte >= seg.End {
		seg.Complete = true
		w.checkpoint(true)
		return Outcome{}, nil
	}

	// Step 5: build the ranged request.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL, nil)
	if err != nil {
		return Outcome{}, domain.NewInvalidURLError(w.URL)
	}
	switch {
	case sizeUnknown && startByte == 0:
		// plain GET, no Range header
	case sizeUnknown && startByte > 0:
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	default:
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", startByte, seg.End))
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return Outcome{}, domain.NewNetworkError(err)
	}
	defer resp.Body.Close()

	// Step 6: reject non-2xx/206.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return Outcome{}, domain.NewServerError(resp.StatusCode, resp.Status)
	}

	// Step 7: learn the size if it was unknown.
	var discovered int64
	if sizeUnknown {
		if total, ok := totalFromContentRange(resp.Header.Get("Content-Range")); ok {
			discovered = total
		} else if resp.ContentLength > 0 {
			discovered = startByte + resp.ContentLength
		}
		if discovered > 0 {
			seg.End = discovered - 1
			sizeUnknown = false
		}
	}

	// Step 8: stream the body.
	if err := w.stream(ctx, f, resp.Body, startByte); err != nil {
		return Outcome{DiscoveredSize: discovered}, err
	}

	// Step 9: flush + fsync, mark complete, final checkpoint.
	if err := f.Sync(); err != nil {
		return Outcome{DiscoveredSize: discovered}, domain.NewIOError(err)
	}
	seg.Complete = true
	w.checkpoint(true)
	return Outcome{DiscoveredSize: discovered}, nil
}

func (w *Worker) stream(ctx context.Context, f *os.File, body io.Reader, startOffset int64) error {
	buf := make([]byte, readBufferSize)
	offset := startOffset
	lastEmit := time.Time{}
	lastCheckpoint := time.Time{}

	for {
		if w.Cancelled.Load() {
			w.checkpoint(false)
			return domain.ErrCancelled
		}
		if w.Paused.Load() {
			w.checkpoint(false)
			return domain.ErrPaused
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if err := w.Limiter.Acquire(ctx, n); err != nil {
				return err
			}
			if _, err := f.WriteAt(buf[:n], offset); err != nil {
				return domain.NewIOError(err)
			}
			offset += int64(n)
			w.Segment.Downloaded += int64(n)
			w.TotalDownloaded.Add(int64(n))

			if now := time.Now(); now.Sub(lastEmit) >= progressEmitInterval {
				w.Bus.Publish(domain.SegmentProgress{
					DownloadID:   w.DownloadID,
					SegmentIndex: w.Segment.Index,
					Downloaded:   w.Segment.Downloaded,
				})
				lastEmit = now
			}
			if now := time.Now(); now.Sub(lastCheckpoint) >= checkpointInterval {
				w.checkpoint(false)
				lastCheckpoint = now
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return domain.NewNetworkError(readErr)
		}
	}
}

// checkpoint durably writes (downloaded, complete) for this segment. A
// failed checkpoint does not abort the in-progress download -- the next
// checkpoint retries, and the caller is responsible for a final attempt on
// shutdown.
func (w *Worker) checkpoint(complete bool) {
	_ = w.Store.UpdateSegmentProgress(w.DownloadID, w.Segment.Index, w.Segment.Downloaded, complete)
}

func totalFromContentRange(cr string) (int64, bool) {
	if cr == "" {
		return 0, false
	}
	var start, end, total int64
	if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total); err != nil {
		return 0, false
	}
	return total, true
}
