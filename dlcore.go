// Package dlcore is the multi-segment download engine's core facade: the
// single entry point embedding applications use to add, control, and
// observe downloads, independent of any particular UI.
package dlcore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"dlcore/internal/logging"
	"dlcore/internal/manager"
	"dlcore/internal/probe"
	"dlcore/internal/queue"
	"dlcore/internal/scheduler"
	"dlcore/internal/store"
)

// Config configures a new Core instance.
type Config struct {
	// DataDir holds the sqlite database, segment temp files, and logs.
	DataDir string
	// ConsoleOutput receives human-readable log lines; defaults to os.Stderr.
	ConsoleOutput io.Writer
}

// Core composes every engine component behind one small command surface.
type Core struct {
	cfg Config

	store     *store.Store
	manager   *manager.Manager
	queues    *queue.Manager
	scheduler *scheduler.Scheduler
	bus       *Bus
	logger    *slog.Logger

	dispatchSub int
}

// Open initializes the persistence layer, restores prior downloads (any
// download left mid-transfer is reset to Paused, never auto-resumed),
// and starts the scheduler loop.
func Open(cfg Config) (*Core, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if cfg.ConsoleOutput == nil {
		cfg.ConsoleOutput = os.Stderr
	}

	logger, err := logging.New(cfg.DataDir, cfg.ConsoleOutput)
	if err != nil {
		return nil, NewIOError(err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "dlcore.db"))
	if err != nil {
		return nil, err
	}

	bus := NewBus()
	tempDir := filepath.Join(cfg.DataDir, "temp")
	mgr := manager.New(st, bus, tempDir)

	settings, err := st.LoadSettings()
	if err != nil {
		st.Close()
		return nil, err
	}

	qm := queue.New(st, bus, mgr, settings.DefaultSegments)
	sched := scheduler.New(logger, st, qm)

	c := &Core{
		cfg:       cfg,
		store:     st,
		manager:   mgr,
		queues:    qm,
		scheduler: sched,
		bus:       bus,
		logger:    logger,
	}

	if _, err := mgr.RestoreDownloads(); err != nil {
		st.Close()
		return nil, err
	}

	id, ch := bus.Subscribe()
	c.dispatchSub = id
	go c.dispatchTerminalTransitions(ch)

	// The default queue is always active: downloads added outside any named
	// queue start as soon as a concurrency slot is free.
	if err := qm.StartQueue(NilID); err != nil {
		logger.Warn("failed to start default queue", "error", err)
	}

	sched.Start()
	return c, nil
}

// dispatchTerminalTransitions wakes the owning queue whenever a download
// reaches a terminal status, so a freed concurrency slot is reused.
func (c *Core) dispatchTerminalTransitions(ch <-chan CoreEvent) {
	for evt := range ch {
		sc, ok := evt.(DownloadStatusChanged)
		if !ok {
			continue
		}
		switch sc.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
		default:
			continue
		}
		d, err := c.store.LoadDownload(sc.ID)
		if err != nil {
			continue
		}
		_ = c.queues.TryStartNextDownload(d.QueueID)
	}
}

// Shutdown stops the scheduler and releases the store. Active Download
// Tasks are neither stopped nor waited for; once the store is closed their
// later checkpoints fail. Callers that need a hard stop should Cancel
// active downloads first.
func (c *Core) Shutdown() error {
	c.scheduler.Stop()
	c.bus.Unsubscribe(c.dispatchSub)
	return c.store.Close()
}

// --- Downloads -------------------------------------------------------------

// AddDownload registers a new download. The filename is derived from the
// URL and made unique within dest at creation time.
func (c *Core) AddDownload(rawURL, dest string, queueID ID, categoryID *ID) (Download, error) {
	if dest == "" {
		settings, err := c.store.LoadSettings()
		if err != nil {
			return Download{}, err
		}
		dest = settings.DefaultDestination
	}
	if dest == "" {
		dest = "."
	}

	filename, err := filenameFromURL(rawURL)
	if err != nil {
		return Download{}, err
	}
	filename = uniqueFilename(dest, filename)

	d := Download{
		ID:          NewID(),
		URL:         rawURL,
		Filename:    filename,
		Destination: dest,
		QueueID:     queueID,
		CategoryID:  categoryID,
		Status:      StatusQueued,
	}
	if err := c.store.UpsertDownload(d); err != nil {
		return Download{}, err
	}
	c.bus.Publish(DownloadAdded{Download: d})
	_ = c.queues.TryStartNextDownload(queueID)
	return d, nil
}

// GetDownload loads one download by id.
func (c *Core) GetDownload(id ID) (Download, error) {
	return c.store.LoadDownload(id)
}

// GetAllDownloads loads every download.
func (c *Core) GetAllDownloads() ([]Download, error) {
	return c.store.LoadAllDownloads()
}

// PauseDownload pauses an active download.
func (c *Core) PauseDownload(id ID) error {
	return c.manager.Pause(id)
}

// ResumeDownload resumes a paused or queued download, applying the
// currently effective speed limit (download override, else queue default).
func (c *Core) ResumeDownload(id ID) error {
	d, err := c.store.LoadDownload(id)
	if err != nil {
		return err
	}
	limit, segN, err := c.effectiveResumeParams(d)
	if err != nil {
		return err
	}
	return c.manager.Resume(id, limit, segN)
}

// CancelDownload cancels an active or queued download.
func (c *Core) CancelDownload(id ID) error {
	return c.manager.Cancel(id)
}

// RetryDownload resets a Failed or Cancelled download back to Queued.
func (c *Core) RetryDownload(id ID) error {
	d, err := c.store.LoadDownload(id)
	if err != nil {
		return err
	}
	if d.Status != StatusFailed && d.Status != StatusCancelled {
		return NewInvalidOperationError("only a failed or cancelled download can be retried")
	}
	d.Status = StatusQueued
	d.Err = ""
	d.Downloaded = 0
	d.Segments = nil
	d.RetryCount++
	if err := c.store.UpsertDownload(d); err != nil {
		return err
	}
	c.bus.Publish(DownloadStatusChanged{ID: id, Status: StatusQueued})
	return c.queues.TryStartNextDownload(d.QueueID)
}

// DeleteDownload removes a download, optionally its completed file, and
// always its segment temp files, then wakes its queue.
func (c *Core) DeleteDownload(id ID, deleteFile bool) error {
	d, err := c.store.LoadDownload(id)
	if err != nil {
		return err
	}
	if err := c.manager.Delete(id, deleteFile); err != nil {
		return err
	}
	return c.queues.TryStartNextDownload(d.QueueID)
}

// UpdateDownloadSpeedLimit sets a per-download override. A limit of 0 is
// stored as an override meaning unlimited; it does not restore the queue
// or global default.
func (c *Core) UpdateDownloadSpeedLimit(id ID, limit int64) error {
	return c.manager.UpdateSpeedLimit(id, limit)
}

func (c *Core) effectiveResumeParams(d Download) (limit int64, segmentsN int, err error) {
	settings, err := c.store.LoadSettings()
	if err != nil {
		return 0, 0, err
	}
	segmentsN = settings.DefaultSegments
	if len(d.Segments) > 0 {
		segmentsN = len(d.Segments)
	}

	if d.SpeedLimit != nil {
		return *d.SpeedLimit, segmentsN, nil
	}
	queues, err := c.store.LoadQueues()
	if err == nil {
		for _, q := range queues {
			if q.ID == d.QueueID && q.SpeedLimit != nil {
				return *q.SpeedLimit, segmentsN, nil
			}
		}
	}
	if settings.GlobalSpeedLimit != nil {
		return *settings.GlobalSpeedLimit, segmentsN, nil
	}
	return 0, segmentsN, nil
}

// --- Queues ------------------------------------------------------------

// CreateQueue creates a new named queue.
func (c *Core) CreateQueue(name string, maxConcurrent int) (Queue, error) {
	q := Queue{ID: NewID(), Name: name, MaxConcurrent: maxConcurrent}
	if err := c.store.UpsertQueue(q); err != nil {
		return Queue{}, err
	}
	return q, nil
}

// UpdateQueue persists changes to an existing queue.
func (c *Core) UpdateQueue(q Queue) error {
	return c.store.UpsertQueue(q)
}

// DeleteQueue removes a queue; the default queue cannot be deleted.
func (c *Core) DeleteQueue(id ID) error {
	return c.store.DeleteQueue(id)
}

// ListQueues returns every queue.
func (c *Core) ListQueues() ([]Queue, error) {
	return c.store.LoadQueues()
}

// StartQueue marks a queue running and resumes its first max_concurrent
// queued downloads.
func (c *Core) StartQueue(id ID) error {
	return c.queues.StartQueue(id)
}

// StopQueue unmarks a queue running and pauses its active members.
func (c *Core) StopQueue(id ID) error {
	return c.queues.StopQueue(id)
}

// UpdateQueueSpeedLimit sets the queue-level default speed limit and
// propagates it to active members without a per-download override.
func (c *Core) UpdateQueueSpeedLimit(id ID, limit int64) error {
	return c.queues.UpdateSpeedLimit(id, limit)
}

// --- Settings ------------------------------------------------------------

// GetSettings returns the current settings.
func (c *Core) GetSettings() (Settings, error) {
	return c.store.LoadSettings()
}

// UpdateSettings persists new settings.
func (c *Core) UpdateSettings(s Settings) error {
	return c.store.SaveSettings(s)
}

// --- Links -----------------------------------------------------------------

// ProbeLinks resolves metadata for each URL without creating downloads.
func (c *Core) ProbeLinks(ctx context.Context, urls []string) []LinkInfo {
	out := make([]LinkInfo, len(urls))
	for i, u := range urls {
		res, err := probe.Probe(ctx, c.manager.Client(), u)
		if err != nil {
			out[i] = LinkInfo{URL: u, Err: err.Error()}
			continue
		}
		out[i] = LinkInfo{
			URL:         u,
			FinalURL:    res.FinalURL,
			Filename:    res.Filename,
			Size:        res.Size,
			ContentType: res.ContentType,
			Resumable:   res.AcceptRanges,
		}
	}
	return out
}

// --- Import / export -------------------------------------------------------

// ExportData serializes every download, queue, and the current settings.
func (c *Core) ExportData() (string, error) {
	downloads, err := c.store.LoadAllDownloads()
	if err != nil {
		return "", err
	}
	queues, err := c.store.LoadQueues()
	if err != nil {
		return "", err
	}
	settings, err := c.store.LoadSettings()
	if err != nil {
		return "", err
	}
	data := ExportedData{Version: exportVersion, Downloads: downloads, Queues: queues, Settings: settings}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", NewSerializationError(err)
	}
	return string(raw), nil
}

// ImportData restores downloads, queues, and settings from a previous
// ExportData dump. Imported downloads are never auto-resumed.
func (c *Core) ImportData(raw string) error {
	var data ExportedData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return NewSerializationError(err)
	}
	if data.Version > exportVersion {
		return NewInvalidOperationError(fmt.Sprintf("unsupported export version %d", data.Version))
	}
	for _, q := range data.Queues {
		if err := c.store.UpsertQueue(q); err != nil {
			return err
		}
	}
	for _, d := range data.Downloads {
		if d.Status == StatusDownloading {
			d.Status = StatusPaused
		}
		if err := c.store.UpsertDownload(d); err != nil {
			return err
		}
	}
	return c.store.SaveSettings(data.Settings)
}

// --- Events ------------------------------------------------------------

// Subscribe registers a new observer of core events.
func (c *Core) Subscribe() (id int, ch <-chan CoreEvent) {
	return c.bus.Subscribe()
}

// Unsubscribe removes a previously registered observer.
func (c *Core) Unsubscribe(id int) {
	c.bus.Unsubscribe(id)
}

// --- filename helpers --------------------------------------------------

func filenameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", NewInvalidURLError(rawURL)
	}
	name := filepath.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	return name, nil
}

// uniqueFilename finds a collision-free name within dest, trying
// "name (1).ext", "name (2).ext", ... before falling back to a uuid
// suffix past 999 collisions.
func uniqueFilename(dest, filename string) string {
	if !exists(filepath.Join(dest, filename)) {
		return filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for i := 1; i <= 999; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if !exists(filepath.Join(dest, candidate)) {
			return candidate
		}
	}
	return fmt.Sprintf("%s-%s%s", base, uuid.New().String(), ext)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
