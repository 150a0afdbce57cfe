// Package domain holds the types shared between the root facade and every
// internal component (store, manager, queue, scheduler, probe, segment,
// task). It is a leaf package -- nothing under internal/ may import the
// root package, so the shared vocabulary lives here instead of there.
package domain

import "time"

// Status is a Download's position in its state machine. Status strings are
// the lowercase name of the variant, matching the persisted representation.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Segment is a contiguous byte range of one download, downloaded
// independently and stored in its own temp file.
type Segment struct {
	Index      int
	Start      int64
	End        int64 // inclusive; math.MaxInt64 means "unknown, read to EOF"
	Downloaded int64
	Complete   bool
}

// UnknownEnd marks a segment whose upper bound is not yet known.
const UnknownEnd int64 = 1<<63 - 1

// Download is a requested transfer and its current progress.
type Download struct {
	ID          ID
	URL         string
	FinalURL    string
	Filename    string
	Destination string
	Size        int64 // 0 until probed
	Downloaded  int64
	Status      Status
	QueueID     ID
	CategoryID  *ID
	Color       string
	Err         string
	SpeedLimit  *int64 // bytes/sec override, nil = inherit queue/global
	CreatedAt   time.Time
	CompletedAt *time.Time
	RetryCount  int
	Segments    []Segment
}

// Schedule is a queue's weekly activation window.
type Schedule struct {
	Enabled   bool
	Weekdays  map[time.Weekday]bool
	StartTime string // "HH:MM", local time
	StopTime  string // "HH:MM", local time
}

// Queue is a named bucket that downloads belong to.
type Queue struct {
	ID            ID
	Name          string
	Color         string
	MaxConcurrent int
	SpeedLimit    *int64
	Schedule      *Schedule
}

// Settings is the single configuration record governing default behavior.
type Settings struct {
	DefaultDestination string
	DefaultConcurrency int
	DefaultSegments    int
	GlobalSpeedLimit   *int64
	Theme              string
	Dev                bool
	LaunchOnBoot       bool
	TrayEnabled        bool
	BrowserPort        int
	MaxRetries         int
	RetryDelaySeconds  int
}

// DefaultSettings returns the values used when no settings row exists yet.
func DefaultSettings() Settings {
	return Settings{
		DefaultConcurrency: 3,
		DefaultSegments:    4,
		Theme:              "system",
		MaxRetries:         3,
		RetryDelaySeconds:  5,
	}
}

// LinkInfo is the result of probing a single URL via probe_links.
type LinkInfo struct {
	URL         string
	FinalURL    string
	Filename    string
	Size        int64
	ContentType string
	Resumable   bool
	Err         string
}

// ExportedData is the versioned JSON document produced by ExportData and
// consumed by ImportData.
type ExportedData struct {
	Version   int        `json:"version"`
	Downloads []Download `json:"downloads"`
	Queues    []Queue    `json:"queues"`
	Settings  Settings   `json:"settings"`
}

const ExportVersion = 2
