// Package store is the persistence layer: three relational tables
// (downloads, segments, settings) plus a queues table, accessed through a
// small typed API. It is the single source of truth for durable state.
package store

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dlcore/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
)

// downloadRecord is the GORM-mapped row for a Download.
type downloadRecord struct {
	ID          string `gorm:"primaryKey"`
	URL         string
	FinalURL    string
	Filename    string
	Destination string
	Size        int64
	Downloaded  int64
	Status      string `gorm:"index"`
	QueueID     string `gorm:"index"`
	CategoryID  string
	Color       string
	Error       string
	SpeedLimit  *int64
	CreatedAt   time.Time
	CompletedAt *time.Time
	RetryCount  int
}

func (downloadRecord) TableName() string { return "downloads" }

// segmentRecord is the GORM-mapped row for a Segment. Composite primary key
// (download_id, segment_index) as required by the persistence design.
type segmentRecord struct {
	DownloadID   string `gorm:"primaryKey"`
	SegmentIndex int    `gorm:"primaryKey"`
	Start        int64
	End          int64
	Downloaded   int64
	Complete     bool
}

func (segmentRecord) TableName() string { return "segments" }

// queueRecord is the GORM-mapped row for a Queue.
type queueRecord struct {
	ID                string `gorm:"primaryKey"`
	Name              string
	Color             string
	MaxConcurrent     int
	SpeedLimit        *int64
	ScheduleEnabled   bool
	ScheduleWeekdays  string // comma-separated integers, time.Weekday values
	ScheduleStartTime string
	ScheduleStopTime  string
}

func (queueRecord) TableName() string { return "queues" }

// settingsRecord is the single-row GORM-mapped settings table. ID is always 1.
type settingsRecord struct {
	ID                 uint `gorm:"primaryKey"`
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

func (settingsRecord) TableName() string { return "settings" }

const settingsRowID = 1

// Store wraps a *gorm.DB and exposes the typed persistence API.
type Store struct {
	DB *gorm.DB
}

// Open opens (creating if absent) a sqlite database at path and runs
// migrations, following the teacher's glebarez/sqlite + AutoMigrate pattern.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, domain.NewIOError(err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, domain.NewDatabaseError(err)
	}
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA foreign_keys=ON;")

	if err := db.AutoMigrate(&downloadRecord{}, &segmentRecord{}, &queueRecord{}, &settingsRecord{}); err != nil {
		return nil, domain.NewDatabaseError(err)
	}

	s := &Store{DB: db}
	if err := s.ensureDefaultQueue(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return domain.NewDatabaseError(err)
	}
	return sqlDB.Close()
}

func (s *Store) ensureDefaultQueue() error {
	var count int64
	if err := s.DB.Model(&queueRecord{}).Where("id = ?", uuid.Nil.String()).Count(&count).Error; err != nil {
		return domain.NewDatabaseError(err)
	}
	if count > 0 {
		return nil
	}
	rec := queueRecord{ID: uuid.Nil.String(), Name: "Default", MaxConcurrent: 3}
	if err := s.DB.Create(&rec).Error; err != nil {
		return domain.NewDatabaseError(err)
	}
	return nil
}

// --- Downloads ---------------------------------------------------------

// UpsertDownload replaces a download row and its entire segment list in a
// single transaction, so the segment list is an atomic replacement.
func (s *Store) UpsertDownload(d domain.Download) error {
	rec := toDownloadRecord(d)
	segRecs := make([]segmentRecord, len(d.Segments))
	for i, seg := range d.Segments {
		segRecs[i] = toSegmentRecord(d.ID, seg)
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return err
		}
		if err := tx.Where("download_id = ?", rec.ID).Delete(&segmentRecord{}).Error; err != nil {
			return err
		}
		if len(segRecs) > 0 {
			if err := tx.Create(&segRecs).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.NewDatabaseError(err)
	}
	return nil
}

// LoadDownload hydrates a single download with its segments.
func (s *Store) LoadDownload(id domain.ID) (domain.Download, error) {
	var rec downloadRecord
	if err := s.DB.First(&rec, "id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Download{}, domain.NewNotFoundError(id)
		}
		return domain.Download{}, domain.NewDatabaseError(err)
	}
	var segRecs []segmentRecord
	if err := s.DB.Where("download_id = ?", rec.ID).Order("segment_index").Find(&segRecs).Error; err != nil {
		return domain.Download{}, domain.NewDatabaseError(err)
	}
	return fromDownloadRecord(rec, segRecs), nil
}

// LoadAllDownloads hydrates every download. It issues one downloads query
// and one segments query, then groups by id client-side -- never N+1.
func (s *Store) LoadAllDownloads() ([]domain.Download, error) {
	return s.loadDownloadsWhere(s.DB)
}

// GetDownloadsByQueue hydrates every download belonging to qid.
func (s *Store) GetDownloadsByQueue(qid domain.ID) ([]domain.Download, error) {
	return s.loadDownloadsWhere(s.DB.Where("queue_id = ?", qid.String()))
}

func (s *Store) loadDownloadsWhere(scope *gorm.DB) ([]domain.Download, error) {
	var recs []downloadRecord
	if err := scope.Find(&recs).Error; err != nil {
		return nil, domain.NewDatabaseError(err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	var segRecs []segmentRecord
	if err := s.DB.Where("download_id IN ?", ids).Order("segment_index").Find(&segRecs).Error; err != nil {
		return nil, domain.NewDatabaseError(err)
	}

	byDownload := make(map[string][]segmentRecord, len(recs))
	for _, sr := range segRecs {
		byDownload[sr.DownloadID] = append(byDownload[sr.DownloadID], sr)
	}

	out := make([]domain.Download, len(recs))
	for i, r := range recs {
		out[i] = fromDownloadRecord(r, byDownload[r.ID])
	}
	return out, nil
}

// UpdateSegmentProgress applies a small UPDATE to one segment row.
func (s *Store) UpdateSegmentProgress(did domain.ID, index int, downloaded int64, complete bool) error {
	err := s.DB.Model(&segmentRecord{}).
		Where("download_id = ? AND segment_index = ?", did.String(), index).
		Updates(map[string]any{"downloaded": downloaded, "complete": complete}).Error
	if err != nil {
		return domain.NewDatabaseError(err)
	}
	return nil
}

// UpdateDownloadProgress applies a small UPDATE to a download's total.
func (s *Store) UpdateDownloadProgress(did domain.ID, downloaded int64) error {
	err := s.DB.Model(&downloadRecord{}).Where("id = ?", did.String()).
		Update("downloaded", downloaded).Error
	if err != nil {
		return domain.NewDatabaseError(err)
	}
	return nil
}

// UpdateDownloadStatus updates status (and error, if any), stamping
// completed_at when the status becomes Completed.
func (s *Store) UpdateDownloadStatus(did domain.ID, status domain.Status, errMsg string) error {
	updates := map[string]any{"status": string(status), "error": errMsg}
	if status == domain.StatusCompleted {
		updates["completed_at"] = time.Now()
	}
	err := s.DB.Model(&downloadRecord{}).Where("id = ?", did.String()).Updates(updates).Error
	if err != nil {
		return domain.NewDatabaseError(err)
	}
	return nil
}

// DeleteDownload removes a download row and cascades to its segments.
func (s *Store) DeleteDownload(id domain.ID) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("download_id = ?", id.String()).Delete(&segmentRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&downloadRecord{}, "id = ?", id.String()).Error
	})
	if err != nil {
		return domain.NewDatabaseError(err)
	}
	return nil
}

// --- Queues --------------------------------------------------------------

// LoadQueues returns every queue, including the default queue.
func (s *Store) LoadQueues() ([]domain.Queue, error) {
	var recs []queueRecord
	if err := s.DB.Find(&recs).Error; err != nil {
		return nil, domain.NewDatabaseError(err)
	}
	out := make([]domain.Queue, len(recs))
	for i, r := range recs {
		out[i] = fromQueueRecord(r)
	}
	return out, nil
}

// UpsertQueue creates or updates a queue row.
func (s *Store) UpsertQueue(q domain.Queue) error {
	rec := toQueueRecord(q)
	err := s.DB.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return domain.NewDatabaseError(err)
	}
	return nil
}

// DeleteQueue removes a queue. The default queue (nil id) cannot be deleted.
func (s *Store) DeleteQueue(id domain.ID) error {
	if id == domain.NilID {
		return domain.NewInvalidOperationError("the default queue cannot be deleted")
	}
	if err := s.DB.Delete(&queueRecord{}, "id = ?", id.String()).Error; err != nil {
		return domain.NewDatabaseError(err)
	}
	return nil
}

// --- Settings --------------------------------------------------------------

// LoadSettings returns the singleton settings row, inserting the defaults
// if absent.
func (s *Store) LoadSettings() (domain.Settings, error) {
	var rec settingsRecord
	err := s.DB.First(&rec, "id = ?", settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		defaults := domain.DefaultSettings()
		if saveErr := s.SaveSettings(defaults); saveErr != nil {
			return domain.Settings{}, saveErr
		}
		return defaults, nil
	}
	if err != nil {
		return domain.Settings{}, domain.NewDatabaseError(err)
	}
	return fromSettingsRecord(rec), nil
}

// SaveSettings upserts the singleton settings row.
func (s *Store) SaveSettings(set domain.Settings) error {
	rec := toSettingsRecord(set)
	err := s.DB.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return domain.NewDatabaseError(err)
	}
	return nil
}
