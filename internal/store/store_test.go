package store

import (
	"testing"
	"time"

	"dlcore/internal/domain"

	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDownload() domain.Download {
	return domain.Download{
		ID:          domain.NewID(),
		URL:         "https://example.com/file.bin",
		Filename:    "file.bin",
		Destination: "/downloads",
		Size:        16 << 20,
		Status:      domain.StatusQueued,
		QueueID:     domain.NilID,
		CreatedAt:   time.Now(),
		Segments: []domain.Segment{
			{Index: 0, Start: 0, End: 4<<20 - 1},
			{Index: 1, Start: 4 << 20, End: 8<<20 - 1},
		},
	}
}

func TestUpsertAndLoadDownload(t *testing.T) {
	s := setupTestStore(t)
	d := sampleDownload()

	require.NoError(t, s.UpsertDownload(d))

	loaded, err := s.LoadDownload(d.ID)
	require.NoError(t, err)
	require.Equal(t, d.URL, loaded.URL)
	require.Len(t, loaded.Segments, 2)
	require.Equal(t, int64(0), loaded.Segments[0].Start)
	require.Equal(t, int64(4<<20-1), loaded.Segments[0].End)
}

func TestUpsertDownloadReplacesSegments(t *testing.T) {
	s := setupTestStore(t)
	d := sampleDownload()
	require.NoError(t, s.UpsertDownload(d))

	// Replace with a single segment -- the atomic-replacement contract.
	d.Segments = []domain.Segment{{Index: 0, Start: 0, End: 8<<20 - 1, Complete: true}}
	require.NoError(t, s.UpsertDownload(d))

	loaded, err := s.LoadDownload(d.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Segments, 1)
	require.True(t, loaded.Segments[0].Complete)
}

func TestLoadAllDownloadsNoN1(t *testing.T) {
	s := setupTestStore(t)
	d1 := sampleDownload()
	d2 := sampleDownload()
	require.NoError(t, s.UpsertDownload(d1))
	require.NoError(t, s.UpsertDownload(d2))

	all, err := s.LoadAllDownloads()
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, d := range all {
		require.Len(t, d.Segments, 2)
	}
}

func TestGetDownloadsByQueue(t *testing.T) {
	s := setupTestStore(t)
	other := domain.NewID()
	require.NoError(t, s.UpsertQueue(domain.Queue{ID: other, Name: "Other", MaxConcurrent: 1}))

	d1 := sampleDownload()
	d2 := sampleDownload()
	d2.QueueID = other
	require.NoError(t, s.UpsertDownload(d1))
	require.NoError(t, s.UpsertDownload(d2))

	defaultOnly, err := s.GetDownloadsByQueue(domain.NilID)
	require.NoError(t, err)
	require.Len(t, defaultOnly, 1)
	require.Equal(t, d1.ID, defaultOnly[0].ID)
}

func TestUpdateSegmentAndDownloadProgress(t *testing.T) {
	s := setupTestStore(t)
	d := sampleDownload()
	require.NoError(t, s.UpsertDownload(d))

	require.NoError(t, s.UpdateSegmentProgress(d.ID, 0, 1024, false))
	require.NoError(t, s.UpdateDownloadProgress(d.ID, 1024))

	loaded, err := s.LoadDownload(d.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1024), loaded.Downloaded)
	require.Equal(t, int64(1024), loaded.Segments[0].Downloaded)
}

func TestUpdateDownloadStatusStampsCompletedAt(t *testing.T) {
	s := setupTestStore(t)
	d := sampleDownload()
	require.NoError(t, s.UpsertDownload(d))

	require.NoError(t, s.UpdateDownloadStatus(d.ID, domain.StatusCompleted, ""))

	loaded, err := s.LoadDownload(d.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)
}

func TestDeleteDownloadCascadesSegments(t *testing.T) {
	s := setupTestStore(t)
	d := sampleDownload()
	require.NoError(t, s.UpsertDownload(d))

	require.NoError(t, s.DeleteDownload(d.ID))

	_, err := s.LoadDownload(d.ID)
	require.Error(t, err)

	var count int64
	require.NoError(t, s.DB.Model(&segmentRecord{}).Where("download_id = ?", d.ID.String()).Count(&count).Error)
	require.Zero(t, count)
}

func TestDefaultQueueExistsAndCannotBeDeleted(t *testing.T) {
	s := setupTestStore(t)
	queues, err := s.LoadQueues()
	require.NoError(t, err)
	require.Len(t, queues, 1)
	require.Equal(t, domain.NilID, queues[0].ID)

	err = s.DeleteQueue(domain.NilID)
	require.Error(t, err)
}

func TestLoadSettingsInsertsDefaultsWhenAbsent(t *testing.T) {
	s := setupTestStore(t)
	set, err := s.LoadSettings()
	require.NoError(t, err)
	require.Equal(t, domain.DefaultSettings(), set)

	set.DefaultDestination = "/tmp/downloads"
	require.NoError(t, s.SaveSettings(set))

	reloaded, err := s.LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "/tmp/downloads", reloaded.DefaultDestination)
}

func TestQueueScheduleRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	id := domain.NewID()
	q := domain.Queue{
		ID:            id,
		Name:          "Nightly",
		MaxConcurrent: 2,
		Schedule: &domain.Schedule{
			Enabled:   true,
			Weekdays:  map[time.Weekday]bool{time.Monday: true, time.Friday: true},
			StartTime: "22:00",
			StopTime:  "06:00",
		},
	}
	require.NoError(t, s.UpsertQueue(q))

	queues, err := s.LoadQueues()
	require.NoError(t, err)

	var found *domain.Queue
	for i := range queues {
		if queues[i].ID == id {
			found = &queues[i]
		}
	}
	require.NotNil(t, found)
	require.NotNil(t, found.Schedule)
	require.True(t, found.Schedule.Weekdays[time.Monday])
	require.True(t, found.Schedule.Weekdays[time.Friday])
	require.False(t, found.Schedule.Weekdays[time.Tuesday])
	require.Equal(t, "22:00", found.Schedule.StartTime)
}
