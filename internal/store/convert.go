package store

import (
	"strconv"
	"strings"
	"time"

	"dlcore/internal/domain"

	"github.com/google/uuid"
)

func toDownloadRecord(d domain.Download) downloadRecord {
	categoryID := ""
	if d.CategoryID != nil {
		categoryID = d.CategoryID.String()
	}
	return downloadRecord{
		ID:          d.ID.String(),
		URL:         d.URL,
		FinalURL:    d.FinalURL,
		Filename:    d.Filename,
		Destination: d.Destination,
		Size:        d.Size,
		Downloaded:  d.Downloaded,
		Status:      string(d.Status),
		QueueID:     d.QueueID.String(),
		CategoryID:  categoryID,
		Color:       d.Color,
		Error:       d.Err,
		SpeedLimit:  d.SpeedLimit,
		CreatedAt:   d.CreatedAt,
		CompletedAt: d.CompletedAt,
		RetryCount:  d.RetryCount,
	}
}

func fromDownloadRecord(r downloadRecord, segRecs []segmentRecord) domain.Download {
	var categoryID *domain.ID
	if r.CategoryID != "" {
		if id, err := uuid.Parse(r.CategoryID); err == nil {
			categoryID = &id
		}
	}
	segments := make([]domain.Segment, len(segRecs))
	for i, sr := range segRecs {
		segments[i] = fromSegmentRecord(sr)
	}
	return domain.Download{
		ID:          uuid.MustParse(r.ID),
		URL:         r.URL,
		FinalURL:    r.FinalURL,
		Filename:    r.Filename,
		Destination: r.Destination,
		Size:        r.Size,
		Downloaded:  r.Downloaded,
		Status:      domain.Status(r.Status),
		QueueID:     uuid.MustParse(r.QueueID),
		CategoryID:  categoryID,
		Color:       r.Color,
		Err:         r.Error,
		SpeedLimit:  r.SpeedLimit,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
		RetryCount:  r.RetryCount,
		Segments:    segments,
	}
}

func toSegmentRecord(did domain.ID, seg domain.Segment) segmentRecord {
	return segmentRecord{
		DownloadID:   did.String(),
		SegmentIndex: seg.Index,
		Start:        seg.Start,
		End:          seg.End,
		Downloaded:   seg.Downloaded,
		Complete:     seg.Complete,
	}
}

func fromSegmentRecord(r segmentRecord) domain.Segment {
	return domain.Segment{
		Index:      r.SegmentIndex,
		Start:      r.Start,
		End:        r.End,
		Downloaded: r.Downloaded,
		Complete:   r.Complete,
	}
}

func toQueueRecord(q domain.Queue) queueRecord {
	rec := queueRecord{
		ID:            q.ID.String(),
		Name:          q.Name,
		Color:         q.Color,
		MaxConcurrent: q.MaxConcurrent,
		SpeedLimit:    q.SpeedLimit,
	}
	if q.Schedule != nil {
		rec.ScheduleEnabled = q.Schedule.Enabled
		rec.ScheduleStartTime = q.Schedule.StartTime
		rec.ScheduleStopTime = q.Schedule.StopTime
		days := make([]string, 0, len(q.Schedule.Weekdays))
		for wd, on := range q.Schedule.Weekdays {
			if on {
				days = append(days, strconv.Itoa(int(wd)))
			}
		}
		rec.ScheduleWeekdays = strings.Join(days, ",")
	}
	return rec
}

func fromQueueRecord(r queueRecord) domain.Queue {
	q := domain.Queue{
		ID:            uuid.MustParse(r.ID),
		Name:          r.Name,
		Color:         r.Color,
		MaxConcurrent: r.MaxConcurrent,
		SpeedLimit:    r.SpeedLimit,
	}
	if r.ScheduleEnabled || r.ScheduleWeekdays != "" || r.ScheduleStartTime != "" {
		weekdays := make(map[time.Weekday]bool)
		for _, part := range strings.Split(r.ScheduleWeekdays, ",") {
			if part == "" {
				continue
			}
			if n, err := strconv.Atoi(part); err == nil {
				weekdays[time.Weekday(n)] = true
			}
		}
		q.Schedule = &domain.Schedule{
			Enabled:   r.ScheduleEnabled,
			Weekdays:  weekdays,
			StartTime: r.ScheduleStartTime,
			StopTime:  r.ScheduleStopTime,
		}
	}
	return q
}

func toSettingsRecord(s domain.Settings) settingsRecord {
	return settingsRecord{
		ID:                 settingsRowID,
		DefaultDestination: s.DefaultDestination,
		DefaultConcurrency: s.DefaultConcurrency,
		DefaultSegments:    s.DefaultSegments,
		GlobalSpeedLimit:   s.GlobalSpeedLimit,
		Theme:              s.Theme,
		Dev:                s.Dev,
		LaunchOnBoot:       s.LaunchOnBoot,
		TrayEnabled:        s.TrayEnabled,
		BrowserPort:        s.BrowserPort,
		MaxRetries:         s.MaxRetries,
		RetryDelaySeconds:  s.RetryDelaySeconds,
	}
}

func fromSettingsRecord(r settingsRecord) domain.Settings {
	return domain.Settings{
		DefaultDestination: r.DefaultDestination,
		DefaultConcurrency: r.DefaultConcurrency,
		DefaultSegments:    r.DefaultSegments,
		GlobalSpeedLimit:   r.GlobalSpeedLimit,
		Theme:              r.Theme,
		Dev:                r.Dev,
		LaunchOnBoot:       r.LaunchOnBoot,
		TrayEnabled:        r.TrayEnabled,
		BrowserPort:        r.BrowserPort,
		MaxRetries:         r.MaxRetries,
		RetryDelaySeconds:  r.RetryDelaySeconds,
	}
}
