package dlcore

import "dlcore/internal/domain"

// The types and constructors below are thin re-exports of internal/domain,
// the leaf package every component (store, manager, queue, scheduler,
// probe, segment, task) depends on instead of depending on this package.
// Keeping the domain vocabulary here too means callers of this module
// still write dlcore.Download, dlcore.ID, and so on.

type (
	ID                    = domain.ID
	Status                = domain.Status
	Segment               = domain.Segment
	Download              = domain.Download
	Schedule              = domain.Schedule
	Queue                 = domain.Queue
	Settings              = domain.Settings
	LinkInfo              = domain.LinkInfo
	ExportedData          = domain.ExportedData
	CoreEvent             = domain.CoreEvent
	Bus                   = domain.Bus
	Kind                  = domain.Kind
	Error                 = domain.Error
	DownloadAdded         = domain.DownloadAdded
	DownloadUpdated       = domain.DownloadUpdated
	DownloadRemoved       = domain.DownloadRemoved
	DownloadStatusChanged = domain.DownloadStatusChanged
	DownloadProgress      = domain.DownloadProgress
	SegmentProgress       = domain.SegmentProgress
	QueueStarted          = domain.QueueStarted
	QueueCompleted        = domain.QueueCompleted
	EventError            = domain.EventError
)

const (
	StatusQueued      = domain.StatusQueued
	StatusDownloading = domain.StatusDownloading
	StatusPaused      = domain.StatusPaused
	StatusCompleted   = domain.StatusCompleted
	StatusFailed      = domain.StatusFailed
	StatusCancelled   = domain.StatusCancelled

	UnknownEnd = domain.UnknownEnd

	KindUnknown            = domain.KindUnknown
	KindNetwork            = domain.KindNetwork
	KindIO                 = domain.KindIO
	KindDatabase           = domain.KindDatabase
	KindNotFound           = domain.KindNotFound
	KindInvalidURL         = domain.KindInvalidURL
	KindInvalidOperation   = domain.KindInvalidOperation
	KindResumeNotSupported = domain.KindResumeNotSupported
	KindAlreadyExists      = domain.KindAlreadyExists
	KindServerError        = domain.KindServerError
	KindTimeout            = domain.KindTimeout
	KindPaused             = domain.KindPaused
	KindCancelled          = domain.KindCancelled
	KindSerialization      = domain.KindSerialization

	exportVersion = domain.ExportVersion
)

var (
	NilID = domain.NilID

	ErrPaused             = domain.ErrPaused
	ErrCancelled          = domain.ErrCancelled
	ErrResumeNotSupported = domain.ErrResumeNotSupported
)

var (
	NewID                    = domain.NewID
	ParseID                  = domain.ParseID
	DefaultSettings          = domain.DefaultSettings
	NewBus                   = domain.NewBus
	NewNotFoundError         = domain.NewNotFoundError
	NewAlreadyExistsError    = domain.NewAlreadyExistsError
	NewInvalidURLError       = domain.NewInvalidURLError
	NewInvalidOperationError = domain.NewInvalidOperationError
	NewServerError           = domain.NewServerError
	NewNetworkError          = domain.NewNetworkError
	NewIOError               = domain.NewIOError
	NewDatabaseError         = domain.NewDatabaseError
	NewSerializationError    = domain.NewSerializationError
	IsRetryable              = domain.IsRetryable
)
