package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for retry and display purposes.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindIO
	KindDatabase
	KindNotFound
	KindInvalidURL
	KindInvalidOperation
	KindResumeNotSupported
	KindAlreadyExists
	KindServerError
	KindTimeout
	KindPaused
	KindCancelled
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindIO:
		return "io"
	case KindDatabase:
		return "database"
	case KindNotFound:
		return "not_found"
	case KindInvalidURL:
		return "invalid_url"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindResumeNotSupported:
		return "resume_not_supported"
	case KindAlreadyExists:
		return "already_exists"
	case KindServerError:
		return "server_error"
	case KindTimeout:
		return "timeout"
	case KindPaused:
		return "paused"
	case KindCancelled:
		return "cancelled"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error is the taxonomy described in the error handling design: every
// failure surfaced by the core carries a Kind, a human message, and
// (for ServerError) an HTTP status code.
type Error struct {
	Kind    Kind
	Message string
	Status  int // populated only for KindServerError
	ID      ID  // populated only for NotFound/AlreadyExists
	Cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindServerError:
		return fmt.Sprintf("server error: %d - %s", e.Status, e.Message)
	case KindNotFound:
		return fmt.Sprintf("download not found: %s", e.ID)
	case KindAlreadyExists:
		return fmt.Sprintf("download already exists: %s", e.ID)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
		}
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Message)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match against the sentinel values below by Kind,
// ignoring message/status so callers can write errors.Is(err, ErrPaused).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the current attempt may be retried. Network
// errors, timeouts, and 5xx server errors are retryable; everything else
// is fatal for the current attempt.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindServerError:
		return e.Status >= 500
	default:
		return false
	}
}

// Sentinel values for errors.Is comparisons. Paused and Cancelled are
// control-flow signals propagated out of a Segment Worker, not failures.
var (
	ErrPaused             = &Error{Kind: KindPaused, Message: "download was paused"}
	ErrCancelled          = &Error{Kind: KindCancelled, Message: "download was cancelled"}
	ErrResumeNotSupported = &Error{Kind: KindResumeNotSupported, Message: "resume not supported for this download"}
)

func NewNotFoundError(id ID) error {
	return &Error{Kind: KindNotFound, ID: id}
}

func NewAlreadyExistsError(id ID) error {
	return &Error{Kind: KindAlreadyExists, ID: id}
}

func NewInvalidURLError(raw string) error {
	return &Error{Kind: KindInvalidURL, Message: raw}
}

func NewInvalidOperationError(msg string) error {
	return &Error{Kind: KindInvalidOperation, Message: msg}
}

func NewServerError(status int, message string) error {
	return &Error{Kind: KindServerError, Status: status, Message: message}
}

func NewNetworkError(cause error) error {
	return &Error{Kind: KindNetwork, Message: "network error", Cause: cause}
}

func NewIOError(cause error) error {
	return &Error{Kind: KindIO, Message: "io error", Cause: cause}
}

func NewDatabaseError(cause error) error {
	return &Error{Kind: KindDatabase, Message: "database error", Cause: cause}
}

func NewSerializationError(cause error) error {
	return &Error{Kind: KindSerialization, Message: "serialization error", Cause: cause}
}

// IsRetryable is a package-level convenience for errors that may not be
// wrapped as *Error (e.g. produced by the standard library).
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
