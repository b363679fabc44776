package uploader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind buckets upload failures the way the status surface reports
// them. Connection errors additionally disable the periodic trigger: a
// dead endpoint should not be hammered every two seconds.
type ErrorKind string

const (
	ErrorTimeout    ErrorKind = "timeout"
	ErrorConnection ErrorKind = "connection_error"
	ErrorServer     ErrorKind = "server_error"
	ErrorUnknown    ErrorKind = "unknown"
)

// UploadError is the failure of one upload task.
type UploadError struct {
	Kind   ErrorKind
	Status int   // HTTP status, set for server errors
	Err    error // underlying cause
}

func (e *UploadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upload %s", e.Kind)
	}
	if e.Status != 0 {
		return fmt.Sprintf("upload %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("upload %s: %v", e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// classify maps a transport-level error from the HTTP client onto the
// taxonomy. Deadline and net timeouts come first so a dial that timed
// out counts as a timeout, not a connection failure.
func classify(err error) *UploadError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &UploadError{Kind: ErrorTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &UploadError{Kind: ErrorTimeout, Err: err}
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return &UploadError{Kind: ErrorConnection, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &UploadError{Kind: ErrorConnection, Err: err}
	}
	return &UploadError{Kind: ErrorUnknown, Err: err}
}
