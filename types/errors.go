package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a download failure for structured reporting.
type ErrorKind string

const (
	KindExtraction ErrorKind = "extraction"
	KindDownload   ErrorKind = "download"
	KindConversion ErrorKind = "conversion"
	KindArchive    ErrorKind = "archive"
)

// ErrNotFound is returned for lookups and deletes of unknown ids.
var ErrNotFound = errors.New("not found")

// ErrNotReady is returned when an artifact is requested before the owning
// job or batch reached ready.
var ErrNotReady = errors.New("not ready")

// DownloadError carries an ErrorKind alongside the underlying error so
// batch failures can be reported structured rather than as free text.
type DownloadError struct {
	Kind ErrorKind
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// WrapError attaches a kind to err.
func WrapError(kind ErrorKind, err error) *DownloadError {
	return &DownloadError{Kind: kind, Err: err}
}

// Errorf builds a DownloadError from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *DownloadError {
	return &DownloadError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to KindDownload.
func KindOf(err error) ErrorKind {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindDownload
}
