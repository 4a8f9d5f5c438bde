package download

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrHTTPStatus is the sentinel wrapped by [HTTPError].
	ErrHTTPStatus = errors.New("http status error")
	// ErrNotFound is joined with [ErrHTTPStatus] for 404 and 410 responses.
	ErrNotFound = errors.New("resource not found")
	// ErrAuthFailure is joined with [ErrHTTPStatus] for 401 and 403 responses.
	ErrAuthFailure = errors.New("auth failure")

	// ErrShortTransfer indicates the temporary file did not reach the expected size.
	ErrShortTransfer = errors.New("short transfer")
	// ErrResourceChanged indicates the server's resource no longer matches
	// the one the temporary file was started from.
	ErrResourceChanged = errors.New("resource changed")
	// ErrChecksumMismatch is the sentinel wrapped by [ChecksumMismatchError].
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrMalformedChecksum indicates a checksum file did not contain a hex digest.
	ErrMalformedChecksum = errors.New("malformed checksum")
	// ErrUnsupportedAlgorithm indicates an unknown checksum algorithm name.
	ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")

	// ErrCancelled indicates the transfer observed a cancellation request.
	ErrCancelled = errors.New("download cancelled")

	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid download request")
	// ErrRequestConsumed is returned when a Request is submitted a second time.
	ErrRequestConsumed = errors.New("download request already executed")
	// ErrGroupShutdown indicates the download group no longer accepts work.
	ErrGroupShutdown = errors.New("download group shut down")
	// ErrInternal wraps unexpected faults (panics) raised inside the pipeline.
	ErrInternal = errors.New("internal download fault")
)

// HTTPError is returned when a probe, data or checksum request
// answers with a status code of 400 or above.
type HTTPError struct {
	URI        string
	Path       string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%v: %s: %d %s (path %s)", ErrHTTPStatus, e.URI, e.StatusCode, http.StatusText(e.StatusCode), e.Path)
}

func (e *HTTPError) Unwrap() []error {
	errs := []error{ErrHTTPStatus}
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		errs = append(errs, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		errs = append(errs, ErrAuthFailure)
	}

	return errs
}

// IOError is returned for file system failures, transport failures,
// short transfers, resources that changed mid-resume and unreadable
// checksum files.
type IOError struct {
	URI  string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: %s (path %s): %v", e.URI, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ChecksumMismatchError is returned when the digest of the downloaded file
// differs from the expected one. Digests are lowercase hex.
type ChecksumMismatchError struct {
	URI       string
	Path      string
	Algorithm string
	Expected  string
	Received  string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%v: %s (path %s): %s expected %s, received %s", ErrChecksumMismatch, e.URI, e.Path, e.Algorithm, e.Expected, e.Received)
}

func (e *ChecksumMismatchError) Unwrap() error {
	return ErrChecksumMismatch
}

// Result describes a completed download.
type Result struct {
	// Path is the published output file.
	Path string
	// ChecksumPath is the checksum file fetched by a [RemoteChecksum]
	// strategy, empty otherwise.
	ChecksumPath string
	// Bytes is the size of the published file.
	Bytes int64
	// Resumed reports whether data from a previous attempt was kept.
	Resumed bool
	// ResumedFrom is the offset the transfer resumed at.
	ResumedFrom int64
}
