package client

import (
	"github.com/adamwoolhether/fetch/client/download"
)

// ————————————————————————————————————————————————————————————————————
// Type aliases – re-export user-facing types from [download].
// ————————————————————————————————————————————————————————————————————

type (
	// DownloadRequest describes a single immutable download.
	DownloadRequest = download.Request

	// DownloadResult describes a published file.
	DownloadResult = download.Result

	// DownloadTask is the handle of an in-flight or completed download.
	DownloadTask = download.Task

	// HTTPError reports a response status of 400 or above.
	HTTPError = download.HTTPError

	// IOError reports a file system, transport or short transfer failure.
	IOError = download.IOError

	// ChecksumMismatchError reports a digest that differs from the expected one.
	ChecksumMismatchError = download.ChecksumMismatchError
)

// ————————————————————————————————————————————————————————————————————
// Sentinel errors
// ————————————————————————————————————————————————————————————————————

var (
	// ErrHTTPStatus is wrapped by every [HTTPError].
	ErrHTTPStatus = download.ErrHTTPStatus

	// ErrAuthFailure is joined with [ErrHTTPStatus] for 401 and 403 responses.
	ErrAuthFailure = download.ErrAuthFailure

	// ErrShortTransfer indicates the temporary file did not reach the expected size.
	ErrShortTransfer = download.ErrShortTransfer

	// ErrChecksumMismatch indicates the file checksum did not match the expected value.
	ErrChecksumMismatch = download.ErrChecksumMismatch

	// ErrDownloadCancelled indicates the transfer was cancelled.
	ErrDownloadCancelled = download.ErrCancelled

	// ErrGroupShutdown indicates the download group was shut down.
	ErrGroupShutdown = download.ErrGroupShutdown
)

// ————————————————————————————————————————————————————————————————————
// Request construction forwarding functions
// ————————————————————————————————————————————————————————————————————

// NewDownloadRequest builds a request downloading source to outputPath.
func NewDownloadRequest(source, outputPath string, opts ...download.RequestOption) (*DownloadRequest, error) {
	return download.NewRequest(source, outputPath, opts...)
}

// WithStaticChecksum verifies the download against a known digest.
func WithStaticChecksum(algorithm string, digest []byte) download.RequestOption {
	return download.WithChecksum(download.StaticChecksum{Algorithm: algorithm, Digest: digest})
}

// WithRemoteChecksum verifies the download against a hex digest fetched
// from uri and stored at outputPath.
func WithRemoteChecksum(algorithm, uri, outputPath string) download.RequestOption {
	return download.WithChecksum(download.RemoteChecksum{Algorithm: algorithm, URI: uri, OutputPath: outputPath})
}
