package download

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/fetch/client/throttle"
)

// transferSpec describes one GET streamed into a file.
type transferSpec struct {
	uri      string
	path     string
	offset   int64 // 0 truncates path before writing
	expected int64 // -1 if unknown
	skip     bool  // the file already holds every byte

	userAgent       string
	readBufferSize  int
	writeBufferSize int
	modify          RequestModifier
	progress        ProgressReceiver
	counters        *liveCounters

	// cancelled is polled before every read. A nil func marks a transfer
	// that cannot be cancelled; context errors then surface as I/O errors.
	cancelled func() bool
}

// transfer streams ts.uri into ts.path. It returns the resulting file
// size and the offset the data was appended at, which is 0 when the
// server answered a range request with the whole resource.
func (d *Downloader) transfer(ctx context.Context, ts transferSpec) (size, offset int64, err error) {
	ctx, span := d.tracer.Start(ctx, "download.transfer", trace.WithAttributes(
		attribute.String("download.url", ts.uri),
		attribute.String("download.temp_path", ts.path),
		attribute.Int64("download.offset", ts.offset),
	))
	defer func() { endSpan(span, err) }()

	if ts.counters == nil {
		ts.counters = &liveCounters{}
	}

	start := d.now()
	emit := func(received, delta, expected int64) {
		ts.progress.Receive(TransferStatistics{
			Received: received,
			Delta:    delta,
			Expected: expected,
			Elapsed:  d.now().Sub(start),
		})
	}

	if ts.skip {
		d.logger.Info("temporary file already complete", "path", ts.path, "bytes", ts.offset)
		ts.counters.expected.Store(ts.expected)
		ts.counters.received.Store(ts.offset)
		ts.counters.started.Store(true)
		emit(ts.offset, 0, ts.expected)
		emit(ts.offset, 0, ts.expected)
		return ts.offset, ts.offset, nil
	}

	req, err := d.newRequest(ctx, http.MethodGet, ts.uri, ts.userAgent)
	if err != nil {
		return 0, 0, ts.ioError(err)
	}
	if ts.offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", ts.offset))
	}
	if ts.modify != nil {
		ts.modify(req)
	}

	d.logger.Debug("requesting", "method", http.MethodGet, "url", ts.uri, "offset", ts.offset)

	resp, err := d.doer.Do(req)
	if err != nil {
		return 0, 0, ts.failure(ctx, fmt.Errorf("data request: %w", err))
	}
	defer func() {
		// Draining after a failed or cancelled read could block on the
		// rest of a slow body.
		if err != nil {
			resp.Body.Close()
			return
		}
		d.discard(resp)
	}()

	d.logger.Debug("data response", "url", ts.uri, "status", resp.StatusCode, "content_length", resp.ContentLength)

	if resp.StatusCode >= http.StatusBadRequest {
		d.discard(resp)
		return 0, 0, &HTTPError{URI: ts.uri, Path: ts.path, StatusCode: resp.StatusCode}
	}

	offset = ts.offset
	expected := ts.expected
	if offset > 0 {
		if resp.StatusCode != http.StatusPartialContent {
			d.logger.Info("server ignored range request, restarting", "url", ts.uri, "status", resp.StatusCode, "offset", offset)
			offset = 0
		} else if cr := resp.Header.Get("Content-Range"); cr != "" {
			first, _, total, err := parseContentRange(cr)
			if err != nil {
				return 0, 0, ts.ioError(err)
			}
			if first != offset {
				return 0, 0, ts.ioError(fmt.Errorf("server resumed at byte %d, requested %d", first, offset))
			}
			if expected >= 0 && total >= 0 && total != expected {
				return 0, 0, ts.ioError(fmt.Errorf("%w: server reports %d bytes, probe reported %d", ErrResourceChanged, total, expected))
			}
			if expected < 0 {
				expected = total
			}
		}
	}
	if expected < 0 && resp.ContentLength >= 0 {
		expected = offset + resp.ContentLength
	}
	span.SetAttributes(attribute.Int64("download.expected", expected))

	if err := os.MkdirAll(filepath.Dir(ts.path), 0o755); err != nil {
		return 0, 0, ts.ioError(fmt.Errorf("creating parent directory: %w", err))
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(ts.path, flags, 0o644)
	if err != nil {
		return 0, 0, ts.ioError(fmt.Errorf("opening temporary file: %w", err))
	}

	ts.counters.expected.Store(expected)
	ts.counters.received.Store(offset)
	ts.counters.started.Store(true)

	var body io.Reader = resp.Body
	if d.rateLimit > 0 {
		body = throttle.NewReader(ctx, body, d.rateLimit, d.rateBurst)
	}

	w := bufio.NewWriterSize(file, ts.writeBufferSize)

	emit(offset, 0, expected)
	received, copyErr := ts.copy(ctx, w, body, offset, expected, emit)
	emit(received, 0, expected)

	flushErr := w.Flush()
	if err := file.Close(); err != nil && flushErr == nil {
		flushErr = err
	}

	switch {
	case copyErr != nil:
		return received, offset, copyErr
	case flushErr != nil:
		return received, offset, ts.ioError(fmt.Errorf("flushing temporary file: %w", flushErr))
	}

	fi, err := os.Stat(ts.path)
	if err != nil {
		return received, offset, ts.ioError(fmt.Errorf("inspecting temporary file: %w", err))
	}
	if expected >= 0 && fi.Size() != expected {
		return fi.Size(), offset, ts.ioError(fmt.Errorf("%w: expected %d bytes, have %d", ErrShortTransfer, expected, fi.Size()))
	}

	return fi.Size(), offset, nil
}

// copy runs the read loop. It stops at EOF, once expected bytes are
// on disk, or when cancellation is observed before a read.
func (ts transferSpec) copy(ctx context.Context, w io.Writer, body io.Reader, received, expected int64, emit func(received, delta, expected int64)) (int64, error) {
	buf := make([]byte, ts.readBufferSize)

	for expected < 0 || received < expected {
		if ts.cancelled != nil && ts.cancelled() {
			return received, fmt.Errorf("%w at byte %d", ErrCancelled, received)
		}
		if err := ctx.Err(); err != nil {
			return received, ts.failure(ctx, err)
		}

		chunk := buf
		if expected >= 0 && expected-received < int64(len(chunk)) {
			chunk = chunk[:expected-received]
		}

		n, rerr := body.Read(chunk)
		if n > 0 {
			if _, err := w.Write(chunk[:n]); err != nil {
				return received, ts.ioError(fmt.Errorf("writing temporary file: %w", err))
			}
			received += int64(n)
			ts.counters.received.Store(received)
			emit(received, int64(n), expected)
		}

		// A body cut short is caught by the size check after the loop.
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return received, ts.failure(ctx, fmt.Errorf("reading response body: %w", rerr))
		}
	}

	return received, nil
}

// failure classifies an error raised while talking to the server. A
// cancelled context during a cancellable transfer is a cancellation.
func (ts transferSpec) failure(ctx context.Context, err error) error {
	if ts.cancelled != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}

	return ts.ioError(err)
}

func (ts transferSpec) ioError(err error) error {
	return &IOError{URI: ts.uri, Path: ts.path, Err: err}
}

// parseContentRange parses "bytes first-last/total". An unknown total
// ("*") is returned as -1.
func parseContentRange(header string) (first, last, total int64, err error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range unit: %q", header)
	}

	rng, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	lo, hi, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	if first, err = strconv.ParseInt(lo, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range start: %w", err)
	}
	if last, err = strconv.ParseInt(hi, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range end: %w", err)
	}
	if last < first {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: end %d before start %d", last, first)
	}

	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid Content-Range total: %w", err)
		}
	}

	return first, last, total, nil
}
