package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// capabilities is what a HEAD request tells us about the resource.
type capabilities struct {
	length       int64 // -1 if unknown
	lastModified time.Time
	ranges       bool
}

// plan is the outcome of the resume decision.
type plan struct {
	offset   int64
	expected int64
	resume   bool
	complete bool
}

// probe issues the capability request and decides whether the existing
// temporary file is kept. A temporary file is discarded when the server
// cannot serve ranges or changed the resource after the file was written.
func (d *Downloader) probe(ctx context.Context, t *Task) (p plan, err error) {
	req := t.req
	ctx, span := d.tracer.Start(ctx, "download.probe")
	defer func() { endSpan(span, err) }()

	caps, err := d.capabilities(ctx, req)
	if err != nil {
		return plan{}, err
	}
	span.SetAttributes(
		attribute.Int64("download.server_length", caps.length),
		attribute.Bool("download.ranges", caps.ranges),
	)

	localSize, localModified, err := d.localState(req.tempPath)
	if err != nil {
		return plan{}, &IOError{URI: req.Source(), Path: req.tempPath, Err: err}
	}

	stale := serverModifiedAfter(caps.lastModified, localModified)
	oversized := caps.length >= 0 && localSize > caps.length

	if !caps.ranges || stale || oversized {
		if err := os.Remove(req.tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return plan{}, &IOError{URI: req.Source(), Path: req.tempPath, Err: fmt.Errorf("discarding temporary file: %w", err)}
		}
		if localSize > 0 {
			d.logger.Info("discarded temporary file", "download_id", t.id, "path", req.tempPath,
				"ranges", caps.ranges, "stale", stale, "oversized", oversized)
		}
		return plan{expected: caps.length}, nil
	}

	p = plan{
		offset:   localSize,
		expected: caps.length,
		resume:   localSize > 0,
		complete: localSize > 0 && localSize == caps.length,
	}
	span.SetAttributes(attribute.Int64("download.offset", p.offset))

	return p, nil
}

func (d *Downloader) capabilities(ctx context.Context, req *Request) (capabilities, error) {
	hreq, err := d.newRequest(ctx, http.MethodHead, req.Source(), req.userAgent)
	if err != nil {
		return capabilities{}, &IOError{URI: req.Source(), Path: req.tempPath, Err: err}
	}
	if req.modifier != nil {
		req.modifier(hreq)
	}

	d.logger.Debug("probing", "method", http.MethodHead, "url", req.Source())

	resp, err := d.doer.Do(hreq)
	if err != nil {
		return capabilities{}, &IOError{URI: req.Source(), Path: req.tempPath, Err: fmt.Errorf("probe request: %w", err)}
	}
	d.discard(resp)

	d.logger.Debug("probe response", "url", req.Source(), "status", resp.StatusCode)

	if resp.StatusCode >= http.StatusBadRequest {
		return capabilities{}, &HTTPError{URI: req.Source(), Path: req.tempPath, StatusCode: resp.StatusCode}
	}

	caps := capabilities{
		length: resp.ContentLength,
		ranges: acceptsByteRanges(resp.Header),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			caps.lastModified = t
		}
	}

	return caps, nil
}

// localState returns the size and modification time of the temporary
// file. A missing file has size zero and is considered modified now.
func (d *Downloader) localState(path string) (int64, time.Time, error) {
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return 0, d.now(), nil
	case err != nil:
		return 0, time.Time{}, fmt.Errorf("inspecting temporary file: %w", err)
	case !fi.Mode().IsRegular():
		return 0, time.Time{}, fmt.Errorf("temporary path %s is not a regular file", path)
	}

	return fi.Size(), fi.ModTime(), nil
}

// serverModifiedAfter reports whether the server copy is newer than the
// local data. A missing Last-Modified never makes local data stale.
func serverModifiedAfter(server, local time.Time) bool {
	if server.IsZero() {
		return false
	}

	return server.After(local)
}

// acceptsByteRanges reports whether an Accept-Ranges header lists the
// "bytes" unit.
func acceptsByteRanges(h http.Header) bool {
	for _, v := range h.Values("Accept-Ranges") {
		for token := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "bytes") {
				return true
			}
		}
	}

	return false
}
