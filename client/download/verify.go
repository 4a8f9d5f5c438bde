package download

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const hashChunkSize = 8192

// verify checks the temporary file against the request's checksum
// strategy. It returns the path of a fetched checksum file, if any.
func (d *Downloader) verify(ctx context.Context, req *Request) (checksumPath string, err error) {
	ctx, span := d.tracer.Start(ctx, "download.verify")
	defer func() { endSpan(span, err) }()

	var (
		name     string
		expected []byte
	)

	switch c := req.checksum.(type) {
	case NoChecksum:
		return "", nil

	case StaticChecksum:
		name, expected = c.Algorithm, c.Digest

	case RemoteChecksum:
		if _, err := lookupAlgorithm(c.Algorithm); err != nil {
			return "", err
		}
		if expected, err = d.fetchChecksum(ctx, req, c); err != nil {
			return "", err
		}
		name, checksumPath = c.Algorithm, c.OutputPath

	default:
		return "", fmt.Errorf("%w: unknown checksum strategy %T", ErrInvalidRequest, c)
	}

	alg, err := lookupAlgorithm(name)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("download.checksum.algorithm", alg.name))

	received, err := hashFile(req.tempPath, alg.new)
	if err != nil {
		return "", &IOError{URI: req.Source(), Path: req.tempPath, Err: err}
	}

	if !bytes.Equal(received, expected) {
		return "", &ChecksumMismatchError{
			URI:       req.Source(),
			Path:      req.tempPath,
			Algorithm: alg.name,
			Expected:  hex.EncodeToString(expected),
			Received:  hex.EncodeToString(received),
		}
	}

	d.logger.Info("checksum verified", "url", req.Source(), "path", req.tempPath, "algorithm", alg.name)

	return checksumPath, nil
}

// fetchChecksum downloads the checksum file of c and decodes its digest.
// Failures are attributed to the checksum URI.
func (d *Downloader) fetchChecksum(ctx context.Context, req *Request, c RemoteChecksum) (digest []byte, err error) {
	ctx, span := d.tracer.Start(ctx, "download.checksum.fetch", trace.WithAttributes(
		attribute.String("download.checksum.url", c.URI),
	))
	defer func() { endSpan(span, err) }()

	if _, _, err := d.transfer(ctx, transferSpec{
		uri:             c.URI,
		path:            c.TempPath,
		expected:        -1,
		userAgent:       req.userAgent,
		readBufferSize:  req.readBufferSize,
		writeBufferSize: req.writeBufferSize,
		modify:          req.checksumModify,
		progress:        c.Progress,
	}); err != nil {
		return nil, err
	}

	ioErr := func(err error) error {
		return &IOError{URI: c.URI, Path: c.OutputPath, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(c.OutputPath), 0o755); err != nil {
		return nil, ioErr(fmt.Errorf("creating parent directory: %w", err))
	}
	if err := os.Rename(c.TempPath, c.OutputPath); err != nil {
		return nil, ioErr(fmt.Errorf("publishing checksum file: %w", err))
	}

	data, err := os.ReadFile(c.OutputPath)
	if err != nil {
		return nil, ioErr(fmt.Errorf("reading checksum file: %w", err))
	}

	digest, err = parseDigest(data)
	if err != nil {
		return nil, ioErr(err)
	}

	return digest, nil
}

// parseDigest decodes the first whitespace separated field of a
// checksum file, so "<hex>  <filename>" lines are accepted.
func parseDigest(data []byte) ([]byte, error) {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty checksum file", ErrMalformedChecksum)
	}

	digest, err := hex.DecodeString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedChecksum, err)
	}

	return digest, nil
}

func hashFile(path string, newHash func() hash.Hash) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file for checksum: %w", err)
	}
	defer f.Close()

	h := newHash()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading file for checksum: %w", err)
		}
	}

	return h.Sum(nil), nil
}

// finalize publishes the temporary file at the output path.
func (d *Downloader) finalize(ctx context.Context, req *Request) (err error) {
	_, span := d.tracer.Start(ctx, "download.finalize")
	defer func() { endSpan(span, err) }()

	ioErr := func(err error) error {
		return &IOError{URI: req.Source(), Path: req.outputPath, Err: err}
	}

	f, err := os.OpenFile(req.tempPath, os.O_RDWR, 0)
	if err != nil {
		return ioErr(fmt.Errorf("opening temporary file: %w", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ioErr(fmt.Errorf("syncing temporary file: %w", err))
	}
	if err := f.Close(); err != nil {
		return ioErr(fmt.Errorf("closing temporary file: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(req.outputPath), 0o755); err != nil {
		return ioErr(fmt.Errorf("creating parent directory: %w", err))
	}
	if err := os.Rename(req.tempPath, req.outputPath); err != nil {
		return ioErr(fmt.Errorf("renaming temporary file: %w", err))
	}

	return nil
}
