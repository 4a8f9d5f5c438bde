package download

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync/atomic"
)

// Version is reported in the default User-Agent.
const Version = "0.3.0"

const (
	// DefaultUserAgent is sent when a Request does not set one.
	DefaultUserAgent = "fetch/" + Version
	// DefaultReadBufferSize is the chunk size of the transfer loop.
	DefaultReadBufferSize = 1024
	// DefaultWriteBufferSize is the buffer in front of the temporary file.
	DefaultWriteBufferSize = 1024
	// TempSuffix is appended to the output path when no temporary path is set.
	TempSuffix = ".part"
)

// RequestModifier customizes an outgoing HEAD or GET request, after the
// User-Agent and Range headers have been set.
type RequestModifier func(*http.Request)

// Request describes a single download. It is built once with [NewRequest]
// and never changes afterwards. A Request can be executed only once;
// build a new one to retry.
type Request struct {
	source          *url.URL
	outputPath      string
	tempPath        string
	userAgent       string
	readBufferSize  int
	writeBufferSize int
	progress        ProgressReceiver
	checksum        Checksum
	modifier        RequestModifier
	checksumModify  RequestModifier

	consumed atomic.Bool
}

// requestConfig is the mutable side of the builder, validated before a
// Request is frozen.
type requestConfig struct {
	Source          string `field:"source" validate:"required,http_url"`
	OutputPath      string `field:"output_path" validate:"required"`
	TempPath        string `field:"temp_path" validate:"required,nefield=OutputPath"`
	UserAgent       string `field:"user_agent" validate:"required"`
	ReadBufferSize  int    `field:"read_buffer_size" validate:"gt=0"`
	WriteBufferSize int    `field:"write_buffer_size" validate:"gt=0"`

	progress       ProgressReceiver
	checksum       Checksum
	modifier       RequestModifier
	checksumModify RequestModifier
}

type remoteChecksumConfig struct {
	URI        string `field:"checksum_uri" validate:"required,http_url"`
	OutputPath string `field:"checksum_output_path" validate:"required"`
	TempPath   string `field:"checksum_temp_path" validate:"required"`
}

// NewRequest validates the given settings and returns a frozen Request
// downloading source to outputPath.
func NewRequest(source, outputPath string, optFns ...RequestOption) (*Request, error) {
	cfg := requestConfig{
		Source:          source,
		OutputPath:      outputPath,
		UserAgent:       DefaultUserAgent,
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
		checksum:        NoChecksum{},
	}

	for _, opt := range optFns {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("applying request option: %w", err)
		}
	}

	if cfg.OutputPath != "" {
		cfg.OutputPath = filepath.Clean(cfg.OutputPath)
	}
	if cfg.TempPath == "" && cfg.OutputPath != "" {
		cfg.TempPath = cfg.OutputPath + TempSuffix
	}
	if cfg.TempPath != "" {
		cfg.TempPath = filepath.Clean(cfg.TempPath)
	}

	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	checksum, err := freezeChecksum(cfg.checksum, cfg.OutputPath, cfg.TempPath)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing source: %w", ErrInvalidRequest, err)
	}

	progress := cfg.progress
	if progress == nil {
		progress = discardProgress{}
	}

	return &Request{
		source:          u,
		outputPath:      cfg.OutputPath,
		tempPath:        cfg.TempPath,
		userAgent:       cfg.UserAgent,
		readBufferSize:  cfg.ReadBufferSize,
		writeBufferSize: cfg.WriteBufferSize,
		progress:        progress,
		checksum:        checksum,
		modifier:        cfg.modifier,
		checksumModify:  cfg.checksumModify,
	}, nil
}

// freezeChecksum validates c and returns a copy that shares no memory
// with the caller.
func freezeChecksum(c Checksum, outputPath, tempPath string) (Checksum, error) {
	switch c := c.(type) {
	case nil, NoChecksum:
		return NoChecksum{}, nil

	case StaticChecksum:
		if _, err := lookupAlgorithm(c.Algorithm); err != nil {
			return nil, err
		}
		if len(c.Digest) == 0 {
			return nil, fmt.Errorf("%w: static checksum digest must not be empty", ErrInvalidRequest)
		}
		return StaticChecksum{Algorithm: c.Algorithm, Digest: bytes.Clone(c.Digest)}, nil

	case RemoteChecksum:
		if _, err := lookupAlgorithm(c.Algorithm); err != nil {
			return nil, err
		}
		if c.OutputPath != "" {
			c.OutputPath = filepath.Clean(c.OutputPath)
		}
		if c.TempPath == "" && c.OutputPath != "" {
			c.TempPath = c.OutputPath + TempSuffix
		}
		if c.TempPath != "" {
			c.TempPath = filepath.Clean(c.TempPath)
		}
		if err := check(remoteChecksumConfig{URI: c.URI, OutputPath: c.OutputPath, TempPath: c.TempPath}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		for _, p := range []string{c.OutputPath, c.TempPath} {
			if p == outputPath || p == tempPath {
				return nil, fmt.Errorf("%w: checksum path %s collides with the download paths", ErrInvalidRequest, p)
			}
		}
		if c.Progress == nil {
			c.Progress = discardProgress{}
		}
		return c, nil

	default:
		return nil, fmt.Errorf("%w: unknown checksum strategy %T", ErrInvalidRequest, c)
	}
}

// claim marks the request as executed. It reports false if the request
// was claimed before.
func (r *Request) claim() bool {
	return r.consumed.CompareAndSwap(false, true)
}

// URL returns a copy of the source URL.
func (r *Request) URL() *url.URL {
	u := *r.source
	return &u
}

// Source returns the source URL as a string.
func (r *Request) Source() string { return r.source.String() }

// OutputPath returns the path the completed file is published to.
func (r *Request) OutputPath() string { return r.outputPath }

// TempPath returns the staging path data is streamed into.
func (r *Request) TempPath() string { return r.tempPath }

// UserAgent returns the User-Agent header value.
func (r *Request) UserAgent() string { return r.userAgent }

// ReadBufferSize returns the maximum number of bytes read per chunk.
func (r *Request) ReadBufferSize() int { return r.readBufferSize }

// WriteBufferSize returns the size of the buffer in front of the temporary file.
func (r *Request) WriteBufferSize() int { return r.writeBufferSize }

// Progress returns the receiver of transfer statistics.
func (r *Request) Progress() ProgressReceiver { return r.progress }

// Checksum returns the verification strategy.
func (r *Request) Checksum() Checksum {
	if c, ok := r.checksum.(StaticChecksum); ok {
		c.Digest = bytes.Clone(c.Digest)
		return c
	}

	return r.checksum
}
