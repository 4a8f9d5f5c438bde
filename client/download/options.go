package download

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// RequestOption configures a [Request] built by [NewRequest].
type RequestOption func(*requestConfig) error

// WithTempPath sets the staging file data is streamed into. It must
// differ from the output path and defaults to the output path plus
// [TempSuffix]. Keeping the same temporary path between attempts is
// what makes a download resumable.
func WithTempPath(path string) RequestOption {
	return func(cfg *requestConfig) error {
		if path == "" {
			return errors.New("temp path must not be empty")
		}
		cfg.TempPath = path
		return nil
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.UserAgent = ua
		return nil
	}
}

// WithReadBufferSize sets the maximum chunk size of the transfer loop.
// Progress events and cancellation checks happen once per chunk.
func WithReadBufferSize(n int) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.ReadBufferSize = n
		return nil
	}
}

// WithWriteBufferSize sets the buffer size in front of the temporary file.
func WithWriteBufferSize(n int) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.WriteBufferSize = n
		return nil
	}
}

// WithProgress sets the receiver of transfer statistics. Use
// [MultiReceiver] to attach several.
func WithProgress(r ProgressReceiver) RequestOption {
	return func(cfg *requestConfig) error {
		if r == nil {
			return errors.New("progress receiver must not be nil")
		}
		cfg.progress = r
		return nil
	}
}

// WithChecksum sets the verification strategy.
func WithChecksum(c Checksum) RequestOption {
	return func(cfg *requestConfig) error {
		if c == nil {
			return errors.New("checksum must not be nil")
		}
		cfg.checksum = c
		return nil
	}
}

// WithRequestModifier customizes both the probe and the data request.
func WithRequestModifier(fn RequestModifier) RequestOption {
	return func(cfg *requestConfig) error {
		if fn == nil {
			return errors.New("request modifier must not be nil")
		}
		cfg.modifier = fn
		return nil
	}
}

// WithChecksumRequestModifier customizes the request fetching a [RemoteChecksum].
func WithChecksumRequestModifier(fn RequestModifier) RequestOption {
	return func(cfg *requestConfig) error {
		if fn == nil {
			return errors.New("checksum request modifier must not be nil")
		}
		cfg.checksumModify = fn
		return nil
	}
}

// /////////////////////////////////////////////////////////////////

// Option configures a [Downloader].
type Option func(*options) error

type options struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	rateLimit   int
	rateBurst   int
	progressLog time.Duration
	observers   []Observer
}

// WithLogger injects a logger for pipeline diagnostics.
// Without it the Downloader logs nothing.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		opts.logger = logger
		return nil
	}
}

// WithTracer records a span per pipeline stage.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		opts.tracer = tracer
		return nil
	}
}

// WithClock replaces the wall clock. It is consulted for the local
// timestamp of a missing temporary file and for elapsed times.
func WithClock(now func() time.Time) Option {
	return func(opts *options) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		opts.now = now
		return nil
	}
}

// WithRateLimit caps the transfer at bytesPerSecond, allowing bursts of
// up to burst bytes. A burst of zero defaults to one second worth of data.
func WithRateLimit(bytesPerSecond, burst int) Option {
	return func(opts *options) error {
		if bytesPerSecond <= 0 || burst < 0 {
			return fmt.Errorf("rate limit [%d] must be positive and burst [%d] not negative", bytesPerSecond, burst)
		}
		if burst == 0 {
			burst = bytesPerSecond
		}
		opts.rateLimit = bytesPerSecond
		opts.rateBurst = burst
		return nil
	}
}

// WithProgressLog logs transfer progress through the Downloader's
// logger at most once per interval.
func WithProgressLog(interval time.Duration) Option {
	return func(opts *options) error {
		if interval <= 0 {
			return errors.New("progress log interval must be positive")
		}
		opts.progressLog = interval
		return nil
	}
}

// WithObserver adds o to every download the Downloader runs. Observers
// are called in the order they were added.
func WithObserver(o Observer) Option {
	return func(opts *options) error {
		if o == nil {
			return errors.New("observer must not be nil")
		}
		opts.observers = append(opts.observers, o)
		return nil
	}
}
