package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/fetch/client/download"
	"github.com/adamwoolhether/fetch/client/metrics"
	"github.com/adamwoolhether/fetch/client/throttle"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error
type options struct {
	client            *http.Client
	rt                http.RoundTripper
	timeout           *time.Duration
	userAgent         string
	throttle          *throttle.Config
	noFollowRedirects bool
	logger            *slog.Logger
	download          []download.Option
}

// WithClient replaces the default [http.Client] used by the [Client].
// The [Client] works on a copy, so hc itself is not modified.
func WithClient(hc *http.Client) Option {
	return func(c *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		c.client = hc
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		c.rt = rt
		return nil
	}
}

// WithTimeout sets the overall request timeout on the underlying [http.Client].
// The timeout covers reading the whole body, so large downloads usually
// want zero (no timeout) and a context deadline instead.
func WithTimeout(d time.Duration) Option {
	return func(c *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		c.timeout = &d
		return nil
	}
}

// WithUserAgent forces the User-Agent header of all outgoing requests,
// overriding the one carried by a [download.Request].
func WithUserAgent(header string) Option {
	return func(c *options) error {
		c.userAgent = header
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(c *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		c.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithNoFollowRedirects prevents the [Client] from following HTTP redirects.
func WithNoFollowRedirects() Option {
	return func(c *options) error {
		c.noFollowRedirects = true
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client] and its
// downloads. Without it nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTracer records a span per download pipeline stage.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		c.download = append(c.download, download.WithTracer(tracer))
		return nil
	}
}

// WithRateLimit caps the throughput of every transfer at bytesPerSecond.
func WithRateLimit(bytesPerSecond, burst int) Option {
	return func(c *options) error {
		c.download = append(c.download, download.WithRateLimit(bytesPerSecond, burst))
		return nil
	}
}

// WithProgressLog logs transfer progress at most once per interval.
func WithProgressLog(interval time.Duration) Option {
	return func(c *options) error {
		c.download = append(c.download, download.WithProgressLog(interval))
		return nil
	}
}

// WithMetrics records every download in m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *options) error {
		if m == nil {
			return errors.New("metrics collector must not be nil")
		}
		c.download = append(c.download, download.WithObserver(m))
		return nil
	}
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}
