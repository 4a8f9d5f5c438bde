package throttle

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// NewRoundTripper returns an http.RoundTripper that throttles outbound requests
// using a token bucket rate limiter. logFn lazily resolves the logger at request
// time, making option ordering irrelevant. A nil-returning logFn disables
// logging of queued requests.
func NewRoundTripper(rps, burst int, logFn func() *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	t := &throttle{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
		next:    next,
		logFn:   logFn,
	}

	return t, nil
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	// Tokens does not consume, unlike Allow.
	var (
		logger = t.logFn()
		queued = logger != nil && t.limiter.Tokens() < 1
		start  time.Time
		attrs  []any
	)
	if queued {
		start = time.Now()
		attrs = requestAttrs(r)
		logger.Info("request queued by throttle", append(attrs, "rps", t.rps, "burst", t.burst)...)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil { // Check context hasn't expired again.
		return nil, fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	if queued {
		logger.Info("request released by throttle", append(attrs, "waited", time.Since(start).String())...)
	}

	return t.next.RoundTrip(r)
}

// requestAttrs identifies the download a throttled request belongs to.
func requestAttrs(r *http.Request) []any {
	attrs := []any{"method", r.Method, "url", r.URL.Redacted()}
	if rng := r.Header.Get("Range"); rng != "" {
		attrs = append(attrs, "range", rng)
	}

	return attrs
}
