package throttle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the throttler's
// Requests Per Second and Burst Rate
type Config struct {
	RPS   int
	Burst int
}

// throttle is an http.RoundTripper, using the time/rate token
// bucket limiter to restrict outbound calls.
type throttle struct {
	limiter *rate.Limiter
	rps     int
	burst   int
	next    http.RoundTripper
	logFn   func() *slog.Logger
}

// Reader is an io.Reader spending one token per byte, capping the
// throughput of a response body.
type Reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}
