// Package throttle limits outbound HTTP traffic using the token-bucket
// algorithm from [golang.org/x/time/rate].
//
// # Requests
//
// Wrap an existing transport with [NewRoundTripper] to cap the number
// of requests per second:
//
//	rt, err := throttle.NewRoundTripper(
//		10,  // requests per second
//		5,   // burst capacity
//		func() *slog.Logger { return slog.Default() },
//		http.DefaultTransport,
//	)
//	httpClient := &http.Client{Transport: rt}
//
// When the rate limit is exceeded, outbound requests block until a
// token becomes available or the request context is cancelled.
//
// # Bytes
//
// [NewReader] caps the throughput of a response body, spending one
// token per byte:
//
//	body := throttle.NewReader(ctx, resp.Body, 512<<10, 64<<10)
package throttle
