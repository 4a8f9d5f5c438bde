// Package client builds the HTTP transport downloads run over and
// exposes the download pipeline on top of it.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/adamwoolhether/fetch/client/download"
	"github.com/adamwoolhether/fetch/client/throttle"
)

// Client wraps the std-lib *http.Client
// It sets a default *http.Client and *http.Transport, which
// can be customized via optional funcs.
type Client struct {
	c      *http.Client
	logger *slog.Logger
	dl     *download.Downloader
}

func Build(optFns ...Option) (*Client, error) {
	client := &Client{
		c:      &http.Client{},
		logger: slog.New(slog.DiscardHandler),
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	// The supplied client may be shared, so it is never modified.
	if opts.client != nil {
		cc := *opts.client
		client.c = &cc
	}

	if opts.logger != nil {
		client.logger = opts.logger
	}

	if opts.timeout != nil {
		client.c.Timeout = *opts.timeout
	}

	if opts.noFollowRedirects {
		client.c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	var transport http.RoundTripper
	switch {
	case opts.rt != nil:
		transport = opts.rt
	case opts.client != nil && opts.client.Transport != nil:
		transport = opts.client.Transport
	default:
		transport = http.DefaultTransport
	}
	if opts.userAgent != "" {
		transport = userAgent{value: opts.userAgent, base: transport}
	}
	if opts.throttle != nil {
		rt, err := throttle.NewRoundTripper(opts.throttle.RPS, opts.throttle.Burst, func() *slog.Logger { return client.logger }, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		transport = rt
	}
	client.c.Transport = transport

	dlOpts := append([]download.Option{download.WithLogger(client.logger)}, opts.download...)
	dl, err := download.New(client, dlOpts...)
	if err != nil {
		return nil, fmt.Errorf("configuring downloader: %w", err)
	}
	client.dl = dl

	return client, nil
}

// Do sends req through the configured transport chain. It satisfies
// [download.Doer]; status codes are left to the caller.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exec http do: %w", err)
	}

	return resp, nil
}

// Download runs req and blocks until the file is published or the
// pipeline fails. Failures are one of [download.HTTPError],
// [download.IOError], [download.ChecksumMismatchError] or wrap
// [download.ErrCancelled].
func (c *Client) Download(ctx context.Context, req *download.Request) (*download.Result, error) {
	return c.dl.Run(ctx, req)
}

// DownloadAsync starts req in the background and returns its handle
// immediately. Use [download.Task.Wait] for the outcome and
// [download.Task.Cancel] to stop the transfer between reads.
func (c *Client) DownloadAsync(ctx context.Context, req *download.Request) (*download.Task, error) {
	return c.dl.Start(ctx, req)
}

// Batch returns a group running at most maxConcurrent downloads at
// once. If maxConcurrent <= 0, concurrency is unlimited.
func (c *Client) Batch(maxConcurrent int) *download.Group {
	return c.dl.NewGroup(maxConcurrent)
}
