// Package fetch downloads files over HTTP with resumption, checksum
// verification and atomic publication.
//
// The heavy lifting lives in [client] and [download]; this package only
// offers the shortest path to a configured client.
package fetch

import (
	"context"

	"github.com/adamwoolhether/fetch/client"
	"github.com/adamwoolhether/fetch/client/download"
)

// NewClient instantiates a new *Client with the provided options.
// If not specified, a fresh http.Client over http.DefaultTransport is used.
func NewClient(opts ...client.Option) (*client.Client, error) {
	return client.Build(opts...)
}

// Download fetches source into outputPath with a default client.
func Download(ctx context.Context, source, outputPath string, opts ...download.RequestOption) (*download.Result, error) {
	c, err := client.Build()
	if err != nil {
		return nil, err
	}

	req, err := download.NewRequest(source, outputPath, opts...)
	if err != nil {
		return nil, err
	}

	return c.Download(ctx, req)
}
