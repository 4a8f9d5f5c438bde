// Package download fetches a single HTTP resource into a local file,
// resuming interrupted transfers, verifying checksums and publishing
// the result atomically.
//
// # Pipeline
//
// A [Downloader] runs every [Request] through the same stages:
//
//  1. A HEAD request probes the server for the resource length, its
//     Last-Modified time and byte range support.
//  2. The temporary file of a previous attempt is kept when the server
//     serves ranges and the resource did not change since the file was
//     last written. Otherwise it is deleted.
//  3. A GET, with "Range: bytes=<offset>-" when resuming, streams the
//     body into the temporary file chunk by chunk.
//  4. The temporary file is checked against the request's [Checksum].
//  5. The temporary file is renamed onto the output path.
//
// Any failure stops the pipeline and leaves the temporary file on
// disk, so a new Request with the same paths picks up where this one
// stopped.
//
// # Usage
//
//	d, err := download.New(http.DefaultClient, download.WithLogger(logger))
//	req, err := download.NewRequest(src, "/tmp/file.bin",
//		download.WithProgress(download.NewMeter(download.DefaultWindow)),
//	)
//	task, err := d.Start(ctx, req)
//	res, err := task.Wait()
//
// Most callers should use the higher-level
// [github.com/adamwoolhether/fetch/client] package, which provides a
// configured transport.
package download
