// Package client builds the HTTP transport downloads run over and
// exposes the resumable download pipeline of
// [github.com/adamwoolhether/fetch/client/download] on top of it.
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := client.Build(
//		client.WithThrottle(10, 5),
//		client.WithLogger(logger),
//	)
//
// # Downloading Files
//
// Describe the download once, then run it. Data is streamed into a
// temporary file that survives failures, so running an equal request
// again resumes where the previous attempt stopped:
//
//	req, err := client.NewDownloadRequest(src, "/tmp/file.bin",
//		download.WithTempPath("/tmp/file.bin.part"),
//		client.WithStaticChecksum("SHA-256", digest),
//	)
//	res, err := c.Download(ctx, req)
//
// # Async Downloads
//
// [Client.DownloadAsync] returns a [download.Task] immediately:
//
//	task, err := c.DownloadAsync(ctx, req)
//	// ... poll task.BytesReceived(), or task.Cancel() ...
//	res, err := task.Wait()
//
// For multiple concurrent downloads, use [Client.Batch] to set a
// concurrency limit:
//
//	g := c.Batch(4)
//	g.Start(ctx, req1)
//	g.Start(ctx, req2)
//	err = g.Wait() // blocks until all downloads finish
package client
