// Package metrics exports download progress and outcomes as Prometheus
// metrics.
//
// A [Collector] is a [download.Observer]; register it with
// [download.WithObserver] or client.WithMetrics and every download run by
// that Downloader is counted:
//
//	reg := prometheus.NewRegistry()
//	m, err := metrics.New("fetch", reg)
//	if err != nil {
//		return err
//	}
//	c, err := client.Build(client.WithMetrics(m))
//
// Metric names are prefixed with the namespace passed to [New]:
//
//   - {ns}_bytes_received_total: bytes written to temporary files
//   - {ns}_downloads_in_progress: downloads between start and a terminal state
//   - {ns}_downloads_total{outcome}: finished downloads by outcome
//   - {ns}_download_duration_seconds{outcome}: wall time of finished downloads
//   - {ns}_download_size_bytes: size of published files
package metrics
