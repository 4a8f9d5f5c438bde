package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adamwoolhether/fetch/client/download"
)

// Outcome label values of downloads_total and download_duration_seconds.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Collector records download metrics. It is safe for concurrent use.
type Collector struct {
	now func() time.Time

	mu      sync.Mutex
	started map[string]time.Time

	bytesReceived prometheus.Counter
	inProgress    prometheus.Gauge
	downloads     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	size          prometheus.Histogram
}

// New creates a Collector and registers its metrics with reg. A nil reg
// registers with prometheus.DefaultRegisterer.
func New(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		now:     time.Now,
		started: make(map[string]time.Time),
	}

	c.bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_received_total",
		Help:      "Bytes written to temporary files.",
	})

	c.inProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "downloads_in_progress",
		Help:      "Downloads currently transferring or verifying.",
	})

	c.downloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Finished downloads by outcome.",
	}, []string{"outcome"})

	c.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_duration_seconds",
		Help:      "Wall time from transfer start to a terminal state.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"outcome"})

	// 1KB to 1GB.
	c.size = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_size_bytes",
		Help:      "Size of published files.",
		Buckets:   prometheus.ExponentialBuckets(1024, 10, 7),
	})

	for _, col := range []prometheus.Collector{c.bytesReceived, c.inProgress, c.downloads, c.duration, c.size} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("registering metric: %w", err)
		}
	}

	return c, nil
}

// Progress implements [download.Observer].
func (c *Collector) Progress(t *download.Task) download.ProgressReceiver {
	c.mu.Lock()
	c.started[t.ID()] = c.now()
	c.mu.Unlock()

	c.inProgress.Inc()

	return download.ProgressFunc(func(s download.TransferStatistics) {
		if s.Delta > 0 {
			c.bytesReceived.Add(float64(s.Delta))
		}
	})
}

// Finished implements [download.Observer].
func (c *Collector) Finished(t *download.Task, res *download.Result, err error) {
	outcome := Outcome(err)

	c.mu.Lock()
	start, ok := c.started[t.ID()]
	delete(c.started, t.ID())
	c.mu.Unlock()

	c.downloads.WithLabelValues(outcome).Inc()

	// Tasks failing before their transfer never reached Progress.
	if ok {
		c.inProgress.Dec()
		c.duration.WithLabelValues(outcome).Observe(c.now().Sub(start).Seconds())
	}

	if res != nil {
		c.size.Observe(float64(res.Bytes))
	}
}

// Outcome maps a pipeline error to its outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, download.ErrCancelled):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
