package download

import (
	"fmt"
	"log/slog"
	"time"
)

// TransferStatistics is a snapshot passed to a [ProgressReceiver] once
// before the first read, after every chunk and once after the transfer.
type TransferStatistics struct {
	// Received is the number of bytes in the temporary file so far,
	// including any resumed prefix.
	Received int64
	// Delta is the number of bytes read since the previous event.
	Delta int64
	// Expected is the total size of the resource, -1 if unknown.
	Expected int64
	// Elapsed is the time since the transfer started.
	Elapsed time.Duration
}

// ProgressReceiver observes a transfer. Receive is called on the
// download goroutine and must not block.
type ProgressReceiver interface {
	Receive(TransferStatistics)
}

// ProgressFunc adapts a function to a [ProgressReceiver].
type ProgressFunc func(TransferStatistics)

func (f ProgressFunc) Receive(s TransferStatistics) { f(s) }

// Observer watches every download of a [Downloader], next to the
// receiver carried by each Request.
type Observer interface {
	// Progress returns the receiver for t's main transfer. It is called
	// once, right before the transfer starts.
	Progress(t *Task) ProgressReceiver
	// Finished is called once t has reached a terminal state, before
	// its waiters are released.
	Finished(t *Task, res *Result, err error)
}

type discardProgress struct{}

func (discardProgress) Receive(TransferStatistics) {}

type multiReceiver []ProgressReceiver

func (m multiReceiver) Receive(s TransferStatistics) {
	for _, r := range m {
		r.Receive(s)
	}
}

// MultiReceiver fans every event out to receivers in order. Nil
// receivers are skipped.
func MultiReceiver(receivers ...ProgressReceiver) ProgressReceiver {
	var m multiReceiver
	for _, r := range receivers {
		if r != nil {
			m = append(m, r)
		}
	}

	switch len(m) {
	case 0:
		return discardProgress{}
	case 1:
		return m[0]
	}

	return m
}

// progressLogger is a ProgressReceiver logging download progress at
// most once per interval, plus once when the transfer completes.
type progressLogger struct {
	logger   *slog.Logger
	interval time.Duration
	lastLog  time.Duration
	logged   bool
}

func (pl *progressLogger) Receive(s TransferStatistics) {
	if !pl.logged || s.Elapsed-pl.lastLog >= pl.interval {
		pl.logged = true
		pl.lastLog = s.Elapsed
		pl.log("downloading", s)
	}

	if s.Expected >= 0 && s.Received == s.Expected && s.Delta == 0 && s.Elapsed > 0 {
		pl.log("transfer complete", s)
	}
}

func (pl *progressLogger) log(msg string, s TransferStatistics) {
	attrs := []any{
		"elapsed", s.Elapsed.Round(time.Millisecond),
		"received", s.Received,
		"expected", s.Expected,
	}
	if s.Expected > 0 {
		attrs = append(attrs, "progress", fmt.Sprintf("%.1f%%", float64(s.Received)/float64(s.Expected)*100))
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		attrs = append(attrs, "mbps", fmt.Sprintf("%.2f", float64(s.Received)/secs/(1024*1024)))
	}
	pl.logger.Info(msg, attrs...)
}
