package download

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// liveCounters are written by the download goroutine and read by anyone.
type liveCounters struct {
	started  atomic.Bool
	expected atomic.Int64
	received atomic.Int64
}

// Task is the handle of an in-flight or completed download.
type Task struct {
	id  string
	req *Request

	state     atomic.Int32
	counters  liveCounters
	cancelled atomic.Bool

	once   sync.Once
	done   chan struct{}
	result *Result
	err    error
}

func newTask(id string, req *Request) *Task {
	return &Task{
		id:   id,
		req:  req,
		done: make(chan struct{}),
	}
}

// ID returns the unique identifier of the download.
func (t *Task) ID() string { return t.id }

// Request returns the request being executed.
func (t *Task) Request() *Request { return t.req }

// State returns the current pipeline stage.
func (t *Task) State() State { return State(t.state.Load()) }

// Started reports whether data has started flowing into the temporary file.
func (t *Task) Started() bool { return t.counters.started.Load() }

// BytesExpected returns the total size of the resource, 0 before the
// transfer started and -1 if the server did not report it.
func (t *Task) BytesExpected() int64 { return t.counters.expected.Load() }

// BytesReceived returns the number of bytes in the temporary file,
// including a resumed prefix.
func (t *Task) BytesReceived() int64 { return t.counters.received.Load() }

// Cancel asks the transfer to stop before its next read. It never
// interrupts a read in progress and has no effect once the transfer
// finished. The partial temporary file is kept.
func (t *Task) Cancel() { t.cancelled.Store(true) }

func (t *Task) cancelRequested() bool { return t.cancelled.Load() }

// Done returns a channel that is closed when the download completes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the download completes. Exactly one of the return
// values is non-nil.
func (t *Task) Wait() (*Result, error) {
	<-t.done
	return t.result, t.err
}

// Err blocks until the download completes and returns its error.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// enter moves the task to next. An edge the state machine does not
// allow is a programming error.
func (t *Task) enter(next State) {
	for {
		cur := State(t.state.Load())
		if !cur.canTransition(next) {
			panic(fmt.Sprintf("download: illegal state transition %s -> %s", cur, next))
		}
		if t.state.CompareAndSwap(int32(cur), int32(next)) {
			return
		}
	}
}

// finish resolves the task exactly once.
func (t *Task) finish(res *Result, err error) {
	t.once.Do(func() {
		if err != nil {
			res = nil
		}
		t.result = res
		t.err = err
		close(t.done)
	})
}
