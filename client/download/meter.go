package download

import (
	"sync"
	"time"
)

// DefaultWindow is the number of trailing seconds a [Meter] averages over.
const DefaultWindow = 3

// Meter is a ProgressReceiver estimating throughput over a sliding window
// of whole seconds. Each second owns a slot in a ring buffer; the average
// is the sum of all slots divided by the window length, so idle seconds
// pull the estimate down. A Meter observes exactly one transfer.
//
// Meter is safe for concurrent use.
type Meter struct {
	mu       sync.Mutex
	now      func() time.Time
	slots    []int64
	index    int
	second   int64
	received int64
	expected int64
}

// MeterOption configures a [Meter].
type MeterOption func(*Meter)

// WithMeterClock replaces the wall clock used to bucket deltas.
func WithMeterClock(now func() time.Time) MeterOption {
	return func(m *Meter) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMeter returns a Meter averaging over the given number of seconds.
// Values below one fall back to [DefaultWindow].
func NewMeter(seconds int, opts ...MeterOption) *Meter {
	if seconds < 1 {
		seconds = DefaultWindow
	}

	m := &Meter{
		now:   time.Now,
		slots: make([]int64, seconds),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Receive implements [ProgressReceiver].
func (m *Meter) Receive(s TransferStatistics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	if now != m.second {
		m.second = now
		m.index = (m.index + 1) % len(m.slots)
		m.slots[m.index] = 0
	}

	m.slots[m.index] += s.Delta
	m.received = s.Received
	m.expected = s.Expected
}

// Received returns the last reported total of received bytes.
func (m *Meter) Received() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.received
}

// Expected returns the last reported total size, -1 if unknown.
func (m *Meter) Expected() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.expected
}

// Remaining returns the number of bytes still to be received, or -1
// when the total size is unknown.
func (m *Meter) Remaining() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.remaining()
}

// BytesPerSecond returns the average throughput over the window.
func (m *Meter) BytesPerSecond() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.average()
}

// ETA returns the estimated time until completion. The second return
// value is false when the average throughput is zero or the total size
// is unknown, in which case the transfer never completes at this rate.
func (m *Meter) ETA() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := m.average()
	remaining := m.remaining()
	if avg <= 0 || remaining < 0 {
		return 0, false
	}

	return time.Duration(remaining/avg) * time.Second, true
}

func (m *Meter) average() int64 {
	var sum int64
	for _, v := range m.slots {
		sum += v
	}

	return sum / int64(len(m.slots))
}

func (m *Meter) remaining() int64 {
	if m.expected < 0 {
		return -1
	}

	return max(m.expected-m.received, 0)
}
