package metrics_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/adamwoolhether/fetch/client/download"
	"github.com/adamwoolhether/fetch/client/metrics"
)

func newCollector(t *testing.T) (*metrics.Collector, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	m, err := metrics.New("test", reg)
	if err != nil {
		t.Fatalf("creating collector: %v", err)
	}

	return m, reg
}

func run(t *testing.T, m *metrics.Collector, source string) error {
	t.Helper()

	d, err := download.New(http.DefaultClient, download.WithObserver(m))
	if err != nil {
		t.Fatal(err)
	}

	req, err := download.NewRequest(source, filepath.Join(t.TempDir(), "file.bin"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.Run(t.Context(), req)
	return err
}

func TestCollector_Success(t *testing.T) {
	data := bytes.Repeat([]byte("m"), 3000)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f", time.Time{}, bytes.NewReader(data))
	}))
	defer ts.Close()

	m, reg := newCollector(t)

	for range 2 {
		if err := run(t, m, ts.URL); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
	}

	expected := `
# HELP test_downloads_total Finished downloads by outcome.
# TYPE test_downloads_total counter
test_downloads_total{outcome="succeeded"} 2
# HELP test_bytes_received_total Bytes written to temporary files.
# TYPE test_bytes_received_total counter
test_bytes_received_total 6000
# HELP test_downloads_in_progress Downloads currently transferring or verifying.
# TYPE test_downloads_in_progress gauge
test_downloads_in_progress 0
`
	if err := testutil.GatherAndCompare(reg, bytes.NewBufferString(expected),
		"test_downloads_total", "test_bytes_received_total", "test_downloads_in_progress"); err != nil {
		t.Error(err)
	}

	if got, err := testutil.GatherAndCount(reg, "test_download_size_bytes"); err != nil || got != 1 {
		t.Errorf("expected one size histogram, got %d (err: %v)", got, err)
	}
}

func TestCollector_FailureBeforeTransfer(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	m, reg := newCollector(t)

	if err := run(t, m, ts.URL); !errors.Is(err, download.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	expected := `
# HELP test_downloads_total Finished downloads by outcome.
# TYPE test_downloads_total counter
test_downloads_total{outcome="failed"} 1
# HELP test_downloads_in_progress Downloads currently transferring or verifying.
# TYPE test_downloads_in_progress gauge
test_downloads_in_progress 0
`
	if err := testutil.GatherAndCompare(reg, bytes.NewBufferString(expected),
		"test_downloads_total", "test_downloads_in_progress"); err != nil {
		t.Error(err)
	}

	// No transfer ran, so no duration was observed.
	if got, err := testutil.GatherAndCount(reg, "test_download_duration_seconds"); err != nil || got != 0 {
		t.Errorf("expected no duration series, got %d (err: %v)", got, err)
	}
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	if _, err := metrics.New("dup", reg); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if _, err := metrics.New("dup", reg); err == nil {
		t.Error("expected error registering the same namespace twice")
	}
}

func TestOutcome(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{err: nil, want: metrics.OutcomeSucceeded},
		{err: download.ErrCancelled, want: metrics.OutcomeCancelled},
		{err: fmt.Errorf("%w: %w", download.ErrCancelled, context.Canceled), want: metrics.OutcomeCancelled},
		{err: &download.HTTPError{StatusCode: http.StatusNotFound}, want: metrics.OutcomeFailed},
		{err: download.ErrShortTransfer, want: metrics.OutcomeFailed},
	}

	for _, tc := range testCases {
		if got := metrics.Outcome(tc.err); got != tc.want {
			t.Errorf("Outcome(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
