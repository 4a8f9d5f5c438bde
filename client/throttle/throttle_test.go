package throttle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRoundTripper_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		rps    int
		burst  int
		expErr error
	}{
		{name: "zero rps", rps: 0, burst: 10, expErr: ErrMustNotBeZero},
		{name: "negative rps", rps: -5, burst: 10, expErr: ErrMustNotBeZero},
		{name: "zero burst", rps: 10, burst: 0, expErr: ErrMustNotBeZero},
		{name: "negative burst", rps: 10, burst: -5, expErr: ErrMustNotBeZero},
		{name: "valid", rps: 10, burst: 20},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt, err := NewRoundTripper(tc.rps, tc.burst, nil, http.DefaultTransport)

			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) {
					t.Errorf("exp err %v; got: %v", tc.expErr, err)
				}
				return
			}

			if err != nil {
				t.Errorf("exp nil err, got: %v", err)
			}
			if rt == nil {
				t.Error("exp non-nil RoundTripper")
			}
		})
	}
}

func TestRoundTripper_WithinBurst(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rt, err := NewRoundTripper(5, 5, func() *slog.Logger { return nil }, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rt}

	start := time.Now()

	var wg sync.WaitGroup
	for range 5 {
		wg.Go(func() {
			req, err := http.NewRequestWithContext(t.Context(), http.MethodHead, server.URL, nil)
			if err != nil {
				t.Error(err)
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			resp.Body.Close()
		})
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("requests within burst should not wait, took %v", elapsed)
	}
	if got := calls.Load(); got != 5 {
		t.Errorf("expected 5 server calls, got %d", got)
	}
}

func TestRoundTripper_WaitExceedsDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rt, err := NewRoundTripper(1, 1, func() *slog.Logger { return slog.New(slog.DiscardHandler) }, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rt}

	do := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	if err := do(t.Context()); err != nil {
		t.Fatalf("first request should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	err = do(ctx)
	if !errors.Is(err, ErrWaitingFailed) {
		t.Errorf("expected ErrWaitingFailed, got: %v", err)
	}
}

func TestRoundTripper_LogsQueuedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	rt, err := NewRoundTripper(20, 1, func() *slog.Logger { return logger }, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rt}

	uri := server.URL + "/file.bin"
	for range 2 {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, uri, nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Range", "bytes=10-")
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		resp.Body.Close()
	}

	logs := buf.String()
	for _, want := range []string{
		`"msg":"request queued by throttle"`,
		`"msg":"request released by throttle"`,
		`"url":"` + uri + `"`,
		`"range":"bytes=10-"`,
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("expected logs to contain %s, got:\n%s", want, logs)
		}
	}
	if n := strings.Count(logs, "request queued by throttle"); n != 1 {
		t.Errorf("expected only the second request to queue, got %d queued entries", n)
	}
}

func TestRoundTripper_PreCancelledContext(t *testing.T) {
	rt, err := NewRoundTripper(10, 10, nil, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = rt.RoundTrip(req)
	if !errors.Is(err, ErrContextEnded) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected ErrContextEnded wrapping context.Canceled, got: %v", err)
	}
}

func TestReader_LimitsThroughput(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 300)

	// 100 bytes of burst, then 1000 bytes/s for the remaining 200.
	r := NewReader(t.Context(), bytes.NewReader(data), 1000, 100)

	start := time.Now()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	elapsed := time.Since(start)

	if !bytes.Equal(got, data) {
		t.Errorf("expected %d bytes, got %d", len(data), len(got))
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("expected reads to be slowed to ~200ms, took %v", elapsed)
	}
}

func TestReader_ChunksCappedAtBurst(t *testing.T) {
	r := NewReader(t.Context(), bytes.NewReader(make([]byte, 64)), 1<<20, 16)

	buf := make([]byte, 64)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if n != 16 {
		t.Errorf("expected read capped at burst 16, got %d", n)
	}
}

func TestReader_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	r := NewReader(ctx, bytes.NewReader(make([]byte, 10)), 1, 1)

	_, err := r.Read(make([]byte, 1))
	if !errors.Is(err, ErrWaitingFailed) {
		t.Errorf("expected ErrWaitingFailed, got: %v", err)
	}
}
