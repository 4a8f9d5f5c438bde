package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// gatedOrigin blocks every GET until release is closed and records the
// peak number of GETs in flight.
type gatedOrigin struct {
	body    []byte
	release chan struct{}
	entered chan struct{}
	once    sync.Once

	running    atomic.Int32
	maxRunning atomic.Int32
}

func newGatedOrigin(t *testing.T, body []byte) (*gatedOrigin, *httptest.Server) {
	t.Helper()

	g := &gatedOrigin{
		body:    body,
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
	ts := httptest.NewServer(g)
	t.Cleanup(ts.Close)

	return g, ts
}

func (g *gatedOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Length", strconv.Itoa(len(g.body)))
	if r.Method == http.MethodHead {
		return
	}

	cur := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		old := g.maxRunning.Load()
		if cur <= old || g.maxRunning.CompareAndSwap(old, cur) {
			break
		}
	}
	g.once.Do(func() { close(g.entered) })

	select {
	case <-g.release:
	case <-r.Context().Done():
		return
	}

	w.Write(g.body)
}

func (g *gatedOrigin) waitEntered(t *testing.T) {
	t.Helper()

	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no download reached the origin")
	}
}

func groupRequest(t *testing.T, source, dir string, i int) *Request {
	t.Helper()
	return newRequest(t, source, filepath.Join(dir, "file-"+strconv.Itoa(i)+".bin"))
}

func TestGroup_AllSucceed(t *testing.T) {
	data := content(2048)
	_, ts := newOrigin(t, data, past)
	dir := t.TempDir()

	g := newDownloader(t).NewGroup(0)

	var tasks []*Task
	for i := range 4 {
		task, err := g.Start(t.Context(), groupRequest(t, ts.URL, dir, i))
		if err != nil {
			t.Fatalf("starting %d: %v", i, err)
		}
		tasks = append(tasks, task)
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	ids := make(map[string]bool)
	for i, task := range tasks {
		if task.State() != StateSucceeded {
			t.Errorf("task %d: expected state %s, got %s", i, StateSucceeded, task.State())
		}
		if ids[task.ID()] {
			t.Errorf("task %d: duplicate id %s", i, task.ID())
		}
		ids[task.ID()] = true

		assertFile(t, filepath.Join(dir, "file-"+strconv.Itoa(i)+".bin"), data)
	}
}

func TestGroup_Wait_JoinedErrors(t *testing.T) {
	_, good := newOrigin(t, content(100), past)
	missing := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(missing.Close)
	dir := t.TempDir()

	g := newDownloader(t).NewGroup(2)

	okTask, err := g.Start(t.Context(), groupRequest(t, good.URL, dir, 0))
	if err != nil {
		t.Fatal(err)
	}
	badTask, err := g.Start(t.Context(), groupRequest(t, missing.URL+"/a", dir, 1))
	if err != nil {
		t.Fatal(err)
	}

	err = g.Wait()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected joined ErrNotFound, got: %v", err)
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.URI != missing.URL+"/a" {
		t.Errorf("expected HTTPError for %s, got: %v", missing.URL+"/a", err)
	}

	if okTask.Err() != nil {
		t.Errorf("expected first task to succeed, got: %v", okTask.Err())
	}
	if badTask.State() != StateFailed {
		t.Errorf("expected second task %s, got %s", StateFailed, badTask.State())
	}
}

func TestGroup_ConcurrencyLimit(t *testing.T) {
	const limit = 2
	const total = 5

	o, ts := newGatedOrigin(t, content(64))
	dir := t.TempDir()

	g := newDownloader(t).NewGroup(limit)
	for i := range total {
		if _, err := g.Start(t.Context(), groupRequest(t, ts.URL, dir, i)); err != nil {
			t.Fatal(err)
		}
	}

	// Give queued downloads a chance to exceed the limit.
	o.waitEntered(t)
	time.Sleep(100 * time.Millisecond)
	close(o.release)

	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if peak := o.maxRunning.Load(); peak > limit {
		t.Errorf("max concurrent was %d, want <= %d", peak, limit)
	}
}

func TestGroup_UnlimitedConcurrency(t *testing.T) {
	const total = 6

	o, ts := newGatedOrigin(t, content(64))
	dir := t.TempDir()

	g := newDownloader(t).NewGroup(0)
	for i := range total {
		if _, err := g.Start(t.Context(), groupRequest(t, ts.URL, dir, i)); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(5 * time.Second)
	for o.running.Load() < total {
		select {
		case <-deadline:
			t.Fatalf("only %d of %d downloads ran concurrently", o.running.Load(), total)
		case <-time.After(10 * time.Millisecond):
		}
	}
	close(o.release)

	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGroup_Shutdown(t *testing.T) {
	o, ts := newGatedOrigin(t, content(64))
	dir := t.TempDir()

	g := newDownloader(t).NewGroup(1)

	var tasks []*Task
	for i := range 3 {
		task, err := g.Start(t.Context(), groupRequest(t, ts.URL, dir, i))
		if err != nil {
			t.Fatal(err)
		}
		tasks = append(tasks, task)
	}

	o.waitEntered(t)
	g.Shutdown()
	close(o.release)

	if err := g.Wait(); !errors.Is(err, ErrGroupShutdown) {
		t.Fatalf("expected ErrGroupShutdown, got: %v", err)
	}

	var succeeded, shutdown int
	for _, task := range tasks {
		switch {
		case task.Err() == nil:
			succeeded++
		case errors.Is(task.Err(), ErrGroupShutdown):
			shutdown++
			if task.State() != StateFailed {
				t.Errorf("expected state %s, got %s", StateFailed, task.State())
			}
			if task.Started() {
				t.Error("expected a shut down task to never start")
			}
			assertNotExist(t, task.Request().TempPath())
		}
	}

	if succeeded != 1 || shutdown != 2 {
		t.Errorf("got %d succeeded and %d shut down, want 1 and 2", succeeded, shutdown)
	}

	req := groupRequest(t, ts.URL, dir, 9)
	if _, err := g.Start(t.Context(), req); !errors.Is(err, ErrGroupShutdown) {
		t.Errorf("expected ErrGroupShutdown for new work, got: %v", err)
	}
	if !req.claim() {
		t.Error("a rejected request should remain unused")
	}
}

func TestGroup_ContextCancelledWhileQueued(t *testing.T) {
	o, ts := newGatedOrigin(t, content(64))
	dir := t.TempDir()

	g := newDownloader(t).NewGroup(1)

	running, err := g.Start(t.Context(), groupRequest(t, ts.URL, dir, 0))
	if err != nil {
		t.Fatal(err)
	}
	o.waitEntered(t)

	ctx, cancel := context.WithCancel(t.Context())
	queued, err := g.Start(ctx, groupRequest(t, ts.URL, dir, 1))
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	<-queued.Done()
	close(o.release)

	if err := g.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}

	if running.Err() != nil {
		t.Errorf("expected running task to succeed, got: %v", running.Err())
	}
	if queued.State() != StateFailed {
		t.Errorf("expected queued task %s, got %s", StateFailed, queued.State())
	}
	if errors.Is(queued.Err(), ErrCancelled) {
		t.Error("a task that never transferred should not report ErrCancelled")
	}
}

func TestGroup_RequestConsumed(t *testing.T) {
	_, ts := newOrigin(t, content(10), past)
	req := newRequest(t, ts.URL, filepath.Join(t.TempDir(), "file.bin"))

	g := newDownloader(t).NewGroup(0)
	if _, err := g.Start(t.Context(), req); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Start(t.Context(), req); !errors.Is(err, ErrRequestConsumed) {
		t.Errorf("expected ErrRequestConsumed, got: %v", err)
	}

	if err := g.Wait(); !errors.Is(err, ErrRequestConsumed) {
		t.Errorf("expected Wait to report ErrRequestConsumed, got: %v", err)
	}
}
