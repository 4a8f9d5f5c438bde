package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Group runs a batch of independent downloads with an optional
// concurrency limit. Every download keeps its own temporary file,
// counters and receivers; the group only gates when they start.
type Group struct {
	d        *Downloader
	wg       sync.WaitGroup
	mu       sync.Mutex
	sem      *semaphore.Weighted
	shutdown atomic.Bool
	errs     []error
}

// NewGroup creates a Group running at most maxConcurrent downloads at
// once. If maxConcurrent <= 0, concurrency is unlimited.
func (d *Downloader) NewGroup(maxConcurrent int) *Group {
	g := &Group{d: d}
	if maxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return g
}

// Start queues req and returns its Task immediately. The pipeline
// begins once a slot is free. A task still waiting for a slot when
// ctx ends, or when the group is shut down, fails without touching
// the file system. A shut down group accepts no new requests.
func (g *Group) Start(ctx context.Context, req *Request) (*Task, error) {
	if g.shutdown.Load() {
		return nil, ErrGroupShutdown
	}

	t, err := g.d.prepare(req)
	if err != nil {
		g.recordErr(err)
		return nil, err
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		if err := g.acquire(ctx); err != nil {
			g.d.settle(t, nil, err)
			g.recordErr(fmt.Errorf("%s: %w", req.Source(), err))
			return
		}
		defer g.release()

		g.d.run(ctx, t)
		if err := t.Err(); err != nil {
			g.recordErr(fmt.Errorf("%s: %w", req.Source(), err))
		}
	}()

	return t, nil
}

// Wait blocks until all downloads in the group complete.
// Returns all errors joined via errors.Join.
func (g *Group) Wait() error {
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()

	return errors.Join(g.errs...)
}

// Shutdown prevents queued downloads from starting. Downloads
// already running are not affected.
func (g *Group) Shutdown() {
	g.shutdown.Store(true)
}

func (g *Group) acquire(ctx context.Context) error {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}

	if g.shutdown.Load() {
		g.release()
		return ErrGroupShutdown
	}

	return nil
}

func (g *Group) release() {
	if g.sem != nil {
		g.sem.Release(1)
	}
}

// recordErr appends err to the group's error slice under the mutex.
func (g *Group) recordErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs = append(g.errs, err)
}
