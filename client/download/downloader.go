package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/adamwoolhether/fetch/client/download"

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Downloader runs download pipelines over a Doer. It is safe for
// concurrent use; every [Task] runs on its own goroutine.
type Downloader struct {
	doer        Doer
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	rateLimit   int
	rateBurst   int
	progressLog time.Duration
	observers   []Observer
}

// New returns a Downloader sending its requests through doer.
func New(doer Doer, optFns ...Option) (*Downloader, error) {
	if doer == nil {
		return nil, errors.New("doer must not be nil")
	}

	opts := options{
		logger: slog.New(slog.DiscardHandler),
		tracer: noop.NewTracerProvider().Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	return &Downloader{
		doer:        doer,
		logger:      opts.logger,
		tracer:      opts.tracer,
		now:         opts.now,
		rateLimit:   opts.rateLimit,
		rateBurst:   opts.rateBurst,
		progressLog: opts.progressLog,
		observers:   opts.observers,
	}, nil
}

// Start launches req in a new goroutine and returns its Task
// immediately. Cancelling ctx aborts blocked network I/O.
func (d *Downloader) Start(ctx context.Context, req *Request) (*Task, error) {
	t, err := d.prepare(req)
	if err != nil {
		return nil, err
	}

	go d.run(ctx, t)

	return t, nil
}

// prepare claims req and wraps it in a new Task.
func (d *Downloader) prepare(req *Request) (*Task, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if !req.claim() {
		return nil, ErrRequestConsumed
	}

	return newTask(uuid.NewString(), req), nil
}

// Run executes req and blocks until it completes.
func (d *Downloader) Run(ctx context.Context, req *Request) (*Result, error) {
	t, err := d.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	return t.Wait()
}

func (d *Downloader) run(ctx context.Context, t *Task) {
	var (
		res *Result
		err error
	)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("download panicked", "download_id", t.id, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("%w: %v", ErrInternal, r)
		}
		d.settle(t, res, err)
	}()

	res, err = d.execute(ctx, t)
}

// settle moves the task into its terminal state and resolves it.
func (d *Downloader) settle(t *Task, res *Result, err error) {
	log := d.logger.With("download_id", t.id, "url", t.req.Source())

	switch {
	case err == nil:
		t.enter(StateSucceeded)
		log.Info("download complete", "path", res.Path, "bytes", res.Bytes, "resumed", res.Resumed)

	case errors.Is(err, ErrCancelled) && t.State() == StateTransferring:
		t.enter(StateCancelled)
		log.Info("download cancelled", "path", t.req.tempPath, "bytes", t.BytesReceived())

	default:
		if !t.State().Terminal() {
			t.enter(StateFailed)
		}
		log.Error("download failed", "state", t.State(), "error", err)
	}

	if err != nil {
		res = nil
	}
	for _, o := range d.observers {
		o.Finished(t, res, err)
	}

	t.finish(res, err)
}

func (d *Downloader) execute(ctx context.Context, t *Task) (res *Result, err error) {
	req := t.req

	ctx, span := d.tracer.Start(ctx, "download", trace.WithAttributes(
		attribute.String("download.id", t.id),
		attribute.String("download.url", req.Source()),
		attribute.String("download.path", req.outputPath),
	))
	defer func() { endSpan(span, err) }()

	d.logger.Info("download started", "download_id", t.id, "url", req.Source(), "path", req.outputPath)

	t.enter(StateProbing)
	p, err := d.probe(ctx, t)
	if err != nil {
		return nil, err
	}

	if p.resume {
		t.enter(StateResuming)
		d.logger.Info("resuming", "download_id", t.id, "path", req.tempPath, "offset", p.offset)
	} else {
		t.enter(StateRestarting)
	}

	progress := req.progress
	if d.progressLog > 0 {
		progress = MultiReceiver(progress, &progressLogger{
			logger:   d.logger.With("download_id", t.id, "url", req.Source()),
			interval: d.progressLog,
		})
	}
	for _, o := range d.observers {
		progress = MultiReceiver(progress, o.Progress(t))
	}

	t.enter(StateTransferring)
	size, offset, err := d.transfer(ctx, transferSpec{
		uri:             req.Source(),
		path:            req.tempPath,
		offset:          p.offset,
		expected:        p.expected,
		skip:            p.complete,
		userAgent:       req.userAgent,
		readBufferSize:  req.readBufferSize,
		writeBufferSize: req.writeBufferSize,
		modify:          req.modifier,
		progress:        progress,
		counters:        &t.counters,
		cancelled:       t.cancelRequested,
	})
	if err != nil {
		return nil, err
	}

	t.enter(StateVerifying)
	checksumPath, err := d.verify(ctx, req)
	if err != nil {
		return nil, err
	}

	t.enter(StateFinalizing)
	if err := d.finalize(ctx, req); err != nil {
		return nil, err
	}

	return &Result{
		Path:         req.outputPath,
		ChecksumPath: checksumPath,
		Bytes:        size,
		Resumed:      offset > 0,
		ResumedFrom:  offset,
	}, nil
}

// newRequest builds an outgoing request carrying the user agent and
// the trace context of ctx. Callers apply the request modifier after
// setting their own headers.
func (d *Downloader) newRequest(ctx context.Context, method, uri, userAgent string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", userAgent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

// discard drains and closes a response body so the connection can be reused.
func (d *Downloader) discard(resp *http.Response) {
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)); err != nil {
		d.logger.Debug("draining response body", "error", err)
	}
	if err := resp.Body.Close(); err != nil {
		d.logger.Debug("closing response body", "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
