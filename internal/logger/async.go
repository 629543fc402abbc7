package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

const (
	defaultAsyncBuffer  = 10000
	defaultAsyncWorkers = 1
)

// entry is a queued record together with the handler that formats it, so
// that derived handlers (With, WithGroup) share one queue.
type entry struct {
	handler slog.Handler
	ctx     context.Context
	rec     slog.Record
}

type asyncQueue struct {
	ch      chan entry
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

// AsyncHandler hands records to a pool of workers through a buffered
// queue. Records are dropped, and counted, when the queue is full.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler creates an AsyncHandler with the given queue capacity and
// worker count. Non-positive values select defaults.
func NewAsyncHandler(inner slog.Handler, buffer, workers int) *AsyncHandler {
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}
	if workers <= 0 {
		workers = defaultAsyncWorkers
	}
	q := &asyncQueue{ch: make(chan entry, buffer)}
	for range workers {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (q *asyncQueue) drain() {
	defer q.wg.Done()
	for e := range q.ch {
		_ = e.handler.Handle(e.ctx, e.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. The record's context is kept only for its
// values; cancellation does not reach the worker.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.q.ch <- entry{handler: h.inner, ctx: context.WithoutCancel(ctx), rec: rec.Clone()}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup returns a handler sharing the same queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close stops accepting records and waits for the queue to drain. It is
// safe to call more than once; Handle must not be called after Close.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		close(h.q.ch)
		h.q.wg.Wait()
	})
}
