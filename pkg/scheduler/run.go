package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	// Packages
	otel "github.com/mutablelogic/go-client/pkg/otel"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	semaphore "golang.org/x/sync/semaphore"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// run is the state of a single Run call. Everything except the fields
// guarded by mu is owned by the loop goroutine.
type run struct {
	*Scheduler
	chunks    []*schema.Chunk
	pending   int   // chunks which must succeed, fixed when the run starts
	completed int   // chunks which have succeeded
	failures  []int // failure count per chunk
	attempts  []int // attempt number per chunk, to discard stale progress
	permits   *semaphore.Weighted
	events    chan event
	result    chan error
	resolved  bool
	done      chan struct{}

	mu       sync.Mutex
	stopped  bool
	inflight map[int]context.CancelCauseFunc
}

// event is sent by a request goroutine to the loop
type event struct {
	pos, attempt  int
	loaded, total int64
	final         bool
	aborted       bool
	err           error
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

var errStalled = errors.New("no chunk can be started")

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newRun(s *Scheduler, chunks []*schema.Chunk) *run {
	r := &run{
		Scheduler: s,
		chunks:    chunks,
		failures:  make([]int, len(chunks)),
		attempts:  make([]int, len(chunks)),
		permits:   semaphore.NewWeighted(int64(s.concurrency)),
		events:    make(chan event, s.concurrency*4),
		result:    make(chan error, 1),
		done:      make(chan struct{}),
		inflight:  make(map[int]context.CancelCauseFunc, s.concurrency),
	}

	// The target is counted once, so retries do not move it
	for _, chunk := range chunks {
		if chunk.Pending() {
			r.pending++
		}
	}

	return r
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (r *run) loop(ctx context.Context) {
	defer close(r.done)

	r.logger.DebugContext(ctx, "run started", "chunks", len(r.chunks), "pending", r.pending, "concurrency", r.concurrency)
	r.publish()
	r.admit(ctx)

	cancelled := ctx.Done()
	for !r.finished(ctx) {
		select {
		case evt := <-r.events:
			if r.handle(ctx, evt) {
				r.admit(ctx)
			}
		case <-cancelled:
			cancelled = nil
			r.abort()
			r.resolve(ctx.Err())
		}
	}
}

// finished resolves the run when its outcome is known, and reports whether
// the loop can exit
func (r *run) finished(ctx context.Context) bool {
	inflight := r.count()
	switch {
	case r.completed >= r.pending:
		r.logger.DebugContext(ctx, "run completed", "chunks", r.completed)
		r.resolve(nil)
	case inflight > 0:
		return false
	case r.isStopped():
		r.resolve(fmt.Errorf("%w: %d of %d chunks outstanding", schema.ErrAborted, r.pending-r.completed, r.pending))
	default:
		r.resolve(errStalled)
	}
	return inflight == 0
}

// handle applies an event to the chunks, and reports whether more work
// should be admitted
func (r *run) handle(ctx context.Context, evt event) bool {
	chunk := r.chunks[evt.pos]

	// Progress from the current attempt only
	if !evt.final {
		if evt.attempt == r.attempts[evt.pos] && chunk.Status == schema.StatusUploading {
			chunk.Progress = schema.NewChunkProgress(evt.loaded, evt.total)
			r.publish()
		}
		return false
	}

	// Release the permit before deciding on more work
	r.release(evt.pos)
	defer r.publish()

	switch {
	case evt.err == nil:
		chunk.MarkSuccess()
		r.completed++
		r.counters.success(ctx, chunk)
		r.logger.DebugContext(ctx, "chunk uploaded", "chunk", chunk.ChunkName, "completed", r.completed, "pending", r.pending)
		return true
	case evt.aborted:
		chunk.MarkReady()
		r.counters.abort(ctx, chunk)
		r.logger.DebugContext(ctx, "chunk aborted", "chunk", chunk.ChunkName)
		return false
	}

	chunk.MarkError()
	r.failures[evt.pos]++
	n := r.failures[evt.pos]
	if n >= r.retries {
		r.logger.ErrorContext(ctx, "chunk failed", "chunk", chunk.ChunkName, "failures", n, "error", evt.err)
		r.resolve(fmt.Errorf("%w: chunk %q failed %d times: %w", schema.ErrRetryExhausted, chunk.ChunkName, n, evt.err))
		return false
	}
	r.logger.WarnContext(ctx, "chunk failed, retrying", "chunk", chunk.ChunkName, "failures", n, "error", evt.err)
	r.counters.retry(ctx, chunk)
	return true
}

// admit starts eligible chunks, in index order, while permits remain
func (r *run) admit(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.completed < r.pending && !r.stopped {
		pos := r.next()
		if pos < 0 {
			return
		}
		if !r.permits.TryAcquire(1) {
			return
		}
		r.start(ctx, pos)
	}
}

// next returns the position of the first chunk with status READY or ERROR
func (r *run) next() int {
	for pos, chunk := range r.chunks {
		if chunk.Pending() {
			return pos
		}
	}
	return -1
}

// start issues the request for a chunk. It is called with mu held.
func (r *run) start(ctx context.Context, pos int) {
	chunk := r.chunks[pos]
	chunk.Status = schema.StatusUploading
	r.attempts[pos]++
	attempt := r.attempts[pos]

	reqCtx, cancel := context.WithCancelCause(ctx)
	r.inflight[pos] = cancel

	r.logger.DebugContext(ctx, "chunk started", "chunk", chunk.ChunkName, "attempt", attempt)

	// The request works on a copy, so it never races with the loop
	req := chunk.Clone()
	go func() {
		defer cancel(nil)

		child, endFunc := otel.StartSpan(r.tracer, reqCtx, spanName("UploadChunk"))
		err := r.transport.UploadChunk(child, &req, func(loaded, total int64) {
			r.send(event{pos: pos, attempt: attempt, loaded: loaded, total: total})
		})
		endFunc(err)

		// Aborted requests are told apart from failures by the cancel cause
		aborted := err != nil && (errors.Is(context.Cause(reqCtx), schema.ErrAborted) || ctx.Err() != nil)
		r.send(event{pos: pos, attempt: attempt, final: true, aborted: aborted, err: err})
	}()
}

// release removes a chunk from the in-flight set and returns its permit
func (r *run) release(pos int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inflight[pos]; exists {
		delete(r.inflight, pos)
		r.permits.Release(1)
	}
}

// send delivers an event unless the loop has already exited
func (r *run) send(evt event) {
	select {
	case r.events <- evt:
	case <-r.done:
	}
}

// publish sends a snapshot to the progress subscriber
func (r *run) publish() {
	if r.progress != nil {
		r.progress(schema.Snapshot(r.chunks))
	}
}

// resolve returns the outcome of the run to the caller. Only the first
// outcome is returned, and no new chunks are started afterwards.
func (r *run) resolve(err error) {
	if r.resolved {
		return
	}
	r.resolved = true
	r.stop()
	r.result <- err
}

// abort cancels every request in flight and stops admission
func (r *run) abort() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for _, cancel := range r.inflight {
		cancel(schema.ErrAborted)
	}
	return len(r.inflight)
}

func (r *run) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

func (r *run) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *run) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *run) drained() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
