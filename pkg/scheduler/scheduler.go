// Package scheduler uploads a sequence of chunks through a bounded pool of
// concurrent requests, retrying failed chunks up to a limit.
//
// A run owns the status and progress of every chunk it is given. Requests
// execute on their own goroutines and report back over a channel, so chunk
// state is only ever mutated by the run goroutine. Subscribers receive
// snapshots of the chunks, never the chunks themselves.
package scheduler

import (
	"context"
	"sync"

	// Packages
	otel "github.com/mutablelogic/go-client/pkg/otel"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Transport uploads the bytes of a single chunk. UploadChunk must report
// cumulative bytes sent through progress, must return promptly when ctx is
// cancelled and must return nil only when the remote service accepted the
// chunk.
type Transport interface {
	UploadChunk(ctx context.Context, chunk *schema.Chunk, progress func(loaded, total int64)) error
}

// Scheduler runs chunk uploads. A scheduler executes at most one run at a
// time; a new run waits until every request of the previous run has
// reported back.
type Scheduler struct {
	opt
	transport Transport
	counters  *counters

	mu  sync.Mutex
	run *run
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New returns a scheduler which uploads chunks through transport.
func New(transport Transport, opts ...Opt) (*Scheduler, error) {
	self := new(Scheduler)
	self.transport = transport

	// Apply options
	if opt, err := applyOpts(opts); err != nil {
		return nil, err
	} else {
		self.opt = opt
	}

	// Create the counters
	if counters, err := newCounters(self.meter); err != nil {
		return nil, err
	} else {
		self.counters = counters
	}

	// Return success
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Run uploads every chunk with status READY or ERROR, and returns nil once
// all of them have been accepted. Chunks with status SUCCESS are skipped.
//
// Run returns an error wrapping schema.ErrRetryExhausted as soon as a chunk
// fails as many times as the retry limit allows. Requests still in flight at
// that point are left running, but no further chunks are started; call Abort
// to stop them. Run returns an error wrapping schema.ErrAborted when Abort
// stops the run, and the context error when ctx is cancelled. Aborted chunks
// return to READY, so a later Run over the same chunks resumes the upload.
func (s *Scheduler) Run(ctx context.Context, chunks []*schema.Chunk) (result error) {
	ctx, endFunc := otel.StartSpan(s.tracer, ctx, spanName("Run"))
	defer func() { endFunc(result) }()

	// Wait for any previous run to drain, then install this one
	r := newRun(s, chunks)
	for {
		s.mu.Lock()
		prev := s.run
		if prev == nil || prev.drained() {
			s.run = r
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Run until the outcome is known
	go r.loop(ctx)
	return <-r.result
}

// Abort cancels every request in flight and stops the current run from
// starting new ones. Aborted chunks are reset to READY and are not counted as
// failures. It returns the number of requests which were cancelled.
func (s *Scheduler) Abort() int {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.abort()
}

// Inflight returns the number of requests currently outstanding.
func (s *Scheduler) Inflight() int {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Done returns a channel which is closed once every request of the current
// run has reported back. The channel is already closed when nothing has run.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.run.done
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func spanName(op string) string {
	return schema.SchemaName + ".scheduler." + op
}
