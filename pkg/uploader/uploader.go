// Package uploader uploads a file to a remote service, either in a single
// request or as a sequence of chunks which can be paused and resumed.
//
// A chunked upload partitions the file, computes its content hash and asks
// the service which parts it already holds. A file the service already
// stores completes without sending any bytes. Otherwise the chunks the
// service holds are skipped and the rest are uploaded through a bounded pool
// of concurrent requests. When a chunk fails too often, the upload pauses and
// can be resumed with Proceed, without hashing the file again.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	// Packages
	chunk "github.com/mutablelogic/go-uploader/pkg/chunk"
	scheduler "github.com/mutablelogic/go-uploader/pkg/scheduler"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Transport is the remote service: an existence check, a single-shot upload
// and a chunk upload. Uploads return nil only when the service accepted the
// bytes.
type Transport interface {
	scheduler.Transport

	// Prepare reports whether the service stores a file with the given size
	// and content hash, and if not, which of its chunks it stores
	Prepare(ctx context.Context, req schema.PrepareRequest) (*schema.PrepareResponse, error)

	// UploadFile uploads size bytes from r as the named file
	UploadFile(ctx context.Context, name string, r io.Reader, size int64, progress func(loaded, total int64)) error
}

// ProgressFunc receives the aggregate progress of an upload
type ProgressFunc func(schema.Progress)

// CompleteFunc is called once when an upload has been accepted
type CompleteFunc func(schema.Complete)

// ErrorFunc is called when an upload stops on an error other than a pause
type ErrorFunc func(error)

// Uploader uploads one file at a time. Starting a new upload abandons the
// previous one.
type Uploader struct {
	opt
	transport Transport

	mu         sync.Mutex
	onProgress ProgressFunc
	onComplete CompleteFunc
	onError    ErrorFunc
	session    *session
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New returns an uploader which sends files through transport
func New(transport Transport, opts ...Opt) (*Uploader, error) {
	self := new(Uploader)
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", schema.ErrBadParameter)
	} else {
		self.transport = transport
	}

	// Apply options
	if opt, err := applyOpts(opts); err != nil {
		return nil, err
	} else {
		self.opt = opt
	}

	// Return success
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// OnProgress sets the progress subscriber, replacing any previous one. In
// chunked mode each report carries a snapshot of every chunk.
func (u *Uploader) OnProgress(fn ProgressFunc) *Uploader {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onProgress = fn
	return u
}

// OnComplete sets the completion subscriber, replacing any previous one.
func (u *Uploader) OnComplete(fn CompleteFunc) *Uploader {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onComplete = fn
	return u
}

// OnError sets the error subscriber, replacing any previous one. It is not
// called when an upload is paused.
func (u *Uploader) OnError(fn ErrorFunc) *Uploader {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onError = fn
	return u
}

// Upload starts uploading src in the background and returns immediately.
// Any upload already in progress is abandoned. Use Wait to block until the
// upload completes, fails or pauses.
func (u *Uploader) Upload(ctx context.Context, src chunk.Source) *Uploader {
	s := newSession(src)
	ctx, cancel := context.WithCancelCause(ctx)

	// Replace the current session
	u.mu.Lock()
	if prev := u.session; prev != nil && prev.cancel != nil {
		prev.cancel(schema.ErrAborted)
	}
	u.session = s
	s.cancel = cancel
	if !u.single {
		s.state = StateHashing
	}
	u.mu.Unlock()

	go func() {
		defer cancel(nil)
		u.flow(ctx, cancel, s)
	}()
	return u
}

// Pause aborts every chunk request in flight. Aborted chunks return to READY
// and are not counted as failures. When the file is still being hashed, the
// upload pauses as soon as the existence check returns. Pause returns
// schema.ErrNotReady when there is nothing to pause.
func (u *Uploader) Pause() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	s := u.session
	if s == nil {
		return schema.ErrNotReady
	}
	switch s.state {
	case StateIdle, StateHashing, StatePreparing:
		s.pause = true
	case StateUploading:
		s.cancel(schema.ErrAborted)
	default:
		return fmt.Errorf("%w: upload is %s", schema.ErrNotReady, s.state)
	}

	// Return success
	return nil
}

// Proceed resumes a paused upload. Chunks which were accepted are skipped,
// and the file is neither partitioned nor hashed again. The aggregate
// progress is published before any bytes are sent.
func (u *Uploader) Proceed(ctx context.Context) error {
	u.mu.Lock()
	s := u.session
	switch {
	case s == nil:
		u.mu.Unlock()
		return schema.ErrNotReady
	case s.pause:
		// Paused before the upload started, so carry on
		s.pause = false
		u.mu.Unlock()
		return nil
	case s.state != StatePaused:
		state := s.state
		u.mu.Unlock()
		return fmt.Errorf("%w: upload is %s", schema.ErrNotReady, state)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	s.state = StateIdle
	s.err = nil
	s.done = make(chan struct{})
	u.mu.Unlock()

	u.logger.InfoContext(ctx, "upload resumed", "name", s.source.Name())
	if s.scheduler != nil {
		u.publish(s, schema.Snapshot(s.chunks))
	}
	go func() {
		defer cancel(nil)
		u.upload(ctx, cancel, s)
	}()

	// Return success
	return nil
}

// Wait blocks until the current upload completes, fails or pauses, and
// returns nil when it completed. A paused upload returns an error wrapping
// schema.ErrAborted, or schema.ErrRetryExhausted when a chunk failed too
// often.
func (u *Uploader) Wait(ctx context.Context) error {
	u.mu.Lock()
	s := u.session
	if s == nil {
		u.mu.Unlock()
		return schema.ErrNotReady
	}
	done := s.done
	u.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	return s.err
}

// State returns the state of the current upload
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session == nil {
		return StateIdle
	}
	return u.session.state
}

// Hash returns the content hash of the current upload, or an empty string
// before it has been computed or in single-shot mode
func (u *Uploader) Hash() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session == nil {
		return ""
	}
	return u.session.hash
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// emit sends progress to the subscriber, unless s has been replaced
func (u *Uploader) emit(s *session, progress schema.Progress) {
	u.mu.Lock()
	fn := u.onProgress
	current := u.session == s
	u.mu.Unlock()
	if current && fn != nil {
		fn(progress)
	}
}

// publish sends the aggregate progress of a chunk snapshot
func (u *Uploader) publish(s *session, chunks []schema.Chunk) {
	u.emit(s, aggregate(s.source.Size(), chunks))
}

// finish records the outcome of s, notifies subscribers and releases
// anything waiting on it
func (u *Uploader) finish(s *session, state State, err error, complete *schema.Complete) {
	u.mu.Lock()
	s.state = state
	s.err = err
	current := u.session == s
	onComplete, onError := u.onComplete, u.onError
	done := s.done
	u.mu.Unlock()

	if current {
		switch {
		case complete != nil && onComplete != nil:
			onComplete(*complete)
		case err != nil && onError != nil && !errors.Is(err, schema.ErrAborted):
			onError(err)
		}
	}
	close(done)
}

// aggregate sums the bytes accepted across chunks. An empty file is complete
// only once its chunk has been accepted.
func aggregate(size int64, chunks []schema.Chunk) schema.Progress {
	result := schema.Progress{Total: size, Chunks: chunks}
	complete := true
	for _, c := range chunks {
		result.Loaded += c.Loaded()
		if c.Status != schema.StatusSuccess {
			complete = false
		}
	}
	if size > 0 {
		result.Percentage = schema.Percent(result.Loaded, size)
	} else if complete {
		result.Percentage = 100
	}
	return result
}

func spanName(op string) string {
	return schema.SchemaName + ".uploader." + op
}
