package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	// Packages
	units "github.com/docker/go-units"
	otel "github.com/mutablelogic/go-client/pkg/otel"
	chunk "github.com/mutablelogic/go-uploader/pkg/chunk"
	scheduler "github.com/mutablelogic/go-uploader/pkg/scheduler"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// State is the phase of an upload
type State int

// session is a single call to Upload. The chunks, scheduler and hash time
// are written by the flow goroutine before the state moves on, and read by
// Proceed only once the session is paused.
type session struct {
	source    chunk.Source
	chunks    []*schema.Chunk
	scheduler *scheduler.Scheduler
	hashTime  time.Duration

	// Guarded by Uploader.mu
	hash   string
	state  State
	pause  bool
	cancel context.CancelCauseFunc
	done   chan struct{}
	err    error
}

const (
	StateIdle      State = iota // waiting to start
	StateHashing                // computing the content hash
	StatePreparing              // asking the service which parts it holds
	StateUploading              // sending bytes
	StatePaused                 // stopped, and can be resumed
	StateComplete               // accepted by the service
	StateFailed                 // stopped, and cannot be resumed
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newSession(src chunk.Source) *session {
	return &session{
		source: src,
		done:   make(chan struct{}),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// flow runs an upload from the start
func (u *Uploader) flow(ctx context.Context, cancel context.CancelCauseFunc, s *session) {
	if s.source == nil {
		u.finish(s, StateFailed, fmt.Errorf("%w: nil source", schema.ErrBadParameter), nil)
		return
	} else if u.single {
		u.upload(ctx, cancel, s)
		return
	}

	// Partition and hash
	s.chunks = chunk.Partition(s.source, u.chunkSize)
	if sched, err := scheduler.New(u.transport, append(u.schedulerOpts(), scheduler.WithProgress(func(chunks []schema.Chunk) {
		u.publish(s, chunks)
	}))...); err != nil {
		u.finish(s, StateFailed, err, nil)
		return
	} else {
		s.scheduler = sched
	}
	hash, err := u.hash(ctx, s)
	if err != nil {
		u.finish(s, StateFailed, err, nil)
		return
	}

	// Ask the service what it already holds
	resp, err := u.prepare(ctx, s, hash)
	if err != nil {
		u.finish(s, StateFailed, err, nil)
		return
	}

	// Instant upload when the file is already stored
	if resp.Uploaded {
		for _, c := range s.chunks {
			c.FileHash = hash
			c.MarkSuccess()
		}
		size := s.source.Size()
		u.logger.InfoContext(ctx, "file already stored", "name", s.source.Name(), "size", units.HumanSize(float64(size)))
		u.emit(s, schema.Progress{
			Percentage: 100,
			Loaded:     size,
			Total:      size,
			Chunks:     schema.Snapshot(s.chunks),
		})
		u.finish(s, StateComplete, nil, &schema.Complete{
			UploadTime: 0,
			HashTime:   schema.Seconds(s.hashTime),
		})
		return
	}

	// Skip the chunks already stored
	skipped := 0
	for _, c := range s.chunks {
		c.FileHash = hash
		if resp.Has(c.ChunkName) {
			c.MarkSuccess()
			skipped++
		}
	}
	if skipped > 0 {
		u.logger.InfoContext(ctx, "resuming upload", "name", s.source.Name(), "stored", skipped, "chunks", len(s.chunks))
	}

	u.upload(ctx, cancel, s)
}

// hash computes the content hash of the chunks
func (u *Uploader) hash(ctx context.Context, s *session) (_ string, result error) {
	ctx, endFunc := otel.StartSpan(u.tracer, ctx, spanName("Hash"))
	defer func() { endFunc(result) }()

	start := time.Now()
	hash, err := chunk.Hash(ctx, s.chunks, u.hasher)
	if err != nil {
		return "", err
	}
	s.hashTime = time.Since(start)

	u.mu.Lock()
	s.hash = hash
	s.state = StatePreparing
	u.mu.Unlock()

	u.logger.DebugContext(ctx, "file hashed", "name", s.source.Name(), "size", units.HumanSize(float64(s.source.Size())), "hash", hash, "elapsed", s.hashTime)
	return hash, nil
}

// prepare performs the existence check
func (u *Uploader) prepare(ctx context.Context, s *session, hash string) (_ *schema.PrepareResponse, result error) {
	ctx, endFunc := otel.StartSpan(u.tracer, ctx, spanName("Prepare"))
	defer func() { endFunc(result) }()

	resp, err := u.transport.Prepare(ctx, schema.PrepareRequest{
		FileSize:    s.source.Size(),
		ContentHash: hash,
	})
	if err != nil {
		return nil, err
	}

	u.logger.DebugContext(ctx, "prepared", "name", s.source.Name(), "uploaded", resp.Uploaded, "stored", len(resp.UploadedChunkList))
	return resp, nil
}

// upload sends the file, or the chunks which have not been accepted, unless
// a pause was requested first
func (u *Uploader) upload(ctx context.Context, cancel context.CancelCauseFunc, s *session) {
	u.mu.Lock()
	if s.pause {
		s.pause = false
		u.mu.Unlock()
		u.paused(ctx, s, schema.ErrAborted)
		return
	}
	s.state = StateUploading
	u.mu.Unlock()

	var err error
	start := time.Now()
	if s.scheduler == nil {
		err = u.uploadFile(ctx, s)
	} else if err = u.uploadChunks(ctx, s); err != nil {
		// Stop the requests still in flight, and wait for them
		cancel(schema.ErrAborted)
		<-s.scheduler.Done()
	}
	elapsed := time.Since(start)

	switch {
	case err == nil:
		u.logger.InfoContext(ctx, "upload complete", "name", s.source.Name(), "size", units.HumanSize(float64(s.source.Size())), "elapsed", elapsed)
		u.finish(s, StateComplete, nil, &schema.Complete{
			UploadTime: schema.Seconds(elapsed),
			HashTime:   schema.Seconds(s.hashTime),
		})
	case errors.Is(err, schema.ErrRetryExhausted):
		u.paused(ctx, s, err)
	case errors.Is(context.Cause(ctx), schema.ErrAborted):
		u.paused(ctx, s, fmt.Errorf("%w: %s", schema.ErrAborted, s.source.Name()))
	case s.scheduler == nil:
		u.finish(s, StateFailed, err, nil)
	default:
		u.paused(ctx, s, err)
	}
}

// uploadFile sends the whole file in one request
func (u *Uploader) uploadFile(ctx context.Context, s *session) (result error) {
	ctx, endFunc := otel.StartSpan(u.tracer, ctx, spanName("UploadFile"))
	defer func() { endFunc(result) }()

	size := s.source.Size()
	return u.transport.UploadFile(ctx, s.source.Name(), io.NewSectionReader(s.source, 0, size), size, func(loaded, total int64) {
		u.emit(s, schema.Progress{
			Percentage: schema.Percent(loaded, total),
			Loaded:     loaded,
			Total:      total,
		})
	})
}

// uploadChunks runs the scheduler over the chunks
func (u *Uploader) uploadChunks(ctx context.Context, s *session) (result error) {
	ctx, endFunc := otel.StartSpan(u.tracer, ctx, spanName("UploadChunks"))
	defer func() { endFunc(result) }()

	return s.scheduler.Run(ctx, s.chunks)
}

// paused records a resumable stop and republishes the progress, since
// aborted chunks no longer count
func (u *Uploader) paused(ctx context.Context, s *session, err error) {
	if errors.Is(err, schema.ErrAborted) {
		u.logger.InfoContext(ctx, "upload paused", "name", s.source.Name())
	} else {
		u.logger.ErrorContext(ctx, "upload paused", "name", s.source.Name(), "error", err)
	}
	if s.scheduler != nil {
		u.publish(s, schema.Snapshot(s.chunks))
	}
	u.finish(s, StatePaused, err, nil)
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHashing:
		return "hashing"
	case StatePreparing:
		return "preparing"
	case StateUploading:
		return "uploading"
	case StatePaused:
		return "paused"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
