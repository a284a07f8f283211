package chunk

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	// Packages
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// HashFunc returns a new streaming hash accumulator
type HashFunc func() hash.Hash

// HashResult is the single message sent back by the hash worker
type HashResult struct {
	Hash string
	Err  error
}

// span is the descriptor sent to the hash worker for each chunk
type span struct {
	src        io.ReaderAt
	start, end int64
}

// ctxReader stops reading once the context is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const hashBufferSize = 256 * 1024

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Hash computes the content hash over chunks, blocking until it is done.
// See HashAsync.
func Hash(ctx context.Context, chunks []*schema.Chunk, fn HashFunc) (string, error) {
	select {
	case result := <-HashAsync(ctx, chunks, fn):
		return result.Hash, result.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// HashAsync computes the content hash over chunks on a separate goroutine and
// returns a channel which receives exactly one result. Chunk bytes are folded
// in index order into a single accumulator, so reordering the chunks changes
// the hash. A nil fn selects MD5. The worker only sees copies of the chunk
// byte ranges. Cancelling ctx stops the worker with the context error; a read
// failure stops it with schema.ErrHashFailed.
func HashAsync(ctx context.Context, chunks []*schema.Chunk, fn HashFunc) <-chan HashResult {
	if fn == nil {
		fn = md5.New
	}
	spans := make([]span, 0, len(chunks))
	for _, chunk := range chunks {
		spans = append(spans, span{src: chunk.Source, start: chunk.Start, end: chunk.End})
	}

	ch := make(chan HashResult, 1)
	go func() {
		defer close(ch)
		sum, err := fold(ctx, spans, fn())
		ch <- HashResult{Hash: sum, Err: err}
	}()
	return ch
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func fold(ctx context.Context, spans []span, h hash.Hash) (string, error) {
	buf := make([]byte, hashBufferSize)
	for i, s := range spans {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r := &ctxReader{ctx: ctx, r: io.NewSectionReader(s.src, s.start, s.end-s.start)}
		n, err := io.CopyBuffer(h, r, buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("%w: chunk %d: %w", schema.ErrHashFailed, i, err)
		} else if n != s.end-s.start {
			// The source is shorter than when it was partitioned
			return "", fmt.Errorf("%w: chunk %d: %w", schema.ErrHashFailed, i, io.ErrUnexpectedEOF)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
