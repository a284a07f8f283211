package backend

import (
	"context"
	"errors"
	"io"
	"strconv"

	// Packages
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	types "github.com/mutablelogic/go-server/pkg/types"
	blob "gocloud.dev/blob"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// WriteChunk stores the bytes of a chunk, replacing any earlier copy. The
// number of bytes read must match the chunk's byte range.
func (b *blobbackend) WriteChunk(ctx context.Context, req schema.UploadChunkRequest, r io.Reader) (*schema.Object, error) {
	if !validSegment(req.FileHash) || !validSegment(req.ChunkName) {
		return nil, httpresponse.ErrBadRequest.Withf("invalid chunk %q for %q", req.ChunkName, req.FileHash)
	}

	sk := b.storageKey(chunkKey(req.FileHash, req.ChunkName)...)
	return b.write(ctx, sk, r, req.End-req.Start, types.ContentTypeBinary, schema.ObjectMeta{
		schema.AttrName:     req.FileName,
		schema.AttrHash:     req.FileHash,
		schema.AttrIndex:    strconv.Itoa(req.Index),
		schema.AttrChunkNum: strconv.Itoa(req.ChunkNum),
		schema.AttrStart:    strconv.FormatInt(req.Start, 10),
		schema.AttrEnd:      strconv.FormatInt(req.End, 10),
	})
}

// WriteFile stores a file uploaded in a single request
func (b *blobbackend) WriteFile(ctx context.Context, name string, r io.Reader) (*schema.Object, error) {
	if !validSegment(name) {
		return nil, httpresponse.ErrBadRequest.Withf("invalid file name %q", name)
	}
	sk := b.storageKey(singleKey(name)...)
	return b.write(ctx, sk, r, -1, types.ContentTypeBinary, schema.ObjectMeta{
		schema.AttrName: name,
	})
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// write copies r to the key and returns the stored object. When size is not
// negative, a short or long body is rejected and nothing is stored.
func (b *blobbackend) write(ctx context.Context, sk string, r io.Reader, size int64, contentType string, meta schema.ObjectMeta) (*schema.Object, error) {
	// A cancelled context discards the write
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := b.bucket.NewWriter(ctx, sk, &blob.WriterOptions{
		ContentType: contentType,
		Metadata:    meta,
	})
	if err != nil {
		return nil, blobErr(err, sk)
	}
	n, err := io.Copy(w, r)
	if err == nil && size >= 0 && n != size {
		err = httpresponse.ErrBadRequest.Withf("expected %d bytes for %q, received %d", size, sk, n)
	}
	if err != nil {
		cancel()
		return nil, errors.Join(err, w.Close())
	}
	if err := w.Close(); err != nil {
		return nil, blobErr(err, sk)
	}

	// Return success
	return &schema.Object{
		Key:         sk,
		Name:        meta[schema.AttrName],
		ContentHash: meta[schema.AttrHash],
		Size:        n,
		ContentType: contentType,
	}, nil
}
