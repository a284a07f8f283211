package backend

import (
	"context"
	"errors"
	"io"
	"strconv"

	// Packages
	chunk "github.com/mutablelogic/go-uploader/pkg/chunk"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	types "github.com/mutablelogic/go-server/pkg/types"
	blob "gocloud.dev/blob"
	gcerrors "gocloud.dev/gcerrors"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Assemble writes the file once every chunk from index 0 to ChunkNum-1 is
// stored, then deletes the chunks. It returns the existing file when the
// file was already assembled, and nil when chunks are still missing.
func (b *blobbackend) Assemble(ctx context.Context, req schema.UploadChunkRequest) (*schema.Object, error) {
	if !validSegment(req.FileHash) || !validSegment(req.FileName) {
		return nil, httpresponse.ErrBadRequest.Withf("invalid file %q for %q", req.FileName, req.FileHash)
	} else if req.ChunkNum < 1 {
		return nil, httpresponse.ErrBadRequest.Withf("invalid chunk count %d", req.ChunkNum)
	}

	// Already assembled
	fk := b.storageKey(fileKey(req.FileHash)...)
	if obj, err := b.assembled(ctx, fk); obj != nil || err != nil {
		return obj, err
	}

	// Every chunk must be present, unless another upload just assembled them
	keys := make([]string, req.ChunkNum)
	for i := range keys {
		keys[i] = b.storageKey(chunkKey(req.FileHash, chunk.Name(req.FileName, i))...)
		if exists, err := b.bucket.Exists(ctx, keys[i]); err != nil {
			return nil, blobErr(err, keys[i])
		} else if !exists {
			return b.assembled(ctx, fk)
		}
	}

	return b.assemble(ctx, fk, keys, req)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// assemble concatenates the chunks at keys into fk and removes the chunks
func (b *blobbackend) assemble(ctx context.Context, fk string, keys []string, req schema.UploadChunkRequest) (*schema.Object, error) {
	size, err := b.concat(ctx, fk, keys, req.Total, schema.ObjectMeta{
		schema.AttrName: req.FileName,
		schema.AttrHash: req.FileHash,
		schema.AttrSize: strconv.FormatInt(req.Total, 10),
	})
	if errors.Is(err, httpresponse.ErrNotFound) {
		// Chunks removed by a concurrent assembly of the same file
		if obj, err := b.assembled(ctx, fk); obj != nil || err != nil {
			return obj, err
		}
	}
	if err != nil {
		return nil, err
	}

	// Remove the chunks
	var result error
	for _, key := range keys {
		if err := b.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			result = errors.Join(result, blobErr(err, key))
		}
	}
	if result != nil {
		return nil, result
	}

	// Return success
	return &schema.Object{
		Key:         fk,
		Name:        req.FileName,
		ContentHash: req.FileHash,
		Size:        size,
		ContentType: types.ContentTypeBinary,
	}, nil
}

// assembled returns the file at fk, or nil when it is not stored
func (b *blobbackend) assembled(ctx context.Context, fk string) (*schema.Object, error) {
	attrs, err := b.bucket.Attributes(ctx, fk)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, nil
	} else if err != nil {
		return nil, blobErr(err, fk)
	}
	return b.attrsToObject(fk, attrs), nil
}

func (b *blobbackend) concat(ctx context.Context, sk string, keys []string, total int64, meta schema.ObjectMeta) (int64, error) {
	// A cancelled context discards the write
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := b.bucket.NewWriter(ctx, sk, &blob.WriterOptions{
		ContentType: types.ContentTypeBinary,
		Metadata:    meta,
	})
	if err != nil {
		return 0, blobErr(err, sk)
	}

	var size int64
	abort := func(err error) (int64, error) {
		cancel()
		return 0, errors.Join(err, w.Close())
	}
	for _, key := range keys {
		r, err := b.bucket.NewReader(ctx, key, nil)
		if err != nil {
			return abort(blobErr(err, key))
		}
		n, err := io.Copy(w, r)
		r.Close()
		if err != nil {
			return abort(blobErr(err, key))
		}
		size += n
	}
	if size != total {
		return abort(httpresponse.ErrConflict.Withf("assembled %d bytes for %q, expected %d", size, sk, total))
	}
	if err := w.Close(); err != nil {
		return 0, blobErr(err, sk)
	}

	// Return success
	return size, nil
}
