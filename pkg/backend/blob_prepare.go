package backend

import (
	"context"
	"io"
	"path"
	"sort"

	// Packages
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	blob "gocloud.dev/blob"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Prepare reports whether the file is stored. A stored file only counts when
// its size matches. Otherwise the names of the stored chunks are returned,
// sorted, so a client can skip them.
func (b *blobbackend) Prepare(ctx context.Context, req schema.PrepareRequest) (*schema.PrepareResponse, error) {
	if !validSegment(req.ContentHash) {
		return nil, httpresponse.ErrBadRequest.Withf("invalid content hash %q", req.ContentHash)
	}

	// Check for the assembled file
	response := schema.PrepareResponse{UploadedChunkList: []schema.UploadedChunk{}}
	sk := b.storageKey(fileKey(req.ContentHash)...)
	if attrs, err := b.bucket.Attributes(ctx, sk); err == nil && attrs.Size == req.FileSize {
		response.Uploaded = true
		return &response, nil
	}

	// List the stored chunks
	iter := b.bucket.List(&blob.ListOptions{
		Prefix:    b.storageKey(chunksPrefix, req.ContentHash) + "/",
		Delimiter: "/",
	})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, blobErr(err, sk)
		}
		if obj.IsDir {
			continue
		}
		response.UploadedChunkList = append(response.UploadedChunkList, schema.UploadedChunk{
			ChunkName: path.Base(obj.Key),
		})
	}
	sort.Slice(response.UploadedChunkList, func(i, j int) bool {
		return response.UploadedChunkList[i].ChunkName < response.UploadedChunkList[j].ChunkName
	})

	// Return success
	return &response, nil
}
