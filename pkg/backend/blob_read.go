package backend

import (
	"context"
	"io"

	// Packages
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ReadFile reads an assembled file by content hash
func (b *blobbackend) ReadFile(ctx context.Context, contentHash string) (io.ReadCloser, *schema.Object, error) {
	if !validSegment(contentHash) {
		return nil, nil, httpresponse.ErrBadRequest.Withf("invalid content hash %q", contentHash)
	}
	sk := b.storageKey(fileKey(contentHash)...)

	attrs, err := b.bucket.Attributes(ctx, sk)
	if err != nil {
		return nil, nil, blobErr(err, sk)
	}
	r, err := b.bucket.NewReader(ctx, sk, nil)
	if err != nil {
		return nil, nil, blobErr(err, sk)
	}
	return r, b.attrsToObject(sk, attrs), nil
}
