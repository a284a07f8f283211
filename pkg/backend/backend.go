// Package backend stores uploaded chunks and files in a blob bucket (mem://,
// file:// or s3://) and assembles chunks into files once they are all present.
//
// Objects are laid out by content hash:
//
//	chunks/{contentHash}/{chunkName}   a chunk which has been received
//	files/{contentHash}                an assembled or instantly-uploaded file
//	single/{fileName}                  a file uploaded in a single request
package backend

import (
	"context"
	"io"
	"net/url"

	// Packages
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Backend is the interface for the reference service storage.
type Backend interface {
	io.Closer

	// Name returns the name of the backend
	Name() string

	// URL returns the backend destination URL, without credentials
	URL() *url.URL

	// Prepare reports whether a file with the content hash is already
	// stored, and if not, which of its chunks are
	Prepare(context.Context, schema.PrepareRequest) (*schema.PrepareResponse, error)

	// WriteChunk stores the bytes of a chunk
	WriteChunk(context.Context, schema.UploadChunkRequest, io.Reader) (*schema.Object, error)

	// Assemble concatenates the chunks of a file in index order, once all of
	// them are stored, and removes them. It returns nil when chunks are
	// still missing.
	Assemble(context.Context, schema.UploadChunkRequest) (*schema.Object, error)

	// WriteFile stores a file uploaded in a single request
	WriteFile(ctx context.Context, name string, r io.Reader) (*schema.Object, error)

	// ReadFile reads an assembled file. Caller must close the returned reader.
	ReadFile(ctx context.Context, contentHash string) (io.ReadCloser, *schema.Object, error)
}
