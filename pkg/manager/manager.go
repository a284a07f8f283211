// Package manager implements the reference upload service on top of a
// storage backend. It validates requests, assembles files once their last
// chunk arrives, and traces each operation.
package manager

import (
	"context"
	"io"

	// Packages
	otel "github.com/mutablelogic/go-client/pkg/otel"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	backend "github.com/mutablelogic/go-uploader/pkg/backend"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type Manager struct {
	opts
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a new upload manager. A backend is required.
func New(ctx context.Context, opts ...Opt) (*Manager, error) {
	self := new(Manager)

	// Apply options
	if opt, err := applyOpts(opts); err != nil {
		return nil, err
	} else if opt.backend == nil {
		return nil, httpresponse.ErrInternalError.With("no backend")
	} else {
		self.opts = opt
	}

	// Return success
	return self, nil
}

// Close the backend
func (manager *Manager) Close() error {
	return manager.backend.Close()
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Backend returns the storage backend
func (manager *Manager) Backend() backend.Backend {
	return manager.backend
}

// Prepare reports whether a file is already stored, or which of its chunks are
func (manager *Manager) Prepare(ctx context.Context, req schema.PrepareRequest) (_ *schema.PrepareResponse, result error) {
	if req.ContentHash == "" {
		return nil, httpresponse.ErrBadRequest.With("missing contentHash")
	} else if req.FileSize < 0 {
		return nil, httpresponse.ErrBadRequest.Withf("invalid fileSize %d", req.FileSize)
	}

	// OTEL span
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("Prepare"))
	defer func() { endFunc(result) }()

	// Run the backend
	return manager.backend.Prepare(child, req)
}

// UploadChunk stores a chunk and assembles the file when it was the last
// one missing. The assembled file is returned, or nil if chunks remain.
func (manager *Manager) UploadChunk(ctx context.Context, req schema.UploadChunkRequest, r io.Reader) (_ *schema.Object, result error) {
	if err := validateChunk(req); err != nil {
		return nil, err
	}

	// OTEL span
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("UploadChunk"))
	defer func() { endFunc(result) }()

	// Store the chunk
	if _, err := manager.backend.WriteChunk(child, req, r); err != nil {
		return nil, err
	}

	// Assemble when complete
	obj, err := manager.backend.Assemble(child, req)
	if err != nil {
		return nil, err
	} else if obj != nil {
		manager.logger.InfoContext(child, "assembled file", "name", obj.Name, "hash", obj.ContentHash, "size", obj.Size)
	}

	// Return success
	return obj, nil
}

// UploadFile stores a file sent in a single request
func (manager *Manager) UploadFile(ctx context.Context, name string, r io.Reader) (_ *schema.Object, result error) {
	if name == "" {
		return nil, httpresponse.ErrBadRequest.With("missing file name")
	}

	// OTEL span
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("UploadFile"))
	defer func() { endFunc(result) }()

	// Run the backend
	obj, err := manager.backend.WriteFile(child, name, r)
	if err != nil {
		return nil, err
	}
	manager.logger.InfoContext(child, "stored file", "name", obj.Name, "size", obj.Size)

	// Return success
	return obj, nil
}

// ReadFile reads an assembled file by content hash. Caller must close the
// returned reader.
func (manager *Manager) ReadFile(ctx context.Context, contentHash string) (_ io.ReadCloser, _ *schema.Object, result error) {
	// OTEL span
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("ReadFile"))
	defer func() { endFunc(result) }()

	// Run the backend
	return manager.backend.ReadFile(child, contentHash)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func validateChunk(req schema.UploadChunkRequest) error {
	switch {
	case req.FileHash == "":
		return httpresponse.ErrBadRequest.With("missing fileHash")
	case req.ChunkName == "":
		return httpresponse.ErrBadRequest.With("missing chunkName")
	case req.FileName == "":
		return httpresponse.ErrBadRequest.With("missing fileName")
	case req.ChunkNum < 1 || req.Index < 0 || req.Index >= req.ChunkNum:
		return httpresponse.ErrBadRequest.Withf("invalid index %d of %d chunks", req.Index, req.ChunkNum)
	case req.Start < 0 || req.Start > req.End || req.End > req.Total:
		return httpresponse.ErrBadRequest.Withf("invalid range [%d, %d) of %d bytes", req.Start, req.End, req.Total)
	}
	return nil
}

func spanManagerName(op string) string {
	return schema.SchemaName + ".manager." + op
}
