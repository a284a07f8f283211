package httpclient

import (
	"context"
	"fmt"
	"io"
	"strconv"

	// Packages
	client "github.com/mutablelogic/go-client"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// ProgressFunc receives the cumulative number of file or chunk bytes sent,
// and the total to be sent.
type ProgressFunc func(loaded, total int64)

// Form fields are encoded in declaration order
type prepareForm struct {
	FileSize    string `json:"fileSize"`
	ContentHash string `json:"contentHash"`
}

type singleForm struct {
	File     types.File `json:"file"`
	FileName string     `json:"fileName"`
}

type chunkForm struct {
	Chunk     types.File `json:"chunk"`
	FileHash  string     `json:"fileHash"`
	ChunkName string     `json:"chunkName"`
	ChunkNum  string     `json:"chunkNum"`
	Start     string     `json:"start"`
	End       string     `json:"end"`
	Total     string     `json:"total"`
	Index     string     `json:"index"`
	FileName  string     `json:"fileName"`
}

type uploadProgressReadCloser struct {
	r        io.ReadCloser
	total    int64
	written  int64
	lastEmit int64
	cb       ProgressFunc
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

// progressInterval is the number of bytes between progress callbacks
const progressInterval = 64 * 1024

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Prepare asks the service whether it already holds a file with the given
// size and content hash, and if not, which of its chunks it holds.
func (c *Client) Prepare(ctx context.Context, req schema.PrepareRequest) (*schema.PrepareResponse, error) {
	payload, err := client.NewMultipartRequest(&prepareForm{
		FileSize:    strconv.FormatInt(req.FileSize, 10),
		ContentHash: req.ContentHash,
	}, types.ContentTypeJSON)
	if err != nil {
		return nil, err
	}

	// Perform request
	var response schema.PrepareResponse
	if err := c.DoWithContext(ctx, payload, &response, client.OptPath(schema.PreparePath)); err != nil {
		return nil, err
	}

	// Return the response
	return &response, nil
}

// UploadFile uploads a whole file in a single request. The progress callback
// may be nil.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader, size int64, progress func(loaded, total int64)) error {
	form := singleForm{
		File: types.File{
			Path:        name,
			Body:        newUploadProgressReadCloser(io.NopCloser(r), size, progress),
			ContentType: types.ContentTypeBinary,
		},
		FileName: name,
	}
	return c.upload(ctx, schema.UploadSinglePath, &form)
}

// UploadChunk uploads the bytes of a single chunk along with its position in
// the file. It returns nil only when the service replies with the success
// marker; any other reply wraps schema.ErrRejected.
func (c *Client) UploadChunk(ctx context.Context, chunk *schema.Chunk, progress func(loaded, total int64)) error {
	if chunk == nil || chunk.Source == nil {
		return fmt.Errorf("%w: chunk has no source", schema.ErrBadParameter)
	}
	req := chunk.Request()
	form := chunkForm{
		Chunk: types.File{
			Path:        req.ChunkName,
			Body:        newUploadProgressReadCloser(io.NopCloser(chunk.NewReader()), chunk.Size(), progress),
			ContentType: types.ContentTypeBinary,
		},
		FileHash:  req.FileHash,
		ChunkName: req.ChunkName,
		ChunkNum:  strconv.Itoa(req.ChunkNum),
		Start:     strconv.FormatInt(req.Start, 10),
		End:       strconv.FormatInt(req.End, 10),
		Total:     strconv.FormatInt(req.Total, 10),
		Index:     strconv.Itoa(req.Index),
		FileName:  req.FileName,
	}
	return c.upload(ctx, schema.UploadChunkPath, &form)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE HELPERS

// upload streams a multipart form and expects the success marker in reply.
// The encoder goroutine has exited by the time upload returns, so no
// progress is reported afterwards.
func (c *Client) upload(ctx context.Context, path string, form any) error {
	payload, err := client.NewStreamingMultipartRequest(form, types.ContentTypeTextPlain)
	if err != nil {
		return err
	}
	if closer, ok := payload.(io.Closer); ok {
		defer closer.Close()
	}
	return c.DoWithContext(ctx, payload, &markerUnmarshaler{}, client.OptPath(path), client.OptNoTimeout())
}

func newUploadProgressReadCloser(r io.ReadCloser, total int64, cb ProgressFunc) io.ReadCloser {
	if cb == nil {
		return r
	}
	return &uploadProgressReadCloser{
		r:     r,
		total: total,
		cb:    cb,
	}
}

func (r *uploadProgressReadCloser) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.written += int64(n)
		if r.written-r.lastEmit >= progressInterval || (r.total > 0 && r.written >= r.total) {
			r.lastEmit = r.written
			r.cb(r.written, r.total)
		}
	}
	return n, err
}

func (r *uploadProgressReadCloser) Close() error {
	return r.r.Close()
}
