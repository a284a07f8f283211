package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	// Packages
	chunk "github.com/mutablelogic/go-uploader/pkg/chunk"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkRequests splits data into requests of chunkSize bytes
func chunkRequests(name, hash string, data []byte, chunkSize int) []schema.UploadChunkRequest {
	var result []schema.UploadChunkRequest
	for start := 0; start < len(data); start += chunkSize {
		result = append(result, schema.UploadChunkRequest{
			FileHash: hash,
			FileName: name,
			Start:    int64(start),
			End:      int64(min(start+chunkSize, len(data))),
			Total:    int64(len(data)),
			Index:    len(result),
		})
	}
	for i := range result {
		result[i].ChunkNum = len(result)
		result[i].ChunkName = name + "_" + string(rune('0'+i))
	}
	return result
}

func newMemBackend(t *testing.T) *blobbackend {
	t.Helper()
	b, err := NewBlobBackend(context.Background(), "mem://testbucket")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBlobBackendPrepare(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing stored", func(t *testing.T) {
		b := newMemBackend(t)
		resp, err := b.Prepare(ctx, schema.PrepareRequest{FileSize: 10, ContentHash: "abc"})
		require.NoError(t, err)
		assert.False(t, resp.Uploaded)
		assert.NotNil(t, resp.UploadedChunkList)
		assert.Empty(t, resp.UploadedChunkList)
	})

	t.Run("invalid hash", func(t *testing.T) {
		b := newMemBackend(t)
		_, err := b.Prepare(ctx, schema.PrepareRequest{FileSize: 10, ContentHash: "../etc"})
		assert.ErrorIs(t, err, httpresponse.ErrBadRequest)
	})

	t.Run("some chunks stored", func(t *testing.T) {
		b := newMemBackend(t)
		data := []byte("0123456789abcdefghij")
		reqs := chunkRequests("f.txt", "abc", data, 5)
		for _, i := range []int{0, 2} {
			_, err := b.WriteChunk(ctx, reqs[i], bytes.NewReader(data[reqs[i].Start:reqs[i].End]))
			require.NoError(t, err)
		}

		resp, err := b.Prepare(ctx, schema.PrepareRequest{FileSize: int64(len(data)), ContentHash: "abc"})
		require.NoError(t, err)
		assert.False(t, resp.Uploaded)
		assert.Equal(t, []schema.UploadedChunk{{ChunkName: "f.txt_0"}, {ChunkName: "f.txt_2"}}, resp.UploadedChunkList)
		assert.True(t, resp.Has("f.txt_2"))
		assert.False(t, resp.Has("f.txt_1"))

		// Other hashes are not affected
		resp, err = b.Prepare(ctx, schema.PrepareRequest{FileSize: int64(len(data)), ContentHash: "ab"})
		require.NoError(t, err)
		assert.Empty(t, resp.UploadedChunkList)
	})
}

func TestBlobBackendWriteChunk(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend(t)
	data := []byte("hello, world")
	req := chunkRequests("hello.txt", "h1", data, 100)[0]

	t.Run("size mismatch", func(t *testing.T) {
		_, err := b.WriteChunk(ctx, req, bytes.NewReader(data[:5]))
		assert.Error(t, err)

		resp, err := b.Prepare(ctx, schema.PrepareRequest{FileSize: int64(len(data)), ContentHash: "h1"})
		require.NoError(t, err)
		assert.Empty(t, resp.UploadedChunkList, "a short chunk must not be stored")
	})

	t.Run("invalid chunk name", func(t *testing.T) {
		bad := req
		bad.ChunkName = "a/b"
		_, err := b.WriteChunk(ctx, bad, bytes.NewReader(data))
		assert.ErrorIs(t, err, httpresponse.ErrBadRequest)
	})

	t.Run("stored", func(t *testing.T) {
		obj, err := b.WriteChunk(ctx, req, bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), obj.Size)
		assert.Equal(t, "hello.txt", obj.Name)
		assert.Equal(t, "h1", obj.ContentHash)
		assert.Equal(t, "chunks/h1/hello.txt_0", obj.Key)
	})
}

func TestBlobBackendAssemble(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend(t)
	data := []byte("the quick brown fox jumps over the lazy dog")
	reqs := chunkRequests("fox.txt", "fox", data, 10)
	require.Len(t, reqs, 5)

	// Upload out of order; assembly waits for the last one
	order := []int{4, 1, 3, 0, 2}
	for i, index := range order {
		req := reqs[index]
		_, err := b.WriteChunk(ctx, req, bytes.NewReader(data[req.Start:req.End]))
		require.NoError(t, err)

		obj, err := b.Assemble(ctx, req)
		require.NoError(t, err)
		if i < len(order)-1 {
			assert.Nil(t, obj, "assembled before all chunks were stored")
		} else if assert.NotNil(t, obj) {
			assert.Equal(t, int64(len(data)), obj.Size)
			assert.Equal(t, "fox.txt", obj.Name)
		}
	}

	// File is stored, chunks are removed
	resp, err := b.Prepare(ctx, schema.PrepareRequest{FileSize: int64(len(data)), ContentHash: "fox"})
	require.NoError(t, err)
	assert.True(t, resp.Uploaded)

	r, obj, err := b.ReadFile(ctx, "fox")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "fox.txt", obj.Name)
	assert.Equal(t, "fox", obj.ContentHash)

	// A different size is not the same file
	resp, err = b.Prepare(ctx, schema.PrepareRequest{FileSize: 1, ContentHash: "fox"})
	require.NoError(t, err)
	assert.False(t, resp.Uploaded)
	assert.Empty(t, resp.UploadedChunkList)

	// Assembling again returns the stored file
	obj, err = b.Assemble(ctx, reqs[0])
	require.NoError(t, err)
	if assert.NotNil(t, obj) {
		assert.Equal(t, int64(len(data)), obj.Size)
	}
}

func TestBlobBackendAssembleChunksRemoved(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend(t)
	data := []byte("0123456789abcdef")
	reqs := chunkRequests("hex.txt", "hex", data, 8)
	for _, req := range reqs {
		_, err := b.WriteChunk(ctx, req, bytes.NewReader(data[req.Start:req.End]))
		require.NoError(t, err)
	}

	// Record the chunk keys before the first assembly removes them
	fk := b.storageKey(fileKey("hex")...)
	keys := make([]string, len(reqs))
	for i := range keys {
		keys[i] = b.storageKey(chunkKey("hex", chunk.Name("hex.txt", i))...)
	}
	obj, err := b.Assemble(ctx, reqs[1])
	require.NoError(t, err)
	require.NotNil(t, obj)

	// A second assembly that saw every chunk returns the stored file
	obj, err = b.assemble(ctx, fk, keys, reqs[0])
	require.NoError(t, err)
	if assert.NotNil(t, obj) {
		assert.Equal(t, int64(len(data)), obj.Size)
		assert.Equal(t, "hex", obj.ContentHash)
	}

	r, _, err := b.ReadFile(ctx, "hex")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBlobBackendAssembleConcurrent(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend(t)
	data := bytes.Repeat([]byte("abcdefgh"), 64)
	reqs := chunkRequests("rep.txt", "rep", data, 128)
	for _, req := range reqs {
		_, err := b.WriteChunk(ctx, req, bytes.NewReader(data[req.Start:req.End]))
		require.NoError(t, err)
	}

	// Every caller gets the assembled file
	var wg sync.WaitGroup
	errs := make([]error, 8)
	objs := make([]*schema.Object, len(errs))
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			objs[i], errs[i] = b.Assemble(ctx, reqs[i%len(reqs)])
		}(i)
	}
	wg.Wait()
	for i := range errs {
		assert.NoError(t, errs[i])
		if assert.NotNil(t, objs[i]) {
			assert.Equal(t, int64(len(data)), objs[i].Size)
		}
	}
}

func TestBlobBackendAssembleSizeMismatch(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend(t)
	data := []byte("0123456789")
	req := chunkRequests("n.txt", "n", data, 10)[0]
	_, err := b.WriteChunk(ctx, req, bytes.NewReader(data))
	require.NoError(t, err)

	req.Total = 11
	_, err = b.Assemble(ctx, req)
	assert.ErrorIs(t, err, httpresponse.ErrConflict)

	_, _, err = b.ReadFile(ctx, "n")
	assert.ErrorIs(t, err, httpresponse.ErrNotFound)
}

func TestBlobBackendWriteFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewFileBackend(ctx, "store", dir)
	require.NoError(t, err)
	defer b.Close()

	obj, err := b.WriteFile(ctx, "notes.txt", bytes.NewReader([]byte("single shot")))
	require.NoError(t, err)
	assert.Equal(t, int64(11), obj.Size)
	assert.Equal(t, "notes.txt", obj.Name)

	got, err := os.ReadFile(filepath.Join(dir, "single", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "single shot", string(got))

	_, err = b.WriteFile(ctx, "..", bytes.NewReader(nil))
	assert.Error(t, err)
}
