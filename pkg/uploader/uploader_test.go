package uploader_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	// Packages
	chunk "github.com/mutablelogic/go-uploader/pkg/chunk"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	uploader "github.com/mutablelogic/go-uploader/pkg/uploader"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

////////////////////////////////////////////////////////////////////////////////
// TRANSPORT

const mb = 1000 * 1000

var errNetwork = errors.New("connection reset")

// transport is an in-memory remote service which can fail or hold requests
type transport struct {
	mu       sync.Mutex
	prepare  schema.PrepareResponse
	prepares int
	calls    map[string]int
	accepted map[string]int
	aborted  int
	files    map[string][]byte
	inflight int
	fail     func(name string, attempt int) error
	holds    func(name string, attempt int) bool
	gate     chan struct{}
}

func newTransport() *transport {
	return &transport{
		calls:    make(map[string]int),
		accepted: make(map[string]int),
		files:    make(map[string][]byte),
		gate:     make(chan struct{}),
	}
}

func (t *transport) Prepare(ctx context.Context, req schema.PrepareRequest) (*schema.PrepareResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prepares++
	resp := t.prepare
	return &resp, nil
}

func (t *transport) UploadFile(ctx context.Context, name string, r io.Reader, size int64, progress func(loaded, total int64)) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	progress(int64(len(data)), size)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[name]++
	if t.fail != nil {
		if err := t.fail(name, t.calls[name]); err != nil {
			return err
		}
	}
	t.files[name] = data
	return nil
}

func (t *transport) UploadChunk(ctx context.Context, c *schema.Chunk, progress func(loaded, total int64)) error {
	t.mu.Lock()
	t.calls[c.ChunkName]++
	attempt := t.calls[c.ChunkName]
	hold := t.holds != nil && t.holds(c.ChunkName, attempt)
	gate := t.gate
	t.inflight++
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.inflight--
		t.mu.Unlock()
	}()

	if c.FileHash == "" {
		return errors.New("missing file hash")
	}
	n, err := io.Copy(io.Discard, c.NewReader())
	if err != nil {
		return err
	}
	progress(n/2, c.Size())
	if hold {
		select {
		case <-gate:
		case <-ctx.Done():
			t.mu.Lock()
			t.aborted++
			t.mu.Unlock()
			return context.Cause(ctx)
		}
	}
	if t.fail != nil {
		if err := t.fail(c.ChunkName, attempt); err != nil {
			return err
		}
	}
	progress(n, c.Size())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.accepted[c.ChunkName]++
	return nil
}

func (t *transport) Calls(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[name]
}

func (t *transport) Accepted(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted[name]
}

func (t *transport) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight
}

func (t *transport) Aborted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

func (t *transport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.holds = nil
	close(t.gate)
}

////////////////////////////////////////////////////////////////////////////////
// RECORDER

// recorder collects what the subscribers receive
type recorder struct {
	mu       sync.Mutex
	progress []schema.Progress
	complete []schema.Complete
	errs     []error
}

func (r *recorder) attach(u *uploader.Uploader) *uploader.Uploader {
	return u.OnProgress(func(p schema.Progress) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.progress = append(r.progress, p)
	}).OnComplete(func(c schema.Complete) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.complete = append(r.complete, c)
	}).OnError(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	})
}

func (r *recorder) Last() schema.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.progress) == 0 {
		return schema.Progress{}
	}
	return r.progress[len(r.progress)-1]
}

func (r *recorder) Complete() []schema.Complete {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Complete(nil), r.complete...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) Percentages() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]int, 0, len(r.progress))
	for _, p := range r.progress {
		result = append(result, p.Percentage)
	}
	return result
}

////////////////////////////////////////////////////////////////////////////////
// HELPERS

// slowHash delays the digest, so the hash time is measurable
type slowHash struct {
	hash.Hash
}

func (h slowHash) Sum(b []byte) []byte {
	time.Sleep(20 * time.Millisecond)
	return h.Hash.Sum(b)
}

func slowMD5() hash.Hash {
	return slowHash{md5.New()}
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func wait(t *testing.T, u *uploader.Uploader) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return u.Wait(ctx)
}

func newUploader(t *testing.T, tr uploader.Transport, opts ...uploader.Opt) *uploader.Uploader {
	t.Helper()
	u, err := uploader.New(tr, opts...)
	require.NoError(t, err)
	return u
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE TESTS

func Test_Uploader_New(t *testing.T) {
	assert := assert.New(t)

	_, err := uploader.New(nil)
	assert.ErrorIs(err, schema.ErrBadParameter)

	for _, opt := range []uploader.Opt{
		uploader.WithChunkSize(0),
		uploader.WithConcurrency(0),
		uploader.WithRetries(0),
		uploader.WithLogger(nil),
		uploader.WithMeter(nil),
	} {
		_, err := uploader.New(newTransport(), opt)
		assert.ErrorIs(err, schema.ErrBadParameter)
	}

	u, err := uploader.New(newTransport())
	assert.NoError(err)
	assert.Equal(uploader.StateIdle, u.State())
	assert.ErrorIs(u.Pause(), schema.ErrNotReady)
	assert.ErrorIs(u.Proceed(context.Background()), schema.ErrNotReady)
	assert.ErrorIs(u.Wait(context.Background()), schema.ErrNotReady)
}

////////////////////////////////////////////////////////////////////////////////
// CHUNKED UPLOAD TESTS

func Test_Uploader_ThreeChunks(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	rec := new(recorder)
	data := make([]byte, 25*mb)
	for i := range data {
		data[i] = byte(i)
	}

	u := rec.attach(newUploader(t, tr, uploader.WithChunkSize(10*mb)))
	u.Upload(context.Background(), chunk.NewBytesSource("big.bin", data))
	require.NoError(t, wait(t, u))

	assert.Equal(uploader.StateComplete, u.State())
	assert.Equal(md5Hex(data), u.Hash())
	for _, name := range []string{"big.bin_0", "big.bin_1", "big.bin_2"} {
		assert.Equal(1, tr.Accepted(name), name)
	}

	// Aggregate progress reaches exactly 100, and never goes past it
	last := rec.Last()
	assert.Equal(100, last.Percentage)
	assert.Equal(int64(25*mb), last.Loaded)
	assert.Equal(int64(25*mb), last.Total)
	if assert.Len(last.Chunks, 3) {
		for _, c := range last.Chunks {
			assert.Equal(schema.StatusSuccess, c.Status)
		}
		assert.Equal(int64(5*mb), last.Chunks[2].Size())
	}
	for _, p := range rec.Percentages() {
		assert.LessOrEqual(p, 100)
	}
	assert.Len(rec.Complete(), 1)
	assert.Empty(rec.Errors())
}

func Test_Uploader_InstantUpload(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	tr.prepare.Uploaded = true
	rec := new(recorder)
	data := []byte("already on the server")

	u := rec.attach(newUploader(t, tr, uploader.WithChunkSize(4), uploader.WithHasher(slowMD5)))
	u.Upload(context.Background(), chunk.NewBytesSource("dup.txt", data))
	require.NoError(t, wait(t, u))

	// No bytes sent
	for i := range 6 {
		assert.Zero(tr.Calls(chunk.Name("dup.txt", i)))
	}

	last := rec.Last()
	assert.Equal(100, last.Percentage)
	assert.Equal(int64(len(data)), last.Loaded)
	for _, c := range last.Chunks {
		assert.Equal(schema.StatusSuccess, c.Status)
	}
	if complete := rec.Complete(); assert.Len(complete, 1) {
		assert.Zero(complete[0].UploadTime)
		assert.Greater(complete[0].HashTime, 0.0)
	}
}

func Test_Uploader_SkipsStoredChunks(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	tr.prepare.UploadedChunkList = []schema.UploadedChunk{{ChunkName: "p.bin_0"}, {ChunkName: "p.bin_2"}}
	rec := new(recorder)

	u := rec.attach(newUploader(t, tr, uploader.WithChunkSize(10)))
	u.Upload(context.Background(), chunk.NewBytesSource("p.bin", make([]byte, 30)))
	require.NoError(t, wait(t, u))

	assert.Zero(tr.Calls("p.bin_0"))
	assert.Equal(1, tr.Calls("p.bin_1"))
	assert.Zero(tr.Calls("p.bin_2"))
	assert.Equal(100, rec.Last().Percentage)
}

func Test_Uploader_RetrySucceeds(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	tr.fail = func(name string, attempt int) error {
		if name == "r.bin_1" && attempt < 3 {
			return errNetwork
		}
		return nil
	}
	rec := new(recorder)

	u := rec.attach(newUploader(t, tr, uploader.WithChunkSize(10), uploader.WithRetries(3)))
	u.Upload(context.Background(), chunk.NewBytesSource("r.bin", make([]byte, 30)))
	require.NoError(t, wait(t, u))

	assert.Equal(3, tr.Calls("r.bin_1"))
	last := rec.Last()
	if assert.Len(last.Chunks, 3) {
		assert.Equal(schema.StatusSuccess, last.Chunks[1].Status)
	}
	assert.Empty(rec.Errors())
}

func Test_Uploader_RetryExhaustedPauses(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	tr.fail = func(name string, attempt int) error {
		if name == "x.bin_0" && attempt <= 3 {
			return errNetwork
		}
		return nil
	}
	tr.holds = func(name string, attempt int) bool {
		return name != "x.bin_0"
	}
	rec := new(recorder)

	u := rec.attach(newUploader(t, tr, uploader.WithChunkSize(10), uploader.WithConcurrency(3), uploader.WithRetries(3)))
	u.Upload(context.Background(), chunk.NewBytesSource("x.bin", make([]byte, 30)))
	err := wait(t, u)
	assert.ErrorIs(err, schema.ErrRetryExhausted)
	assert.ErrorIs(err, errNetwork)

	// Paused, with the other requests aborted
	assert.Equal(uploader.StatePaused, u.State())
	assert.Equal(3, tr.Calls("x.bin_0"))
	assert.Equal(2, tr.Aborted())
	assert.Zero(tr.Inflight())
	if errs := rec.Errors(); assert.Len(errs, 1) {
		assert.ErrorIs(errs[0], schema.ErrRetryExhausted)
	}
	assert.Empty(rec.Complete())

	last := rec.Last()
	if assert.Len(last.Chunks, 3) {
		assert.Equal(schema.StatusError, last.Chunks[0].Status)
		assert.Nil(last.Chunks[0].Progress)
		assert.Equal(schema.StatusReady, last.Chunks[1].Status)
		assert.Equal(schema.StatusReady, last.Chunks[2].Status)
	}
	assert.Zero(last.Loaded)

	// Resume completes the upload
	tr.Release()
	require.NoError(t, u.Proceed(context.Background()))
	require.NoError(t, wait(t, u))
	assert.Equal(uploader.StateComplete, u.State())
	assert.Equal(4, tr.Calls("x.bin_0"))
	assert.Len(rec.Complete(), 1)
}

func Test_Uploader_PauseAndResume(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	tr.holds = func(name string, attempt int) bool {
		return name != "s.bin_0"
	}
	rec := new(recorder)
	var hashes atomic.Int32
	hasher := func() hash.Hash {
		hashes.Add(1)
		return md5.New()
	}

	u := rec.attach(newUploader(t, tr, uploader.WithChunkSize(10), uploader.WithConcurrency(2), uploader.WithHasher(hasher)))
	u.Upload(context.Background(), chunk.NewBytesSource("s.bin", make([]byte, 40)))

	// Chunk 0 is accepted, then two chunks are held in flight
	assert.Eventually(func() bool {
		return tr.Accepted("s.bin_0") == 1 && tr.Inflight() == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(uploader.StateUploading, u.State())

	require.NoError(t, u.Pause())
	err := wait(t, u)
	assert.ErrorIs(err, schema.ErrAborted)
	assert.Equal(uploader.StatePaused, u.State())
	assert.Zero(tr.Inflight())
	assert.Empty(rec.Errors())

	// Aborted chunks no longer count toward the progress
	last := rec.Last()
	assert.Equal(int64(10), last.Loaded)
	assert.Equal(25, last.Percentage)

	// Resume, without hashing or sending chunk 0 again
	tr.Release()
	require.NoError(t, u.Proceed(context.Background()))
	require.NoError(t, wait(t, u))
	assert.Equal(int32(1), hashes.Load())
	for i := range 4 {
		assert.Equal(1, tr.Accepted(chunk.Name("s.bin", i)))
	}
	assert.Equal(1, tr.Calls("s.bin_0"))
	assert.Equal(100, rec.Last().Percentage)

	// Nothing left to resume
	assert.ErrorIs(u.Proceed(context.Background()), schema.ErrNotReady)
	assert.ErrorIs(u.Pause(), schema.ErrNotReady)
}

func Test_Uploader_PauseWhileHashing(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	rec := new(recorder)

	u := rec.attach(newUploader(t, tr, uploader.WithChunkSize(10), uploader.WithHasher(slowMD5)))
	u.Upload(context.Background(), chunk.NewBytesSource("h.bin", make([]byte, 20)))
	require.NoError(t, u.Pause())

	assert.ErrorIs(wait(t, u), schema.ErrAborted)
	assert.Equal(uploader.StatePaused, u.State())
	assert.Zero(tr.Calls("h.bin_0"))
	assert.NotEmpty(u.Hash())

	require.NoError(t, u.Proceed(context.Background()))
	require.NoError(t, wait(t, u))
	assert.Equal(1, tr.Accepted("h.bin_0"))
	assert.Equal(1, tr.Accepted("h.bin_1"))
}

func Test_Uploader_EmptyFile(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	rec := new(recorder)

	u := rec.attach(newUploader(t, tr))
	u.Upload(context.Background(), chunk.NewBytesSource("empty.txt", nil))
	require.NoError(t, wait(t, u))

	assert.Equal("d41d8cd98f00b204e9800998ecf8427e", u.Hash())
	assert.Equal(1, tr.Accepted("empty.txt_0"))
	last := rec.Last()
	assert.Equal(100, last.Percentage)
	assert.Zero(last.Total)
}

func Test_Uploader_LastSubscriberWins(t *testing.T) {
	assert := assert.New(t)
	var first, second atomic.Int32

	u := newUploader(t, newTransport(), uploader.WithChunkSize(10), uploader.WithHasher(slowMD5))
	u.OnComplete(func(schema.Complete) { first.Add(1) })
	u.Upload(context.Background(), chunk.NewBytesSource("w.bin", make([]byte, 10))).OnComplete(func(schema.Complete) { second.Add(1) })
	require.NoError(t, wait(t, u))

	assert.Zero(first.Load())
	assert.Equal(int32(1), second.Load())
}

func Test_Uploader_NewUploadReplaces(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	tr.holds = func(name string, attempt int) bool {
		return name == "old.bin_0"
	}
	rec := new(recorder)

	u := rec.attach(newUploader(t, tr, uploader.WithChunkSize(10)))
	u.Upload(context.Background(), chunk.NewBytesSource("old.bin", make([]byte, 10)))
	assert.Eventually(func() bool {
		return tr.Inflight() == 1
	}, 5*time.Second, 5*time.Millisecond)

	u.Upload(context.Background(), chunk.NewBytesSource("new.bin", make([]byte, 10)))
	require.NoError(t, wait(t, u))

	assert.Equal(1, tr.Accepted("new.bin_0"))
	assert.Zero(tr.Accepted("old.bin_0"))
	assert.Eventually(func() bool {
		return tr.Aborted() == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Len(rec.Complete(), 1)
	for _, c := range rec.Last().Chunks {
		assert.Equal("new.bin", c.FileName)
	}
}

func Test_Uploader_HashFailure(t *testing.T) {
	assert := assert.New(t)
	rec := new(recorder)

	u := rec.attach(newUploader(t, newTransport(), uploader.WithChunkSize(10)))
	u.Upload(context.Background(), brokenSource{})
	err := wait(t, u)
	assert.ErrorIs(err, schema.ErrHashFailed)
	assert.Equal(uploader.StateFailed, u.State())
	assert.Len(rec.Errors(), 1)
}

////////////////////////////////////////////////////////////////////////////////
// SINGLE-SHOT TESTS

func Test_Uploader_Single(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	rec := new(recorder)
	data := []byte("one request")

	u := rec.attach(newUploader(t, tr, uploader.WithSingle()))
	u.Upload(context.Background(), chunk.NewBytesSource("one.txt", data))
	require.NoError(t, wait(t, u))

	assert.Equal(data, tr.files["one.txt"])
	assert.Zero(tr.prepares)
	assert.Empty(u.Hash())

	last := rec.Last()
	assert.Equal(100, last.Percentage)
	assert.Nil(last.Chunks)
	if complete := rec.Complete(); assert.Len(complete, 1) {
		assert.Zero(complete[0].HashTime)
	}
}

func Test_Uploader_SingleRejected(t *testing.T) {
	assert := assert.New(t)
	tr := newTransport()
	tr.fail = func(string, int) error {
		return schema.ErrRejected
	}
	rec := new(recorder)

	u := rec.attach(newUploader(t, tr, uploader.WithSingle()))
	u.Upload(context.Background(), chunk.NewBytesSource("one.txt", []byte("x")))
	assert.ErrorIs(wait(t, u), schema.ErrRejected)
	assert.Equal(uploader.StateFailed, u.State())
	assert.Len(rec.Errors(), 1)
	assert.Empty(rec.Complete())
}

////////////////////////////////////////////////////////////////////////////////
// SOURCES

type brokenSource struct{}

func (brokenSource) Name() string { return "broken.bin" }
func (brokenSource) Size() int64  { return 20 }
func (brokenSource) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("disk on fire")
}
