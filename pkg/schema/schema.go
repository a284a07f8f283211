package schema

import "errors"

////////////////////////////////////////////////////////////////////////////////
// CONSTANTS

const (
	SchemaName = "uploader"

	// DefaultChunkSize is the size of each chunk, except the last one
	DefaultChunkSize = 10 * 1024 * 1024

	// DefaultConcurrency is the maximum number of chunk requests in flight
	DefaultConcurrency = 6

	// DefaultRetries is the number of failures a single chunk may accumulate
	// before the whole run is rejected
	DefaultRetries = 3

	// SuccessMarker is the response body the remote service returns when an
	// upload has been accepted. Any other body is an application-level failure.
	SuccessMarker = "true"
)

const (
	// Remote service paths, relative to the service endpoint
	PreparePath      = "/prepare"
	UploadSinglePath = "/uploadSingle"
	UploadChunkPath  = "/uploadChunk"
)

const (
	// Form fields for the existence check
	FieldFileSize    = "fileSize"
	FieldContentHash = "contentHash"

	// Form fields for a chunk upload, in the order they are written
	FieldChunk     = "chunk"
	FieldFileHash  = "fileHash"
	FieldChunkName = "chunkName"
	FieldChunkNum  = "chunkNum"
	FieldStart     = "start"
	FieldEnd       = "end"
	FieldTotal     = "total"
	FieldIndex     = "index"
	FieldFileName  = "fileName"

	// Form fields for a single-shot upload
	FieldFile = "file"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	// ErrAborted is the cancellation cause used when a request is aborted by
	// the caller (pause). It is never counted as a failure.
	ErrAborted = errors.New("aborted")

	// ErrRejected is returned when the remote service answers with a success
	// status code but without the success marker.
	ErrRejected = errors.New("rejected by remote service")

	// ErrRetryExhausted is returned when a chunk fails as many times as the
	// retry limit allows.
	ErrRetryExhausted = errors.New("retry limit reached")

	// ErrHashFailed is returned when a chunk cannot be read while computing
	// the content hash.
	ErrHashFailed = errors.New("content hash failed")

	// ErrBadParameter is returned for invalid options or arguments.
	ErrBadParameter = errors.New("bad parameter")

	// ErrNotReady is returned when an operation needs an upload in progress.
	ErrNotReady = errors.New("no upload in progress")
)
