package schema

import (
	"math"
	"time"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// PrepareRequest is the existence check sent before any chunk is uploaded
type PrepareRequest struct {
	FileSize    int64  `json:"fileSize"`
	ContentHash string `json:"contentHash"`
}

// UploadedChunk names a chunk the remote service already stores
type UploadedChunk struct {
	ChunkName string `json:"chunkName"`
}

// PrepareResponse reports whether the whole file is stored and, if not,
// which chunks are
type PrepareResponse struct {
	Uploaded          bool            `json:"uploaded"`
	UploadedChunkList []UploadedChunk `json:"uploadedChunkList"`
}

// UploadChunkRequest carries the fields of a chunk upload, without the bytes
type UploadChunkRequest struct {
	FileHash  string `json:"fileHash"`
	ChunkName string `json:"chunkName"`
	ChunkNum  int    `json:"chunkNum"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Total     int64  `json:"total"`
	Index     int    `json:"index"`
	FileName  string `json:"fileName"`
}

// Progress is published to progress subscribers. Chunks is nil for a
// single-shot upload.
type Progress struct {
	Percentage int     `json:"percentage"`
	Loaded     int64   `json:"loaded"`
	Total      int64   `json:"total"`
	Chunks     []Chunk `json:"progressDetail,omitempty"`
}

// Complete is published once when an upload finishes. Times are in seconds,
// truncated to two decimal places.
type Complete struct {
	UploadTime float64 `json:"uploadTime"`
	HashTime   float64 `json:"hashTime"`
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Has reports whether the named chunk is in the uploaded chunk list
func (r PrepareResponse) Has(name string) bool {
	for _, chunk := range r.UploadedChunkList {
		if chunk.ChunkName == name {
			return true
		}
	}
	return false
}

// Request returns the form fields for uploading the chunk
func (c *Chunk) Request() UploadChunkRequest {
	return UploadChunkRequest{
		FileHash:  c.FileHash,
		ChunkName: c.ChunkName,
		ChunkNum:  c.ChunkNum,
		Start:     c.Start,
		End:       c.End,
		Total:     c.Total,
		Index:     c.Index,
		FileName:  c.FileName,
	}
}

// Seconds converts a duration to seconds, truncated to two decimal places
func Seconds(d time.Duration) float64 {
	return math.Trunc(d.Seconds()*100) / 100
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (r PrepareRequest) String() string {
	return types.Stringify(r)
}

func (r PrepareResponse) String() string {
	return types.Stringify(r)
}

func (r UploadChunkRequest) String() string {
	return types.Stringify(r)
}

func (p Progress) String() string {
	return types.Stringify(p)
}

func (c Complete) String() string {
	return types.Stringify(c)
}
