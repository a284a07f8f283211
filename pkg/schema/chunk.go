package schema

import (
	"io"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Status is the lifecycle state of a chunk. A chunk moves from READY to
// UPLOADING and then to SUCCESS or ERROR. ERROR returns to READY only through
// a retry, and UPLOADING returns to READY only when the request is aborted.
type Status string

const (
	StatusReady     Status = "READY"
	StatusUploading Status = "UPLOADING"
	StatusSuccess   Status = "SUCCESS"
	StatusError     Status = "ERROR"
)

// ChunkProgress records the bytes sent for a single chunk request.
type ChunkProgress struct {
	Loaded     int64 `json:"loaded"`
	Total      int64 `json:"total"`
	Percentage int   `json:"percentage"`
}

// Chunk is one contiguous byte range [Start, End) of a file.
type Chunk struct {
	// Source the chunk bytes are read from
	Source io.ReaderAt `json:"-"`

	FileName  string         `json:"fileName"`
	Start     int64          `json:"start"`
	End       int64          `json:"end"`
	Total     int64          `json:"total"`
	Index     int            `json:"index"`
	ChunkNum  int            `json:"chunkNum"`
	ChunkName string         `json:"chunkName"`
	FileHash  string         `json:"fileHash,omitempty"`
	Status    Status         `json:"status"`
	Progress  *ChunkProgress `json:"progress,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewChunkProgress returns a progress record, with the percentage floored.
func NewChunkProgress(loaded, total int64) *ChunkProgress {
	return &ChunkProgress{
		Loaded:     loaded,
		Total:      total,
		Percentage: Percent(loaded, total),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Size returns the number of bytes in the chunk
func (c *Chunk) Size() int64 {
	return c.End - c.Start
}

// NewReader returns a reader positioned at the start of the chunk. Each call
// returns an independent reader, so a chunk can be read again on retry.
func (c *Chunk) NewReader() *io.SectionReader {
	return io.NewSectionReader(c.Source, c.Start, c.Size())
}

// Pending reports whether the chunk is eligible for upload
func (c *Chunk) Pending() bool {
	return c.Status == StatusReady || c.Status == StatusError
}

// Loaded returns the bytes sent for this chunk, or zero when there is no
// progress record
func (c *Chunk) Loaded() int64 {
	if c.Progress == nil {
		return 0
	}
	return c.Progress.Loaded
}

// MarkSuccess sets the status to SUCCESS and the progress to the full size
func (c *Chunk) MarkSuccess() {
	c.Status = StatusSuccess
	c.Progress = NewChunkProgress(c.Size(), c.Size())
}

// MarkReady sets the status to READY and zeroes any progress
func (c *Chunk) MarkReady() {
	c.Status = StatusReady
	if c.Progress != nil {
		c.Progress.Loaded = 0
		c.Progress.Percentage = 0
	}
}

// MarkError sets the status to ERROR and clears the progress, so bytes that
// were not accepted are not reported
func (c *Chunk) MarkError() {
	c.Status = StatusError
	c.Progress = nil
}

// Clone returns a copy which shares no mutable state with the chunk
func (c *Chunk) Clone() Chunk {
	clone := *c
	if c.Progress != nil {
		progress := *c.Progress
		clone.Progress = &progress
	}
	return clone
}

// Snapshot returns copies of the chunks, in the same order
func Snapshot(chunks []*Chunk) []Chunk {
	result := make([]Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		result = append(result, chunk.Clone())
	}
	return result
}

// Percent returns loaded as a percentage of total, floored to an integer.
// A zero total is reported as complete.
func Percent(loaded, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(loaded * 100 / total)
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (c Chunk) String() string {
	return types.Stringify(c)
}

func (p ChunkProgress) String() string {
	return types.Stringify(p)
}
