// Package chunk splits a file into fixed-size chunks and computes the content
// hash over the chunk sequence.
package chunk

import (
	"strconv"

	// Packages
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Partition splits src into chunks of chunkSize bytes. The last chunk may be
// shorter. An empty source yields a single zero-length chunk. A chunkSize of
// zero or less selects schema.DefaultChunkSize.
func Partition(src Source, chunkSize int64) []*schema.Chunk {
	if chunkSize <= 0 {
		chunkSize = schema.DefaultChunkSize
	}
	name, size := src.Name(), src.Size()

	// Walk the offsets
	chunks := make([]*schema.Chunk, 0, Count(size, chunkSize))
	for offset := int64(0); offset < size; offset += chunkSize {
		chunks = append(chunks, newChunk(src, name, offset, min(offset+chunkSize, size), size))
	}
	if len(chunks) == 0 {
		chunks = append(chunks, newChunk(src, name, 0, 0, 0))
	}

	// Number the chunks once the count is known
	for i, chunk := range chunks {
		chunk.Index = i
		chunk.ChunkNum = len(chunks)
		chunk.ChunkName = Name(name, i)
	}

	return chunks
}

// Count returns the number of chunks Partition produces for a file of the
// given size
func Count(size, chunkSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Name returns the chunk name for a file name and chunk index. The name is
// stable across retries and resume, so the remote service can recognise
// chunks it already holds.
func Name(fileName string, index int) string {
	return fileName + "_" + strconv.Itoa(index)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func newChunk(src Source, name string, start, end, total int64) *schema.Chunk {
	return &schema.Chunk{
		Source:   src,
		FileName: name,
		Start:    start,
		End:      end,
		Total:    total,
		Status:   schema.StatusReady,
	}
}
