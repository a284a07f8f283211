package chunk

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Source is a named, sized byte source which can be read at any offset.
// It must remain readable for as long as an upload can be resumed.
type Source interface {
	io.ReaderAt

	// Name returns the display name of the file
	Name() string

	// Size returns the number of bytes in the file
	Size() int64
}

// File is a Source backed by a file on disk
type File struct {
	*os.File
	name string
	size int64
}

type bytesSource struct {
	*bytes.Reader
	name string
}

var _ Source = (*File)(nil)
var _ Source = (*bytesSource)(nil)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// OpenFile opens a file as a Source. The display name is the base name of
// the path. The caller must close the file when the upload has finished.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{File: f, name: filepath.Base(path), size: info.Size()}, nil
}

// NewBytesSource returns a Source over data held in memory
func NewBytesSource(name string, data []byte) Source {
	return &bytesSource{Reader: bytes.NewReader(data), name: name}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (f *File) Name() string {
	return f.name
}

func (f *File) Size() int64 {
	return f.size
}

func (s *bytesSource) Name() string {
	return s.name
}
