package schema

import (
	"time"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Object is a file or chunk held by the reference service
type Object struct {
	Key         string    `json:"key"`
	Name        string    `json:"name,omitempty"`
	ContentHash string    `json:"contentHash,omitempty"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	ModTime     time.Time `json:"modtime,omitzero"`
}

// ObjectMeta is user-defined metadata stored alongside an object
type ObjectMeta map[string]string

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// Metadata keys, lowercase for S3 compatibility
	AttrName     = "name"
	AttrSize     = "size"
	AttrHash     = "hash"
	AttrIndex    = "index"
	AttrChunkNum = "chunknum"
	AttrStart    = "start"
	AttrEnd      = "end"
)

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (o Object) String() string {
	return types.Stringify(o)
}
