// Package httphandler serves the upload contract over HTTP: an existence
// check, single-shot uploads and chunk uploads. Upload handlers reply with
// the plain-text body "true" on success.
package httphandler

import (
	"errors"
	"net/http"
	"strings"

	// Packages
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	jsonschema "github.com/mutablelogic/go-server/pkg/jsonschema"
	types "github.com/mutablelogic/go-server/pkg/types"
	manager "github.com/mutablelogic/go-uploader/pkg/manager"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Router is the interface required to register HTTP handlers.
type Router interface {
	RegisterPath(path string, params *jsonschema.Schema, pathitem httprequest.PathItem) error
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	tag = "Upload"
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// RegisterHandlers registers all upload HTTP handlers on the provided router,
// relative to the router prefix.
func RegisterHandlers(mgr *manager.Manager, router Router) error {
	var result error
	register := func(path string, item httprequest.PathItem) {
		result = errors.Join(result, router.RegisterPath(strings.TrimPrefix(path, "/"), nil, item))
	}
	register(PrepareHandler(mgr))
	register(UploadSingleHandler(mgr))
	register(UploadChunkHandler(mgr))
	register(FileHandler(mgr))
	return result
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// accepted writes the success marker
func accepted(w http.ResponseWriter) error {
	w.Header().Set(types.ContentTypeHeader, types.ContentTypeTextPlain)
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte(schema.SuccessMarker))
	return err
}
