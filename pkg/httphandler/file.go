package httphandler

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	// Packages
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	openapi "github.com/mutablelogic/go-server/pkg/openapi"
	types "github.com/mutablelogic/go-server/pkg/types"
	manager "github.com/mutablelogic/go-uploader/pkg/manager"
)

///////////////////////////////////////////////////////////////////////////////
// HANDLER FUNCTIONS

// Path: /download/{hash}
// GET downloads an assembled file by content hash
func FileHandler(mgr *manager.Manager) (string, httprequest.PathItem) {
	return "/download/{hash}", httprequest.NewPathItem(
		"Download", "Download an assembled file", tag,
	).Get(func(w http.ResponseWriter, r *http.Request) {
		_ = fileGet(w, r, mgr)
	}, "Download a file by content hash",
		openapi.WithErrorResponse(http.StatusNotFound, "No file with this content hash"),
	)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func fileGet(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	reader, obj, err := mgr.ReadFile(r.Context(), r.PathValue("hash"))
	if err != nil {
		return httpresponse.Error(w, err)
	}
	defer reader.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = types.ContentTypeBinary
	}
	w.Header().Set(types.ContentTypeHeader, contentType)
	if obj.Name != "" {
		if cd := mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}); cd != "" {
			w.Header().Set(types.ContentDispositonHeader, cd)
		}
	}
	if obj.Size >= 0 {
		w.Header().Set(types.ContentLengthHeader, strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	_, err = io.Copy(w, reader)
	return err
}
