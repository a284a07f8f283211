package httphandler

import (
	"net/http"
	"strconv"

	// Packages
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	openapi "github.com/mutablelogic/go-server/pkg/openapi"
	manager "github.com/mutablelogic/go-uploader/pkg/manager"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// HANDLER FUNCTIONS

// Path: /prepare
// POST reports whether a file is already stored, or which of its chunks are
func PrepareHandler(mgr *manager.Manager) (string, httprequest.PathItem) {
	return schema.PreparePath, httprequest.NewPathItem(
		"Prepare", "Check whether a file or some of its chunks are already stored", tag,
	).Post(func(w http.ResponseWriter, r *http.Request) {
		_ = prepare(w, r, mgr)
	}, "Check upload state",
		openapi.WithDescription("Check whether a file (fileSize, contentHash) or some of its chunks are already stored"),
		openapi.WithErrorResponse(http.StatusBadRequest, "Invalid form fields"),
	)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func prepare(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	var form struct {
		FileSize    string `json:"fileSize"`
		ContentHash string `json:"contentHash"`
	}
	if err := httprequest.Read(r, &form); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With(err.Error()))
	}
	size, err := strconv.ParseInt(form.FileSize, 10, 64)
	if err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.Withf("invalid fileSize %q", form.FileSize))
	}

	resp, err := mgr.Prepare(r.Context(), schema.PrepareRequest{
		FileSize:    size,
		ContentHash: form.ContentHash,
	})
	if err != nil {
		return httpresponse.Error(w, err)
	}

	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), resp)
}
