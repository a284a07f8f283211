package httphandler

import (
	"net/http"
	"strconv"

	// Packages
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	openapi "github.com/mutablelogic/go-server/pkg/openapi"
	types "github.com/mutablelogic/go-server/pkg/types"
	manager "github.com/mutablelogic/go-uploader/pkg/manager"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// HANDLER FUNCTIONS

// Path: /uploadSingle
// POST stores a whole file sent as the "file" multipart field
func UploadSingleHandler(mgr *manager.Manager) (string, httprequest.PathItem) {
	return schema.UploadSinglePath, httprequest.NewPathItem(
		"Upload file", "Upload a file in a single request", tag,
	).Post(func(w http.ResponseWriter, r *http.Request) {
		_ = uploadSingle(w, r, mgr)
	}, "Upload a whole file",
		openapi.WithDescription("Upload a file using multipart/form-data (fields: file, fileName)"),
		openapi.WithTextResponse(http.StatusOK, "The file was stored"),
		openapi.WithErrorResponse(http.StatusBadRequest, "Missing or invalid form fields"),
	)
}

// Path: /uploadChunk
// POST stores one chunk and assembles the file once every chunk is stored
func UploadChunkHandler(mgr *manager.Manager) (string, httprequest.PathItem) {
	return schema.UploadChunkPath, httprequest.NewPathItem(
		"Upload chunk", "Upload one chunk of a file", tag,
	).Post(func(w http.ResponseWriter, r *http.Request) {
		_ = uploadChunk(w, r, mgr)
	}, "Upload a chunk",
		openapi.WithDescription("Upload a chunk using multipart/form-data (fields: chunk, fileHash, chunkName, chunkNum, start, end, total, index, fileName)"),
		openapi.WithTextResponse(http.StatusOK, "The chunk was stored"),
		openapi.WithErrorResponse(http.StatusBadRequest, "Missing or invalid form fields"),
	)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func uploadSingle(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	var form struct {
		Files    []types.File `json:"file"`
		FileName string       `json:"fileName"`
	}
	if err := httprequest.Read(r, &form); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With(err.Error()))
	} else if len(form.Files) != 1 {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With(`expected one "file" form field`))
	}
	file := form.Files[0]
	defer file.Body.Close()

	// The part file name is used when no fileName field is sent
	name := form.FileName
	if name == "" {
		name = file.Path
	}
	if _, err := mgr.UploadFile(r.Context(), name, file.Body); err != nil {
		return httpresponse.Error(w, err)
	}

	return accepted(w)
}

func uploadChunk(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	var form struct {
		Chunk     []types.File `json:"chunk"`
		FileHash  string       `json:"fileHash"`
		ChunkName string       `json:"chunkName"`
		ChunkNum  string       `json:"chunkNum"`
		Start     string       `json:"start"`
		End       string       `json:"end"`
		Total     string       `json:"total"`
		Index     string       `json:"index"`
		FileName  string       `json:"fileName"`
	}
	if err := httprequest.Read(r, &form); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With(err.Error()))
	} else if len(form.Chunk) != 1 {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With(`expected one "chunk" form field`))
	}
	file := form.Chunk[0]
	defer file.Body.Close()

	// Parse the numeric fields
	req := schema.UploadChunkRequest{
		FileHash:  form.FileHash,
		ChunkName: form.ChunkName,
		FileName:  form.FileName,
	}
	var err error
	if req.ChunkNum, err = strconv.Atoi(form.ChunkNum); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.Withf("invalid chunkNum %q", form.ChunkNum))
	} else if req.Index, err = strconv.Atoi(form.Index); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.Withf("invalid index %q", form.Index))
	} else if req.Start, err = strconv.ParseInt(form.Start, 10, 64); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.Withf("invalid start %q", form.Start))
	} else if req.End, err = strconv.ParseInt(form.End, 10, 64); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.Withf("invalid end %q", form.End))
	} else if req.Total, err = strconv.ParseInt(form.Total, 10, 64); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.Withf("invalid total %q", form.Total))
	}

	if _, err := mgr.UploadChunk(r.Context(), req, file.Body); err != nil {
		return httpresponse.Error(w, err)
	}

	return accepted(w)
}
