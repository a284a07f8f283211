package httpclient

import (
	"fmt"
	"io"
	"net/http"

	// Packages
	client "github.com/mutablelogic/go-client"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// markerUnmarshaler accepts a response only when the body is the success
// marker. Any other body is an application-level rejection.
type markerUnmarshaler struct{}

var _ client.Unmarshaler = (*markerUnmarshaler)(nil)

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

// maxMarkerBody bounds how much of an unexpected body is read
const maxMarkerBody = 1024

///////////////////////////////////////////////////////////////////////////////
// INTERFACE IMPLEMENTATION

func (markerUnmarshaler) Unmarshal(_ http.Header, reader io.Reader) error {
	body, err := io.ReadAll(io.LimitReader(reader, maxMarkerBody))
	if err != nil {
		return err
	}
	if string(body) != schema.SuccessMarker {
		return fmt.Errorf("%w: %q", schema.ErrRejected, body)
	}
	return nil
}
