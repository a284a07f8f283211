package httpclient

import (
	"crypto/tls"
	"fmt"
	"net/http"

	// Packages
	client "github.com/mutablelogic/go-client"
	scheduler "github.com/mutablelogic/go-uploader/pkg/scheduler"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Client sends the existence check, single-shot uploads and chunk uploads to
// the upload service.
type Client struct {
	*client.Client
}

var _ scheduler.Transport = (*Client)(nil)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New returns a client for the service at url, e.g.
// "http://localhost:8080/file". Request paths are appended to it.
func New(url string, opts ...client.ClientOpt) (*Client, error) {
	cl, err := client.New(append(opts, client.OptEndpoint(url))...)
	if err != nil {
		return nil, err
	}
	return &Client{Client: cl}, nil
}

///////////////////////////////////////////////////////////////////////////////
// OPTIONS

// OptHTTP1 disables HTTP/2, so that concurrent chunk requests are spread over
// separate connections instead of being multiplexed onto one. It must be
// applied before any option which wraps the transport, such as
// client.OptTrace.
func OptHTTP1() client.ClientOpt {
	return func(c *client.Client) error {
		var tr *http.Transport
		switch t := c.Client.Transport.(type) {
		case nil:
			tr = http.DefaultTransport.(*http.Transport).Clone()
		case *http.Transport:
			tr = t.Clone()
		default:
			return fmt.Errorf("%w: OptHTTP1 cannot be applied to transport %T", schema.ErrBadParameter, t)
		}
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
		c.Client.Transport = tr
		return nil
	}
}
