// Package httpclient provides a typed Go client for the upload service.
//
// Create a client with:
//
//	client, err := httpclient.New("http://localhost:8080/file")
//	if err != nil {
//	   panic(err)
//	}
//
// Then ask the service what it already holds, and upload the rest:
//
//	resp, err := client.Prepare(ctx, schema.PrepareRequest{FileSize: size, ContentHash: hash})
//	err = client.UploadChunk(ctx, chunk, func(loaded, total int64) { ... })
//
// The client satisfies scheduler.Transport, so it can be passed directly to
// scheduler.New and uploader.New.
package httpclient
