package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"syscall"

	// Packages
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	types "github.com/mutablelogic/go-server/pkg/types"
	blob "gocloud.dev/blob"
	s3blob "gocloud.dev/blob/s3blob"
	gcerrors "gocloud.dev/gcerrors"

	// Drivers
	_ "gocloud.dev/blob/fileblob" // file:// URLs
	_ "gocloud.dev/blob/memblob"  // mem:// URLs
	_ "gocloud.dev/blob/s3blob"   // s3:// URLs
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type blobbackend struct {
	*opt
	bucket       *blob.Bucket
	bucketPrefix string // key prefix for bucket operations (empty for file://)
}

var _ Backend = (*blobbackend)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	chunksPrefix = "chunks"
	filesPrefix  = "files"
	singlePrefix = "single"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewBlobBackend creates a new blob backend using Go CDK.
// Supported URL schemes: s3://, file://, mem://
// Examples:
//   - "s3://my-bucket?region=us-east-1"
//   - "file://name/path/to/directory"
//   - "mem://name"
//
// For S3 URLs, you can optionally provide an aws.Config via WithAWSConfig()
// for full control over AWS SDK configuration.
func NewBlobBackend(ctx context.Context, u string, opts ...Opt) (*blobbackend, error) {
	self := new(blobbackend)

	// Set the options
	if url, err := url.Parse(u); err != nil {
		return nil, err
	} else if opt, err := apply(url, opts...); err != nil {
		return nil, err
	} else {
		self.opt = opt
	}

	// Validate the backend name (URL host) is a valid identifier
	if !types.IsIdentifier(self.url.Host) {
		return nil, fmt.Errorf("backend name %q must be a valid identifier (letter, digits, underscores, hyphens; max 64 chars)", self.url.Host)
	}

	// For s3/mem the URL path is a key prefix; for file:// it is the root
	// directory of the bucket
	if self.url.Scheme != "file" {
		self.bucketPrefix = strings.Trim(self.url.Path, "/")
	}

	// Open the bucket
	var bucket *blob.Bucket
	var err error
	switch {
	case self.url.Scheme == "s3" && self.awsConfig != nil:
		bucket, err = s3blob.OpenBucket(ctx, self.s3Client(), self.url.Host, nil)
	case self.url.Scheme == "file":
		openURL := &url.URL{Scheme: "file", Path: self.url.Path, RawQuery: self.url.RawQuery}
		bucket, err = blob.OpenBucket(ctx, openURL.String())
	default:
		// Open at root (strip path) to avoid PrefixedBucket
		openURL := *self.url
		openURL.Path = ""
		openURL.RawPath = ""
		bucket, err = blob.OpenBucket(ctx, openURL.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	self.bucket = bucket

	// Return success
	return self, nil
}

// NewFileBackend creates a file-based backend with a logical name.
// dir must be an absolute path.
func NewFileBackend(ctx context.Context, name, dir string, opts ...Opt) (*blobbackend, error) {
	if !path.IsAbs(dir) {
		return nil, fmt.Errorf("backend dir %q must be an absolute path", dir)
	}
	return NewBlobBackend(ctx, "file://"+name+path.Clean(dir), opts...)
}

// Close the backend
func (b *blobbackend) Close() error {
	var result error
	if b.bucket != nil {
		result = errors.Join(result, b.bucket.Close())
		b.bucket = nil
	}

	// Return any errors
	return result
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the name of the backend (the host component of the URL)
func (b *blobbackend) Name() string {
	return b.url.Host
}

// URL returns the backend URL. Query parameters are only kept for s3://, and
// never carry credentials.
func (b *blobbackend) URL() *url.URL {
	u := &url.URL{Scheme: b.url.Scheme, Host: b.url.Host, Path: b.url.Path}
	if b.url.Scheme != "s3" {
		return u
	}
	q := url.Values{}
	if b.awsConfig != nil && b.awsConfig.Region != "" {
		q.Set("region", b.awsConfig.Region)
	} else if region := b.url.Query().Get("region"); region != "" {
		q.Set("region", region)
	}
	if b.endpoint != "" {
		if endpoint, err := url.Parse(b.endpoint); err == nil {
			endpoint.User = nil
			q.Set("endpoint", endpoint.String())
		}
	}
	if b.anonymous {
		q.Set("anonymous", "true")
	}
	u.RawQuery = q.Encode()
	return u
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// storageKey joins key segments and prepends the bucket prefix
func (b *blobbackend) storageKey(segments ...string) string {
	key := strings.Join(segments, "/")
	if b.bucketPrefix != "" {
		return b.bucketPrefix + "/" + key
	}
	return key
}

func chunkKey(hash, chunkName string) []string {
	return []string{chunksPrefix, hash, chunkName}
}

func fileKey(hash string) []string {
	return []string{filesPrefix, hash}
}

func singleKey(name string) []string {
	return []string{singlePrefix, name}
}

// validSegment reports whether s can be used as a single key segment
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\\x00")
}

func (b *blobbackend) attrsToObject(key string, attrs *blob.Attributes) *schema.Object {
	obj := &schema.Object{
		Key:         key,
		Size:        attrs.Size,
		ModTime:     attrs.ModTime,
		ContentType: attrs.ContentType,
	}
	if attrs.Metadata != nil {
		obj.Name = attrs.Metadata[schema.AttrName]
		obj.ContentHash = attrs.Metadata[schema.AttrHash]
	}
	return obj
}

// blobErr wraps a go-cloud blob error with the appropriate httpresponse error
func blobErr(err error, key string) error {
	if err == nil {
		return nil
	}
	// Check for OS-level errors before go-cloud classification, since the
	// gcerrors default path wraps with %v and breaks the chain.
	if errors.Is(err, syscall.EISDIR) || errors.Is(err, syscall.EEXIST) {
		return httpresponse.ErrBadRequest.Withf("cannot overwrite directory with file: %q", key)
	}
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return httpresponse.ErrNotFound.Withf("object %q not found", key)
	case gcerrors.PermissionDenied:
		return httpresponse.ErrForbidden.Withf("permission denied for %q", key)
	case gcerrors.InvalidArgument:
		return httpresponse.ErrBadRequest.Withf("invalid argument for %q: %v", key, err)
	case gcerrors.FailedPrecondition:
		return httpresponse.ErrConflict.Withf("precondition failed for %q: %v", key, err)
	default:
		return httpresponse.ErrInternalError.Withf("blob operation failed: %v", err)
	}
}
