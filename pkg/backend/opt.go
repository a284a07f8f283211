package backend

import (
	"fmt"
	"net/url"

	// Packages
	aws "github.com/aws/aws-sdk-go-v2/aws"
	s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	otelaws "go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type opt struct {
	url       *url.URL
	awsConfig *aws.Config
	endpoint  string       // raw endpoint URL set via WithEndpoint; wired into the S3 client when awsConfig is present
	anonymous bool         // forces anonymous credentials; wired into the S3 client when awsConfig is present
	tracer    trace.Tracer // optional OTel tracer; when set, AWS SDK middleware is injected
}

type Opt func(*opt) error

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func apply(url *url.URL, opts ...Opt) (*opt, error) {
	// Apply options
	o := opt{url: url}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	// Return success
	return &o, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// WithEndpoint sets the S3 endpoint for S3-compatible services (MinIO,
// SeaweedFS). For http:// endpoints, HTTPS is automatically disabled.
func WithEndpoint(endpoint string) Opt {
	return func(o *opt) error {
		u, err := url.Parse(endpoint)
		if err != nil {
			return err
		} else if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("endpoint must be http:// or https://, got %s://", u.Scheme)
		}
		o.endpoint = u.String()
		o.set("endpoint", u.String())
		o.set("s3ForcePathStyle", "true")
		if u.Scheme == "http" {
			o.set("disable_https", "true")
		}
		return nil
	}
}

// WithAnonymous forces use of anonymous credentials.
func WithAnonymous() Opt {
	return func(o *opt) error {
		o.anonymous = true
		o.set("anonymous", "true")
		return nil
	}
}

// WithCreateDir creates the directory of a file:// backend if it doesn't exist
func WithCreateDir() Opt {
	return func(o *opt) error {
		o.set("create_dir", "true")
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer for the backend. When set on an
// s3:// backend opened with WithAWSConfig, AWS SDK middleware is injected so
// each S3 API call produces a child span.
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opt) error {
		o.tracer = tracer
		return nil
	}
}

// WithAWSConfig provides an AWS SDK v2 Config directly. When provided for
// s3:// URLs, this config is used instead of the URL-based configuration.
func WithAWSConfig(cfg aws.Config) Opt {
	return func(o *opt) error {
		o.awsConfig = &cfg
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (o *opt) set(key, value string) {
	if o.url == nil {
		return
	}
	q := o.url.Query()
	if value == "" {
		q.Del(key)
	} else {
		q.Set(key, value)
	}
	o.url.RawQuery = q.Encode()
}

// s3Client returns an S3 client from the AWS config, with the endpoint,
// anonymous credentials and tracing middleware applied
func (o *opt) s3Client() *s3.Client {
	cfg := o.awsConfig.Copy()
	if o.tracer != nil {
		otelaws.AppendMiddlewares(&cfg.APIOptions)
	}
	return s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.endpoint != "" {
			opts.BaseEndpoint = aws.String(o.endpoint)
			opts.UsePathStyle = true
		}
		if o.anonymous {
			opts.Credentials = aws.AnonymousCredentials{}
		}
	})
}
