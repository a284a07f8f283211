package manager

import (
	"context"
	"fmt"
	"log/slog"

	// Packages
	backend "github.com/mutablelogic/go-uploader/pkg/backend"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for upload manager configuration.
type Opt func(*opts) error

type opts struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	backend backend.Backend
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithTracer sets the tracer used for tracing operations.
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opts) error {
		o.tracer = tracer
		return nil
	}
}

// WithLogger sets the logger for completed uploads.
func WithLogger(logger *slog.Logger) Opt {
	return func(o *opts) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", schema.ErrBadParameter)
		}
		o.logger = logger
		return nil
	}
}

// WithBackend sets the blob backend (mem://, file://, s3://) which stores
// chunks and files. The url should be in the format "scheme://bucket"
// (e.g., "mem://mybucket", "s3://mybucket"). Only one backend can be set.
func WithBackend(ctx context.Context, url string, backendOpts ...backend.Opt) Opt {
	return func(o *opts) error {
		if o.backend != nil {
			return fmt.Errorf("%w: backend %q already set", schema.ErrBadParameter, o.backend.Name())
		}
		b, err := backend.NewBlobBackend(ctx, url, backendOpts...)
		if err != nil {
			return err
		}
		o.backend = b
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyOpts(opt []Opt) (opts, error) {
	// Set defaults
	o := opts{
		logger: slog.New(slog.DiscardHandler),
	}

	// Apply options, closing any backend which was opened on error
	for _, fn := range opt {
		if err := fn(&o); err != nil {
			if o.backend != nil {
				o.backend.Close()
			}
			return opts{}, err
		}
	}

	// Return success
	return o, nil
}
