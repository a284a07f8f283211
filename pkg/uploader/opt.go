package uploader

import (
	"fmt"
	"log/slog"

	// Packages
	chunk "github.com/mutablelogic/go-uploader/pkg/chunk"
	scheduler "github.com/mutablelogic/go-uploader/pkg/scheduler"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	metric "go.opentelemetry.io/otel/metric"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for uploader configuration.
type Opt func(*opt) error

type opt struct {
	chunkSize   int64
	concurrency int
	retries     int
	single      bool
	hasher      chunk.HashFunc
	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithChunkSize sets the size of each chunk, except the last one.
func WithChunkSize(size int64) Opt {
	return func(o *opt) error {
		if size < 1 {
			return fmt.Errorf("%w: chunk size must be at least 1, got %d", schema.ErrBadParameter, size)
		}
		o.chunkSize = size
		return nil
	}
}

// WithConcurrency sets the maximum number of chunk requests in flight.
func WithConcurrency(n int) Opt {
	return func(o *opt) error {
		if n < 1 {
			return fmt.Errorf("%w: concurrency must be at least 1, got %d", schema.ErrBadParameter, n)
		}
		o.concurrency = n
		return nil
	}
}

// WithRetries sets the number of failures a chunk may accumulate before the
// upload is paused.
func WithRetries(n int) Opt {
	return func(o *opt) error {
		if n < 1 {
			return fmt.Errorf("%w: retries must be at least 1, got %d", schema.ErrBadParameter, n)
		}
		o.retries = n
		return nil
	}
}

// WithSingle uploads each file in a single request, without partitioning or
// hashing it.
func WithSingle() Opt {
	return func(o *opt) error {
		o.single = true
		return nil
	}
}

// WithHasher sets the content hash function. The default is MD5.
func WithHasher(fn chunk.HashFunc) Opt {
	return func(o *opt) error {
		o.hasher = fn
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Opt {
	return func(o *opt) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", schema.ErrBadParameter)
		}
		o.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for tracing operations.
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opt) error {
		o.tracer = tracer
		return nil
	}
}

// WithMeter sets the meter used for the chunk counters.
func WithMeter(meter metric.Meter) Opt {
	return func(o *opt) error {
		if meter == nil {
			return fmt.Errorf("%w: nil meter", schema.ErrBadParameter)
		}
		o.meter = meter
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyOpts(opts []Opt) (opt, error) {
	// Set defaults
	o := opt{
		chunkSize:   schema.DefaultChunkSize,
		concurrency: schema.DefaultConcurrency,
		retries:     schema.DefaultRetries,
		logger:      slog.New(slog.DiscardHandler),
	}

	// Apply options
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return opt{}, err
		}
	}

	// Return success
	return o, nil
}

// schedulerOpts returns the options for a chunk scheduler
func (o opt) schedulerOpts() []scheduler.Opt {
	opts := []scheduler.Opt{
		scheduler.WithConcurrency(o.concurrency),
		scheduler.WithRetries(o.retries),
		scheduler.WithLogger(o.logger),
		scheduler.WithTracer(o.tracer),
	}
	if o.meter != nil {
		opts = append(opts, scheduler.WithMeter(o.meter))
	}
	return opts
}
