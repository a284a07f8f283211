package scheduler

import (
	"fmt"
	"log/slog"

	// Packages
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	metric "go.opentelemetry.io/otel/metric"
	noop "go.opentelemetry.io/otel/metric/noop"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for scheduler configuration.
type Opt func(*opt) error

// ProgressFunc receives a snapshot of every chunk whenever a chunk's status
// or progress changes. It is called from the run goroutine and should return
// quickly.
type ProgressFunc func(chunks []schema.Chunk)

type opt struct {
	concurrency int
	retries     int
	progress    ProgressFunc
	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

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
// run is rejected. A value of 1 rejects on the first failure.
func WithRetries(n int) Opt {
	return func(o *opt) error {
		if n < 1 {
			return fmt.Errorf("%w: retries must be at least 1, got %d", schema.ErrBadParameter, n)
		}
		o.retries = n
		return nil
	}
}

// WithProgress sets the progress subscriber.
func WithProgress(fn ProgressFunc) Opt {
	return func(o *opt) error {
		o.progress = fn
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

// WithTracer sets the tracer used for run and request spans.
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
		concurrency: schema.DefaultConcurrency,
		retries:     schema.DefaultRetries,
		logger:      slog.New(slog.DiscardHandler),
		meter:       noop.NewMeterProvider().Meter(schema.SchemaName),
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
