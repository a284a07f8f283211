package scheduler

import (
	"context"
	"errors"

	// Packages
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	attribute "go.opentelemetry.io/otel/attribute"
	metric "go.opentelemetry.io/otel/metric"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type counters struct {
	uploaded metric.Int64Counter
	retried  metric.Int64Counter
	aborted  metric.Int64Counter
	bytes    metric.Int64Counter
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newCounters(meter metric.Meter) (*counters, error) {
	var result error
	c := new(counters)
	c.uploaded, result = counter(meter, result, "chunks.uploaded", "Chunks accepted by the remote service")
	c.retried, result = counter(meter, result, "chunks.retried", "Chunk requests which failed and were retried")
	c.aborted, result = counter(meter, result, "chunks.aborted", "Chunk requests aborted by pause")
	c.bytes, result = counter(meter, result, "bytes.uploaded", "Bytes in chunks accepted by the remote service")
	if result != nil {
		return nil, result
	}
	return c, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func counter(meter metric.Meter, result error, name, description string) (metric.Int64Counter, error) {
	c, err := meter.Int64Counter(schema.SchemaName+"."+name, metric.WithDescription(description))
	return c, errors.Join(result, err)
}

func (c *counters) success(ctx context.Context, chunk *schema.Chunk) {
	attrs := metric.WithAttributes(attribute.String("file", chunk.FileName))
	c.uploaded.Add(ctx, 1, attrs)
	c.bytes.Add(ctx, chunk.Size(), attrs)
}

func (c *counters) retry(ctx context.Context, chunk *schema.Chunk) {
	c.retried.Add(ctx, 1, metric.WithAttributes(attribute.String("file", chunk.FileName)))
}

func (c *counters) abort(ctx context.Context, chunk *schema.Chunk) {
	c.aborted.Add(ctx, 1, metric.WithAttributes(attribute.String("file", chunk.FileName)))
}
