package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer scope for bank spans.
const InstrumentationName = "github.com/nimburion/objectbank/pkg/bank"

const (
	containerKey = attribute.Key("objectbank.container")
	storeTypeKey = attribute.Key("objectbank.object_store.type")
)

// SpanOperation names a traced bank operation.
type SpanOperation string

const (
	SpanOperationObjectCreate SpanOperation = "object.create"
	SpanOperationObjectGet    SpanOperation = "object.get"
	SpanOperationObjectUpdate SpanOperation = "object.update"
	SpanOperationObjectDelete SpanOperation = "object.delete"
	SpanOperationObjectList   SpanOperation = "object.list"

	SpanOperationLeaseAcquire SpanOperation = "lease.acquire"
	SpanOperationLeaseRenew   SpanOperation = "lease.renew"
)

// StartObjectSpan starts a client span for an object operation. The span is named after the
// operation and container; keys travel as attributes to keep span names low-cardinality.
func StartObjectSpan(ctx context.Context, operation SpanOperation, opts ...SpanOption) (context.Context, trace.Span) {
	spanOpts := &spanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("objectbank.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("OBJECT %s", operation)
	if spanOpts.container != "" {
		spanName = fmt.Sprintf("OBJECT %s %s", operation, spanOpts.container)
	}

	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// StartLeaseSpan starts an internal span for a lease operation.
func StartLeaseSpan(ctx context.Context, operation SpanOperation, leaseName string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, fmt.Sprintf("LEASE %s %s", operation, leaseName),
		trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("objectbank.operation", string(operation)),
		attribute.String("objectbank.lease", leaseName),
	)
	return ctx, span
}

// SpanOption configures an object span.
type SpanOption func(*spanOptions)

type spanOptions struct {
	container  string
	attributes []attribute.KeyValue
}

// WithContainer sets the bank container.
func WithContainer(container string) SpanOption {
	return func(opts *spanOptions) {
		opts.container = container
		opts.attributes = append(opts.attributes, containerKey.String(container))
	}
}

// WithObjectKey sets the object key.
func WithObjectKey(key string) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("objectbank.key", key))
	}
}

// WithPrefix sets the list prefix.
func WithPrefix(prefix string) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("objectbank.prefix", prefix))
	}
}

// WithPayloadSize sets the value size in bytes.
func WithPayloadSize(size int) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("objectbank.payload_size_bytes", size))
	}
}

// End records the outcome of the operation and ends span. Errors matching one of expected are
// tagged as outcomes but leave the span status unset.
func End(span trace.Span, err error, expected ...error) {
	defer span.End()
	if err == nil {
		RecordSuccess(span)
		return
	}
	for _, target := range expected {
		if errors.Is(err, target) {
			span.SetAttributes(attribute.String("objectbank.outcome", target.Error()))
			return
		}
	}
	RecordError(span, err)
}

// RecordError records err on span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
