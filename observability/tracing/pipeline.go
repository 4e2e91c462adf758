package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used when none is supplied.
const InstrumentationName = "provision.pipeline"

// PipelineTracer creates spans around a pipeline run, its steps and its
// processor invocations.
type PipelineTracer struct {
	tracer trace.Tracer
}

// NewPipelineTracer creates a PipelineTracer. If tracer is nil, the global
// tracer provider is used at span creation time.
func NewPipelineTracer(tracer trace.Tracer) *PipelineTracer {
	return &PipelineTracer{tracer: tracer}
}

func (t *PipelineTracer) get() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.GetTracerProvider().Tracer(InstrumentationName)
	}
	return t.tracer
}

// StartRun begins the root span of a pipeline run.
func (t *PipelineTracer) StartRun(ctx context.Context, pipeline, runID string, steps int) (context.Context, trace.Span) {
	return t.get().Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", pipeline),
			attribute.String("pipeline.run_id", runID),
			attribute.Int("pipeline.steps", steps),
		),
	)
}

// StartStep begins a child span for one step.
func (t *PipelineTracer) StartStep(ctx context.Context, index int, argsName string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.Int("pipeline.step.index", index)}
	if argsName != "" {
		attrs = append(attrs, attribute.String("pipeline.step.args", argsName))
	}
	return t.get().Start(ctx, "pipeline.step",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// StartProcessor begins a child span for one processor invocation.
func (t *PipelineTracer) StartProcessor(ctx context.Context, processorType string, index int) (context.Context, trace.Span) {
	return t.get().Start(ctx, "pipeline.processor."+processorType,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.processor.type", processorType),
			attribute.Int("pipeline.processor.index", index),
		),
	)
}

// RecordError records err on span and marks it failed.
func (t *PipelineTracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// MarkAborted tags span as ended by a cooperative abort.
func (t *PipelineTracer) MarkAborted(span trace.Span) {
	span.SetAttributes(attribute.Bool("pipeline.aborted", true))
	span.SetStatus(codes.Ok, "aborted")
}

// SetSuccess marks span as successful.
func (t *PipelineTracer) SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
