package observability

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope name for tendril tracing.
const TracerName = "github.com/aretw0/tendril"

// Tracing returns hooks that record one span per dispatched command and
// one per process status transition. Command spans are written after the
// fact from the event's timestamp and duration, so lanes never hold open
// spans across a suspension.
func Tracing(tracer trace.Tracer) domain.Listeners {
	return domain.Listeners{
		AfterCommand: func(ctx context.Context, e *domain.CommandEvent) {
			start := e.Timestamp.Add(-e.Duration)
			_, span := tracer.Start(ctx, "tendril.command."+e.Command,
				trace.WithTimestamp(start),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("tendril.process.id", e.ProcessID),
					attribute.String("tendril.lane.id", e.LaneID),
					attribute.String("tendril.command.id", e.CommandID),
					attribute.String("tendril.step", e.Step),
					attribute.String("tendril.outcome", string(e.Outcome)),
				),
			)
			if e.Failure != nil {
				span.RecordError(e.Failure)
				span.SetStatus(codes.Error, e.Failure.Message)
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End(trace.WithTimestamp(e.Timestamp))
		},
		OnProcess: func(ctx context.Context, e *domain.ProcessEvent) {
			_, span := tracer.Start(ctx, "tendril.process",
				trace.WithTimestamp(e.Timestamp),
				trace.WithAttributes(
					attribute.String("tendril.process.id", e.ProcessID),
					attribute.String("tendril.flow", e.Flow),
					attribute.String("tendril.process.status", string(e.Status)),
				),
			)
			if e.Error != nil {
				span.RecordError(e.Error)
				span.SetStatus(codes.Error, e.Error.Message)
			}
			span.End(trace.WithTimestamp(e.Timestamp))
		},
	}
}
