package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/horao-fabric/fabric")

// StartSpan begins a span named name against whatever TracerProvider the
// embedding binary has configured globally via otel.SetTracerProvider — this
// module wires no exporter itself (D8: exporters are telemetry
// infrastructure, out of scope), so absent one it records into otel's
// default no-op provider.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
