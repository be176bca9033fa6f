/*
Package observability turns engine listener hooks into telemetry.

Each constructor returns a domain.Listeners value; combine them with
domain.MergeListeners and hand the result to the engine:

	metrics, _ := observability.NewMetrics(prometheus.DefaultRegisterer)
	listeners := domain.MergeListeners(
		metrics.Listeners(),
		observability.Tracing(otel.Tracer(observability.TracerName)),
		observability.Audit(logger),
	)

Listeners run on lane goroutines and must not block.
*/
package observability
