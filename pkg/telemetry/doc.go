// Package telemetry provides observability instrumentation for leftguard:
// structured logging (zerolog), distributed tracing (OpenTelemetry),
// Prometheus metrics, and an async event stream.
//
// Initialize once at startup and carry the instance through context:
//
//	tel, err := telemetry.New(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// Evaluation is CPU-bound and short-lived, so tracing defaults to the
// stdout exporter and the metrics endpoint is off unless enabled; CI runs
// typically use logging alone.
package telemetry
