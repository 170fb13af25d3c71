// Package telemetry wires OpenTelemetry tracing and metrics for reviewd.
//
// Spans cover a review run, each gate dispatch and each ledger write;
// metrics are exported over OTLP (gRPC or HTTP/protobuf) with cumulative
// temporality. Telemetry never fails a run: exporter errors mark the
// instance degraded and the global no-op providers take over.
//
//	tel, err := telemetry.New(ctx, telemetry.FromServiceConfig(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewRecorder, which keeps spans and metrics in memory.
package telemetry
